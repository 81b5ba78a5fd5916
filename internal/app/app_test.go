package app

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/mkarasev/oms-saga/internal/health"
)

func TestBuildOpsMuxEndpoints(t *testing.T) {
	handler := healthcheck.NewHandler("test")
	handler.RegisterChecker("always-ok", healthcheck.NewSimpleChecker("always-ok", func() error { return nil }))
	mux := buildOpsMux(handler)

	for _, path := range []string{"/metrics", "/healthz", "/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestOpsMuxReportsUnhealthyDependency(t *testing.T) {
	handler := healthcheck.NewHandler("test")
	handler.RegisterChecker("broken", healthcheck.NewSimpleChecker("broken", func() error {
		return errors.New("connection refused")
	}))
	mux := buildOpsMux(handler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Liveness остаётся зелёной: процесс жив, деградировала зависимость.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRuntimeHealthHandlerWithoutConnections(t *testing.T) {
	rt := &Runtime{Logger: log.WithField("component", "test")}

	handler := rt.healthHandler(map[string]healthcheck.Checker{
		"custom": healthcheck.NewSimpleChecker("custom", func() error { return nil }),
	})
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "custom")
}
