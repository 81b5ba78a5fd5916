package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestFactory(url string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := New(Options{Target: "test"})
	resp, err := client.Do(context.Background(), newRequestFactory(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDoRetriesOn5xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Options{Target: "test", MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	resp, err := client.Do(context.Background(), newRequestFactory(srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Options{Target: "test", MaxRetries: 2, RetryBaseDelay: time.Millisecond, VolumeThreshold: 100})
	_, err := client.Do(context.Background(), newRequestFactory(srv.URL))
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoDoesNotRetry4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Options{Target: "test", MaxRetries: 3, RetryBaseDelay: time.Millisecond})
	resp, err := client.Do(context.Background(), newRequestFactory(srv.URL))
	require.NoError(t, err, "4xx is a caller problem, not a transport failure")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBreakerOpensAndRejectsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Options{
		Target:          "flaky",
		MaxRetries:      2,
		RetryBaseDelay:  time.Millisecond,
		VolumeThreshold: 4,
		ErrorThreshold:  0.5,
		ResetTimeout:    time.Minute,
	})

	// Нагоняем окно до порога срабатывания.
	for i := 0; i < 4; i++ {
		_, _ = client.Do(context.Background(), newRequestFactory(srv.URL))
	}

	state, _ := client.State()
	require.Equal(t, "open", state)

	_, err := client.Do(context.Background(), newRequestFactory(srv.URL))
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestTimeoutSurfacesAsErrTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(Options{Target: "slow", Timeout: 20 * time.Millisecond, MaxRetries: 1})
	_, err := client.Do(context.Background(), newRequestFactory(srv.URL))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStateReporting(t *testing.T) {
	client := New(Options{Target: "dep"})
	state, counts := client.State()
	assert.Equal(t, "closed", state)
	assert.Zero(t, counts.Requests)
	assert.Equal(t, "dep", client.Target())
}
