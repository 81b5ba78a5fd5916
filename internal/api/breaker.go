package api

import (
	"net/http"

	"github.com/mkarasev/oms-saga/internal/httpclient"
)

type breakerStats struct {
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"totalSuccesses"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
}

// BreakerStatusHandler отдаёт состояние всех circuit breaker'ов сервиса.
func BreakerStatusHandler(clients ...*httpclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		circuits := make(map[string]breakerStats, len(clients))
		for _, client := range clients {
			state, counts := client.State()
			circuits[client.Target()] = breakerStats{
				State:                state,
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"circuits": circuits})
	}
}
