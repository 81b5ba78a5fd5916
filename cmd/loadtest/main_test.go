package main

import (
	"net/http"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	outcomes := []outcome{
		{status: http.StatusAccepted, code: "ACCEPTED", latency: 10 * time.Millisecond},
		{status: http.StatusAccepted, code: "ACCEPTED", latency: 20 * time.Millisecond},
		{status: http.StatusConflict, code: "OUT_OF_STOCK", latency: 5 * time.Millisecond},
		{status: http.StatusTooManyRequests, code: "RATE_LIMITED", latency: 2 * time.Millisecond},
	}

	rep := summarize(outcomes, 2*time.Second)

	if rep.Total != 4 {
		t.Fatalf("total=%d, want 4", rep.Total)
	}
	if rep.Accepted != 2 {
		t.Fatalf("accepted=%d, want 2", rep.Accepted)
	}
	if rep.ByStatus["202"] != 2 || rep.ByStatus["409"] != 1 || rep.ByStatus["429"] != 1 {
		t.Fatalf("unexpected status distribution: %v", rep.ByStatus)
	}
	if rep.ByCode["OUT_OF_STOCK"] != 1 {
		t.Fatalf("unexpected code distribution: %v", rep.ByCode)
	}
	if rep.Throughput != 2.0 {
		t.Fatalf("throughput=%f, want 2.0", rep.Throughput)
	}
	if rep.LatencyMsMax != 20.0 {
		t.Fatalf("max latency=%f, want 20", rep.LatencyMsMax)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	if got := percentile(sorted, 0.5); got != 5 {
		t.Fatalf("p50=%f, want 5", got)
	}
	if got := percentile(sorted, 0.99); got != 10 {
		t.Fatalf("p99=%f, want 10", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty percentile=%f, want 0", got)
	}
	if got := percentile(sorted, 0.01); got != 1 {
		t.Fatalf("p1=%f, want 1", got)
	}
}
