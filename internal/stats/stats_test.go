package stats_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/calder/rpcfire/internal/stats"
)

func stat(latency time.Duration, outcome stats.Outcome) stats.Stat {
	sent := time.Now()
	return stats.Stat{SentAt: sent, CompletedAt: sent.Add(latency), Outcome: outcome}
}

func TestLatencyNonNegative(t *testing.T) {
	now := time.Now()
	s := stats.Stat{SentAt: now, CompletedAt: now.Add(-time.Second)}
	if got := s.Latency(); got != 0 {
		t.Errorf("negative latency not clamped: %s", got)
	}

	s = stats.Stat{SentAt: now, CompletedAt: now.Add(25 * time.Millisecond)}
	if got := s.Latency(); got != 25*time.Millisecond {
		t.Errorf("Latency = %s, want 25ms", got)
	}
}

func TestWindowCountersSumToFolded(t *testing.T) {
	w := stats.NewWindow(0, time.Now(), time.Second)

	for i := 0; i < 7; i++ {
		w.Record(stat(10*time.Millisecond, stats.OutcomeOk))
	}
	for i := 0; i < 3; i++ {
		w.Record(stat(20*time.Millisecond, stats.OutcomeError))
	}
	for i := 0; i < 2; i++ {
		w.Record(stat(0, stats.OutcomeConnError))
	}

	ws := w.Stats()
	if ws.Total != 12 {
		t.Errorf("Total = %d, want 12", ws.Total)
	}
	if ws.Ok+ws.Errors+ws.ConnErrors != ws.Total {
		t.Errorf("counters %d+%d+%d do not sum to total %d", ws.Ok, ws.Errors, ws.ConnErrors, ws.Total)
	}
	// Histogram holds only the latency-classified outcomes.
	if got := w.HistogramTotal(); got != 10 {
		t.Errorf("HistogramTotal = %d, want 10", got)
	}

	var bars int64
	for _, bar := range w.Distribution() {
		bars += bar.Count
	}
	if bars != 10 {
		t.Errorf("distribution bars sum to %d, want 10", bars)
	}

	var logs int64
	for _, count := range w.LogBuckets() {
		logs += count
	}
	if logs != 10 {
		t.Errorf("log buckets sum to %d, want 10", logs)
	}
}

func TestWindowPercentileSanity(t *testing.T) {
	w := stats.NewWindow(0, time.Now(), time.Second)
	for i := 1; i <= 100; i++ {
		w.Record(stat(time.Duration(i)*time.Millisecond, stats.OutcomeOk))
	}

	ws := w.Stats()
	if ws.P50Latency < 49*time.Millisecond || ws.P50Latency > 51*time.Millisecond {
		t.Errorf("P50 = %s, want ~50ms", ws.P50Latency)
	}
	if ws.P99Latency < 98*time.Millisecond || ws.P99Latency > 100*time.Millisecond {
		t.Errorf("P99 = %s, want ~99ms", ws.P99Latency)
	}
	if ws.MinLatency != time.Millisecond {
		t.Errorf("Min = %s, want 1ms", ws.MinLatency)
	}
	if ws.MaxLatency != 100*time.Millisecond {
		t.Errorf("Max = %s, want 100ms", ws.MaxLatency)
	}
	if ws.RequestsPerSec != 100 {
		t.Errorf("RequestsPerSec = %.1f, want 100", ws.RequestsPerSec)
	}
}

func TestReceiverSingleWindowRun(t *testing.T) {
	var sealed []stats.WindowStats
	r := stats.NewReceiver(stats.Config{
		WindowDuration: 50 * time.Millisecond,
		Windows:        1,
		RunID:          "test",
		OnWindow:       func(ws stats.WindowStats) { sealed = append(sealed, ws) },
	})

	sender := r.Sender()
	sender <- stat(5*time.Millisecond, stats.OutcomeOk)
	sender <- stat(7*time.Millisecond, stats.OutcomeOk)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(report.Windows))
	}
	if len(sealed) != 1 {
		t.Fatalf("OnWindow called %d times, want 1", len(sealed))
	}
	if sealed[0].Ok != 2 {
		t.Errorf("sealed window Ok = %d, want 2", sealed[0].Ok)
	}

	select {
	case <-r.Done():
	default:
		t.Error("Done not closed after final window")
	}
}

func TestReceiverAbortsOnCancel(t *testing.T) {
	r := stats.NewReceiver(stats.Config{WindowDuration: time.Hour, Windows: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Run(ctx); err != context.Canceled {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestListenerServesSnapshot(t *testing.T) {
	r := stats.NewReceiver(stats.Config{WindowDuration: time.Second, Windows: 1})
	l, err := stats.StartListener("127.0.0.1:0", r)
	if err != nil {
		t.Fatalf("StartListener: %v", err)
	}
	defer l.Close()

	resp, err := http.Get("http://" + l.Addr() + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, field := range []string{"total", "ok", "errors", "conn_errors", "requests_per_sec"} {
		if _, present := snapshot[field]; !present {
			t.Errorf("snapshot missing field %q", field)
		}
	}
}
