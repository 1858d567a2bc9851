package stats

import (
	"math/bits"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Histogram resolution: 1µs to 60s at 3 significant figures.
const (
	histLowest  = 1
	histHighest = 60_000_000
	histSigFigs = 3
)

// WaterfallBuckets is the number of fixed log2 microsecond buckets kept per
// window for the waterfall artifact.
const WaterfallBuckets = 36

// Window accumulates measurements over one fixed wall-clock period.
type Window struct {
	index      int
	start      time.Time
	duration   time.Duration
	hist       *hdrhistogram.Histogram
	ok         int64
	errors     int64
	connErrors int64
	minLat     time.Duration
	maxLat     time.Duration
	sumLat     time.Duration
	logBuckets [WaterfallBuckets]int64
}

// NewWindow opens window number index starting at start.
func NewWindow(index int, start time.Time, duration time.Duration) *Window {
	return &Window{
		index:    index,
		start:    start,
		duration: duration,
		hist:     hdrhistogram.New(histLowest, histHighest, histSigFigs),
	}
}

// Record folds one measurement into the window. Ok and protocol-error
// outcomes carry a usable latency and land in the histogram; connection
// errors only increment their counter.
func (w *Window) Record(s Stat) {
	switch s.Outcome {
	case OutcomeOk:
		w.ok++
	case OutcomeError:
		w.errors++
	case OutcomeConnError:
		w.connErrors++
		return
	}

	lat := s.Latency()
	us := lat.Microseconds()
	if us < histLowest {
		us = histLowest
	}
	if us > histHighest {
		us = histHighest
	}
	_ = w.hist.RecordValue(us)

	bucket := bits.Len64(uint64(us))
	if bucket >= WaterfallBuckets {
		bucket = WaterfallBuckets - 1
	}
	w.logBuckets[bucket]++

	w.sumLat += lat
	if w.minLat == 0 || lat < w.minLat {
		w.minLat = lat
	}
	if lat > w.maxLat {
		w.maxLat = lat
	}
}

// WindowStats is the sealed, immutable summary of one window.
type WindowStats struct {
	Index      int   `json:"window"`
	Total      int64 `json:"total"`
	Ok         int64 `json:"ok"`
	Errors     int64 `json:"errors"`
	ConnErrors int64 `json:"conn_errors"`

	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`

	MinLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`
	P999Latency time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	P999LatencyMs float64 `json:"p999_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
}

// Stats seals the window into its summary.
func (w *Window) Stats() WindowStats {
	total := w.ok + w.errors + w.connErrors
	ws := WindowStats{
		Index:      w.index,
		Total:      total,
		Ok:         w.ok,
		Errors:     w.errors,
		ConnErrors: w.connErrors,
		Duration:   w.duration,
		MinLatency: w.minLat,
		MaxLatency: w.maxLat,
	}

	if recorded := w.ok + w.errors; recorded > 0 {
		ws.MeanLatency = time.Duration(int64(w.sumLat) / recorded)
	}
	if w.hist.TotalCount() > 0 {
		ws.P50Latency = time.Duration(w.hist.ValueAtQuantile(50)) * time.Microsecond
		ws.P90Latency = time.Duration(w.hist.ValueAtQuantile(90)) * time.Microsecond
		ws.P99Latency = time.Duration(w.hist.ValueAtQuantile(99)) * time.Microsecond
		ws.P999Latency = time.Duration(w.hist.ValueAtQuantile(99.9)) * time.Microsecond
	}
	if w.duration > 0 {
		ws.RequestsPerSec = float64(total) / w.duration.Seconds()
	}

	ws.MinLatencyMs = float64(ws.MinLatency) / float64(time.Millisecond)
	ws.MeanLatencyMs = float64(ws.MeanLatency) / float64(time.Millisecond)
	ws.P50LatencyMs = float64(ws.P50Latency) / float64(time.Millisecond)
	ws.P90LatencyMs = float64(ws.P90Latency) / float64(time.Millisecond)
	ws.P99LatencyMs = float64(ws.P99Latency) / float64(time.Millisecond)
	ws.P999LatencyMs = float64(ws.P999Latency) / float64(time.Millisecond)
	ws.MaxLatencyMs = float64(ws.MaxLatency) / float64(time.Millisecond)

	return ws
}

// HistogramTotal returns the number of latency-classified measurements.
func (w *Window) HistogramTotal() int64 { return w.hist.TotalCount() }

// Distribution exposes the full-resolution histogram bars for the trace
// artifact.
func (w *Window) Distribution() []hdrhistogram.Bar {
	return w.hist.Distribution()
}

// LogBuckets returns the fixed log2 bucket counts for the waterfall artifact.
func (w *Window) LogBuckets() []int64 {
	out := make([]int64, WaterfallBuckets)
	copy(out, w.logBuckets[:])
	return out
}
