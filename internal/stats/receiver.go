package stats

import (
	"context"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// DefaultChannelBuffer sizes the measurement channel so a briefly slow
// receiver never blocks a connection's I/O path.
const DefaultChannelBuffer = 1 << 16

// Config parameterizes a Receiver.
type Config struct {
	// WindowDuration is the wall-clock length of one window.
	WindowDuration time.Duration
	// Windows is how many windows close before the run ends.
	Windows int
	// RunID identifies this run in artifacts and logs.
	RunID string
	// ChannelBuffer overrides DefaultChannelBuffer when positive.
	ChannelBuffer int
	// OnWindow, when set, is invoked with every sealed window summary.
	OnWindow func(WindowStats)
}

// WindowArtifacts bundles a sealed window with its full-resolution data for
// the trace and waterfall artifacts.
type WindowArtifacts struct {
	Stats      WindowStats
	Bars       []hdrhistogram.Bar
	LogBuckets []int64
}

// RunReport is everything a finished run produced.
type RunReport struct {
	RunID   string
	Windows []WindowArtifacts
}

// Receiver owns the sole consuming end of the measurement channel and is the
// single authority on run duration: after the configured number of windows
// closes it returns from Run and closes Done. It never terminates the
// process itself; the orchestrator observes Done and decides.
type Receiver struct {
	cfg  Config
	ch   chan Stat
	done chan struct{}

	mu        sync.Mutex
	cumHist   *hdrhistogram.Histogram
	cumOk     int64
	cumErrors int64
	cumConn   int64
	closed    int
	history   []WindowStats
	started   time.Time
}

// NewReceiver creates a Receiver. Senders obtain the measurement channel via
// Sender before Run starts.
func NewReceiver(cfg Config) *Receiver {
	buffer := cfg.ChannelBuffer
	if buffer <= 0 {
		buffer = DefaultChannelBuffer
	}
	return &Receiver{
		cfg:     cfg,
		ch:      make(chan Stat, buffer),
		done:    make(chan struct{}),
		cumHist: hdrhistogram.New(histLowest, histHighest, histSigFigs),
	}
}

// Sender returns the many-senders side of the measurement channel.
func (r *Receiver) Sender() chan<- Stat { return r.ch }

// Done is closed once the final window has been sealed or Run aborted.
func (r *Receiver) Done() <-chan struct{} { return r.done }

// Run aggregates measurements until the configured windows have elapsed and
// returns the full report. It blocks the calling goroutine; ctx cancellation
// aborts the run early with a partial report.
func (r *Receiver) Run(ctx context.Context) (RunReport, error) {
	defer close(r.done)

	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()

	report := RunReport{RunID: r.cfg.RunID}

	for i := 0; i < r.cfg.Windows; i++ {
		w := NewWindow(i, time.Now(), r.cfg.WindowDuration)
		timer := time.NewTimer(r.cfg.WindowDuration)

		open := true
		for open {
			select {
			case s := <-r.ch:
				w.Record(s)
				r.recordCumulative(s)
			case <-timer.C:
				open = false
			case <-ctx.Done():
				timer.Stop()
				return report, ctx.Err()
			}
		}

		ws := w.Stats()
		r.mu.Lock()
		r.closed = i + 1
		r.history = append(r.history, ws)
		r.mu.Unlock()

		if r.cfg.OnWindow != nil {
			r.cfg.OnWindow(ws)
		}
		report.Windows = append(report.Windows, WindowArtifacts{
			Stats:      ws,
			Bars:       w.Distribution(),
			LogBuckets: w.LogBuckets(),
		})
	}

	return report, nil
}

func (r *Receiver) recordCumulative(s Stat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch s.Outcome {
	case OutcomeOk:
		r.cumOk++
	case OutcomeError:
		r.cumErrors++
	case OutcomeConnError:
		r.cumConn++
		return
	}

	us := s.Latency().Microseconds()
	if us < histLowest {
		us = histLowest
	}
	if us > histHighest {
		us = histHighest
	}
	_ = r.cumHist.RecordValue(us)
}

// Snapshot returns cumulative run statistics for the stats listener and the
// live dashboard. Safe to call concurrently with Run.
func (r *Receiver) Snapshot() WindowStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Duration(0)
	if !r.started.IsZero() {
		elapsed = time.Since(r.started)
	}

	ws := WindowStats{
		Index:      r.closed,
		Total:      r.cumOk + r.cumErrors + r.cumConn,
		Ok:         r.cumOk,
		Errors:     r.cumErrors,
		ConnErrors: r.cumConn,
		Duration:   elapsed,
	}
	if r.cumHist.TotalCount() > 0 {
		ws.MinLatency = time.Duration(r.cumHist.Min()) * time.Microsecond
		ws.MeanLatency = time.Duration(r.cumHist.Mean()) * time.Microsecond
		ws.P50Latency = time.Duration(r.cumHist.ValueAtQuantile(50)) * time.Microsecond
		ws.P90Latency = time.Duration(r.cumHist.ValueAtQuantile(90)) * time.Microsecond
		ws.P99Latency = time.Duration(r.cumHist.ValueAtQuantile(99)) * time.Microsecond
		ws.P999Latency = time.Duration(r.cumHist.ValueAtQuantile(99.9)) * time.Microsecond
		ws.MaxLatency = time.Duration(r.cumHist.Max()) * time.Microsecond
	}
	if elapsed > 0 {
		ws.RequestsPerSec = float64(ws.Total) / elapsed.Seconds()
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

// History returns the summaries of all windows sealed so far.
func (r *Receiver) History() []WindowStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]WindowStats, len(r.history))
	copy(out, r.history)
	return out
}
