// Package stats aggregates per-request measurements into fixed-duration
// windows and owns total run-duration control.
package stats

import "time"

// Outcome classifies one request attempt.
type Outcome int

const (
	// OutcomeOk is a response the protocol classified as successful.
	OutcomeOk Outcome = iota
	// OutcomeError is a well-formed response carrying a protocol error.
	OutcomeError
	// OutcomeConnError is a request lost to a socket failure, reset, or
	// malformed response stream.
	OutcomeConnError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOk:
		return "ok"
	case OutcomeError:
		return "error"
	case OutcomeConnError:
		return "conn-error"
	default:
		return "unknown"
	}
}

// Stat is one immutable measurement: exactly one is produced per completed
// or failed request attempt.
type Stat struct {
	SentAt      time.Time
	CompletedAt time.Time
	Outcome     Outcome
}

// Latency is the request's own round-trip time. Negative values are clamped
// to zero; they can only arise from clock anomalies.
func (s Stat) Latency() time.Duration {
	d := s.CompletedAt.Sub(s.SentAt)
	if d < 0 {
		return 0
	}
	return d
}
