package threshold

import (
	"strings"
	"testing"

	"github.com/calder/rpcfire/internal/stats"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    Threshold
		wantErr bool
	}{
		{
			input: "req_duration:p99 < 5",
			want:  Threshold{Metric: "req_duration", Aggregate: "p99", Operator: "<", Value: 5},
		},
		{
			input: "req_failed:rate<0.01",
			want:  Threshold{Metric: "req_failed", Aggregate: "rate", Operator: "<", Value: 0.01},
		},
		{
			input: "requests:rate >= 1000",
			want:  Threshold{Metric: "requests", Aggregate: "rate", Operator: ">=", Value: 1000},
		},
		{input: "", wantErr: true},
		{input: "garbage", wantErr: true},
		{input: "bogus_metric:p99 < 5", wantErr: true},
		{input: "req_duration:p42 < 5", wantErr: true},
		{input: "req_duration:p99 ! 5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.input, err)
			}
			if got.Metric != tt.want.Metric || got.Aggregate != tt.want.Aggregate ||
				got.Operator != tt.want.Operator || got.Value != tt.want.Value {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	parsed, err := ParseMultiple([]string{"req_duration:p99 < 5", "req_failed:count == 0"})
	if err != nil {
		t.Fatalf("ParseMultiple() error = %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("ParseMultiple() returned %d thresholds, want 2", len(parsed))
	}

	if _, err := ParseMultiple([]string{"req_duration:p99 < 5", "nope"}); err == nil {
		t.Fatal("ParseMultiple() with a bad entry expected error")
	}

	parsed, err = ParseMultiple(nil)
	if err != nil || parsed != nil {
		t.Fatalf("ParseMultiple(nil) = %v, %v, want nil, nil", parsed, err)
	}
}

func TestEvaluate(t *testing.T) {
	ws := stats.WindowStats{
		Total:          1000,
		Ok:             990,
		Errors:         8,
		ConnErrors:     2,
		RequestsPerSec: 500,
		P50LatencyMs:   1.0,
		P90LatencyMs:   2.0,
		P99LatencyMs:   4.0,
		MeanLatencyMs:  1.2,
		MaxLatencyMs:   9.0,
	}

	tests := []struct {
		expr string
		pass bool
	}{
		{"req_duration:p99 < 5", true},
		{"req_duration:p99 < 4", false},
		{"req_duration:avg <= 1.2", true},
		{"req_duration:max < 5", false},
		{"req_failed:count == 10", true},
		{"req_failed:rate < 0.011", true},
		{"req_failed:rate < 0.001", false},
		{"requests:rate >= 500", true},
		{"requests:count > 1000", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			th, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expr, err)
			}

			results := NewEvaluator([]Threshold{th}).Evaluate(ws)
			if len(results) != 1 {
				t.Fatalf("Evaluate() returned %d results, want 1", len(results))
			}
			if results[0].Pass != tt.pass {
				t.Errorf("Evaluate(%q) pass = %v, want %v (%s)", tt.expr, results[0].Pass, tt.pass, results[0].Message)
			}
		})
	}
}

func TestEvaluateMessage(t *testing.T) {
	th, err := Parse("req_duration:p99 < 5")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	results := NewEvaluator([]Threshold{th}).Evaluate(stats.WindowStats{P99LatencyMs: 9.5})
	if results[0].Pass {
		t.Fatal("expected failing result")
	}
	if !strings.Contains(results[0].Message, "FAIL") || !strings.Contains(results[0].Message, "9.50") {
		t.Errorf("Message = %q, want FAIL with actual value", results[0].Message)
	}
}

func TestEvaluateEmpty(t *testing.T) {
	if results := NewEvaluator(nil).Evaluate(stats.WindowStats{}); results != nil {
		t.Fatalf("Evaluate() with no thresholds = %v, want nil", results)
	}
}
