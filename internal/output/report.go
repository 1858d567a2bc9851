package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/calder/rpcfire/internal/stats"
)

// PrintWindow outputs a human-readable summary of one closed stats window.
func PrintWindow(w io.Writer, ws stats.WindowStats) {
	fmt.Fprintf(w, "-----\n")
	fmt.Fprintf(w, "Window: %d\n", ws.Index)
	fmt.Fprintf(w, "Requests: Total: %d Ok: %d Error: %d ConnError: %d\n",
		ws.Total, ws.Ok, ws.Errors, ws.ConnErrors)
	successRate := 0.0
	if ws.Total > 0 {
		successRate = float64(ws.Ok) / float64(ws.Total) * 100
	}
	fmt.Fprintf(w, "Rate: %.2f rps Success: %.2f %%\n", ws.RequestsPerSec, successRate)
	if ws.Ok+ws.Errors > 0 {
		fmt.Fprintf(w, "Latency (ms): min: %.3f mean: %.3f p50: %.3f p90: %.3f p99: %.3f p999: %.3f max: %.3f\n",
			ws.MinLatencyMs, ws.MeanLatencyMs, ws.P50LatencyMs, ws.P90LatencyMs,
			ws.P99LatencyMs, ws.P999LatencyMs, ws.MaxLatencyMs)
	}
}

// PrintRunReport outputs the final summary across every window of the run.
func PrintRunReport(w io.Writer, report stats.RunReport) {
	fmt.Fprintln(w, "\n--- Run Results ---")
	fmt.Fprintf(w, "Run ID:            %s\n", report.RunID)
	fmt.Fprintf(w, "Windows:           %d\n", len(report.Windows))

	var total, ok, errors, connErrors int64
	for _, window := range report.Windows {
		total += window.Stats.Total
		ok += window.Stats.Ok
		errors += window.Stats.Errors
		connErrors += window.Stats.ConnErrors
	}
	fmt.Fprintf(w, "Total Requests:    %d\n", total)
	fmt.Fprintf(w, "Successful:        %d\n", ok)
	fmt.Fprintf(w, "Errors:            %d\n", errors)
	fmt.Fprintf(w, "Conn Errors:       %d\n", connErrors)

	if len(report.Windows) > 0 {
		last := report.Windows[len(report.Windows)-1].Stats
		fmt.Fprintln(w, "\nFinal Window Latency:")
		fmt.Fprintf(w, "  Min:             %s\n", last.MinLatency)
		fmt.Fprintf(w, "  Mean:            %s\n", last.MeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", last.P50Latency)
		fmt.Fprintf(w, "  P90:             %s\n", last.P90Latency)
		fmt.Fprintf(w, "  P99:             %s\n", last.P99Latency)
		fmt.Fprintf(w, "  Max:             %s\n", last.MaxLatency)
	}
}

// PrintJSONReport outputs the per-window stats as indented JSON.
func PrintJSONReport(w io.Writer, report stats.RunReport) error {
	windows := make([]stats.WindowStats, 0, len(report.Windows))
	for _, window := range report.Windows {
		windows = append(windows, window.Stats)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID   string              `json:"run_id"`
		Windows []stats.WindowStats `json:"windows"`
	}{RunID: report.RunID, Windows: windows})
}
