package output

import (
	"bufio"
	"fmt"
	"os"

	"github.com/gofrs/flock"

	"github.com/calder/rpcfire/internal/stats"
)

// WriteTrace dumps the latency distribution of every window to path. Each
// line is one histogram bar: window index, bucket bounds in microseconds,
// and the count recorded in that bucket. The file is guarded by an advisory
// lock so concurrent runs pointed at the same artifact do not interleave.
func WriteTrace(path string, report stats.RunReport) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock trace artifact: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace artifact: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# run %s\n", report.RunID)
	fmt.Fprintln(w, "# window bucket_low_us bucket_high_us count")
	for _, window := range report.Windows {
		for _, bar := range window.Bars {
			if bar.Count == 0 {
				continue
			}
			fmt.Fprintf(w, "%d %d %d %d\n", window.Stats.Index, bar.From, bar.To, bar.Count)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write trace artifact: %w", err)
	}
	return f.Sync()
}
