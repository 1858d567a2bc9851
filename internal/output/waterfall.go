package output

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/gofrs/flock"

	"github.com/calder/rpcfire/internal/stats"
)

const (
	cellWidth  = 16
	cellHeight = 8
)

// RenderWaterfall renders the run's latency heatmap to a PNG at path. Each
// column is one window, each row one log2 microsecond bucket (fastest at the
// bottom), and cell brightness scales with the count in that bucket.
func RenderWaterfall(path string, report stats.RunReport) error {
	if len(report.Windows) == 0 {
		return fmt.Errorf("render waterfall: no windows")
	}

	var max int64
	for _, window := range report.Windows {
		for _, count := range window.LogBuckets {
			if count > max {
				max = count
			}
		}
	}

	width := len(report.Windows) * cellWidth
	height := stats.WaterfallBuckets * cellHeight
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for col, window := range report.Windows {
		for bucket, count := range window.LogBuckets {
			c := heatColor(count, max)
			// Row 0 is the slowest bucket so low latencies sit at the bottom.
			row := stats.WaterfallBuckets - 1 - bucket
			for dy := 0; dy < cellHeight; dy++ {
				for dx := 0; dx < cellWidth; dx++ {
					img.Set(col*cellWidth+dx, row*cellHeight+dy, c)
				}
			}
		}
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock waterfall artifact: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create waterfall artifact: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode waterfall artifact: %w", err)
	}
	return f.Sync()
}

// heatColor maps a bucket count onto a black-blue-red-yellow ramp.
func heatColor(count, max int64) color.RGBA {
	if count == 0 || max == 0 {
		return color.RGBA{A: 255}
	}
	t := float64(count) / float64(max)
	switch {
	case t < 1.0/3:
		return color.RGBA{B: uint8(255 * t * 3), A: 255}
	case t < 2.0/3:
		s := (t - 1.0/3) * 3
		return color.RGBA{R: uint8(255 * s), B: uint8(255 * (1 - s)), A: 255}
	default:
		s := (t - 2.0/3) * 3
		return color.RGBA{R: 255, G: uint8(255 * s), A: 255}
	}
}
