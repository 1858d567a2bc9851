package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/calder/rpcfire/internal/stats"
)

// RunConfig holds the run parameters shown in the summary panel.
type RunConfig struct {
	Servers     []string
	Protocol    string
	Threads     int
	Connections int
	Windows     int
	WindowLen   time.Duration
	ConfigFile  string
}

// Dashboard renders a live terminal UI over the receiver's cumulative
// snapshot and closed-window history.
type Dashboard struct {
	receiver     *stats.Receiver
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rpsGauge       *widgets.Gauge
	windowList     *widgets.List
	summaryPara    *widgets.Paragraph
	metricsPara    *widgets.Paragraph
	latencyHistory []float64
	startTime      time.Time
	runConfig      RunConfig
}

// New creates a Dashboard. shutdownFunc is invoked when the user quits with
// q or Ctrl-C; the orchestrator decides what a quit means.
func New(receiver *stats.Receiver, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		receiver:       receiver,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, 100),
		startTime:      time.Now(),
		runConfig:      cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "p99 (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Real-time Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP90: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rpsGauge = widgets.NewGauge()
	d.rpsGauge.Title = "Requests Per Second"
	d.rpsGauge.Percent = 0
	d.rpsGauge.BarColor = ui.ColorBlue
	d.rpsGauge.BorderStyle.Fg = ui.ColorCyan
	d.rpsGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.windowList = widgets.NewList()
	d.windowList.Title = "Closed Windows"
	d.windowList.Rows = []string{"Awaiting data"}
	d.windowList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.windowList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.metricsPara = widgets.NewParagraph()
	d.metricsPara.Title = "Metrics"
	d.metricsPara.Text = "Waiting for data..."
	d.metricsPara.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.20,
			ui.NewCol(0.5, d.rpsGauge),
			ui.NewCol(0.5, d.metricsPara),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.34,
			ui.NewCol(1.0, d.windowList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Stop() to cancel context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data from the receiver.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	snap := d.receiver.Snapshot()

	if snap.P99LatencyMs > 0 {
		d.latencyHistory = append(d.latencyHistory, snap.P99LatencyMs)
		if len(d.latencyHistory) > 100 {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf(
			"Real-time Latency | p99: %.2fms | Min: %.2fms | Max: %.2fms",
			snap.P99LatencyMs,
			snap.MinLatencyMs,
			snap.MaxLatencyMs,
		)
	}

	currentRPS := snap.RequestsPerSec
	maxRPS := 100.0
	if currentRPS > maxRPS {
		maxRPS = currentRPS
	}
	rpsPercent := int((currentRPS / maxRPS) * 100)
	if rpsPercent > 100 {
		rpsPercent = 100
	}
	d.rpsGauge.Percent = rpsPercent
	d.rpsGauge.Label = fmt.Sprintf("%.1f RPS", currentRPS)

	successRate := 0.0
	if snap.Total > 0 {
		successRate = (float64(snap.Ok) / float64(snap.Total)) * 100
	}

	d.summaryPara.Text = fmt.Sprintf(
		"Servers: %s\n%s\nElapsed: %s | Total: %d | Success Rate: %.1f%%",
		strings.Join(d.runConfig.Servers, ", "),
		d.formatRunParams(),
		elapsed.Round(time.Second),
		snap.Total,
		successRate,
	)

	d.metricsPara.Text = fmt.Sprintf(
		"Total Requests:    %d\nSuccessful:        %d\nErrors:            %d\nConn Errors:       %d\nCurrent RPS:       %.2f\nSuccess Rate:      %.1f%%\nP50/P90/P99:       %.2f / %.2f / %.2f ms",
		snap.Total,
		snap.Ok,
		snap.Errors,
		snap.ConnErrors,
		currentRPS,
		successRate,
		snap.P50LatencyMs,
		snap.P90LatencyMs,
		snap.P99LatencyMs,
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms",
		snap.MinLatencyMs,
		snap.MeanLatencyMs,
		snap.P50LatencyMs,
		snap.P90LatencyMs,
		snap.P99LatencyMs,
	)

	d.windowList.Rows = formatWindowRows(d.receiver.History(), d.runConfig.Windows)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func formatWindowRows(history []stats.WindowStats, total int) []string {
	if len(history) == 0 {
		return []string{"[No closed windows yet](fg:green)"}
	}
	// Newest first, capped to ten rows.
	maxRows := len(history)
	if maxRows > 10 {
		maxRows = 10
	}
	rows := make([]string, 0, maxRows)
	for i := 0; i < maxRows; i++ {
		w := history[len(history)-1-i]
		rows = append(rows, fmt.Sprintf("[window %d/%d](fg:cyan) | total %d | ok %d | err %d | conn %d | %.1f rps | p99 %.2fms",
			w.Index,
			total,
			w.Total,
			w.Ok,
			w.Errors,
			w.ConnErrors,
			w.RequestsPerSec,
			w.P99LatencyMs,
		))
	}
	return rows
}

// formatRunParams formats the run configuration for display.
func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.runConfig.Protocol != "" {
		parts = append(parts, fmt.Sprintf("Protocol: %s", d.runConfig.Protocol))
	}
	if d.runConfig.Threads > 0 {
		parts = append(parts, fmt.Sprintf("Threads: %d", d.runConfig.Threads))
	}
	if d.runConfig.Connections > 0 {
		parts = append(parts, fmt.Sprintf("Conns: %d", d.runConfig.Connections))
	}
	if d.runConfig.Windows > 0 && d.runConfig.WindowLen > 0 {
		parts = append(parts, fmt.Sprintf("Run: %d x %s", d.runConfig.Windows, d.runConfig.WindowLen))
	}
	if d.runConfig.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.runConfig.ConfigFile))
	}

	if len(parts) == 0 {
		return ""
	}

	return strings.Join(parts, " | ")
}
