package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/calder/rpcfire/internal/client"
	"github.com/calder/rpcfire/internal/config"
	"github.com/calder/rpcfire/internal/dashboard"
	"github.com/calder/rpcfire/internal/logger"
	"github.com/calder/rpcfire/internal/netx"
	"github.com/calder/rpcfire/internal/output"
	"github.com/calder/rpcfire/internal/protocol"
	"github.com/calder/rpcfire/internal/queue"
	"github.com/calder/rpcfire/internal/stats"
	"github.com/calder/rpcfire/internal/threshold"
	"github.com/calder/rpcfire/internal/tracing"
	"github.com/calder/rpcfire/internal/workload"
)

// version is stamped by the release build.
var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		if errors.Is(err, config.ErrVersionRequested) {
			fmt.Fprintf(os.Stdout, "rpcfire %s\n", version)
			return nil
		}
		return err
	}

	log := logger.Default
	log.SetLevel(logger.FromVerbosity(cfg.Verbosity))

	if err := cfg.Validate(); err != nil {
		return err
	}

	family, err := netx.ChooseFamily(cfg.IPv4Only, cfg.IPv6Only)
	if err != nil {
		return err
	}

	factory, err := protocol.Lookup(cfg.Protocol)
	if err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	logBanner(log, cfg, family)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown: %v", err)
		}
	}()

	work := queue.New(cfg.QueueDepth)
	seeds, err := factory.Prepare()
	if err != nil {
		return fmt.Errorf("prepare %s workload: %w", cfg.Protocol, err)
	}
	for _, payload := range seeds {
		if !work.TryPush(payload) {
			break
		}
	}

	runID := ulid.Make().String()
	printWindows := !cfg.Dashboard

	// runCtx stops workers and generators once the receiver finishes.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	tracer := provider.Tracer()
	runCtx, runSpan := tracing.StartRunSpan(runCtx, tracer, runID, cfg.Protocol)

	receiver := stats.NewReceiver(stats.Config{
		WindowDuration: cfg.WindowDuration(),
		Windows:        cfg.Windows,
		RunID:          runID,
		OnWindow: func(ws stats.WindowStats) {
			if printWindows {
				output.PrintWindow(os.Stdout, ws)
			}
			_, span := tracing.StartWindowSpan(runCtx, tracer, ws.Index)
			tracing.EndSpan(span, nil,
				attribute.Int64("rpcfire.window.total", ws.Total),
				attribute.Int64("rpcfire.window.ok", ws.Ok),
				attribute.Int64("rpcfire.window.errors", ws.Errors),
				attribute.Int64("rpcfire.window.conn_errors", ws.ConnErrors),
			)
		},
	})

	if cfg.Listen != "" {
		listener, err := stats.StartListener(cfg.Listen, receiver)
		if err != nil {
			return fmt.Errorf("stats listener: %w", err)
		}
		defer listener.Close()
		log.Info("stats listener on http://%s", listener.Addr())
	}

	workers, err := startWorkers(runCtx, cfg, family, factory, work, receiver, log)
	if err != nil {
		tracing.EndSpan(runSpan, err)
		return err
	}

	gen := workload.NewGenerator(factory, work, log)
	gen.Launch(runCtx, workloadSpecs(cfg))

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash, err = dashboard.New(receiver, dashboard.RunConfig{
			Servers:     cfg.Servers,
			Protocol:    cfg.Protocol,
			Threads:     cfg.Threads,
			Connections: cfg.Connections,
			Windows:     cfg.Windows,
			WindowLen:   cfg.WindowDuration(),
			ConfigFile:  cfg.ConfigFile,
		}, cancelRun)
		if err != nil {
			tracing.EndSpan(runSpan, err)
			return err
		}
		dash.Start()
	}

	// The receiver owns run duration: it returns after the last window
	// closes or the context is cancelled, and the orchestrator decides
	// what happens next.
	report, runErr := receiver.Run(runCtx)

	cancelRun()
	gen.Wait()
	workers.wait()
	workers.close()

	if dash != nil {
		dash.Stop()
	}

	tracing.EndSpan(runSpan, runErr)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	output.PrintRunReport(os.Stdout, report)

	if len(thresholds) > 0 {
		results := threshold.NewEvaluator(thresholds).Evaluate(receiver.Snapshot())
		failed := 0
		fmt.Fprintln(os.Stdout, "\nThresholds:")
		for _, result := range results {
			fmt.Fprintf(os.Stdout, "  %s\n", result.Message)
			if !result.Pass {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d thresholds failed", failed, len(results))
		}
	}

	if cfg.Trace != "" {
		if err := output.WriteTrace(cfg.Trace, report); err != nil {
			return err
		}
		log.Info("trace artifact written to %s", cfg.Trace)
	}
	if cfg.Waterfall != "" && len(report.Windows) > 0 {
		if err := output.RenderWaterfall(cfg.Waterfall, report); err != nil {
			return err
		}
		log.Info("waterfall artifact written to %s", cfg.Waterfall)
	}

	return nil
}

// workerPool tracks the per-thread clients and their run goroutines.
type workerPool struct {
	clients []*client.Client
	wg      sync.WaitGroup
}

func (p *workerPool) wait() { p.wg.Wait() }

func (p *workerPool) close() {
	for _, c := range p.clients {
		c.Close()
	}
}

// startWorkers opens every worker's connections before any event loop
// starts. A worker that opened no socket at all aborts the run.
func startWorkers(ctx context.Context, cfg *config.Config, family netx.Family, factory protocol.Factory, work *queue.Queue, receiver *stats.Receiver, log *logger.Logger) (*workerPool, error) {
	pool := &workerPool{clients: make([]*client.Client, 0, cfg.Threads)}

	for i := 0; i < cfg.Threads; i++ {
		c, err := client.New(client.Config{
			ID:             i,
			Servers:        cfg.Servers,
			ConnsPerServer: cfg.Connections,
			Family:         family,
			NoDelay:        cfg.TCPNoDelay,
			ConnectTimeout: cfg.ConnectTimeout,
			Factory:        factory,
			Work:           work,
			StatsC:         receiver.Sender(),
			Reconnect:      cfg.Reconnect,
			Log:            log,
		})
		if err != nil {
			pool.close()
			return nil, err
		}
		pool.clients = append(pool.clients, c)

		if _, _, err := c.Connect(); err != nil {
			pool.close()
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
	}

	for _, c := range pool.clients {
		pool.wg.Add(1)
		go func(c *client.Client) {
			defer pool.wg.Done()
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("worker stopped: %v", err)
			}
		}(c)
	}

	return pool, nil
}

// workloadSpecs converts the configured workload mix; with none declared a
// single unpaced generator runs the protocol's default commands.
func workloadSpecs(cfg *config.Config) []workload.Spec {
	if len(cfg.Workloads) == 0 {
		return []workload.Spec{{Name: "default"}}
	}
	specs := make([]workload.Spec, 0, len(cfg.Workloads))
	for _, w := range cfg.Workloads {
		name := w.Name
		if name == "" {
			name = w.Command
		}
		specs = append(specs, workload.Spec{
			Name: name,
			Rate: w.Rate,
			Commands: []protocol.Command{{
				Verb:      w.Command,
				KeySize:   w.KeySize,
				ValueSize: w.ValueSize,
				Weight:    w.Weight,
			}},
		})
	}
	return specs
}

func logBanner(log *logger.Logger, cfg *config.Config, family netx.Family) {
	log.Info("rpcfire %s", version)
	log.Info("Config: Servers: %s Protocol: %s", strings.Join(cfg.Servers, " "), cfg.Protocol)
	log.Info("Config: Threads: %d Connections: %d Queue depth: %d", cfg.Threads, cfg.Connections, cfg.QueueDepth)
	log.Info("Config: Windows: %d Duration: %s Family: %s", cfg.Windows, cfg.WindowDuration(), family)
	if cfg.ConfigFile != "" {
		log.Info("Config: File: %s", cfg.ConfigFile)
	}
}
