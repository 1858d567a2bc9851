// Package workload runs the background producers that keep the work queue
// fed with pre-encoded requests.
package workload

import (
	"context"
	"math/rand"
	"sync"

	"golang.org/x/time/rate"

	"github.com/calder/rpcfire/internal/logger"
	"github.com/calder/rpcfire/internal/protocol"
	"github.com/calder/rpcfire/internal/queue"
)

// Spec describes one generator: a weighted command mix produced at an
// optional fixed rate. Rate zero means unpaced, bounded only by queue
// backpressure.
type Spec struct {
	Name     string
	Rate     int
	Commands []protocol.Command
}

// Generator owns the goroutines feeding the queue. Producers always honor
// backpressure: a full queue blocks them, it never drops items.
type Generator struct {
	factory protocol.Factory
	work    *queue.Queue
	log     *logger.Logger
	wg      sync.WaitGroup
}

// NewGenerator creates a Generator for the given protocol and queue.
func NewGenerator(factory protocol.Factory, work *queue.Queue, log *logger.Logger) *Generator {
	if log == nil {
		log = logger.Default
	}
	return &Generator{factory: factory, work: work, log: log}
}

// Launch starts one producing goroutine per spec. Producers stop when ctx is
// cancelled; Wait blocks until they have all returned.
func (g *Generator) Launch(ctx context.Context, specs []Spec) {
	for i := range specs {
		spec := specs[i]
		if len(spec.Commands) == 0 {
			spec.Commands = g.factory.DefaultCommands()
		}
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			g.produce(ctx, spec)
		}()
	}
}

// Wait blocks until all producers have stopped.
func (g *Generator) Wait() { g.wg.Wait() }

func (g *Generator) produce(ctx context.Context, spec Spec) {
	var limiter *rate.Limiter
	if spec.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(spec.Rate), 1)
	}

	rng := rand.New(rand.NewSource(rand.Int63()))
	picker := newWeightedPicker(spec.Commands)

	g.log.Debug("workload %s: %d command(s), rate %d", spec.Name, len(spec.Commands), spec.Rate)

	for {
		if ctx.Err() != nil {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		cmd := picker.pick(rng)
		item, err := g.factory.Encode(cmd)
		if err != nil {
			g.log.Error("workload %s: %v", spec.Name, err)
			return
		}
		if err := g.work.Push(ctx, item); err != nil {
			return
		}
	}
}

// weightedPicker selects a command biased by its weight. Weights at or
// below zero count as one.
type weightedPicker struct {
	commands []protocol.Command
	weights  []int
	total    int
}

func newWeightedPicker(commands []protocol.Command) *weightedPicker {
	p := &weightedPicker{commands: commands}
	for _, cmd := range commands {
		w := cmd.Weight
		if w <= 0 {
			w = 1
		}
		p.weights = append(p.weights, w)
		p.total += w
	}
	return p
}

func (p *weightedPicker) pick(rng *rand.Rand) protocol.Command {
	if len(p.commands) == 1 {
		return p.commands[0]
	}
	n := rng.Intn(p.total)
	for i, w := range p.weights {
		if n < w {
			return p.commands[i]
		}
		n -= w
	}
	return p.commands[len(p.commands)-1]
}
