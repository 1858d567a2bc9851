// Package client runs one worker: a single-threaded event loop multiplexing
// many connections. No connection state is shared across workers; the only
// cross-worker resources are the work queue and the measurement channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/calder/rpcfire/internal/conn"
	"github.com/calder/rpcfire/internal/eventloop"
	"github.com/calder/rpcfire/internal/logger"
	"github.com/calder/rpcfire/internal/netx"
	"github.com/calder/rpcfire/internal/protocol"
	"github.com/calder/rpcfire/internal/queue"
	"github.com/calder/rpcfire/internal/stats"
)

// Config is the immutable per-worker snapshot captured at spawn.
type Config struct {
	// ID names the worker in log output.
	ID int
	// Servers are the target addresses; each gets ConnsPerServer sockets.
	Servers        []string
	ConnsPerServer int
	Family         netx.Family
	NoDelay        bool
	// ConnectTimeout bounds each dial; zero uses the netx default.
	ConnectTimeout time.Duration
	Factory        protocol.Factory
	Work           *queue.Queue
	StatsC         chan<- stats.Stat
	// MaxEvents bounds notifications drained per poll wait.
	MaxEvents int
	// Reconnect refills a closed connection's slot with a fresh socket to
	// the same server.
	Reconnect bool
	Log       *logger.Logger
}

// ErrAllConnectionsFailed is returned by Connect when not a single socket
// could be opened. A worker with zero connections is worthless; the
// orchestrator fail-fasts the process on it.
var ErrAllConnectionsFailed = errors.New("all connections have failed")

// Client is one worker thread's event loop and connection table.
type Client struct {
	cfg    Config
	poller *eventloop.Poller
	table  table
}

// New creates a worker with an empty connection table.
func New(cfg Config) (*Client, error) {
	if cfg.Log == nil {
		cfg.Log = logger.Default
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 256
	}
	poller, err := eventloop.New(cfg.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", cfg.ID, err)
	}
	return &Client{cfg: cfg, poller: poller}, nil
}

// Connect dials every configured connection and registers the successes for
// writable readiness. Partial failure is tolerated and logged; if every
// attempt fails it returns ErrAllConnectionsFailed and the worker must not
// enter its dispatch loop.
func (c *Client) Connect() (connected, failed int, err error) {
	for _, server := range c.cfg.Servers {
		for i := 0; i < c.cfg.ConnsPerServer; i++ {
			if c.dial(server) {
				connected++
			} else {
				failed++
			}
		}
	}

	c.cfg.Log.Info("worker %d connections: %d failures: %d", c.cfg.ID, connected, failed)
	if connected == 0 && failed > 0 {
		return connected, failed, fmt.Errorf("worker %d: %w", c.cfg.ID, ErrAllConnectionsFailed)
	}
	return connected, failed, nil
}

func (c *Client) dial(server string) bool {
	fd, err := netx.Connect(server, c.cfg.Family, c.cfg.NoDelay, c.cfg.ConnectTimeout)
	if err != nil {
		c.cfg.Log.Debug("worker %d: %v", c.cfg.ID, err)
		return false
	}

	slot := c.table.insert(func(slot int) *conn.Conn {
		return conn.New(fd, slot, server, c.cfg.Factory.New(), c.cfg.Work, c.cfg.StatsC)
	})
	if err := c.poller.Register(fd, slot, eventloop.InterestWritable); err != nil {
		c.cfg.Log.Debug("worker %d: %v", c.cfg.ID, err)
		c.table.get(slot).Close()
		c.table.remove(slot)
		return false
	}
	return true
}

// Run dispatches readiness notifications until ctx is cancelled. The loop
// has no terminating condition of its own: run length is owned by the stats
// receiver, which the orchestrator translates into cancellation here.
func (c *Client) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.poller.Wake()
		case <-stop:
		}
	}()

	events := make([]eventloop.Event, 0, c.cfg.MaxEvents)
	for {
		var woken bool
		var err error
		events, woken, err = c.poller.Wait(events[:0])
		if err != nil {
			return fmt.Errorf("worker %d: %w", c.cfg.ID, err)
		}
		if woken && ctx.Err() != nil {
			return ctx.Err()
		}

		for _, ev := range events {
			c.dispatch(ev)
		}
	}
}

// dispatch delivers one notification to the connection occupying its slot.
func (c *Client) dispatch(ev eventloop.Event) {
	target := c.table.get(ev.Slot)
	if target == nil {
		// Slot freed between poll and dispatch; stale notification.
		return
	}

	interest, err := target.Ready(ev)
	if err != nil {
		// The connection closed its own fd, which also deregisters it
		// from epoll. Free the slot and optionally refill it.
		c.cfg.Log.Debug("worker %d slot %d: %v", c.cfg.ID, ev.Slot, err)
		server := target.Server()
		c.table.remove(ev.Slot)
		if c.cfg.Reconnect {
			if c.dial(server) {
				c.cfg.Log.Debug("worker %d: reconnected to %s", c.cfg.ID, server)
			}
		}
		return
	}

	if err := c.poller.Rearm(target.Fd(), ev.Slot, interest); err != nil {
		c.cfg.Log.Debug("worker %d slot %d: %v", c.cfg.ID, ev.Slot, err)
		target.Close()
		c.table.remove(ev.Slot)
	}
}

// Live reports how many connections currently occupy slots.
func (c *Client) Live() int { return c.table.live() }

// Close tears down the poller and every remaining connection.
func (c *Client) Close() {
	for slot, target := range c.table.conns {
		if target != nil {
			target.Close()
			c.table.remove(slot)
		}
	}
	_ = c.poller.Close()
}
