// Package conn implements the per-socket request/response state machine.
//
// A Conn owns exactly one non-blocking socket and pumps it through
// Connecting -> Writing -> AwaitingResponse -> (Writing | Closed). It never
// blocks: every call happens on a readiness notification from the owning
// worker's event loop, and the Conn answers with the single interest it
// wants armed next.
package conn

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calder/rpcfire/internal/eventloop"
	"github.com/calder/rpcfire/internal/netx"
	"github.com/calder/rpcfire/internal/protocol"
	"github.com/calder/rpcfire/internal/queue"
	"github.com/calder/rpcfire/internal/stats"
)

// State is the connection's position in its lifecycle.
type State int

const (
	// StateConnecting covers both an in-progress TCP connect and an idle
	// established socket waiting for the work queue to yield an item.
	StateConnecting State = iota
	StateWriting
	StateAwaiting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWriting:
		return "writing"
	case StateAwaiting:
		return "awaiting-response"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrClosed is the base error for a connection torn down by socket failure,
// peer reset, or a malformed response stream.
var ErrClosed = errors.New("connection closed")

const readChunkSize = 16 * 1024

// Conn is one live connection. Not safe for concurrent use; each Conn is
// owned by a single worker goroutine.
type Conn struct {
	fd     int
	slot   int
	server string
	parser protocol.Parser
	work   *queue.Queue
	statsC chan<- stats.Stat

	state     State
	connected bool
	wbuf      []byte
	rbuf      []byte
	chunk     []byte
	sentAt    time.Time
	inflight  bool
}

// New wraps a freshly connected (or still connecting) socket. slot is the
// stable table index the owning worker dispatches by.
func New(fd, slot int, server string, parser protocol.Parser, work *queue.Queue, statsC chan<- stats.Stat) *Conn {
	return &Conn{
		fd:     fd,
		slot:   slot,
		server: server,
		parser: parser,
		work:   work,
		statsC: statsC,
		state:  StateConnecting,
		chunk:  make([]byte, readChunkSize),
	}
}

// Fd returns the underlying socket descriptor.
func (c *Conn) Fd() int { return c.fd }

// Slot returns the connection's table index.
func (c *Conn) Slot() int { return c.slot }

// Server returns the address this connection targets.
func (c *Conn) Server() string { return c.server }

// State returns the current lifecycle state.
func (c *Conn) State() State { return c.state }

// Ready drives the state machine for one readiness notification and returns
// the interest to arm next. A non-nil error means the connection is dead:
// the caller must remove it from the event loop and Close it. Any in-flight
// request has already been measured as a failure by then.
func (c *Conn) Ready(ev eventloop.Event) (eventloop.Interest, error) {
	if c.state == StateClosed {
		return eventloop.InterestReadable, ErrClosed
	}

	if ev.Closed && !ev.Readable {
		return 0, c.fail(fmt.Errorf("%w: socket error on %s", ErrClosed, c.server))
	}

	switch c.state {
	case StateConnecting:
		return c.onConnecting()
	case StateWriting:
		return c.onWritable()
	case StateAwaiting:
		return c.onReadable()
	default:
		return 0, c.fail(fmt.Errorf("%w: event in state %s", ErrClosed, c.state))
	}
}

// onConnecting handles the first writable readiness of a fresh socket and
// every subsequent tick spent waiting for work.
func (c *Conn) onConnecting() (eventloop.Interest, error) {
	if !c.connected {
		if err := netx.FinishConnect(c.fd); err != nil {
			return 0, c.fail(fmt.Errorf("%w: connect %s: %v", ErrClosed, c.server, err))
		}
		c.connected = true
	}

	item, ok := c.work.TryPop()
	if !ok {
		// Empty queue is transient: stay registered for writable and
		// retry next tick.
		return eventloop.InterestWritable, nil
	}

	c.wbuf = item
	c.inflight = true
	c.state = StateWriting
	return c.onWritable()
}

// onWritable flushes as much of the current request as the socket accepts.
func (c *Conn) onWritable() (eventloop.Interest, error) {
	for len(c.wbuf) > 0 {
		n, err := unix.Write(c.fd, c.wbuf)
		if err == unix.EAGAIN {
			return eventloop.InterestWritable, nil
		}
		if err != nil {
			return 0, c.fail(fmt.Errorf("%w: write %s: %v", ErrClosed, c.server, err))
		}
		c.wbuf = c.wbuf[n:]
	}

	// Fully flushed: timestamp and turn around for the response.
	c.sentAt = time.Now()
	c.state = StateAwaiting
	return eventloop.InterestReadable, nil
}

// onReadable pulls available bytes and feeds them to the protocol parser.
func (c *Conn) onReadable() (eventloop.Interest, error) {
	for {
		n, err := unix.Read(c.fd, c.chunk)
		if err == unix.EAGAIN {
			return eventloop.InterestReadable, nil
		}
		if err != nil {
			return 0, c.fail(fmt.Errorf("%w: read %s: %v", ErrClosed, c.server, err))
		}
		if n == 0 {
			return 0, c.fail(fmt.Errorf("%w: %s closed by peer", ErrClosed, c.server))
		}

		c.rbuf = append(c.rbuf, c.chunk[:n]...)

		consumed, status, verdict := c.parser.Parse(c.rbuf)
		switch verdict {
		case protocol.VerdictNeedMore:
			continue

		case protocol.VerdictMalformed:
			c.emit(stats.OutcomeError)
			c.close()
			return 0, fmt.Errorf("%w: malformed response from %s", ErrClosed, c.server)

		case protocol.VerdictComplete:
			outcome := stats.OutcomeOk
			if status == protocol.StatusError {
				outcome = stats.OutcomeError
			}
			c.emit(outcome)
			c.rbuf = c.rbuf[consumed:]
			return c.nextRequest()
		}
	}
}

// nextRequest tries to start the next work item immediately after a
// completed response.
func (c *Conn) nextRequest() (eventloop.Interest, error) {
	item, ok := c.work.TryPop()
	if !ok {
		c.state = StateConnecting
		return eventloop.InterestWritable, nil
	}
	c.wbuf = item
	c.inflight = true
	c.state = StateWriting
	return eventloop.InterestWritable, nil
}

// emit sends exactly one measurement for the in-flight request.
func (c *Conn) emit(outcome stats.Outcome) {
	if !c.inflight {
		return
	}
	c.inflight = false

	sent := c.sentAt
	if sent.IsZero() {
		sent = time.Now()
	}
	c.statsC <- stats.Stat{
		SentAt:      sent,
		CompletedAt: time.Now(),
		Outcome:     outcome,
	}
	c.sentAt = time.Time{}
}

// fail measures any in-flight request as a connection error and closes.
func (c *Conn) fail(err error) error {
	c.emit(stats.OutcomeConnError)
	c.close()
	return err
}

func (c *Conn) close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	unix.Close(c.fd)
	c.fd = -1
}

// Close releases the socket. Safe to call on an already closed Conn.
func (c *Conn) Close() {
	c.close()
}
