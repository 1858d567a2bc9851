package conn_test

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/calder/rpcfire/internal/conn"
	"github.com/calder/rpcfire/internal/eventloop"
	"github.com/calder/rpcfire/internal/protocol"
	"github.com/calder/rpcfire/internal/queue"
	"github.com/calder/rpcfire/internal/stats"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newEchoConn(t *testing.T, fd int, q *queue.Queue, statsC chan stats.Stat) *conn.Conn {
	t.Helper()
	factory, err := protocol.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	return conn.New(fd, 0, "test-peer", factory.New(), q, statsC)
}

func readAll(t *testing.T, fd int, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got, err := unix.Read(fd, buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return buf[:got]
}

func TestRequestResponseCycle(t *testing.T) {
	local, peer := socketPair(t)
	q := queue.New(4)
	q.TryPush([]byte("PING\r\n"))
	statsC := make(chan stats.Stat, 4)

	c := newEchoConn(t, local, q, statsC)
	defer c.Close()

	// First writable readiness: dequeue, flush, await response.
	interest, err := c.Ready(eventloop.Event{Writable: true})
	if err != nil {
		t.Fatalf("Ready(writable): %v", err)
	}
	if interest != eventloop.InterestReadable {
		t.Fatalf("interest after flush = %v, want readable", interest)
	}
	if c.State() != conn.StateAwaiting {
		t.Fatalf("state = %v, want awaiting-response", c.State())
	}
	if got := readAll(t, peer, 64); string(got) != "PING\r\n" {
		t.Fatalf("peer received %q", got)
	}

	// Response arrives; readable readiness completes the request.
	if _, err := unix.Write(peer, []byte("PONG\r\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	interest, err = c.Ready(eventloop.Event{Readable: true})
	if err != nil {
		t.Fatalf("Ready(readable): %v", err)
	}
	if interest != eventloop.InterestWritable {
		t.Errorf("interest after response = %v, want writable", interest)
	}
	// Queue is now empty: back to the idle connecting state.
	if c.State() != conn.StateConnecting {
		t.Errorf("state = %v, want connecting", c.State())
	}

	select {
	case s := <-statsC:
		if s.Outcome != stats.OutcomeOk {
			t.Errorf("outcome = %v, want ok", s.Outcome)
		}
		if s.Latency() < 0 {
			t.Errorf("negative latency %s", s.Latency())
		}
		if s.CompletedAt.Before(s.SentAt) {
			t.Error("completion precedes send timestamp")
		}
	default:
		t.Fatal("no measurement emitted")
	}
}

func TestEmptyQueueRetriesNextTick(t *testing.T) {
	local, _ := socketPair(t)
	q := queue.New(4)
	statsC := make(chan stats.Stat, 1)

	c := newEchoConn(t, local, q, statsC)
	defer c.Close()

	interest, err := c.Ready(eventloop.Event{Writable: true})
	if err != nil {
		t.Fatalf("Ready: %v", err)
	}
	if interest != eventloop.InterestWritable {
		t.Errorf("interest = %v, want writable retry", interest)
	}
	if c.State() != conn.StateConnecting {
		t.Errorf("state = %v, want connecting", c.State())
	}
	if len(statsC) != 0 {
		t.Error("measurement emitted with no request in flight")
	}
}

func TestErrorResponseClassification(t *testing.T) {
	local, peer := socketPair(t)
	q := queue.New(4)
	q.TryPush([]byte("PING\r\n"))
	statsC := make(chan stats.Stat, 1)

	c := newEchoConn(t, local, q, statsC)
	defer c.Close()

	if _, err := c.Ready(eventloop.Event{Writable: true}); err != nil {
		t.Fatalf("Ready(writable): %v", err)
	}
	if _, err := unix.Write(peer, []byte("BUSY\r\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	if _, err := c.Ready(eventloop.Event{Readable: true}); err != nil {
		t.Fatalf("Ready(readable): %v", err)
	}

	s := <-statsC
	if s.Outcome != stats.OutcomeError {
		t.Errorf("outcome = %v, want error", s.Outcome)
	}
}

func TestMalformedResponseClosesConnection(t *testing.T) {
	local, peer := socketPair(t)
	q := queue.New(4)

	factory, _ := protocol.Lookup("redis")
	item, _ := factory.Encode(protocol.Command{Verb: "get", KeySize: 8})
	q.TryPush(item)
	statsC := make(chan stats.Stat, 1)

	c := conn.New(local, 0, "test-peer", factory.New(), q, statsC)

	if _, err := c.Ready(eventloop.Event{Writable: true}); err != nil {
		t.Fatalf("Ready(writable): %v", err)
	}
	if _, err := unix.Write(peer, []byte("not resp at all\r\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	_, err := c.Ready(eventloop.Event{Readable: true})
	if !errors.Is(err, conn.ErrClosed) {
		t.Fatalf("Ready = %v, want ErrClosed", err)
	}
	if c.State() != conn.StateClosed {
		t.Errorf("state = %v, want closed", c.State())
	}

	s := <-statsC
	if s.Outcome != stats.OutcomeError {
		t.Errorf("outcome = %v, want error", s.Outcome)
	}
}

func TestPeerResetYieldsConnError(t *testing.T) {
	local, peer := socketPair(t)
	q := queue.New(4)
	q.TryPush([]byte("PING\r\n"))
	statsC := make(chan stats.Stat, 1)

	c := newEchoConn(t, local, q, statsC)

	if _, err := c.Ready(eventloop.Event{Writable: true}); err != nil {
		t.Fatalf("Ready(writable): %v", err)
	}
	unix.Close(peer)

	_, err := c.Ready(eventloop.Event{Readable: true, Closed: true})
	if !errors.Is(err, conn.ErrClosed) {
		t.Fatalf("Ready = %v, want ErrClosed", err)
	}

	s := <-statsC
	if s.Outcome != stats.OutcomeConnError {
		t.Errorf("outcome = %v, want conn-error", s.Outcome)
	}
}

func TestPipelinesNextItemImmediately(t *testing.T) {
	local, peer := socketPair(t)
	q := queue.New(4)
	q.TryPush([]byte("PING\r\n"))
	q.TryPush([]byte("PING\r\n"))
	statsC := make(chan stats.Stat, 2)

	c := newEchoConn(t, local, q, statsC)
	defer c.Close()

	if _, err := c.Ready(eventloop.Event{Writable: true}); err != nil {
		t.Fatalf("Ready(writable): %v", err)
	}
	if _, err := unix.Write(peer, []byte("PONG\r\n")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	interest, err := c.Ready(eventloop.Event{Readable: true})
	if err != nil {
		t.Fatalf("Ready(readable): %v", err)
	}
	if interest != eventloop.InterestWritable {
		t.Errorf("interest = %v, want writable", interest)
	}
	if c.State() != conn.StateWriting {
		t.Errorf("state = %v, want writing for queued second item", c.State())
	}
	if q.Len() != 0 {
		t.Errorf("second item not dequeued, queue len %d", q.Len())
	}
}
