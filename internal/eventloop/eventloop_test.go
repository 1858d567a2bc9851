package eventloop_test

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/calder/rpcfire/internal/eventloop"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestWritableThenOneShot(t *testing.T) {
	p, err := eventloop.New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	local, _ := socketPair(t)

	if err := p.Register(local, 3, eventloop.InterestWritable); err != nil {
		t.Fatalf("Register: %v", err)
	}

	events, woken, err := p.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if woken {
		t.Error("unexpected wake")
	}
	if len(events) != 1 || events[0].Slot != 3 || !events[0].Writable {
		t.Fatalf("want one writable event for slot 3, got %+v", events)
	}

	// One-shot: without a rearm the fd must stay silent even though it is
	// still writable. Use Wake to bound the second wait.
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Wake()
	}()
	events, woken, err = p.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !woken {
		t.Error("expected wake")
	}
	if len(events) != 0 {
		t.Errorf("one-shot registration fired again: %+v", events)
	}
}

func TestReadableAfterRearm(t *testing.T) {
	p, err := eventloop.New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	local, peer := socketPair(t)

	if err := p.Register(local, 1, eventloop.InterestWritable); err != nil {
		t.Fatalf("Register: %v", err)
	}
	events, _, err := p.Wait(nil)
	if err != nil || len(events) != 1 {
		t.Fatalf("initial writable wait: events=%v err=%v", events, err)
	}

	if err := p.Rearm(local, 1, eventloop.InterestReadable); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if _, err := unix.Write(peer, []byte("x")); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	events, _, err = p.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || events[0].Slot != 1 || !events[0].Readable {
		t.Fatalf("want readable event for slot 1, got %+v", events)
	}
}

func TestPeerCloseReportsClosed(t *testing.T) {
	p, err := eventloop.New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	local, peer := socketPair(t)

	if err := p.Register(local, 7, eventloop.InterestReadable); err != nil {
		t.Fatalf("Register: %v", err)
	}
	unix.Shutdown(peer, unix.SHUT_WR)

	events, _, err := p.Wait(nil)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(events) != 1 || !events[0].Closed {
		t.Fatalf("want closed event, got %+v", events)
	}
}
