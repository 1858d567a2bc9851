package workload_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/calder/rpcfire/internal/logger"
	"github.com/calder/rpcfire/internal/protocol"
	"github.com/calder/rpcfire/internal/queue"
	"github.com/calder/rpcfire/internal/workload"
)

func quietLogger() *logger.Logger {
	return logger.New(io.Discard, logger.LevelError)
}

func TestGeneratorFillsQueueAndStops(t *testing.T) {
	factory, err := protocol.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	work := queue.New(8)
	g := workload.NewGenerator(factory, work, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	g.Launch(ctx, []workload.Spec{{Name: "ping"}})

	deadline := time.Now().Add(2 * time.Second)
	for work.Len() < work.Cap() {
		if time.Now().After(deadline) {
			t.Fatalf("queue never filled: len %d", work.Len())
		}
		time.Sleep(time.Millisecond)
	}

	// Full queue means the producer is blocked in backpressure; queue size
	// must never exceed capacity.
	if work.Len() > work.Cap() {
		t.Errorf("queue len %d exceeds capacity %d", work.Len(), work.Cap())
	}

	cancel()
	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("generator did not stop on cancellation")
	}
}

func TestGeneratorHonorsRate(t *testing.T) {
	factory, _ := protocol.Lookup("echo")
	work := queue.New(1024)
	g := workload.NewGenerator(factory, work, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g.Launch(ctx, []workload.Spec{{Name: "paced", Rate: 50}})
	time.Sleep(200 * time.Millisecond)
	cancel()
	g.Wait()

	// 50 rps over ~200ms is ~10 items; allow generous slack for scheduling
	// but catch an unpaced flood.
	if n := work.Len(); n > 40 {
		t.Errorf("paced generator produced %d items in 200ms", n)
	}
	if work.Len() == 0 {
		t.Error("paced generator produced nothing")
	}
}

func TestGeneratorEncodesValidItems(t *testing.T) {
	factory, _ := protocol.Lookup("redis")
	work := queue.New(4)
	g := workload.NewGenerator(factory, work, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Launch(ctx, nil)

	// nil specs launch nothing.
	time.Sleep(10 * time.Millisecond)
	if work.Len() != 0 {
		t.Errorf("no specs launched, but queue has %d items", work.Len())
	}

	g.Launch(ctx, []workload.Spec{{
		Name:     "mix",
		Commands: []protocol.Command{{Verb: "get", KeySize: 8, Weight: 1}},
	}})

	deadline := time.Now().Add(2 * time.Second)
	for work.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("generator produced nothing")
		}
		time.Sleep(time.Millisecond)
	}

	item, ok := work.TryPop()
	if !ok {
		t.Fatal("TryPop failed on non-empty queue")
	}
	if len(item) == 0 || item[0] != '*' {
		t.Errorf("item is not a RESP command: %q", item)
	}
	cancel()
	g.Wait()
}
