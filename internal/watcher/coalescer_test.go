package watcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCoalescer(t *testing.T, debounce time.Duration) (*Coalescer, chan ChangeSignal) {
	t.Helper()
	signals := make(chan ChangeSignal, 8)
	target := WatchTarget{Path: "/work/model.py", Debounce: debounce}
	coalescer := NewCoalescer(target, func(signal ChangeSignal) {
		signals <- signal
	}, CoalescerOptions{})
	t.Cleanup(coalescer.Stop)
	return coalescer, signals
}

func TestCoalescerEmitsOnceAfterBurst(t *testing.T) {
	coalescer, signals := newTestCoalescer(t, 300*time.Millisecond)
	start := time.Now()

	coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindCreated})
	time.Sleep(100 * time.Millisecond)
	coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindModified})
	time.Sleep(100 * time.Millisecond)
	coalescer.Observe(RawEvent{Path: "/work/.tmp", Kind: KindMoved, DestPath: "/work/model.py"})

	select {
	case signal := <-signals:
		if signal.Path != "/work/model.py" {
			t.Fatalf("unexpected path %q", signal.Path)
		}
		if elapsed := time.Since(start); elapsed < 450*time.Millisecond {
			t.Fatalf("signal fired before quiet window elapsed: %s", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for signal")
	}

	select {
	case signal := <-signals:
		t.Fatalf("unexpected second signal: %+v", signal)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestCoalescerIgnoresMoveElsewhere(t *testing.T) {
	coalescer, signals := newTestCoalescer(t, 50*time.Millisecond)

	if coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindMoved, DestPath: "/work/backup.py"}) {
		t.Fatalf("expected move elsewhere to be ignored")
	}
	if coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindDeleted}) {
		t.Fatalf("expected delete to be ignored")
	}

	select {
	case signal := <-signals:
		t.Fatalf("unexpected signal: %+v", signal)
	case <-time.After(200 * time.Millisecond):
	}
	if pending := coalescer.Pending(); pending != 0 {
		t.Fatalf("expected no pending windows, got %d", pending)
	}
}

func TestCoalescerSeparatedEventsEmitTwice(t *testing.T) {
	coalescer, signals := newTestCoalescer(t, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindModified})
		select {
		case <-signals:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for signal %d", i+1)
		}
	}
}

func TestCoalescerStopDropsPending(t *testing.T) {
	coalescer, signals := newTestCoalescer(t, 100*time.Millisecond)

	coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindModified})
	coalescer.Stop()
	if coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindModified}) {
		t.Fatalf("expected observe after stop to be rejected")
	}

	select {
	case signal := <-signals:
		t.Fatalf("unexpected signal after stop: %+v", signal)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestCoalescerRunConsumesChannel(t *testing.T) {
	coalescer, signals := newTestCoalescer(t, 50*time.Millisecond)
	events := make(chan RawEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		coalescer.Run(ctx, events)
		close(done)
	}()

	events <- RawEvent{Path: "/work/model.py", Kind: KindModified}
	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for signal")
	}

	close(events)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("run did not return after channel closed")
	}
}

func TestCoalescerStopWaitsForInFlightSignal(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var delivered atomic.Int32
	target := WatchTarget{Path: "/work/model.py", Debounce: 20 * time.Millisecond}
	coalescer := NewCoalescer(target, func(signal ChangeSignal) {
		close(entered)
		<-release
		delivered.Add(1)
	}, CoalescerOptions{})

	coalescer.Observe(RawEvent{Path: "/work/model.py", Kind: KindModified})
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sink call")
	}

	stopped := make(chan struct{})
	go func() {
		coalescer.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("stop returned while a signal was being delivered")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("stop did not return after delivery finished")
	}
	if got := delivered.Load(); got != 1 {
		t.Fatalf("expected the in-flight signal to complete before stop returned, got %d", got)
	}
}
