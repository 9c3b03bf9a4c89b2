package bridge

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mcc/internal/metrics"
	"mcc/internal/watcher"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func signalAt(path string, offset int) watcher.ChangeSignal {
	return watcher.ChangeSignal{Path: path, Timestamp: time.Unix(int64(offset), 0)}
}

func TestBridgeReplaysSignalDeliveredBeforeAttach(t *testing.T) {
	b := New(Options{})
	if err := b.Deliver(signalAt("/work/model.py", 1)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if drained := b.Drain(); drained != nil {
		t.Fatalf("expected nothing before attach, got %+v", drained)
	}

	b.Attach()
	select {
	case <-b.Ready():
	case <-time.After(time.Second):
		t.Fatalf("expected ready after attach")
	}
	drained := b.Drain()
	if len(drained) != 1 || drained[0].Path != "/work/model.py" {
		t.Fatalf("unexpected drain %+v", drained)
	}
	if again := b.Drain(); len(again) != 0 {
		t.Fatalf("expected signal to be replayed once, got %+v", again)
	}
}

func TestBridgeLatestWinsAndCountsOverflow(t *testing.T) {
	registry := metrics.NewRegistry()
	b := New(Options{Metrics: registry})
	b.Attach()

	_ = b.Deliver(signalAt("/work/model.py", 1))
	err := b.Deliver(signalAt("/work/model.py", 2))
	if !errors.Is(err, ErrBridgeOverflow) {
		t.Fatalf("expected ErrBridgeOverflow, got %v", err)
	}

	drained := b.Drain()
	if len(drained) != 1 || drained[0].Timestamp.Unix() != 2 {
		t.Fatalf("expected latest signal only, got %+v", drained)
	}
	stats := b.Stats()
	if stats.Delivered != 2 || stats.Overflows != 1 || stats.Pending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	expected := `# HELP mcc_bridge_overflows_total Pending change signals overwritten before the hub drained them
# TYPE mcc_bridge_overflows_total counter
mcc_bridge_overflows_total 1
`
	if err := testutil.GatherAndCompare(registry.Gatherer(), strings.NewReader(expected), "mcc_bridge_overflows_total"); err != nil {
		t.Fatalf("overflow metric: %v", err)
	}
}

func TestBridgePendingLimitKeepsOrder(t *testing.T) {
	b := New(Options{PendingLimit: 3})
	b.Attach()

	_ = b.Deliver(signalAt("/work/b.py", 1))
	_ = b.Deliver(signalAt("/work/a.py", 2))
	_ = b.Deliver(signalAt("/work/b.py", 3))

	drained := b.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 signals, got %+v", drained)
	}
	want := []int64{1, 3, 2}
	for i, signal := range drained {
		if signal.Timestamp.Unix() != want[i] {
			t.Fatalf("signal %d: expected %d, got %d", i, want[i], signal.Timestamp.Unix())
		}
	}
}

func TestBridgeDeliverNeverBlocks(t *testing.T) {
	b := New(Options{})
	b.Attach()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Deliver(signalAt("/work/model.py", i*100+j))
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("deliver blocked")
	}
	if drained := b.Drain(); len(drained) != 1 {
		t.Fatalf("expected one coalesced signal, got %d", len(drained))
	}
}

func TestBridgeCloseDropsSignals(t *testing.T) {
	b := New(Options{})
	b.Attach()
	_ = b.Deliver(signalAt("/work/model.py", 1))
	b.Close()
	_ = b.Deliver(signalAt("/work/model.py", 2))

	if drained := b.Drain(); len(drained) != 0 {
		t.Fatalf("expected no signals after close, got %+v", drained)
	}
}
