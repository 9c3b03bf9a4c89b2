// Package bridge hands change signals from the watcher's goroutines to the
// hub's run loop without blocking either side.
package bridge

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"mcc/internal/logging"
	"mcc/internal/metrics"
	"mcc/internal/watcher"
)

const DefaultPendingLimit = 1

// ErrBridgeOverflow reports that an undrained signal was overwritten.
var ErrBridgeOverflow = errors.New("bridge overflow")

type Options struct {
	// PendingLimit bounds queued signals per path. Older signals are
	// overwritten once the bound is reached.
	PendingLimit int
	Logger       *logging.Logger
	Metrics      *metrics.Registry
}

type Stats struct {
	Delivered uint64
	Overflows uint64
	Pending   int
}

// Bridge buffers signals per path until the consumer drains them.
type Bridge struct {
	limit   int
	logger  *logging.Logger
	metrics *metrics.Registry
	ready   chan struct{}

	mu        sync.Mutex
	order     []string
	pending   map[string][]watcher.ChangeSignal
	attached  bool
	closed    bool
	delivered uint64
	overflows uint64
}

func New(options Options) *Bridge {
	limit := options.PendingLimit
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return &Bridge{
		limit:   limit,
		logger:  options.Logger.WithCategory("bridge"),
		metrics: options.Metrics,
		ready:   make(chan struct{}, 1),
		pending: make(map[string][]watcher.ChangeSignal),
	}
}

// Deliver queues signal and returns immediately. The returned error wraps
// ErrBridgeOverflow when an older signal for the same path was dropped; the
// new signal is always kept.
func (b *Bridge) Deliver(signal watcher.ChangeSignal) error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	var overflow error
	queue, seen := b.pending[signal.Path]
	if !seen {
		b.order = append(b.order, signal.Path)
	}
	if len(queue) >= b.limit {
		queue = queue[len(queue)-b.limit+1:]
		b.overflows++
		overflow = fmt.Errorf("%w: %s", ErrBridgeOverflow, signal.Path)
	}
	b.pending[signal.Path] = append(queue, signal)
	b.delivered++
	attached := b.attached
	b.mu.Unlock()

	if overflow != nil {
		b.metrics.IncBridgeOverflow()
		b.logger.Debug("bridge overflow", map[string]string{
			"path":  signal.Path,
			"limit": strconv.Itoa(b.limit),
		})
	}
	if attached {
		b.poke()
	}
	return overflow
}

// Sink adapts Deliver for a watcher.Coalescer.
func (b *Bridge) Sink() watcher.Sink {
	return func(signal watcher.ChangeSignal) {
		_ = b.Deliver(signal)
	}
}

// Ready fires at least once after signals become available to an attached
// consumer.
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Attach marks the consumer as accepting work. Signals buffered before the
// call are announced through Ready.
func (b *Bridge) Attach() {
	b.mu.Lock()
	b.attached = true
	hasPending := len(b.order) > 0
	b.mu.Unlock()
	if hasPending {
		b.poke()
	}
}

// Drain removes and returns every queued signal, ordered by the first time
// each path was queued. It returns nil before Attach.
func (b *Bridge) Drain() []watcher.ChangeSignal {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached || len(b.order) == 0 {
		return nil
	}
	var out []watcher.ChangeSignal
	for _, path := range b.order {
		out = append(out, b.pending[path]...)
		delete(b.pending, path)
	}
	b.order = b.order[:0]
	return out
}

// Close discards queued signals and ignores later deliveries.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.order = nil
	b.pending = make(map[string][]watcher.ChangeSignal)
}

func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := 0
	for _, queue := range b.pending {
		pending += len(queue)
	}
	return Stats{Delivered: b.delivered, Overflows: b.overflows, Pending: pending}
}

func (b *Bridge) poke() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}
