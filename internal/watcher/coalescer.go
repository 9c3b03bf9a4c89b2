package watcher

import (
	"context"
	"strconv"
	"sync"
	"time"

	"mcc/internal/logging"
	"mcc/internal/metrics"
)

// Sink receives coalesced signals. It is called from timer goroutines, one
// call at a time, and must not call Stop.
type Sink func(ChangeSignal)

type CoalescerOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	Now     func() time.Time
}

type pendingSignal struct {
	timer      *time.Timer
	generation uint64
	events     int
}

// Coalescer applies a trailing debounce per path. Each relevant event
// restarts the quiet window; a signal is emitted once the window elapses.
type Coalescer struct {
	target   WatchTarget
	sink     Sink
	logger   *logging.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	// delivering is held across a sink call so Stop can wait it out.
	delivering sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingSignal
	sequence uint64
	stopped  bool
}

func NewCoalescer(target WatchTarget, sink Sink, options CoalescerOptions) *Coalescer {
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if target.Debounce <= 0 {
		target.Debounce = DefaultDebounce
	}
	return &Coalescer{
		target:  target,
		sink:    sink,
		logger:  options.Logger.WithCategory("watcher"),
		metrics: options.Metrics,
		now:     now,
		pending: make(map[string]*pendingSignal),
	}
}

// Observe feeds one raw event. It reports whether the event restarted a
// quiet window.
func (c *Coalescer) Observe(event RawEvent) bool {
	if c == nil || !Relevant(c.target.Path, event) {
		return false
	}
	path := c.target.Path

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	if entry, ok := c.pending[path]; ok && entry.timer.Stop() {
		entry.timer.Reset(c.target.Debounce)
		entry.events++
		return true
	}
	// Either no window is open or its timer already fired. A fired callback
	// that has not taken the lock yet sees a newer generation and skips.
	c.sequence++
	generation := c.sequence
	c.pending[path] = &pendingSignal{
		generation: generation,
		events:     1,
		timer: time.AfterFunc(c.target.Debounce, func() {
			c.fire(path, generation)
		}),
	}
	return true
}

// Run feeds events until the channel closes or ctx is done.
func (c *Coalescer) Run(ctx context.Context, events <-chan RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.Observe(event)
		}
	}
}

// Stop cancels open windows. Signals that have not fired are dropped, and
// no sink call is in flight once Stop returns.
func (c *Coalescer) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stopped = true
	for path, entry := range c.pending {
		entry.timer.Stop()
		delete(c.pending, path)
	}
	c.mu.Unlock()

	c.delivering.Lock()
	c.delivering.Unlock()
}

// Pending reports how many paths have an open quiet window.
func (c *Coalescer) Pending() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Coalescer) fire(path string, generation uint64) {
	c.delivering.Lock()
	defer c.delivering.Unlock()

	c.mu.Lock()
	entry, ok := c.pending[path]
	if !ok || entry.generation != generation || c.stopped {
		c.mu.Unlock()
		return
	}
	delete(c.pending, path)
	events := entry.events
	c.mu.Unlock()

	signal := ChangeSignal{Path: path, Timestamp: c.now()}
	c.metrics.IncSignal()
	c.logger.Debug("change signal", map[string]string{
		"path":   path,
		"events": strconv.Itoa(events),
	})
	if c.sink != nil {
		c.sink(signal)
	}
}
