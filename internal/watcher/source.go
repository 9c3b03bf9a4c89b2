package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mcc/internal/logging"
	"mcc/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

const defaultEventBuffer = 64

type SourceOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry
	// Buffer sizes the Events channel. Zero selects a default.
	Buffer int
}

// Source translates notifications for one artifact into RawEvents.
//
// The parent directory is watched so that a temporary file renamed onto the
// artifact is reported as a move whose destination is the artifact.
type Source struct {
	target  WatchTarget
	dir     string
	watcher *fsnotify.Watcher
	logger  *logging.Logger
	metrics *metrics.Registry

	events  chan RawEvent
	done    chan struct{}
	stopped chan struct{}

	stopOnce sync.Once
	stopErr  error

	// Owned by the run goroutine.
	pendingRename string
}

// NewSource establishes the OS subscription. Failures wrap ErrWatchStart and
// leave no goroutine running.
func NewSource(target WatchTarget, options SourceOptions) (*Source, error) {
	if target.Path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrWatchStart)
	}
	if _, err := os.Stat(target.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatchStart, err)
	}
	dir := filepath.Dir(target.Path)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatchStart, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrWatchStart, dir)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatchStart, err)
	}
	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("%w: %v", ErrWatchStart, err)
	}

	buffer := options.Buffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	source := &Source{
		target:  target,
		dir:     dir,
		watcher: fsWatcher,
		logger:  options.Logger.WithCategory("watcher"),
		metrics: options.Metrics,
		events:  make(chan RawEvent, buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go source.run()
	source.logger.Debug("watch started", map[string]string{"path": target.Path})
	return source, nil
}

func (s *Source) Target() WatchTarget {
	return s.target
}

// Events is closed after Stop returns.
func (s *Source) Events() <-chan RawEvent {
	return s.events
}

// Stop releases the OS subscription and waits for the reader goroutine to
// exit. It is safe to call more than once; every call returns the first
// result.
func (s *Source) Stop() error {
	if s == nil {
		return nil
	}
	s.stopOnce.Do(func() {
		close(s.done)
		if err := s.watcher.Close(); err != nil {
			s.stopErr = fmt.Errorf("close watcher: %w", err)
		}
		<-s.stopped
		s.logger.Debug("watch stopped", map[string]string{"path": s.target.Path})
	})
	return s.stopErr
}

func (s *Source) run() {
	defer close(s.stopped)
	defer close(s.events)

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			for _, raw := range s.translate(event, time.Now().UTC()) {
				if !s.concerns(raw) {
					continue
				}
				s.metrics.IncRawEvent(string(raw.Kind))
				select {
				case s.events <- raw:
				case <-s.done:
					return
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.logger.Warn("watch error", map[string]string{
					"path":  s.target.Path,
					"error": err.Error(),
				})
			}
		}
	}
}

// translate pairs a Rename with the Create that follows it in the same
// directory. An unpaired Rename is flushed as a move with no destination.
func (s *Source) translate(event fsnotify.Event, now time.Time) []RawEvent {
	var out []RawEvent
	flushRename := func() {
		if s.pendingRename == "" {
			return
		}
		out = append(out, RawEvent{Path: s.pendingRename, Kind: KindMoved, Timestamp: now})
		s.pendingRename = ""
	}

	name := filepath.Clean(event.Name)
	switch {
	case event.Has(fsnotify.Rename):
		flushRename()
		s.pendingRename = name
	case event.Has(fsnotify.Create):
		if s.pendingRename != "" {
			out = append(out, RawEvent{Path: s.pendingRename, Kind: KindMoved, DestPath: name, Timestamp: now})
			s.pendingRename = ""
			break
		}
		out = append(out, RawEvent{Path: name, Kind: KindCreated, Timestamp: now})
	case event.Has(fsnotify.Write):
		flushRename()
		out = append(out, RawEvent{Path: name, Kind: KindModified, Timestamp: now})
	case event.Has(fsnotify.Remove):
		flushRename()
		out = append(out, RawEvent{Path: name, Kind: KindDeleted, Timestamp: now})
	}
	return out
}

func (s *Source) concerns(event RawEvent) bool {
	return samePath(event.Path, s.target.Path) || (event.DestPath != "" && samePath(event.DestPath, s.target.Path))
}
