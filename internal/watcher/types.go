package watcher

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultDebounce = 400 * time.Millisecond
	MinDebounce     = 50 * time.Millisecond
	MaxDebounce     = 10 * time.Second
)

// ErrWatchStart wraps every failure to establish the OS subscription.
var ErrWatchStart = errors.New("watch start failed")

// Kind classifies a raw filesystem event.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindMoved    Kind = "moved"
	KindDeleted  Kind = "deleted"
)

// WatchTarget names the artifact to observe and its debounce window.
type WatchTarget struct {
	Path     string
	Debounce time.Duration
}

// NewWatchTarget resolves path to an absolute, clean path. A zero debounce
// selects DefaultDebounce.
func NewWatchTarget(path string, debounce time.Duration) (WatchTarget, error) {
	if strings.TrimSpace(path) == "" {
		return WatchTarget{}, errors.New("watch path is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return WatchTarget{}, fmt.Errorf("resolve watch path: %w", err)
	}
	if debounce == 0 {
		debounce = DefaultDebounce
	}
	if debounce < MinDebounce || debounce > MaxDebounce {
		return WatchTarget{}, fmt.Errorf("debounce %s outside [%s, %s]", debounce, MinDebounce, MaxDebounce)
	}
	return WatchTarget{Path: filepath.Clean(absolute), Debounce: debounce}, nil
}

// RawEvent is a single notification translated from the OS notifier.
type RawEvent struct {
	Path      string
	Kind      Kind
	DestPath  string
	Timestamp time.Time
}

// ChangeSignal reports that the content at Path has stabilized.
type ChangeSignal struct {
	Path      string
	Timestamp time.Time
}

// Relevant reports whether event changes the content of target. A rename
// landing on target counts as a modification; a rename elsewhere and a
// deletion do not.
func Relevant(target string, event RawEvent) bool {
	switch event.Kind {
	case KindCreated, KindModified:
		return samePath(event.Path, target)
	case KindMoved:
		return event.DestPath != "" && samePath(event.DestPath, target)
	default:
		return false
	}
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
