package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestSource(t *testing.T) (*Source, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.py")
	if err := os.WriteFile(path, []byte("print('hi')\n"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	target, err := NewWatchTarget(path, 0)
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	source, err := NewSource(target, SourceOptions{})
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	t.Cleanup(func() { _ = source.Stop() })
	return source, target.Path
}

func waitForEvent(t *testing.T, source *Source, match func(RawEvent) bool) RawEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event, ok := <-source.Events():
			if !ok {
				t.Fatalf("events channel closed")
			}
			if match(event) {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event")
		}
	}
}

func TestSourceReportsWrite(t *testing.T) {
	source, path := newTestSource(t)

	if err := os.WriteFile(path, []byte("print('changed')\n"), 0o644); err != nil {
		t.Fatalf("rewrite artifact: %v", err)
	}
	event := waitForEvent(t, source, func(event RawEvent) bool {
		return event.Kind == KindModified
	})
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func TestSourcePairsAtomicRename(t *testing.T) {
	source, path := newTestSource(t)
	temp := filepath.Join(filepath.Dir(path), ".model.py.swp")
	if err := os.WriteFile(temp, []byte("print('atomic')\n"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(temp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	event := waitForEvent(t, source, func(event RawEvent) bool {
		return event.Kind == KindMoved
	})
	if event.Path != temp || event.DestPath != path {
		t.Fatalf("unexpected move %+v", event)
	}
	if !Relevant(path, event) {
		t.Fatalf("expected move onto target to be relevant")
	}
}

func TestSourceMoveAwayIsNotRelevant(t *testing.T) {
	source, path := newTestSource(t)
	elsewhere := filepath.Join(filepath.Dir(path), "model_old.py")
	if err := os.Rename(path, elsewhere); err != nil {
		t.Fatalf("rename: %v", err)
	}

	event := waitForEvent(t, source, func(event RawEvent) bool {
		return event.Kind == KindMoved
	})
	if event.DestPath != elsewhere {
		t.Fatalf("expected destination %q, got %+v", elsewhere, event)
	}
	if Relevant(path, event) {
		t.Fatalf("expected move away to be ignored")
	}
}

func TestSourceMissingPathFails(t *testing.T) {
	target := WatchTarget{Path: filepath.Join(t.TempDir(), "missing", "model.py"), Debounce: DefaultDebounce}
	_, err := NewSource(target, SourceOptions{})
	if !errors.Is(err, ErrWatchStart) {
		t.Fatalf("expected ErrWatchStart, got %v", err)
	}
}

func TestSourceStopIsIdempotent(t *testing.T) {
	source, _ := newTestSource(t)

	if err := source.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := source.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	select {
	case _, ok := <-source.Events():
		if ok {
			t.Fatalf("expected events channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("events channel not closed after stop")
	}
}

func TestTranslateFlushesUnpairedRename(t *testing.T) {
	source := &Source{}
	now := time.Now()

	if out := source.translate(fsnotify.Event{Name: "/work/a", Op: fsnotify.Rename}, now); len(out) != 0 {
		t.Fatalf("expected rename to be held, got %+v", out)
	}
	out := source.translate(fsnotify.Event{Name: "/work/b", Op: fsnotify.Write}, now)
	if len(out) != 2 {
		t.Fatalf("expected flushed move and write, got %+v", out)
	}
	if out[0].Kind != KindMoved || out[0].Path != "/work/a" || out[0].DestPath != "" {
		t.Fatalf("unexpected flushed move %+v", out[0])
	}
	if out[1].Kind != KindModified || out[1].Path != "/work/b" {
		t.Fatalf("unexpected write %+v", out[1])
	}
}
