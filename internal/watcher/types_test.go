package watcher

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewWatchTargetDefaultsDebounce(t *testing.T) {
	target, err := NewWatchTarget("model.py", 0)
	if err != nil {
		t.Fatalf("new target: %v", err)
	}
	if !filepath.IsAbs(target.Path) {
		t.Fatalf("expected absolute path, got %q", target.Path)
	}
	if target.Debounce != DefaultDebounce {
		t.Fatalf("expected default debounce, got %s", target.Debounce)
	}
}

func TestNewWatchTargetRejectsBadInput(t *testing.T) {
	if _, err := NewWatchTarget("  ", 0); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := NewWatchTarget("model.py", time.Millisecond); err == nil {
		t.Fatalf("expected error for tiny debounce")
	}
	if _, err := NewWatchTarget("model.py", time.Minute); err == nil {
		t.Fatalf("expected error for huge debounce")
	}
}

func TestRelevant(t *testing.T) {
	target := "/work/model.py"
	cases := []struct {
		name  string
		event RawEvent
		want  bool
	}{
		{"created", RawEvent{Path: target, Kind: KindCreated}, true},
		{"modified", RawEvent{Path: target, Kind: KindModified}, true},
		{"moved onto target", RawEvent{Path: "/work/.model.py.tmp", Kind: KindMoved, DestPath: target}, true},
		{"moved elsewhere", RawEvent{Path: target, Kind: KindMoved, DestPath: "/work/old.py"}, false},
		{"moved without destination", RawEvent{Path: target, Kind: KindMoved}, false},
		{"deleted", RawEvent{Path: target, Kind: KindDeleted}, false},
		{"other file", RawEvent{Path: "/work/notes.txt", Kind: KindModified}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Relevant(target, tc.event); got != tc.want {
				t.Fatalf("Relevant = %v, want %v", got, tc.want)
			}
		})
	}
}
