package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestCreateMaterializesTemplate(t *testing.T) {
	base := t.TempDir()
	ws, err := Create(Options{BaseDir: base, Instruction: "a phone stand", Template: "mechanical", Now: fixedNow})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ws.ID != "20260304_050607" {
		t.Fatalf("unexpected id %q", ws.ID)
	}
	if ws.Dir != filepath.Join(base, "session_20260304_050607") {
		t.Fatalf("unexpected dir %q", ws.Dir)
	}
	if ws.SessionName() != "mcc-20260304_050607" {
		t.Fatalf("unexpected session name %q", ws.SessionName())
	}
	content, err := os.ReadFile(ws.ModelPath)
	if err != nil {
		t.Fatalf("read model: %v", err)
	}
	text := string(content)
	for _, want := range []string{"Request: a phone stand", "hole_diameter", `description="""a phone stand"""`} {
		if !strings.Contains(text, want) {
			t.Fatalf("model missing %q:\n%s", want, text)
		}
	}
	if info, err := os.Stat(ws.OutputDir); err != nil || !info.IsDir() {
		t.Fatalf("expected output dir: %v", err)
	}
	if LockHolder(ws.Dir) != os.Getpid() {
		t.Fatalf("expected lock held by this process")
	}
}

func TestCreateAvoidsCollisions(t *testing.T) {
	base := t.TempDir()
	first, err := Create(Options{BaseDir: base, Now: fixedNow})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := Create(Options{BaseDir: base, Now: fixedNow})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Dir == second.Dir {
		t.Fatalf("expected distinct dirs, got %q", first.Dir)
	}
	if second.ID != "20260304_050607_2" {
		t.Fatalf("unexpected second id %q", second.ID)
	}
}

func TestCreateRejectsUnknownTemplate(t *testing.T) {
	base := t.TempDir()
	_, err := Create(Options{BaseDir: base, Template: "gothic", Now: fixedNow})
	if !errors.Is(err, ErrWorkDir) {
		t.Fatalf("expected ErrWorkDir, got %v", err)
	}
	entries, _ := os.ReadDir(base)
	if len(entries) != 0 {
		t.Fatalf("expected nothing allocated, got %d entries", len(entries))
	}
}

func TestCreateFailsOnUnwritableBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(base, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Create(Options{BaseDir: base, Now: fixedNow})
	if !errors.Is(err, ErrWorkDir) {
		t.Fatalf("expected ErrWorkDir, got %v", err)
	}
}

func TestReleaseAndRemove(t *testing.T) {
	ws, err := Create(Options{BaseDir: t.TempDir(), Now: fixedNow})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if LockHolder(ws.Dir) != 0 {
		t.Fatalf("expected lock to be gone")
	}
	if _, err := os.Stat(ws.ModelPath); err != nil {
		t.Fatalf("release must keep the artifact: %v", err)
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("expected dir removed, got %v", err)
	}
}

func TestFindAndOpen(t *testing.T) {
	base := t.TempDir()
	created, err := Create(Options{BaseDir: base, Now: fixedNow})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := Find(base, created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.ModelPath != created.ModelPath {
		t.Fatalf("expected %q, got %q", created.ModelPath, found.ModelPath)
	}
	if _, err := Find(base, "missing"); !errors.Is(err, ErrWorkDir) {
		t.Fatalf("expected ErrWorkDir for missing session, got %v", err)
	}
	if _, err := Open(base); !errors.Is(err, ErrWorkDir) {
		t.Fatalf("expected ErrWorkDir for directory, got %v", err)
	}
}

func TestRenderEscapesTripleQuotes(t *testing.T) {
	content, err := Render("basic", `say """hi"""`, "now")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(string(content), `"""hi"""`) {
		t.Fatalf("triple quotes not escaped:\n%s", content)
	}
	if len(Templates()) != 4 {
		t.Fatalf("expected 4 templates")
	}
}
