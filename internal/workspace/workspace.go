// Package workspace allocates session working directories.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	ModelFile   = "model.py"
	OutputDir   = "output"
	LockFile    = ".mcc.lock"
	dirPrefix   = "session_"
	idLayout    = "20060102_150405"
	maxAttempts = 100
)

// ErrWorkDir wraps every failure to prepare a working directory.
var ErrWorkDir = errors.New("working directory unavailable")

// ErrLocked reports a working directory already held by a live session.
var ErrLocked = errors.New("working directory locked")

type Options struct {
	BaseDir     string
	Instruction string
	Template    string
	Now         func() time.Time
}

// Workspace is a session directory holding the artifact and an output folder.
type Workspace struct {
	ID        string
	Dir       string
	ModelPath string
	OutputDir string
	CreatedAt time.Time

	lockPath string
}

// Create allocates session_<timestamp> under BaseDir, writes the starting
// artifact and takes the directory lock.
func Create(options Options) (*Workspace, error) {
	now := time.Now
	if options.Now != nil {
		now = options.Now
	}
	name := options.Template
	if name == "" {
		name = DefaultTemplate
	}
	if !ValidTemplate(name) {
		return nil, fmt.Errorf("%w: unknown template %q", ErrWorkDir, name)
	}
	base := options.BaseDir
	if base == "" {
		base = "."
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}

	createdAt := now()
	id, dir, err := reserveDir(base, createdAt.Format(idLayout))
	if err != nil {
		return nil, err
	}
	ws := &Workspace{
		ID:        id,
		Dir:       dir,
		ModelPath: filepath.Join(dir, ModelFile),
		OutputDir: filepath.Join(dir, OutputDir),
		CreatedAt: createdAt,
		lockPath:  filepath.Join(dir, LockFile),
	}
	if err := ws.populate(name, options.Instruction); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return ws, nil
}

// Open adopts an existing artifact for preview. No lock is taken.
func Open(modelPath string) (*Workspace, error) {
	absolute, err := filepath.Abs(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrWorkDir, absolute)
	}
	dir := filepath.Dir(absolute)
	return &Workspace{
		ID:        strings.TrimPrefix(filepath.Base(dir), dirPrefix),
		Dir:       dir,
		ModelPath: absolute,
		OutputDir: filepath.Join(dir, OutputDir),
		CreatedAt: info.ModTime(),
	}, nil
}

// Find resolves a session ID to its directory under base.
func Find(base, id string) (*Workspace, error) {
	dir := filepath.Join(base, dirPrefix+id)
	ws, err := Open(filepath.Join(dir, ModelFile))
	if err != nil {
		return nil, err
	}
	ws.ID = id
	return ws, nil
}

// SessionName is the terminal host name for the workspace.
func (w *Workspace) SessionName() string {
	return "mcc-" + w.ID
}

// Release drops the directory lock. The directory and its contents stay.
func (w *Workspace) Release() error {
	if w == nil || w.lockPath == "" {
		return nil
	}
	err := os.Remove(w.lockPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Remove deletes the whole directory. It is used when creation is aborted.
func (w *Workspace) Remove() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("remove workdir: %w", err)
	}
	return nil
}

// LockHolder returns the pid recorded in dir's lock file, or 0.
func LockHolder(dir string) int {
	data, err := os.ReadFile(filepath.Join(dir, LockFile))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func reserveDir(base, stamp string) (string, string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id := stamp
		if attempt > 0 {
			id = fmt.Sprintf("%s_%d", stamp, attempt+1)
		}
		dir := filepath.Join(base, dirPrefix+id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("%w: %v", ErrWorkDir, err)
		}
	}
	return "", "", fmt.Errorf("%w: no free session directory for %s", ErrWorkDir, stamp)
}

func (w *Workspace) populate(name, instruction string) error {
	if err := os.Mkdir(w.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	content, err := Render(name, instruction, w.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	if err := os.WriteFile(w.ModelPath, content, 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	lock, err := os.OpenFile(w.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %w", ErrWorkDir, ErrLocked)
		}
		return fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	_, writeErr := lock.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	closeErr := lock.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return fmt.Errorf("%w: %v", ErrWorkDir, err)
	}
	return nil
}
