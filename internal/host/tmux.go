package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"mcc/internal/logging"
	"mcc/internal/process"
	"mcc/internal/runner/tmux"
)

const (
	defaultPaneWidth  = 200
	defaultPaneHeight = 50
	outputTailLines   = 20
)

// TmuxClient is the subset of tmux operations the host needs.
type TmuxClient interface {
	CreateSession(spec tmux.SessionSpec) error
	SetOption(target, option, value string) error
	HasSession(name string) (bool, error)
	PaneStatus(name string) (tmux.PaneStatus, error)
	CapturePane(target string) ([]byte, error)
	KillSession(name string) error
}

type TmuxOptions struct {
	Client   TmuxClient
	Logger   *logging.Logger
	LookPath func(string) (string, error)
	Getenv   func(string) string
	// Stop overrides process.Stop in tests.
	Stop func(context.Context, process.Target, time.Duration) (process.StopResult, error)
}

// TmuxHost runs each process in its own detached tmux session so the
// operator can attach and detach freely.
type TmuxHost struct {
	client   TmuxClient
	logger   *logging.Logger
	lookPath func(string) (string, error)
	getenv   func(string) string
	stop     func(context.Context, process.Target, time.Duration) (process.StopResult, error)
}

func NewTmuxHost(options TmuxOptions) *TmuxHost {
	client := options.Client
	if client == nil {
		client = tmux.NewClient()
	}
	getenv := options.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	stop := options.Stop
	if stop == nil {
		stop = process.Stop
	}
	return &TmuxHost{
		client:   client,
		logger:   options.Logger.WithCategory("host"),
		lookPath: options.LookPath,
		getenv:   getenv,
		stop:     stop,
	}
}

func (h *TmuxHost) Kind() string {
	return "tmux"
}

func (h *TmuxHost) Start(ctx context.Context, spec Spec) (Process, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	if err := Preflight(h.lookPath, "tmux", spec.Command[0]); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubprocessStart, err)
	}
	exists, err := h.client.HasSession(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubprocessStart, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: tmux session %s already exists", ErrSubprocessStart, spec.Name)
	}

	err = h.client.CreateSession(tmux.SessionSpec{
		Name:    spec.Name,
		WorkDir: spec.WorkDir,
		Env:     spec.Env,
		Width:   defaultPaneWidth,
		Height:  defaultPaneHeight,
		Command: spec.Command,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubprocessStart, err)
	}
	// Keep the dead pane around so its exit status and output can be read.
	if err := h.client.SetOption(spec.Name, "remain-on-exit", "on"); err != nil {
		h.logger.Warn("tmux remain-on-exit failed", map[string]string{
			"session": spec.Name,
			"error":   err.Error(),
		})
	}

	pid := 0
	if status, err := h.client.PaneStatus(spec.Name); err == nil {
		pid = status.PID
	} else {
		h.logger.Warn("tmux pane pid unavailable", map[string]string{
			"session": spec.Name,
			"error":   err.Error(),
		})
	}
	h.logger.Info("agent started", map[string]string{
		"session": spec.Name,
		"pid":     fmt.Sprintf("%d", pid),
		"workdir": spec.WorkDir,
	})
	return &tmuxProcess{host: h, name: spec.Name, pid: pid}, nil
}

type tmuxProcess struct {
	host *TmuxHost
	name string
	pid  int

	stopOnce sync.Once
	stopErr  error
}

func (p *tmuxProcess) Name() string {
	return p.name
}

func (p *tmuxProcess) PID() int {
	return p.pid
}

func (p *tmuxProcess) Status(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	exists, err := p.host.client.HasSession(p.name)
	if err != nil {
		return Status{}, err
	}
	if !exists {
		return Status{ExitCode: -1}, nil
	}
	pane, err := p.host.client.PaneStatus(p.name)
	if err != nil {
		if tmux.IsSessionNotFound(err) {
			return Status{ExitCode: -1}, nil
		}
		return Status{}, err
	}
	if !pane.Dead {
		return Status{Running: true}, nil
	}
	status := Status{ExitCode: pane.ExitStatus}
	if output, err := p.host.client.CapturePane(p.name); err == nil {
		status.Output = tail(string(output), outputTailLines)
	}
	return status, nil
}

func (p *tmuxProcess) Stop(ctx context.Context, grace time.Duration) error {
	p.stopOnce.Do(func() {
		var stopErr error
		if p.pid > 0 {
			result, err := p.host.stop(ctx, process.Target{PID: p.pid, PGID: process.GroupID(p.pid)}, grace)
			if err != nil && !errors.Is(err, process.ErrProcessNotFound) {
				stopErr = err
			}
			if result.Forced {
				p.host.logger.Warn("agent force-killed", map[string]string{"session": p.name})
			}
		}
		if err := p.host.client.KillSession(p.name); err != nil {
			stopErr = errors.Join(stopErr, err)
		}
		p.stopErr = stopErr
	})
	return p.stopErr
}

func (p *tmuxProcess) AttachCommand() []string {
	return tmux.AttachCommand(p.name, strings.TrimSpace(p.host.getenv("TMUX")) != "")
}

func tail(text string, lines int) string {
	trimmed := strings.TrimRight(text, "\n ")
	parts := strings.Split(trimmed, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}
