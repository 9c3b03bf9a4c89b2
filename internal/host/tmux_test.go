package host

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"mcc/internal/process"
	"mcc/internal/runner/tmux"
)

type fakeTmux struct {
	sessions map[string]bool
	pane     tmux.PaneStatus
	paneErr  error
	capture  string
	created  []tmux.SessionSpec
	options  []string
	killed   []string
	createFn func(tmux.SessionSpec) error
}

func newFakeTmux() *fakeTmux {
	return &fakeTmux{sessions: map[string]bool{}, pane: tmux.PaneStatus{PID: 4242}}
}

func (f *fakeTmux) CreateSession(spec tmux.SessionSpec) error {
	if f.createFn != nil {
		if err := f.createFn(spec); err != nil {
			return err
		}
	}
	f.created = append(f.created, spec)
	f.sessions[spec.Name] = true
	return nil
}

func (f *fakeTmux) SetOption(target, option, value string) error {
	f.options = append(f.options, target+" "+option+"="+value)
	return nil
}

func (f *fakeTmux) HasSession(name string) (bool, error) {
	return f.sessions[name], nil
}

func (f *fakeTmux) PaneStatus(string) (tmux.PaneStatus, error) {
	return f.pane, f.paneErr
}

func (f *fakeTmux) CapturePane(string) ([]byte, error) {
	return []byte(f.capture), nil
}

func (f *fakeTmux) KillSession(name string) error {
	f.killed = append(f.killed, name)
	delete(f.sessions, name)
	return nil
}

func foundAll(string) (string, error) {
	return "/usr/bin/x", nil
}

func newTestTmuxHost(client *fakeTmux, stops *[]process.Target) *TmuxHost {
	return NewTmuxHost(TmuxOptions{
		Client:   client,
		LookPath: foundAll,
		Getenv:   func(string) string { return "" },
		Stop: func(_ context.Context, target process.Target, _ time.Duration) (process.StopResult, error) {
			if stops != nil {
				*stops = append(*stops, target)
			}
			return process.StopResult{}, nil
		},
	})
}

func TestTmuxHostStartCreatesSession(t *testing.T) {
	client := newFakeTmux()
	host := newTestTmuxHost(client, nil)

	proc, err := host.Start(context.Background(), Spec{
		Name:    "mcc-abc",
		WorkDir: "/work/session_1",
		Command: []string{"claude", "-p", "cube"},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(client.created) != 1 || client.created[0].WorkDir != "/work/session_1" {
		t.Fatalf("unexpected sessions %+v", client.created)
	}
	if len(client.options) != 1 || client.options[0] != "mcc-abc remain-on-exit=on" {
		t.Fatalf("unexpected options %v", client.options)
	}
	if proc.PID() != 4242 || proc.Name() != "mcc-abc" {
		t.Fatalf("unexpected process %s/%d", proc.Name(), proc.PID())
	}
	attach := proc.AttachCommand()
	if strings.Join(attach, " ") != "tmux attach-session -t mcc-abc" {
		t.Fatalf("unexpected attach command %v", attach)
	}
}

func TestTmuxHostPreflightFailure(t *testing.T) {
	client := newFakeTmux()
	host := NewTmuxHost(TmuxOptions{
		Client: client,
		LookPath: func(name string) (string, error) {
			if name == "claude" {
				return "", errors.New("not found")
			}
			return "/usr/bin/" + name, nil
		},
	})

	_, err := host.Start(context.Background(), Spec{Name: "mcc-abc", Command: []string{"claude"}})
	if !errors.Is(err, ErrSubprocessStart) {
		t.Fatalf("expected ErrSubprocessStart, got %v", err)
	}
	if !strings.Contains(err.Error(), "claude") {
		t.Fatalf("expected binary name in error, got %v", err)
	}
	if len(client.created) != 0 {
		t.Fatalf("expected no session to be created")
	}
}

func TestTmuxHostRejectsExistingSession(t *testing.T) {
	client := newFakeTmux()
	client.sessions["mcc-abc"] = true
	host := newTestTmuxHost(client, nil)

	_, err := host.Start(context.Background(), Spec{Name: "mcc-abc", Command: []string{"claude"}})
	if !errors.Is(err, ErrSubprocessStart) {
		t.Fatalf("expected ErrSubprocessStart, got %v", err)
	}
}

func TestTmuxHostCreateFailure(t *testing.T) {
	client := newFakeTmux()
	client.createFn = func(tmux.SessionSpec) error { return errors.New("tmux new-session failed: no space") }
	host := newTestTmuxHost(client, nil)

	_, err := host.Start(context.Background(), Spec{Name: "mcc-abc", Command: []string{"claude"}})
	if !errors.Is(err, ErrSubprocessStart) {
		t.Fatalf("expected ErrSubprocessStart, got %v", err)
	}
}

func TestTmuxProcessStatus(t *testing.T) {
	client := newFakeTmux()
	host := newTestTmuxHost(client, nil)
	proc, err := host.Start(context.Background(), Spec{Name: "mcc-abc", Command: []string{"claude"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	status, err := proc.Status(context.Background())
	if err != nil || !status.Running {
		t.Fatalf("expected running, got %+v (%v)", status, err)
	}

	client.pane = tmux.PaneStatus{PID: 4242, Dead: true, ExitStatus: 2}
	client.capture = "line1\nError: bad api key\n\n"
	status, err = proc.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Running || status.ExitCode != 2 || !strings.HasSuffix(status.Output, "bad api key") {
		t.Fatalf("unexpected status %+v", status)
	}

	delete(client.sessions, "mcc-abc")
	status, err = proc.Status(context.Background())
	if err != nil || status.Running {
		t.Fatalf("expected exited after session vanished, got %+v (%v)", status, err)
	}
}

func TestTmuxProcessStopIsIdempotent(t *testing.T) {
	client := newFakeTmux()
	var stops []process.Target
	host := newTestTmuxHost(client, &stops)
	proc, err := host.Start(context.Background(), Spec{Name: "mcc-abc", Command: []string{"claude"}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := proc.Stop(context.Background(), time.Second); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	if len(stops) != 1 || stops[0].PID != 4242 {
		t.Fatalf("expected one signal to pid 4242, got %+v", stops)
	}
	if len(client.killed) != 1 || client.killed[0] != "mcc-abc" {
		t.Fatalf("expected one kill-session, got %v", client.killed)
	}
}

func TestTail(t *testing.T) {
	if got := tail("a\nb\nc\n", 2); got != "b\nc" {
		t.Fatalf("unexpected tail %q", got)
	}
	if got := tail("only", 5); got != "only" {
		t.Fatalf("unexpected tail %q", got)
	}
}
