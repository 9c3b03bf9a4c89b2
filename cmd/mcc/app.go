package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"mcc/internal/artifact"
	"mcc/internal/config"
	"mcc/internal/host"
	"mcc/internal/logging"
	"mcc/internal/runner/tmux"

	"golang.org/x/term"
)

const logBufferSize = 500

// app holds the process-level collaborators so commands can be exercised
// without a terminal, a browser or real signals.
type app struct {
	stdin  *os.File
	stdout io.Writer
	stderr io.Writer

	getenv         func(string) string
	openBrowser    func(url string) error
	runInteractive func(ctx context.Context, argv []string) error
	signals        func() (<-chan os.Signal, func())
	newHost        func(kind string, logger *logging.Logger) (host.Host, error)
	isTerminal     func() bool
	hasTmuxSession func(name string) (bool, error)
	runToolchain   artifact.Runner
}

func newApp() *app {
	a := &app{
		stdin:          os.Stdin,
		stdout:         os.Stdout,
		stderr:         os.Stderr,
		getenv:         os.Getenv,
		openBrowser:    openURL,
		runInteractive: runInteractive,
		signals:        notifySignals,
		hasTmuxSession: tmux.NewClient().HasSession,
	}
	a.newHost = a.defaultHost
	a.isTerminal = func() bool { return term.IsTerminal(int(a.stdin.Fd())) }
	return a
}

// defaultHost resolves the session.terminal setting.
func (a *app) defaultHost(kind string, logger *logging.Logger) (host.Host, error) {
	switch kind {
	case "tmux":
		return host.NewTmuxHost(host.TmuxOptions{Logger: logger, Getenv: a.getenv}), nil
	case "pty":
		return host.NewPtyHost(host.PtyOptions{Logger: logger, Stdin: a.stdin, Stdout: a.stdout}), nil
	case "auto", "":
		if tmux.Available() {
			return host.NewTmuxHost(host.TmuxOptions{Logger: logger, Getenv: a.getenv}), nil
		}
		logger.Warn("tmux not found; running the agent in this terminal", nil)
		return host.NewPtyHost(host.PtyOptions{Logger: logger, Stdin: a.stdin, Stdout: a.stdout}), nil
	default:
		return nil, fmt.Errorf("unknown terminal %q", kind)
	}
}

func (a *app) logger(cfg config.Config, console io.Writer) *logging.Logger {
	return logging.NewLoggerWithOutput(logging.NewLogBuffer(logBufferSize), cfg.Level(), console)
}

// openURL opens the given URL in the default browser.
func openURL(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

func runInteractive(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// notifySignals delivers SIGINT and SIGTERM. SIGHUP is ignored so a session
// survives its controlling terminal going away.
func notifySignals() (<-chan os.Signal, func()) {
	signal.Ignore(syscall.SIGHUP)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// consoleWriter forwards log lines to the terminal unless muted. Logs are
// muted while a tmux client owns the screen.
type consoleWriter struct {
	mu    sync.Mutex
	out   io.Writer
	muted bool
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.muted {
		return len(p), nil
	}
	return w.out.Write(p)
}

func (w *consoleWriter) SetMuted(muted bool) {
	w.mu.Lock()
	w.muted = muted
	w.mu.Unlock()
}
