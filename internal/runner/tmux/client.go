package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes tmux commands with optional stdin data.
type CommandRunner interface {
	Run(args []string, input []byte) ([]byte, error)
}

// SessionSpec describes a detached session running one command.
type SessionSpec struct {
	Name    string
	WorkDir string
	Env     []string
	Width   int
	Height  int
	Command []string
}

// PaneStatus is the state of a session's first pane.
type PaneStatus struct {
	PID        int
	Dead       bool
	ExitStatus int
}

// Client executes tmux commands.
type Client struct {
	runner CommandRunner
}

// NewClient returns a tmux client using the default command runner.
func NewClient() *Client {
	return &Client{runner: execRunner{}}
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner}
}

// Available reports whether a tmux binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// CreateSession creates a detached tmux session running spec.Command.
func (c *Client) CreateSession(spec SessionSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return errors.New("tmux session name is required")
	}
	args := []string{"new-session", "-d", "-s", spec.Name}
	if spec.WorkDir != "" {
		args = append(args, "-c", spec.WorkDir)
	}
	if spec.Width > 0 {
		args = append(args, "-x", strconv.Itoa(spec.Width))
	}
	if spec.Height > 0 {
		args = append(args, "-y", strconv.Itoa(spec.Height))
	}
	for _, entry := range spec.Env {
		args = append(args, "-e", entry)
	}
	if len(spec.Command) > 0 {
		args = append(args, "--")
		args = append(args, spec.Command...)
	}
	return c.run(args, nil)
}

// SetOption sets a session option.
func (c *Client) SetOption(target, option, value string) error {
	return c.run([]string{"set-option", "-t", target, option, value}, nil)
}

// KillSession terminates a tmux session. A session that no longer exists is
// not an error.
func (c *Client) KillSession(name string) error {
	err := c.run([]string{"kill-session", "-t", name}, nil)
	if err != nil && IsSessionNotFound(err) {
		return nil
	}
	return err
}

// CapturePane captures pane contents as raw text.
func (c *Client) CapturePane(target string) ([]byte, error) {
	output, err := c.runWithOutput([]string{"capture-pane", "-p", "-t", target}, nil)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// HasSession reports whether the named session exists.
func (c *Client) HasSession(name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run([]string{"has-session", "-t", name}, nil)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

// PaneStatus reads the pid and liveness of the session's active pane.
func (c *Client) PaneStatus(name string) (PaneStatus, error) {
	output, err := c.runWithOutput([]string{"display-message", "-p", "-t", name, "#{pane_pid} #{pane_dead} #{pane_dead_status}"}, nil)
	if err != nil {
		return PaneStatus{}, err
	}
	return parsePaneStatus(string(output))
}

// AttachCommand returns the argv that attaches the current terminal to a
// session. Inside tmux the client is switched instead of nested.
func AttachCommand(name string, insideTmux bool) []string {
	if insideTmux {
		return []string{"tmux", "switch-client", "-t", name}
	}
	return []string{"tmux", "attach-session", "-t", name}
}

// IsSessionNotFound reports whether err is tmux complaining about a missing
// session or server.
func IsSessionNotFound(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "can't find session") ||
		strings.Contains(message, "no server running") ||
		strings.Contains(message, "session not found")
}

func parsePaneStatus(raw string) (PaneStatus, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) < 2 {
		return PaneStatus{}, fmt.Errorf("unexpected pane status %q", strings.TrimSpace(raw))
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return PaneStatus{}, fmt.Errorf("parse pane pid: %w", err)
	}
	status := PaneStatus{PID: pid, Dead: fields[1] == "1"}
	if status.Dead && len(fields) > 2 {
		if code, err := strconv.Atoi(fields[2]); err == nil {
			status.ExitStatus = code
		}
	}
	return status, nil
}

func (c *Client) run(args []string, input []byte) error {
	_, err := c.runWithOutput(args, input)
	return err
}

func (c *Client) runWithOutput(args []string, input []byte) ([]byte, error) {
	if c == nil || c.runner == nil {
		return nil, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(args, input)
	if err != nil {
		if len(output) > 0 {
			return nil, fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return nil, fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return output, nil
}

type execRunner struct{}

func (execRunner) Run(args []string, input []byte) ([]byte, error) {
	cmd := exec.Command("tmux", args...)
	if len(input) > 0 {
		cmd.Stdin = bytes.NewReader(input)
	}
	return cmd.CombinedOutput()
}
