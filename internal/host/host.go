// Package host launches the interactive agent process and reports on its
// liveness.
package host

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrSubprocessStart wraps every failure to launch the agent.
var ErrSubprocessStart = errors.New("subprocess start failed")

// Spec describes the process to launch.
type Spec struct {
	// Name is unique per session; the tmux host uses it as the session name.
	Name    string
	WorkDir string
	Command []string
	Env     []string
}

// Status is a liveness snapshot.
type Status struct {
	Running  bool
	ExitCode int
	// Output holds the tail of the process output when it has exited and the
	// host can still read it.
	Output string
}

// Process is a launched agent.
type Process interface {
	Name() string
	PID() int
	Status(ctx context.Context) (Status, error)
	// Stop signals the process group, force-kills after grace and releases
	// any host resources. It is safe to call more than once.
	Stop(ctx context.Context, grace time.Duration) error
	// AttachCommand returns the argv that reattaches a terminal, or nil when
	// the host cannot be reattached.
	AttachCommand() []string
}

// Host launches processes.
type Host interface {
	Kind() string
	Start(ctx context.Context, spec Spec) (Process, error)
}

// Preflight checks that every binary is on PATH.
func Preflight(lookPath func(string) (string, error), binaries ...string) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, binary := range binaries {
		if binary == "" {
			continue
		}
		if _, err := lookPath(binary); err != nil {
			return fmt.Errorf("%w: %s not found on PATH", ErrSubprocessStart, binary)
		}
	}
	return nil
}

func validateSpec(spec Spec) error {
	if len(spec.Command) == 0 || spec.Command[0] == "" {
		return fmt.Errorf("%w: command is required", ErrSubprocessStart)
	}
	if spec.Name == "" {
		return fmt.Errorf("%w: name is required", ErrSubprocessStart)
	}
	return nil
}
