//go:build !windows

package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"mcc/internal/logging"
	"mcc/internal/process"

	"github.com/creack/pty"
	"golang.org/x/term"
)

type PtyOptions struct {
	Logger   *logging.Logger
	LookPath func(string) (string, error)
	// Stdin and Stdout connect the agent to a terminal. When Stdin is a tty
	// it is put into raw mode for the lifetime of the process.
	Stdin  *os.File
	Stdout io.Writer
}

// PtyHost runs the agent on a pseudo-terminal wired to the current terminal.
// It is used when tmux is unavailable; its processes cannot be reattached.
type PtyHost struct {
	logger   *logging.Logger
	lookPath func(string) (string, error)
	stdin    *os.File
	stdout   io.Writer
}

func NewPtyHost(options PtyOptions) *PtyHost {
	return &PtyHost{
		logger:   options.Logger.WithCategory("host"),
		lookPath: options.LookPath,
		stdin:    options.Stdin,
		stdout:   options.Stdout,
	}
}

func (h *PtyHost) Kind() string {
	return "pty"
}

func (h *PtyHost) Start(ctx context.Context, spec Spec) (Process, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	if err := Preflight(h.lookPath, spec.Command[0]); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubprocessStart, err)
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	setDeathSignal(cmd.SysProcAttr)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubprocessStart, err)
	}

	p := &ptyProcess{
		host:      h,
		name:      spec.Name,
		cmd:       cmd,
		ptmx:      ptmx,
		done:      make(chan struct{}),
		inputDone: make(chan struct{}),
	}
	p.connect()
	go p.wait()
	h.logger.Info("agent started", map[string]string{
		"name": spec.Name,
		"pid":  fmt.Sprintf("%d", cmd.Process.Pid),
	})
	return p, nil
}

type ptyProcess struct {
	host *PtyHost
	name string
	cmd  *exec.Cmd
	ptmx *os.File

	done    chan struct{}
	waitErr error

	// inputDone closes when stdin forwarding stops.
	inputDone chan struct{}

	restore  func()
	stopOnce sync.Once
	stopErr  error
}

func (p *ptyProcess) connect() {
	if p.host.stdin != nil {
		fd := int(p.host.stdin.Fd())
		if term.IsTerminal(fd) {
			if state, err := term.MakeRaw(fd); err == nil {
				p.restore = func() { _ = term.Restore(fd, state) }
			}
			_ = pty.InheritSize(p.host.stdin, p.ptmx)
		}
		// Clear a deadline left by a previous agent before wait can set one.
		_ = p.host.stdin.SetReadDeadline(time.Time{})
		go p.forwardInput(p.host.stdin)
	} else {
		close(p.inputDone)
	}
	output := p.host.stdout
	if output == nil {
		output = io.Discard
	}
	go func() {
		_, _ = io.Copy(output, p.ptmx)
	}()
}

// forwardInput copies stdin to the agent until the agent exits. A read
// pending at exit is interrupted when stdin supports deadlines; otherwise
// the next chunk read is discarded rather than written to the agent.
func (p *ptyProcess) forwardInput(stdin *os.File) {
	defer close(p.inputDone)
	buf := make([]byte, 4096)
	for {
		n, err := stdin.Read(buf)
		select {
		case <-p.done:
			return
		default:
		}
		if n > 0 {
			if _, werr := p.ptmx.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *ptyProcess) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
	if p.host.stdin != nil {
		_ = p.host.stdin.SetReadDeadline(time.Now())
	}
}

func (p *ptyProcess) Name() string {
	return p.name
}

func (p *ptyProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *ptyProcess) Status(ctx context.Context) (Status, error) {
	select {
	case <-p.done:
		status := Status{ExitCode: -1}
		if p.cmd.ProcessState != nil {
			status.ExitCode = p.cmd.ProcessState.ExitCode()
		}
		return status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	default:
		return Status{Running: true}, nil
	}
}

func (p *ptyProcess) Stop(ctx context.Context, grace time.Duration) error {
	p.stopOnce.Do(func() {
		target := process.Target{
			PID:  p.cmd.Process.Pid,
			PGID: process.GroupID(p.cmd.Process.Pid),
			Wait: func(waitCtx context.Context) error {
				select {
				case <-p.done:
					return p.waitErr
				case <-waitCtx.Done():
					return waitCtx.Err()
				}
			},
		}
		_, err := process.Stop(ctx, target, grace)
		if errors.Is(err, process.ErrProcessNotFound) {
			err = nil
		}
		if p.restore != nil {
			p.restore()
		}
		p.stopErr = errors.Join(err, p.ptmx.Close())
	})
	return p.stopErr
}

func (p *ptyProcess) AttachCommand() []string {
	return nil
}
