//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

func GroupID(pid int) int {
	if pid <= 0 {
		return 0
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

// Alive reports whether pid refers to a running process.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

func stopProcess(ctx context.Context, target Target, grace time.Duration) (StopResult, error) {
	if target.PID <= 0 {
		return StopResult{}, nil
	}
	if !Alive(target.PID) {
		return StopResult{}, ErrProcessNotFound
	}
	termErr := signalProcessGroup(target.PID, target.PGID, syscall.SIGTERM)
	if errors.Is(termErr, syscall.ESRCH) {
		termErr = nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	waitErr := waitForExit(graceCtx, target)
	cancel()
	if isExpectedExit(waitErr) {
		waitErr = nil
	}
	if waitErr == nil {
		return StopResult{}, termErr
	}

	killErr := signalProcessGroup(target.PID, target.PGID, syscall.SIGKILL)
	if errors.Is(killErr, syscall.ESRCH) {
		killErr = nil
	}
	reapCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = waitForExit(reapCtx, target)
	cancel()
	if errors.Is(waitErr, context.DeadlineExceeded) {
		waitErr = nil
	}
	return StopResult{Forced: true}, errors.Join(termErr, waitErr, killErr)
}

func signalProcessGroup(pid, pgid int, sig syscall.Signal) error {
	target := pid
	if pgid > 0 {
		target = -pgid
	}
	return syscall.Kill(target, sig)
}

func waitForExit(ctx context.Context, target Target) error {
	if target.Wait != nil {
		return target.Wait(ctx)
	}
	for {
		if !Alive(target.PID) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func isExpectedExit(err error) bool {
	if err == nil {
		return false
	}
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
