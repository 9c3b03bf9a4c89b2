//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func startGroup(t *testing.T, name string, args ...string) (*exec.Cmd, Target) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
	})
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	var exitErr error
	exited := false
	wait := func(ctx context.Context) error {
		if exited {
			return exitErr
		}
		select {
		case err := <-done:
			exited = true
			exitErr = err
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return cmd, Target{PID: cmd.Process.Pid, PGID: GroupID(cmd.Process.Pid), Wait: wait}
}

func TestStopTerminatesGracefully(t *testing.T) {
	cmd, target := startGroup(t, "sleep", "10")

	result, err := Stop(context.Background(), target, 2*time.Second)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if result.Forced {
		t.Fatalf("expected graceful stop")
	}
	if Alive(cmd.Process.Pid) {
		t.Fatalf("expected process to exit")
	}
}

func TestStopForcesAfterGrace(t *testing.T) {
	cmd, target := startGroup(t, "sh", "-c", "trap '' TERM; sleep 10")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	result, err := Stop(context.Background(), target, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !result.Forced {
		t.Fatalf("expected forced stop")
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Fatalf("forced before grace elapsed: %s", elapsed)
	}
	if Alive(cmd.Process.Pid) {
		t.Fatalf("expected process to be killed")
	}
}

func TestStopExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	_, err := Stop(context.Background(), Target{PID: cmd.Process.Pid}, time.Second)
	if !errors.Is(err, ErrProcessNotFound) {
		t.Fatalf("expected ErrProcessNotFound, got %v", err)
	}
}
