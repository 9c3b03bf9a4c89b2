// Package process stops process groups with a graceful signal followed by a
// forced kill once a grace period expires.
package process

import (
	"context"
	"errors"
	"time"
)

const DefaultGracePeriod = 5 * time.Second

var ErrProcessNotFound = errors.New("process not running")

// Target identifies a process and, optionally, its group. Wait, when set,
// blocks until the process has been reaped.
type Target struct {
	PID  int
	PGID int
	Wait func(context.Context) error
}

// StopResult reports how a Stop call ended.
type StopResult struct {
	Forced bool
}

// Stop signals target to terminate and force-kills it once grace elapses.
// A process that is already gone yields ErrProcessNotFound.
func Stop(ctx context.Context, target Target, grace time.Duration) (StopResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return stopProcess(ctx, target, grace)
}
