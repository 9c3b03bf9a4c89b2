package session

import (
	"context"
	"errors"

	"mcc/internal/logging"
)

type shutdownPhase struct {
	name string
	stop func(context.Context) error
}

// shutdownCoordinator runs teardown phases in registration order. A failing
// phase is logged and joined into the result; later phases still run.
type shutdownCoordinator struct {
	logger  *logging.Logger
	phases  []shutdownPhase
	onPhase func(name string, err error)
}

func newShutdownCoordinator(logger *logging.Logger, onPhase func(string, error)) *shutdownCoordinator {
	return &shutdownCoordinator{logger: logger, onPhase: onPhase}
}

func (coordinator *shutdownCoordinator) Add(name string, stop func(context.Context) error) {
	if coordinator == nil || stop == nil {
		return
	}
	coordinator.phases = append(coordinator.phases, shutdownPhase{
		name: name,
		stop: stop,
	})
}

func (coordinator *shutdownCoordinator) Run(ctx context.Context) error {
	if coordinator == nil {
		return nil
	}
	var runErr error
	for _, phase := range coordinator.phases {
		coordinator.logger.Debug("shutdown phase starting", map[string]string{
			"phase": phase.name,
		})
		err := phase.stop(ctx)
		if err != nil {
			runErr = errors.Join(runErr, err)
			coordinator.logger.Warn("shutdown phase failed", map[string]string{
				"phase": phase.name,
				"error": err.Error(),
			})
		}
		if coordinator.onPhase != nil {
			coordinator.onPhase(phase.name, err)
		}
	}
	return runErr
}
