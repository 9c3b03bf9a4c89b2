package main

import (
	"os"
	"sync/atomic"

	"mcc/internal/logging"
)

// watchShutdownSignals runs shutdown once on the first signal and logs, once,
// that later signals are ignored. The returned func stops watching.
func watchShutdownSignals(logger *logging.Logger, signalCh <-chan os.Signal, shutdown func()) func() {
	if signalCh == nil {
		return func() {}
	}

	done := make(chan struct{})
	var shutdownStarted atomic.Bool
	var loggedRepeat atomic.Bool

	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-signalCh:
				if !ok {
					return
				}
				fields := map[string]string{}
				if sig != nil {
					fields["signal"] = sig.String()
				}
				if shutdownStarted.CompareAndSwap(false, true) {
					logger.Info("shutdown signal received", fields)
					if shutdown != nil {
						go shutdown()
					}
					continue
				}
				if loggedRepeat.CompareAndSwap(false, true) {
					logger.Info("shutdown already in progress; ignoring signal", fields)
				}
			}
		}
	}()

	return func() {
		close(done)
	}
}
