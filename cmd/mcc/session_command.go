package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcc/internal/config"
	"mcc/internal/event"
	"mcc/internal/logging"
	"mcc/internal/metrics"
	"mcc/internal/session"

	"github.com/spf13/cobra"
)

const stopTimeout = 15 * time.Second

func newSessionCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session <instruction>",
		Short: "Start a modeling session with the agent and a live viewer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), app, cfg, strings.Join(args, " "), "")
		},
	}
	cmd.Flags().StringP("template", "t", "", "starting template: basic, mechanical, organic or parametric")
	cmd.Flags().String("agent", "", "agent command")
	cmd.Flags().StringP("model", "m", "", "agent model override")
	return cmd
}

func newPreviewCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <path>",
		Short: "Serve a live viewer for an existing model file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, app)
			if err != nil {
				return err
			}
			return runSession(cmd.Context(), app, cfg, "", args[0])
		},
	}
}

// runSession starts a session (or a preview when artifactPath is set) and
// blocks until it terminates.
func runSession(ctx context.Context, app *app, cfg config.Config, instruction, artifactPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	console := &consoleWriter{out: app.stderr}
	logger := app.logger(cfg, console)
	registry := metrics.NewRegistry()
	bus := event.NewBus[event.SessionEvent](ctx, event.BusOptions{
		Name:                 "session",
		SubscriberBufferSize: 128,
		Logger:               logger,
	})
	defer bus.Close()

	tools := toolchainWithLogger(app, cfg, logger)
	options := session.Options{
		Instruction:     instruction,
		ArtifactPath:    artifactPath,
		BaseDir:         cfg.Session.BaseDir,
		Template:        cfg.Session.Template,
		Address:         cfg.Server.Host,
		Port:            cfg.Server.Port,
		Debounce:        cfg.Watch.Debounce,
		PendingLimit:    cfg.Watch.PendingLimit,
		OutboxSize:      cfg.Hub.OutboxSize,
		WriteTimeout:    cfg.Hub.WriteTimeout,
		GracePeriod:     cfg.Session.GracePeriod,
		MonitorInterval: cfg.Session.MonitorInterval,
		Agent:           cfg.Agent.Command,
		AgentModel:      cfg.Agent.Model,
		Exporter:        tools,
		Validator:       tools,
		Logger:          logger,
		Metrics:         registry,
		Events:          bus,
	}
	if artifactPath == "" {
		terminal, err := app.newHost(cfg.Session.Terminal, logger)
		if err != nil {
			return err
		}
		options.Terminal = terminal
	}

	signals, stopSignals := app.signals()
	defer stopSignals()

	s, err := session.Start(ctx, options)
	if err != nil {
		return err
	}
	stopWatching := watchSessionEvents(bus, app, s.Info().ID)
	defer stopWatching()

	info := s.Info()
	fmt.Fprintf(app.stdout, "Session folder: %s\n", info.Dir)
	fmt.Fprintf(app.stdout, "Viewer: %s\n", info.URL)
	if info.Degraded {
		fmt.Fprintf(app.stdout, "Live reload unavailable: %s\n", info.WatchError)
	}
	if cfg.Server.OpenBrowser {
		if err := app.openBrowser(info.URL); err != nil {
			logger.Warn("open browser failed", map[string]string{"error": err.Error()})
		}
	}

	stopRequested := watchShutdownSignals(logger, signals, func() {
		stopSession(s, session.ReasonSignal)
	})
	defer stopRequested()

	if attach := info.AttachCommand; len(attach) > 0 && app.isTerminal() {
		fmt.Fprintf(app.stdout, "Attaching to %s (detach with Ctrl+B D)\n", info.TerminalName)
		runAttached(ctx, app, console, logger, attach, s)
	}

	<-s.Done()
	printSummary(app, s.Info())
	return sessionResult(s)
}

// runAttached hands the terminal to the tmux client until the operator
// detaches or the session ends.
func runAttached(ctx context.Context, app *app, console *consoleWriter, logger *logging.Logger, attach []string, s *session.Session) {
	console.SetMuted(true)
	err := app.runInteractive(ctx, attach)
	console.SetMuted(false)
	if err != nil && s.State() == session.StateRunning {
		logger.Warn("terminal attach ended", map[string]string{"error": err.Error()})
	}
	if s.State() == session.StateRunning {
		fmt.Fprintf(app.stdout, "Detached. The agent keeps running; reattach with: mcc attach %s\n", s.Info().ID)
		fmt.Fprintln(app.stdout, "Press Ctrl+C to end the session.")
	}
}

func stopSession(s *session.Session, reason session.Reason) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = s.Stop(ctx, reason)
}

// sessionResult maps the stop cause to the command error. An agent that
// exits cleanly ends the session successfully.
func sessionResult(s *session.Session) error {
	cause := s.Err()
	if cause == nil {
		return nil
	}
	if errors.Is(cause, session.ErrSubprocessExited) {
		if code := s.Info().ExitCode; code != nil && *code == 0 {
			return nil
		}
	}
	return cause
}

// watchSessionEvents prints operator status lines for lifecycle events.
func watchSessionEvents(bus *event.Bus[event.SessionEvent], app *app, sessionID string) func() {
	events, cancel := bus.SubscribeTypes(event.TypeWatchDegraded, event.TypeStateChanged)
	go func() {
		for evt := range events {
			if evt.SessionID != sessionID {
				continue
			}
			switch {
			case evt.EventType == event.TypeWatchDegraded:
				fmt.Fprintf(app.stderr, "Live reload stopped: %s\n", evt.Detail)
			case evt.State == string(session.StateTerminating):
				fmt.Fprintf(app.stderr, "Ending session (%s)...\n", evt.Detail)
			}
		}
	}()
	return cancel
}

func printSummary(app *app, info session.Info) {
	fmt.Fprintln(app.stdout)
	fmt.Fprintln(app.stdout, "Session ended.")
	if info.ExitOutput != "" {
		fmt.Fprintf(app.stdout, "Last agent output:\n%s\n", info.ExitOutput)
	}
	fmt.Fprintf(app.stdout, "Session folder: %s\n", info.Dir)
	fmt.Fprintf(app.stdout, "Model file: %s\n", info.ModelPath)
	fmt.Fprintln(app.stdout, "To continue working on this model:")
	fmt.Fprintf(app.stdout, "  mcc preview %s\n", info.ModelPath)
	fmt.Fprintln(app.stdout, "To export:")
	fmt.Fprintf(app.stdout, "  mcc export %s -o %s/model.stl --quality high\n", info.ModelPath, info.OutputDir)
}
