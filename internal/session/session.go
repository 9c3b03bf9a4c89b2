// Package session runs one live modeling session: it binds the viewer port,
// allocates the working directory, launches the agent in a terminal host,
// watches the artifact and serves viewers until the session is stopped.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"syscall"
	"time"

	"mcc/internal/api"
	"mcc/internal/artifact"
	"mcc/internal/bridge"
	"mcc/internal/event"
	"mcc/internal/host"
	"mcc/internal/logging"
	"mcc/internal/metrics"
	"mcc/internal/notify"
	"mcc/internal/process"
	"mcc/internal/watcher"
	"mcc/internal/workspace"
)

const (
	DefaultAddress         = "127.0.0.1"
	DefaultPort            = 8080
	DefaultMonitorInterval = 500 * time.Millisecond

	serverShutdownTimeout = 5 * time.Second
)

// newSource is replaced in tests to simulate a notifier failure.
var newSource = watcher.NewSource

// Options configures a session. Terminal must be set unless ArtifactPath
// selects preview mode.
type Options struct {
	Instruction string
	BaseDir     string
	Template    string

	// ArtifactPath previews an existing artifact without launching an agent.
	ArtifactPath string

	Address string
	Port    int

	Debounce        time.Duration
	PendingLimit    int
	OutboxSize      int
	WriteTimeout    time.Duration
	GracePeriod     time.Duration
	MonitorInterval time.Duration

	Agent      string
	AgentModel string
	Terminal   host.Host

	Exporter  artifact.Exporter
	Validator artifact.Validator
	Quality   artifact.Quality

	Logger  *logging.Logger
	Metrics *metrics.Registry
	Events  *event.Bus[event.SessionEvent]

	Now    func() time.Time
	Listen func(network, address string) (net.Listener, error)
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID            string    `json:"id"`
	State         State     `json:"state"`
	Dir           string    `json:"dir"`
	ModelPath     string    `json:"model_path"`
	OutputDir     string    `json:"output_dir"`
	URL           string    `json:"url"`
	Preview       bool      `json:"preview"`
	Degraded      bool      `json:"degraded"`
	WatchError    string    `json:"watch_error,omitempty"`
	HostKind      string    `json:"host,omitempty"`
	TerminalName  string    `json:"terminal,omitempty"`
	AttachCommand []string  `json:"attach_command,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	StopReason    Reason    `json:"stop_reason,omitempty"`
	ExitCode      *int      `json:"exit_code,omitempty"`
	ExitOutput    string    `json:"-"`
}

type Session struct {
	options Options
	logger  *logging.Logger
	metrics *metrics.Registry
	events  *event.Bus[event.SessionEvent]

	workspace *workspace.Workspace
	listener  net.Listener
	url       string
	process   host.Process
	hostKind  string
	source    *watcher.Source
	coalescer *watcher.Coalescer
	bridge    *bridge.Bridge
	hub       *notify.Hub
	server    *api.Server
	startedAt time.Time

	watchCancel   context.CancelFunc
	monitorCancel context.CancelFunc
	serveDone     chan error
	done          chan struct{}

	mu       sync.Mutex
	state    State
	degraded error
	reason   Reason
	cause    error
	exit     *host.Status
	stopErr  error
}

// Start brings a session to RUNNING. On error every resource acquired so far
// has been released and no working directory is left behind.
func Start(ctx context.Context, options Options) (*Session, error) {
	options, err := normalize(options)
	if err != nil {
		return nil, err
	}
	s := &Session{
		options:   options,
		logger:    options.Logger.WithCategory("session"),
		metrics:   options.Metrics,
		events:    options.Events,
		serveDone: make(chan error, 1),
		done:      make(chan struct{}),
		state:     StateInit,
		startedAt: options.Now(),
	}

	if err := s.bind(); err != nil {
		s.metrics.IncSessionFailed("port")
		return nil, err
	}
	if err := s.allocate(); err != nil {
		s.metrics.IncSessionFailed("workdir")
		_ = s.listener.Close()
		return nil, err
	}
	if err := s.launch(ctx); err != nil {
		s.metrics.IncSessionFailed("subprocess")
		_ = s.workspace.Remove()
		_ = s.listener.Close()
		return nil, err
	}

	s.bridge = bridge.New(bridge.Options{
		PendingLimit: options.PendingLimit,
		Logger:       options.Logger,
		Metrics:      options.Metrics,
	})
	s.hub = notify.NewHub(notify.Options{
		OutboxSize:   options.OutboxSize,
		WriteTimeout: options.WriteTimeout,
		Logger:       options.Logger,
		Metrics:      options.Metrics,
		Observer:     s.observeHub,
	})
	s.watch()

	server, err := api.NewServer(api.ServerOptions{
		ArtifactPath: s.workspace.ModelPath,
		Hub:          s.hub,
		Exporter:     options.Exporter,
		Validator:    options.Validator,
		Quality:      options.Quality,
		Metrics:      options.Metrics,
		Logger:       options.Logger,
		Status:       func() any { return s.Info() },
	})
	if err != nil {
		s.metrics.IncSessionFailed("server")
		s.abort(err)
		return nil, err
	}
	s.server = server

	s.setState(StateRunning, "")
	go s.serve()
	s.metrics.IncSessionStarted()
	if s.process != nil {
		monitorCtx, cancel := context.WithCancel(context.Background())
		s.monitorCancel = cancel
		go s.monitor(monitorCtx)
	}
	s.logger.Info("session running", map[string]string{
		"session.id": s.workspace.ID,
		"dir":        s.workspace.Dir,
		"url":        s.url,
	})
	return s, nil
}

func normalize(options Options) (Options, error) {
	if options.ArtifactPath == "" {
		if options.Instruction == "" {
			return options, errors.New("instruction is required")
		}
		if options.Terminal == nil {
			return options, errors.New("terminal host is required")
		}
	}
	if options.Address == "" {
		options.Address = DefaultAddress
	}
	if options.Port < 0 || options.Port > 65535 {
		return options, fmt.Errorf("port %d out of range", options.Port)
	}
	if options.Debounce == 0 {
		options.Debounce = watcher.DefaultDebounce
	}
	if options.Debounce < watcher.MinDebounce || options.Debounce > watcher.MaxDebounce {
		return options, fmt.Errorf("debounce %s outside [%s, %s]", options.Debounce, watcher.MinDebounce, watcher.MaxDebounce)
	}
	if options.GracePeriod <= 0 {
		options.GracePeriod = process.DefaultGracePeriod
	}
	if options.MonitorInterval <= 0 {
		options.MonitorInterval = DefaultMonitorInterval
	}
	if options.BaseDir == "" {
		options.BaseDir = "."
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Listen == nil {
		options.Listen = net.Listen
	}
	return options, nil
}

func (s *Session) bind() error {
	address := net.JoinHostPort(s.options.Address, strconv.Itoa(s.options.Port))
	listener, err := s.options.Listen("tcp", address)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %s", ErrPortInUse, address)
		}
		return fmt.Errorf("listen on %s: %w", address, err)
	}
	s.listener = listener
	s.url = previewURL(s.options.Address, listener.Addr())
	return nil
}

func (s *Session) allocate() error {
	var err error
	if s.preview() {
		s.workspace, err = workspace.Open(s.options.ArtifactPath)
	} else {
		s.workspace, err = workspace.Create(workspace.Options{
			BaseDir:     s.options.BaseDir,
			Instruction: s.options.Instruction,
			Template:    s.options.Template,
			Now:         s.options.Now,
		})
	}
	return err
}

func (s *Session) launch(ctx context.Context) error {
	if s.preview() {
		return nil
	}
	ws := s.workspace
	command := AgentCommand(AgentContext{
		Binary:      s.options.Agent,
		Model:       s.options.AgentModel,
		Instruction: s.options.Instruction,
		Dir:         ws.Dir,
		ModelPath:   ws.ModelPath,
		OutputDir:   ws.OutputDir,
		PreviewURL:  s.url,
	})
	proc, err := s.options.Terminal.Start(ctx, host.Spec{
		Name:    ws.SessionName(),
		WorkDir: ws.Dir,
		Command: command,
		Env: []string{
			"MCC_SESSION_ID=" + ws.ID,
			"MCC_MODEL_FILE=" + ws.ModelPath,
			"MCC_PREVIEW_URL=" + s.url,
		},
	})
	if err != nil {
		if !errors.Is(err, host.ErrSubprocessStart) {
			err = fmt.Errorf("%w: %v", host.ErrSubprocessStart, err)
		}
		return err
	}
	s.process = proc
	s.hostKind = s.options.Terminal.Kind()
	return nil
}

// watch starts Source and Coalescer feeding the bridge. A failure leaves the
// session running without live reload.
func (s *Session) watch() {
	target, err := watcher.NewWatchTarget(s.workspace.ModelPath, s.options.Debounce)
	if err == nil {
		s.source, err = newSource(target, watcher.SourceOptions{
			Logger:  s.options.Logger,
			Metrics: s.options.Metrics,
		})
	}
	if err != nil {
		s.mu.Lock()
		s.degraded = err
		s.mu.Unlock()
		s.metrics.IncSessionDegraded()
		s.logger.Warn("live reload unavailable", map[string]string{
			"path":  s.workspace.ModelPath,
			"error": err.Error(),
		})
		s.publish(event.TypeWatchDegraded, err.Error(), nil)
		return
	}

	s.coalescer = watcher.NewCoalescer(target, s.bridge.Sink(), watcher.CoalescerOptions{
		Logger:  s.options.Logger,
		Metrics: s.options.Metrics,
	})
	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel
	go s.coalescer.Run(watchCtx, s.source.Events())
	_ = s.hub.Attach(s.bridge)
}

func (s *Session) serve() {
	err := s.server.Serve(s.listener)
	s.serveDone <- err
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		_ = s.stop(context.Background(), ReasonServerFailed, fmt.Errorf("%w: %v", ErrServerFailed, err))
	}
}

// monitor polls the terminal host and stops the session once the agent has
// exited.
func (s *Session) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.options.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		status, err := s.process.Status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("subprocess status failed", map[string]string{"error": err.Error()})
			continue
		}
		if status.Running {
			continue
		}
		s.mu.Lock()
		s.exit = &status
		s.mu.Unlock()
		s.logger.Warn("subprocess exited", map[string]string{
			"session.id": s.workspace.ID,
			"exit_code":  strconv.Itoa(status.ExitCode),
		})
		cause := fmt.Errorf("%w with code %d", ErrSubprocessExited, status.ExitCode)
		_ = s.stop(context.Background(), ReasonSubprocessExited, cause)
		return
	}
}

// Stop tears the session down. Concurrent and repeated calls are safe;
// callers after the first wait for the teardown to finish or ctx to end.
func (s *Session) Stop(ctx context.Context, reason Reason) error {
	if reason == "" {
		reason = ReasonRequested
	}
	return s.stop(ctx, reason, nil)
}

func (s *Session) stop(ctx context.Context, reason Reason, cause error) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		select {
		case <-s.done:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.stopErr
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = StateTerminating
	s.reason = reason
	s.cause = cause
	s.mu.Unlock()
	s.publish(event.TypeStateChanged, string(reason), nil)
	s.logger.Info("session stopping", map[string]string{
		"session.id": s.workspace.ID,
		"reason":     string(reason),
	})

	if s.monitorCancel != nil {
		s.monitorCancel()
	}

	coordinator := newShutdownCoordinator(s.logger, func(phase string, err error) {
		fields := map[string]string{"phase": phase}
		if err != nil {
			fields["error"] = err.Error()
		}
		s.publish(event.TypeTeardownStep, phase, fields)
	})
	coordinator.Add(PhaseWatch, s.stopWatch)
	coordinator.Add(PhaseViewers, func(context.Context) error {
		s.hub.Close(terminalMessage(reason, cause))
		return nil
	})
	coordinator.Add(PhaseSubprocess, func(ctx context.Context) error {
		if s.process == nil {
			return nil
		}
		return s.process.Stop(ctx, s.options.GracePeriod)
	})
	coordinator.Add(PhaseServer, s.stopServer)
	coordinator.Add(PhaseWorkdir, func(context.Context) error {
		return s.workspace.Release()
	})
	err := coordinator.Run(ctx)

	s.mu.Lock()
	s.stopErr = err
	s.mu.Unlock()
	s.setState(StateTerminated, string(reason))
	close(s.done)
	return err
}

func (s *Session) stopWatch(context.Context) error {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	var err error
	if s.source != nil {
		err = s.source.Stop()
	}
	s.coalescer.Stop()
	s.bridge.Close()
	return err
}

func (s *Session) stopServer(context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	select {
	case <-s.serveDone:
	case <-ctx.Done():
	}
	return err
}

// abort releases everything acquired by Start when the server cannot be
// built.
func (s *Session) abort(cause error) {
	_ = s.stopWatch(context.Background())
	s.hub.Close(notify.Error(cause.Error()))
	if s.process != nil {
		_ = s.process.Stop(context.Background(), s.options.GracePeriod)
	}
	_ = s.listener.Close()
	if !s.preview() {
		_ = s.workspace.Remove()
	}
}

func terminalMessage(reason Reason, cause error) notify.Message {
	if cause != nil {
		return notify.Error(cause.Error())
	}
	if reason == ReasonSignal {
		return notify.Info("session interrupted")
	}
	return notify.Info("session ended")
}

// Done is closed once the session is TERMINATED.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the stop cause, or nil for a requested stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:         s.workspace.ID,
		State:      s.state,
		Dir:        s.workspace.Dir,
		ModelPath:  s.workspace.ModelPath,
		OutputDir:  s.workspace.OutputDir,
		URL:        s.url,
		Preview:    s.preview(),
		Degraded:   s.degraded != nil,
		HostKind:   s.hostKind,
		StartedAt:  s.startedAt,
		StopReason: s.reason,
	}
	if s.degraded != nil {
		info.WatchError = s.degraded.Error()
	}
	if s.process != nil {
		info.TerminalName = s.process.Name()
		info.AttachCommand = s.process.AttachCommand()
	}
	if s.exit != nil {
		code := s.exit.ExitCode
		info.ExitCode = &code
		info.ExitOutput = s.exit.Output
	}
	return info
}

func (s *Session) preview() bool {
	return s.options.ArtifactPath != ""
}

func (s *Session) setState(state State, detail string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.publish(event.TypeStateChanged, detail, nil)
}

func (s *Session) publish(eventType, detail string, fields map[string]string) {
	if s.events == nil {
		return
	}
	id := ""
	if s.workspace != nil {
		id = s.workspace.ID
	}
	evt := event.NewSessionEvent(id, eventType)
	evt.State = string(s.State())
	evt.Detail = detail
	evt.Fields = fields
	s.events.Publish(evt)
}

func (s *Session) observeHub(hubEvent notify.HubEvent) {
	eventType := event.TypeViewerConnected
	if hubEvent.Kind == notify.EventRemoved {
		eventType = event.TypeViewerRemoved
	}
	fields := map[string]string{"channel.id": hubEvent.ChannelID}
	if hubEvent.Reason != "" {
		fields["reason"] = hubEvent.Reason
	}
	s.publish(eventType, hubEvent.Reason, fields)
}

func previewURL(address string, bound net.Addr) string {
	port := ""
	if tcp, ok := bound.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	} else if _, p, err := net.SplitHostPort(bound.String()); err == nil {
		port = p
	}
	display := address
	if ip := net.ParseIP(address); address == "localhost" || (ip != nil && (ip.IsLoopback() || ip.IsUnspecified())) {
		display = "localhost"
	}
	return "http://" + net.JoinHostPort(display, port)
}
