package session

import "errors"

type State string

const (
	StateInit        State = "INIT"
	StateRunning     State = "RUNNING"
	StateTerminating State = "TERMINATING"
	StateTerminated  State = "TERMINATED"
)

var (
	// ErrPortInUse is returned before any other resource is acquired.
	ErrPortInUse = errors.New("port in use")
	// ErrSubprocessExited is the stop cause when the agent exits on its own.
	ErrSubprocessExited = errors.New("subprocess exited")
	// ErrServerFailed is the stop cause when the viewer server stops serving.
	ErrServerFailed = errors.New("viewer server failed")
)

// Reason records why a session stopped.
type Reason string

const (
	ReasonRequested        Reason = "requested"
	ReasonSignal           Reason = "signal"
	ReasonSubprocessExited Reason = "subprocess_exited"
	ReasonServerFailed     Reason = "server_failed"
)

// Teardown phases, in the order they run.
const (
	PhaseWatch      = "watch"
	PhaseViewers    = "viewers"
	PhaseSubprocess = "subprocess"
	PhaseServer     = "server"
	PhaseWorkdir    = "workdir"
)
