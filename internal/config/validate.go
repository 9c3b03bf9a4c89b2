package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"mcc/internal/logging"
	"mcc/internal/workspace"
)

var terminals = map[string]bool{"auto": true, "tmux": true, "pty": true}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d outside 1-65535", c.Server.Port))
	}
	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, errors.New("server.host is required"))
	}
	if c.Watch.Debounce < 50*time.Millisecond || c.Watch.Debounce > 10*time.Second {
		errs = append(errs, fmt.Errorf("watch.debounce %s outside 50ms-10s", c.Watch.Debounce))
	}
	if c.Watch.PendingLimit < 1 {
		errs = append(errs, errors.New("watch.pending_limit must be >= 1"))
	}
	if c.Hub.OutboxSize < 1 {
		errs = append(errs, errors.New("hub.outbox_size must be >= 1"))
	}
	if c.Hub.WriteTimeout <= 0 {
		errs = append(errs, errors.New("hub.write_timeout must be > 0"))
	}
	if !workspace.ValidTemplate(c.Session.Template) {
		errs = append(errs, fmt.Errorf("session.template %q must be one of %s", c.Session.Template, strings.Join(workspace.Templates(), ", ")))
	}
	if !terminals[c.Session.Terminal] {
		errs = append(errs, fmt.Errorf("session.terminal %q must be auto, tmux or pty", c.Session.Terminal))
	}
	if c.Session.GracePeriod <= 0 {
		errs = append(errs, errors.New("session.grace_period must be > 0"))
	}
	if c.Session.MonitorInterval <= 0 {
		errs = append(errs, errors.New("session.monitor_interval must be > 0"))
	}
	if strings.TrimSpace(c.Agent.Command) == "" {
		errs = append(errs, errors.New("agent.command is required"))
	}
	if len(c.Toolchain) == 0 {
		errs = append(errs, errors.New("toolchain is required"))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("log_level %q is not a level", c.LogLevel))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() logging.Level {
	level, ok := logging.ParseLevel(c.LogLevel)
	if !ok {
		return logging.LevelInfo
	}
	return level
}
