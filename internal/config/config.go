// Package config resolves settings from defaults, an optional YAML file, the
// environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFile = "mcc.yaml"

type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Watch     WatchConfig   `yaml:"watch"`
	Hub       HubConfig     `yaml:"hub"`
	Session   SessionConfig `yaml:"session"`
	Agent     AgentConfig   `yaml:"agent"`
	Toolchain []string      `yaml:"toolchain"`
	LogLevel  string        `yaml:"log_level"`

	// Sources records where each key's value came from.
	Sources map[string]Source `yaml:"-"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	OpenBrowser bool   `yaml:"open_browser"`
}

type WatchConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	PendingLimit int           `yaml:"pending_limit"`
}

type HubConfig struct {
	OutboxSize   int           `yaml:"outbox_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type SessionConfig struct {
	BaseDir         string        `yaml:"base_dir"`
	Template        string        `yaml:"template"`
	Terminal        string        `yaml:"terminal"`
	GracePeriod     time.Duration `yaml:"grace_period"`
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

type AgentConfig struct {
	Command string `yaml:"command"`
	Model   string `yaml:"model"`
}

// Default returns the built-in settings.
func Default() Config {
	cfg := Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			OpenBrowser: true,
		},
		Watch: WatchConfig{
			Debounce:     400 * time.Millisecond,
			PendingLimit: 1,
		},
		Hub: HubConfig{
			OutboxSize:   16,
			WriteTimeout: 5 * time.Second,
		},
		Session: SessionConfig{
			BaseDir:         ".",
			Template:        "basic",
			Terminal:        "auto",
			GracePeriod:     5 * time.Second,
			MonitorInterval: 500 * time.Millisecond,
		},
		Agent: AgentConfig{
			Command: "claude",
		},
		Toolchain: []string{"python3", "-m", "michelangelocc.cli"},
		LogLevel:  "info",
		Sources:   make(map[string]Source),
	}
	for _, f := range fields {
		cfg.Sources[f.key] = SourceDefault
	}
	return cfg
}

type LoadOptions struct {
	// Path names the YAML file. An empty path tries DefaultFile and skips it
	// when missing; an explicit path must exist.
	Path   string
	Getenv func(string) string
	// Flags holds the raw values of flags the user set, keyed by flag name.
	Flags map[string]string
}

func Load(options LoadOptions) (Config, error) {
	cfg := Default()
	getenv := options.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	path := options.Path
	explicit := path != ""
	if !explicit {
		if envPath := strings.TrimSpace(getenv("MCC_CONFIG")); envPath != "" {
			path = envPath
			explicit = true
		} else {
			path = DefaultFile
		}
	}
	if err := cfg.applyFile(path, explicit); err != nil {
		return Config{}, err
	}

	for _, f := range fields {
		if f.env == "" {
			continue
		}
		raw := strings.TrimSpace(getenv(f.env))
		if raw == "" {
			continue
		}
		if err := f.set(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", f.env, err)
		}
		cfg.Sources[f.key] = SourceEnv
	}

	for name, raw := range options.Flags {
		f, ok := fieldByFlag(name)
		if !ok {
			continue
		}
		if err := f.set(&cfg, raw); err != nil {
			return Config{}, fmt.Errorf("invalid --%s: %w", name, err)
		}
		cfg.Sources[f.key] = SourceFlag
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string, explicit bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	present := flattenKeys("", raw)
	for _, key := range present {
		if _, ok := fieldByKey(key); !ok {
			return fmt.Errorf("parse config %s: unknown key %q", path, key)
		}
	}

	// Decode over the defaults so omitted keys keep their values.
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	for _, key := range present {
		c.Sources[key] = SourceFile
	}
	return nil
}

func flattenKeys(prefix string, values map[string]any) []string {
	var keys []string
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			keys = append(keys, flattenKeys(full, nested)...)
			continue
		}
		keys = append(keys, full)
	}
	sort.Strings(keys)
	return keys
}

// Keys lists every configuration key with its environment variable and
// flag name.
func Keys() [][3]string {
	out := make([][3]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, [3]string{f.key, f.env, f.flag})
	}
	return out
}

type field struct {
	key  string
	env  string
	flag string
	set  func(*Config, string) error
}

var fields = []field{
	{"server.host", "MCC_HOST", "host", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"server.port", "MCC_PORT", "port", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"server.open_browser", "MCC_OPEN_BROWSER", "open-browser", func(c *Config, v string) error { return setBool(&c.Server.OpenBrowser, v) }},
	{"watch.debounce", "MCC_DEBOUNCE", "debounce", func(c *Config, v string) error { return setDuration(&c.Watch.Debounce, v) }},
	{"watch.pending_limit", "MCC_PENDING_LIMIT", "pending-limit", func(c *Config, v string) error { return setInt(&c.Watch.PendingLimit, v) }},
	{"hub.outbox_size", "MCC_OUTBOX_SIZE", "outbox-size", func(c *Config, v string) error { return setInt(&c.Hub.OutboxSize, v) }},
	{"hub.write_timeout", "MCC_WRITE_TIMEOUT", "write-timeout", func(c *Config, v string) error { return setDuration(&c.Hub.WriteTimeout, v) }},
	{"session.base_dir", "MCC_BASE_DIR", "base-dir", func(c *Config, v string) error { c.Session.BaseDir = v; return nil }},
	{"session.template", "MCC_TEMPLATE", "template", func(c *Config, v string) error { c.Session.Template = v; return nil }},
	{"session.terminal", "MCC_TERMINAL", "terminal", func(c *Config, v string) error { c.Session.Terminal = v; return nil }},
	{"session.grace_period", "MCC_GRACE_PERIOD", "grace-period", func(c *Config, v string) error { return setDuration(&c.Session.GracePeriod, v) }},
	{"session.monitor_interval", "MCC_MONITOR_INTERVAL", "monitor-interval", func(c *Config, v string) error { return setDuration(&c.Session.MonitorInterval, v) }},
	{"agent.command", "MCC_AGENT", "agent", func(c *Config, v string) error { c.Agent.Command = v; return nil }},
	{"agent.model", "MCC_MODEL", "model", func(c *Config, v string) error { c.Agent.Model = v; return nil }},
	{"toolchain", "MCC_TOOLCHAIN", "toolchain", func(c *Config, v string) error { c.Toolchain = strings.Fields(v); return nil }},
	{"log_level", "MCC_LOG_LEVEL", "log-level", func(c *Config, v string) error { c.LogLevel = v; return nil }},
}

func fieldByKey(key string) (field, bool) {
	for _, f := range fields {
		if f.key == key {
			return f, true
		}
	}
	return field{}, false
}

func fieldByFlag(name string) (field, bool) {
	for _, f := range fields {
		if f.flag == name {
			return f, true
		}
	}
	return field{}, false
}

func setInt(target *int, raw string) error {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%q is not an integer", raw)
	}
	*target = parsed
	return nil
}

func setBool(target *bool, raw string) error {
	parsed, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%q is not a boolean", raw)
	}
	*target = parsed
	return nil
}

func setDuration(target *time.Duration, raw string) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%q is not a duration", raw)
	}
	*target = parsed
	return nil
}
