// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the remote-input
// bridge.
//
// Configuration is loaded from a single YAML file specified by:
//   - REMOTEINPUT_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures
// deterministic, auditable configuration with no hidden overrides.
// The only expansion performed is ${HOME} and similar path variables
// for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Capability names accepted in the capabilities list.
var validCapabilities = []string{"keyboard", "pointer", "touch"}

// Config is the bridge configuration.
type Config struct {
	// Seat is the seat name advertised to clients during the
	// handshake. Matches the compositor's seat.
	Seat string `yaml:"seat"`

	// Capabilities lists the capability names the bridge is willing
	// to grant: any of "keyboard", "pointer", "touch". A client is
	// granted the intersection of this list and its request.
	Capabilities []string `yaml:"capabilities"`

	// MaxSessions caps concurrent remote-input sessions. Connection
	// handoffs beyond the cap are rejected.
	MaxSessions int `yaml:"max_sessions"`

	// HandshakeTimeout bounds how long a session may stay in the
	// handshake before the bridge closes it. Duration string ("10s");
	// empty or "0s" disables the deadline.
	HandshakeTimeout string `yaml:"handshake_timeout"`

	// KeymapPath points at the XKB keymap file sent to
	// keyboard-capable clients. Empty means no keymap is sent.
	KeymapPath string `yaml:"keymap_path"`

	// Broker configures the control-plane surfaces the session broker
	// uses to hand connections to the bridge.
	Broker BrokerConfig `yaml:"broker"`
}

// BrokerConfig configures connection handoff surfaces.
type BrokerConfig struct {
	// SocketPath is the Unix control socket the bridge listens on for
	// handoff requests.
	SocketPath string `yaml:"socket_path"`

	// DBus enables the D-Bus handoff service alongside the socket.
	DBus bool `yaml:"dbus"`
}

// Default returns the default configuration. Defaults exist to give
// every field a sensible value before the file is merged in; the
// config file remains the source of truth.
func Default() *Config {
	return &Config{
		Seat:             "seat0",
		Capabilities:     []string{"keyboard", "pointer", "touch"},
		MaxSessions:      8,
		HandshakeTimeout: "0s",
		KeymapPath:       "",
		Broker: BrokerConfig{
			SocketPath: "${XDG_RUNTIME_DIR:-/run/ember}/remote-input.sock",
			DBus:       false,
		},
	}
}

// Load loads configuration from the REMOTEINPUT_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, this
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("REMOTEINPUT_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("REMOTEINPUT_CONFIG environment variable not set; " +
			"set it to the path of your remote-input.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the
// file over the defaults and expanding ${VAR} path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.ExpandVariables()
	return cfg, nil
}

// ExpandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. LoadFile runs this automatically; callers starting from
// Default() without a file run it themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOME":            os.Getenv("HOME"),
		"XDG_RUNTIME_DIR": os.Getenv("XDG_RUNTIME_DIR"),
	}

	c.KeymapPath = expandVars(c.KeymapPath, vars)
	c.Broker.SocketPath = expandVars(c.Broker.SocketPath, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Seat == "" {
		errs = append(errs, fmt.Errorf("seat is required"))
	}

	if len(c.Capabilities) == 0 {
		errs = append(errs, fmt.Errorf("capabilities must list at least one of: %v", validCapabilities))
	}
	seen := map[string]bool{}
	for _, capability := range c.Capabilities {
		if !slices.Contains(validCapabilities, capability) {
			errs = append(errs, fmt.Errorf("unknown capability %q; must be one of: %v", capability, validCapabilities))
			continue
		}
		if seen[capability] {
			errs = append(errs, fmt.Errorf("capability %q listed twice", capability))
		}
		seen[capability] = true
	}

	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions must be at least 1, got %d", c.MaxSessions))
	}

	if c.HandshakeTimeout != "" {
		d, err := time.ParseDuration(c.HandshakeTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("handshake_timeout: %w", err))
		} else if d < 0 {
			errs = append(errs, fmt.Errorf("handshake_timeout must not be negative, got %s", d))
		}
	}

	if c.Broker.SocketPath == "" {
		errs = append(errs, fmt.Errorf("broker.socket_path is required"))
	}

	if c.KeymapPath != "" {
		if _, err := os.Stat(c.KeymapPath); err != nil {
			errs = append(errs, fmt.Errorf("keymap_path: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HandshakeDeadline returns the parsed handshake timeout. Zero means
// the deadline is disabled. Call Validate first; unparseable values
// return zero here.
func (c *Config) HandshakeDeadline() time.Duration {
	if c.HandshakeTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.HandshakeTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
