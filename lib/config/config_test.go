// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Seat != "seat0" {
		t.Errorf("expected seat=seat0, got %s", cfg.Seat)
	}
	if cfg.MaxSessions != 8 {
		t.Errorf("expected max_sessions=8, got %d", cfg.MaxSessions)
	}
	if len(cfg.Capabilities) != 3 {
		t.Errorf("expected all three capabilities by default, got %v", cfg.Capabilities)
	}
	if cfg.HandshakeDeadline() != 0 {
		t.Errorf("expected handshake deadline disabled, got %s", cfg.HandshakeDeadline())
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	origConfig := os.Getenv("REMOTEINPUT_CONFIG")
	defer os.Setenv("REMOTEINPUT_CONFIG", origConfig)

	os.Unsetenv("REMOTEINPUT_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when REMOTEINPUT_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "REMOTEINPUT_CONFIG") {
		t.Errorf("error %q does not mention REMOTEINPUT_CONFIG", err)
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "remote-input.yaml")

	configContent := `
seat: seat1
capabilities: [keyboard, pointer]
max_sessions: 4
handshake_timeout: 10s
broker:
  socket_path: /tmp/test-remote-input.sock
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Seat != "seat1" {
		t.Errorf("seat = %s, want seat1", cfg.Seat)
	}
	if cfg.MaxSessions != 4 {
		t.Errorf("max_sessions = %d, want 4", cfg.MaxSessions)
	}
	if len(cfg.Capabilities) != 2 {
		t.Errorf("capabilities = %v, want [keyboard pointer]", cfg.Capabilities)
	}
	if cfg.Broker.SocketPath != "/tmp/test-remote-input.sock" {
		t.Errorf("socket_path = %s", cfg.Broker.SocketPath)
	}
	if got := cfg.HandshakeDeadline(); got != 10*time.Second {
		t.Errorf("HandshakeDeadline = %s, want 10s", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestPathVariableExpansion(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "remote-input.yaml")
	configContent := `
broker:
  socket_path: ${XDG_RUNTIME_DIR}/ember/remote-input.sock
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	want := "/run/user/1000/ember/remote-input.sock"
	if cfg.Broker.SocketPath != want {
		t.Errorf("socket_path = %s, want %s", cfg.Broker.SocketPath, want)
	}
}

func TestPathVariableDefault(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")

	got := expandVars("${XDG_RUNTIME_DIR:-/run/ember}/remote-input.sock",
		map[string]string{"XDG_RUNTIME_DIR": ""})
	want := "/run/ember/remote-input.sock"
	if got != want {
		t.Errorf("expandVars = %s, want %s", got, want)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty seat", func(c *Config) { c.Seat = "" }, "seat is required"},
		{"no capabilities", func(c *Config) { c.Capabilities = nil }, "capabilities"},
		{"unknown capability", func(c *Config) { c.Capabilities = []string{"gamepad"} }, "unknown capability"},
		{"duplicate capability", func(c *Config) { c.Capabilities = []string{"touch", "touch"} }, "listed twice"},
		{"zero sessions", func(c *Config) { c.MaxSessions = 0 }, "max_sessions"},
		{"bad timeout", func(c *Config) { c.HandshakeTimeout = "soon" }, "handshake_timeout"},
		{"negative timeout", func(c *Config) { c.HandshakeTimeout = "-1s" }, "must not be negative"},
		{"empty socket path", func(c *Config) { c.Broker.SocketPath = "" }, "socket_path"},
		{"missing keymap", func(c *Config) { c.KeymapPath = "/no/such/keymap.xkb" }, "keymap_path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not contain %q", err, tc.want)
			}
		})
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Seat = ""
	cfg.MaxSessions = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "seat") || !strings.Contains(err.Error(), "max_sessions") {
		t.Errorf("expected both errors reported, got %q", err)
	}
}
