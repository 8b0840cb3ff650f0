// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Remoteinput-host runs the remote-input bridge standalone. The
// production deployment embeds the bridge in the compositor process;
// this binary hosts the same bridge on its own event loop, with the
// native pipeline replaced by a logging sink, for protocol
// development, interop testing, and soak runs against
// remoteinput-send.
//
// Handoff surfaces: the broker control socket always, the D-Bus
// service when --dbus (or broker.dbus in the config) is set. Clients
// connect through either surface exactly as they would against a real
// compositor.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/ember-compositor/remoteinput/bridge"
	"github.com/ember-compositor/remoteinput/broker"
	"github.com/ember-compositor/remoteinput/eventloop"
	"github.com/ember-compositor/remoteinput/inject"
	"github.com/ember-compositor/remoteinput/lib/config"
	"github.com/ember-compositor/remoteinput/lib/keymap"
	"github.com/ember-compositor/remoteinput/lib/version"
	"github.com/ember-compositor/remoteinput/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		socketPath  string
		useDBus     bool
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("remoteinput-host", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to remote-input.yaml (overrides REMOTEINPUT_CONFIG)")
	flagSet.StringVar(&socketPath, "socket", "", "control socket path (overrides broker.socket_path)")
	flagSet.BoolVar(&useDBus, "dbus", false, "also serve handoffs on the session bus")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("remoteinput-host %s\n", version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if socketPath != "" {
		cfg.Broker.SocketPath = socketPath
	}
	if useDBus {
		cfg.Broker.DBus = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	allowed, err := protocol.ParseCapabilitySet(cfg.Capabilities)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var km *keymap.Keymap
	if cfg.KeymapPath != "" {
		km, err = keymap.Load(cfg.KeymapPath)
		if err != nil {
			return fmt.Errorf("loading keymap: %w", err)
		}
		logger.Info("keymap loaded",
			"path", cfg.KeymapPath,
			"size", km.Len(),
			"digest", km.Digest())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop, err := eventloop.New()
	if err != nil {
		return fmt.Errorf("creating event loop: %w", err)
	}

	// Injections stop at the logging pipeline: this host has no
	// compositor behind it.
	pipeline := &inject.LoggingPipeline{Logger: logger}

	b, err := bridge.New(bridge.Config{
		Loop:             loop,
		Pipeline:         pipeline,
		Logger:           logger,
		Seat:             cfg.Seat,
		Allowed:          allowed,
		Keymap:           km,
		MaxSessions:      cfg.MaxSessions,
		HandshakeTimeout: cfg.HandshakeDeadline(),
	})
	if err != nil {
		loop.Close()
		return err
	}

	loopResult := make(chan error, 1)
	go func() { loopResult <- loop.Run(context.Background()) }()

	var dbusService *broker.DBusService
	if cfg.Broker.DBus {
		dbusService = broker.NewDBusService(b, logger)
		if err := dbusService.Start(); err != nil {
			loop.Close()
			<-loopResult
			return fmt.Errorf("starting dbus service: %w", err)
		}
		defer dbusService.Close()
	}

	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()
	socketServer := broker.NewSocketServer(cfg.Broker.SocketPath, b, logger)
	serveResult := make(chan error, 1)
	go func() { serveResult <- socketServer.Serve(serveCtx) }()

	logger.Info("remote input host running",
		"seat", cfg.Seat,
		"capabilities", allowed.String(),
		"max_sessions", cfg.MaxSessions,
		"socket", cfg.Broker.SocketPath,
		"dbus", cfg.Broker.DBus)

	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	case err := <-serveResult:
		loop.Close()
		<-loopResult
		if err != nil {
			return fmt.Errorf("control socket: %w", err)
		}
		return errors.New("control socket stopped unexpectedly")
	case err := <-loopResult:
		stopServe()
		<-serveResult
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}
		return errors.New("event loop stopped unexpectedly")
	}

	// Stop taking handoffs before closing sessions, so nothing slips
	// into the table mid-teardown. Session closes run forced release
	// and notify each client.
	stopServe()
	<-serveResult
	if closed := b.Shutdown("server shutting down"); closed > 0 {
		logger.Info("sessions closed", "count", closed)
	}
	logger.Info("injections delivered", "total", pipeline.Total())

	loop.Close()
	return <-loopResult
}

// loadConfig resolves configuration in flag, environment, defaults
// order. Unlike the embedded deployment, a development host without
// any configuration is useful, so plain defaults are accepted.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv("REMOTEINPUT_CONFIG") != "" {
		return config.Load()
	}
	cfg := config.Default()
	cfg.ExpandVariables()
	return cfg, nil
}

func parseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (use debug, info, warn, or error)", name)
}
