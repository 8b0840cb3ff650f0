// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"

	"github.com/ember-compositor/remoteinput/transport"
)

// D-Bus identity of the handoff service on the session bus.
const (
	BusName       = "org.ember.RemoteInput"
	ObjectPath    = dbus.ObjectPath("/org/ember/RemoteInput")
	InterfaceName = "org.ember.RemoteInput"
)

// DBusService exposes the session handoff on the session bus for
// brokers that speak D-Bus rather than the control socket. The
// exported object carries a single method, AcceptSocket, taking the
// session descriptor as a UNIX_FD argument.
type DBusService struct {
	acceptor Acceptor
	logger   *slog.Logger
	conn     *dbus.Conn
}

// NewDBusService creates the service without touching the bus; Start
// claims the name and exports the object.
func NewDBusService(acceptor Acceptor, logger *slog.Logger) *DBusService {
	if acceptor == nil {
		panic("broker: nil acceptor")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DBusService{acceptor: acceptor, logger: logger}
}

// Start connects to the session bus, claims the service name, and
// exports the handoff object. Fails if another process already owns
// the name.
func (s *DBusService) Start() error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("requesting bus name %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already owned", BusName)
	}

	if err := conn.Export(s, ObjectPath, InterfaceName); err != nil {
		conn.Close()
		return fmt.Errorf("exporting handoff object: %w", err)
	}

	s.conn = conn
	s.logger.Info("dbus handoff service started",
		"bus_name", BusName,
		"object_path", string(ObjectPath))
	return nil
}

// Close releases the bus connection, dropping the name.
func (s *DBusService) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// AcceptSocket receives a connected session socket over the bus. The
// descriptor arrives already duplicated into this process and is owned
// by the service from here on: on any failure it is closed before the
// error goes back to the caller.
func (s *DBusService) AcceptSocket(fd dbus.UnixFD) *dbus.Error {
	endpoint, err := transport.NewSocketEndpoint(int(fd))
	if err != nil {
		unix.Close(int(fd))
		s.logger.Warn("rejecting dbus handoff", "error", err)
		return dbus.MakeFailedError(err)
	}

	if err := s.acceptor.AcceptConnection(endpoint); err != nil {
		endpoint.Close()
		s.logger.Warn("rejecting dbus handoff",
			"endpoint", endpoint.Describe(),
			"error", err)
		return dbus.MakeFailedError(err)
	}

	s.logger.Info("session handed over", "endpoint", endpoint.Describe())
	return nil
}
