// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ember-compositor/remoteinput/lib/codec"
	"github.com/ember-compositor/remoteinput/transport"
)

// handoffTimeout bounds one complete handoff exchange on the client
// side.
const handoffTimeout = 30 * time.Second

// HandOver transfers a connected session socket to the compositor
// through its control socket. The descriptor is duplicated into the
// receiving process; the caller still owns its own copy and should
// close it once HandOver returns, whatever the outcome.
func HandOver(socketPath string, sessionFD int, clientName string) error {
	if sessionFD < 0 {
		return fmt.Errorf("invalid session descriptor %d", sessionFD)
	}

	conn, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("dialing control socket: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(handoffTimeout))

	request, err := codec.Marshal(Request{
		Action:     ActionAcceptConnection,
		ClientName: clientName,
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	// Request bytes and descriptor travel in one message so the server
	// finds the rights on its first read.
	rights := unix.UnixRights(sessionFD)
	if _, _, err := conn.WriteMsgUnix(request, rights, nil); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var response Response
	if err := codec.NewDecoder(conn).Decode(&response); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if !response.OK {
		return fmt.Errorf("handoff rejected: %s", response.Error)
	}
	return nil
}

// Connect creates a session for a local client: it builds a connected
// socket pair, hands one end to the compositor, and returns the other
// as a blocking connection ready for the protocol handshake.
func Connect(socketPath, clientName string) (*net.UnixConn, error) {
	server, client, err := transport.SocketPair()
	if err != nil {
		return nil, err
	}

	err = HandOver(socketPath, server.FD(), clientName)
	// The compositor holds its own duplicate now (or the handoff
	// failed); either way our copy of the server end closes here.
	server.Close()
	if err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}
