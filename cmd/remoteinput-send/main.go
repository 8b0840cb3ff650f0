// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Remoteinput-send is the test client for the remote-input bridge. It
// connects the way a real session broker delivers clients: it creates
// a socket pair, hands one end through the control socket, and speaks
// the input protocol on the other. After the handshake it sends a
// scripted burst of key, pointer, and touch events at a paced rate,
// then closes the session in order.
//
// With --abrupt the script leaves keys, buttons, and touch points held
// and drops the connection without a close notice, which is how a
// crashed client looks to the bridge. The bridge's forced release of
// the held state can then be observed in the host's injection log.
//
// Used for soak runs and interop checks against remoteinput-host or a
// compositor embedding the bridge.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/ember-compositor/remoteinput/broker"
	"github.com/ember-compositor/remoteinput/lib/clock"
	"github.com/ember-compositor/remoteinput/lib/evdev"
	"github.com/ember-compositor/remoteinput/lib/version"
	"github.com/ember-compositor/remoteinput/protocol"
)

const replyTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		socketPath  string
		clientName  string
		keys        int
		motions     int
		touches     int
		rate        int
		repeat      int
		abrupt      bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("remoteinput-send", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", defaultSocketPath(), "bridge control socket path")
	flagSet.StringVar(&clientName, "name", "remoteinput-send", "client name sent in the handshake")
	flagSet.IntVar(&keys, "keys", 4, "key press/release pairs per burst")
	flagSet.IntVar(&motions, "motion", 16, "relative pointer motions per burst")
	flagSet.IntVar(&touches, "touches", 0, "touch down/motion/up sequences per burst")
	flagSet.IntVar(&rate, "rate", 200, "events per second")
	flagSet.IntVar(&repeat, "repeat", 1, "number of bursts to send")
	flagSet.BoolVar(&abrupt, "abrupt", false, "leave input held and drop the connection without closing")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		fmt.Printf("remoteinput-send %s\n", version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if rate < 1 {
		return fmt.Errorf("--rate must be at least 1, got %d", rate)
	}
	if keys < 0 || motions < 0 || touches < 0 || repeat < 1 {
		return fmt.Errorf("burst counts must not be negative and --repeat must be at least 1")
	}
	if keys == 0 && motions == 0 && touches == 0 {
		return fmt.Errorf("nothing to send: all burst counts are zero")
	}
	if abrupt {
		// A held touch ID cannot be pressed again, so the abrupt
		// script is a single burst with distinct IDs.
		if repeat != 1 {
			return fmt.Errorf("--abrupt sends a single burst; --repeat must be 1")
		}
		if touches > protocol.MaxTouchID {
			return fmt.Errorf("--abrupt holds touches open; --touches must be at most %d", protocol.MaxTouchID)
		}
	}

	// Request exactly the capabilities the script exercises.
	var capabilities []string
	if keys > 0 {
		capabilities = append(capabilities, protocol.CapabilityKeyboard.String())
	}
	if motions > 0 {
		capabilities = append(capabilities, protocol.CapabilityPointer.String())
	}
	if touches > 0 {
		capabilities = append(capabilities, protocol.CapabilityTouch.String())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := broker.Connect(socketPath, clientName)
	if err != nil {
		return fmt.Errorf("connecting through %s: %w", socketPath, err)
	}
	defer conn.Close()

	accept, err := handshake(conn, clientName, capabilities)
	if err != nil {
		return err
	}
	fmt.Printf("session established: seat=%s capabilities=%v", accept.Seat, accept.Capabilities)
	if len(accept.Keymap) > 0 {
		fmt.Printf(" keymap=%d bytes (%.8s...)", len(accept.Keymap), accept.KeymapDigest)
	}
	fmt.Println()

	script := buildScript(keys, motions, touches, abrupt)
	interval := time.Second / time.Duration(rate)
	ticker := clock.Real().NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	start := time.Now()
	for burst := 0; burst < repeat; burst++ {
		for _, event := range script {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return closeSession(conn, "interrupted", sent, start)
			}
			if err := protocol.WriteFrame(conn, protocol.EncodeEvent(event)); err != nil {
				return fmt.Errorf("after %d events: %w", sent, err)
			}
			sent++
		}
	}

	if abrupt {
		// Drop the connection with input still held. No close notice:
		// as far as the bridge can tell, this client crashed.
		conn.Close()
		elapsed := time.Since(start)
		fmt.Printf("dropped connection with input held: %d events in %.2fs (%.0f/s)\n",
			sent, elapsed.Seconds(), float64(sent)/elapsed.Seconds())
		return nil
	}
	return closeSession(conn, "script complete", sent, start)
}

// handshake performs the client side of the protocol handshake.
func handshake(conn net.Conn, clientName string, capabilities []string) (protocol.Accept, error) {
	frame, err := protocol.NewHelloFrame(protocol.Hello{
		Name:         clientName,
		Version:      protocol.Version,
		Capabilities: capabilities,
	})
	if err != nil {
		return protocol.Accept{}, err
	}
	if err := protocol.WriteFrame(conn, frame); err != nil {
		return protocol.Accept{}, fmt.Errorf("sending hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	defer conn.SetReadDeadline(time.Time{})
	reply, err := protocol.ReadFrame(conn)
	if err != nil {
		return protocol.Accept{}, fmt.Errorf("reading handshake reply: %w", err)
	}
	switch reply.Type {
	case protocol.FrameTypeAccept:
		return protocol.ParseAccept(reply.Payload)
	case protocol.FrameTypeClose:
		notice := protocol.ParseCloseNotice(reply.Payload)
		return protocol.Accept{}, fmt.Errorf("bridge closed the session during handshake: %s", notice.Reason)
	}
	return protocol.Accept{}, fmt.Errorf("handshake reply type 0x%02x, want accept", reply.Type)
}

// buildScript assembles one burst. The orderly script releases
// everything it presses; the abrupt script holds everything down so
// the bridge has state to force-release.
func buildScript(keys, motions, touches int, hold bool) []protocol.Event {
	var script []protocol.Event

	for i := 0; i < keys; i++ {
		code := uint32(evdev.KeyA + i%16)
		script = append(script, protocol.KeyboardKey{Code: code, Pressed: true})
		if !hold {
			script = append(script, protocol.KeyboardKey{Code: code, Pressed: false})
		}
	}

	// Trace a small square so a watching compositor shows net-zero
	// displacement per burst.
	steps := [][2]float64{{3, 0}, {0, 3}, {-3, 0}, {0, -3}}
	for i := 0; i < motions; i++ {
		step := steps[i%len(steps)]
		script = append(script, protocol.PointerMotion{DX: step[0], DY: step[1]})
	}

	for i := 0; i < touches; i++ {
		id := uint32(i % protocol.MaxTouchID)
		x := float64(100 + 10*i)
		script = append(script,
			protocol.TouchDown{ID: id, X: x, Y: 200},
			protocol.TouchMotion{ID: id, X: x + 5, Y: 205},
		)
		if !hold {
			script = append(script, protocol.TouchUp{ID: id})
		}
	}
	return script
}

// closeSession sends the close notice, waits for the bridge's own
// close (best effort), and prints the run summary.
func closeSession(conn net.Conn, reason string, sent int, start time.Time) error {
	if err := protocol.WriteFrame(conn, protocol.NewCloseFrame(reason)); err != nil {
		return fmt.Errorf("sending close: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	for {
		reply, err := protocol.ReadFrame(conn)
		if err != nil {
			// EOF without a close notice still means the session ended.
			break
		}
		if reply.Type == protocol.FrameTypeClose {
			break
		}
	}

	elapsed := time.Since(start)
	perSecond := float64(sent)
	if elapsed > 0 {
		perSecond = float64(sent) / elapsed.Seconds()
	}
	fmt.Printf("session closed (%s): %d events in %.2fs (%.0f/s)\n",
		reason, sent, elapsed.Seconds(), perSecond)
	return nil
}

// defaultSocketPath mirrors the host's default broker socket location.
func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/remote-input.sock"
	}
	return "/run/ember/remote-input.sock"
}
