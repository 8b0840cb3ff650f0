// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"log/slog"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultChannelPrefix is the data channel label prefix that marks a
// channel as a remote-input session.
const DefaultChannelPrefix = "remote-input"

// InputChannelReceiver accepts remote-input sessions tunneled over
// WebRTC. A broker that negotiates a PeerConnection for a
// remote-desktop session opens one data channel per input session,
// labeled with the input prefix; the receiver detaches each such
// channel when it opens and hands it to the bridge as an Endpoint.
//
// Channels with other labels are ignored, so the PeerConnection can
// carry the rest of the remote-desktop traffic (video, clipboard)
// alongside input.
type InputChannelReceiver struct {
	// Accept receives each detached input channel. Required. Called
	// from pion's internal goroutines, one call per channel; the
	// bridge's AcceptConnection is safe to use directly. On error the
	// receiver closes the endpoint.
	Accept func(Endpoint) error

	// ChannelPrefix overrides DefaultChannelPrefix when non-empty.
	ChannelPrefix string

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Attach registers the receiver on a PeerConnection. The connection
// must have been created with data channel detaching enabled (see
// DetachingAPI); Detach fails otherwise and the channel is dropped.
func (r *InputChannelReceiver) Attach(pc *webrtc.PeerConnection) {
	pc.OnDataChannel(r.handleChannel)
}

func (r *InputChannelReceiver) handleChannel(dc *webrtc.DataChannel) {
	logger := r.logger()
	prefix := r.ChannelPrefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	if !strings.HasPrefix(dc.Label(), prefix) {
		logger.Debug("ignoring data channel without input prefix", "label", dc.Label())
		return
	}

	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			logger.Error("detaching input data channel failed",
				"label", dc.Label(),
				"error", err,
			)
			dc.Close()
			return
		}

		endpoint := NewDataChannelEndpoint(raw, dc.Label())
		logger.Info("input data channel opened", "label", dc.Label())

		if err := r.Accept(endpoint); err != nil {
			logger.Error("input session handoff rejected",
				"label", dc.Label(),
				"error", err,
			)
			endpoint.Close()
		}
	})
}

func (r *InputChannelReceiver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// DetachingAPI returns a pion API configured for stream-oriented data
// channel access (Detach) with loopback candidates allowed, suitable
// for same-machine brokers and tests. PeerConnections handed to an
// InputChannelReceiver must come from an API with detaching enabled.
func DetachingAPI() *webrtc.API {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)
	return webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
}
