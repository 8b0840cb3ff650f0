// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items. Same logical data always
// produces identical bytes, which keeps handshake payloads and
// broker envelopes byte-stable across processes.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR.
// Unknown fields are silently ignored for forward compatibility, so
// a newer client can extend its Hello without breaking older hosts.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// The remote-input protocol never uses non-string map keys.
		// When the decoder's target is any (diagnostics, tests), it
		// must pick a concrete Go map type; the CBOR default of
		// map[interface{}]interface{} is incompatible with most Go
		// code that expects map[string]any. Struct field decoding is
		// unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, decoded or re-encoded
// verbatim. Request envelopes use it to defer decoding of
// action-specific fields. Type alias so consumers import only
// lib/codec, not fxamacker/cbor directly.
type RawMessage = cbor.RawMessage

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Decoder = cbor.Decoder

// NewEncoder returns a CBOR encoder that writes to w using the
// standard Core Deterministic Encoding configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r using the
// standard decoding configuration.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. Used by tooling to dump handshake payloads.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
