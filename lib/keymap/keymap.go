// Copyright 2026 The Ember Authors
// SPDX-License-Identifier: Apache-2.0

// Package keymap loads the XKB keymap blob the bridge sends to
// keyboard-capable clients during the handshake.
//
// The bridge does not interpret the keymap. It ships the bytes to the
// client together with a BLAKE3 content digest so clients can cache
// compiled keymaps across sessions and skip recompilation when the
// digest matches.
package keymap

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// MaxSize bounds the keymap blob. XKB keymap text runs tens of
// kilobytes; the bound keeps the handshake Accept frame well under the
// protocol's payload limit.
const MaxSize = 256 * 1024

// Keymap is an immutable keymap blob with its content digest.
type Keymap struct {
	data   []byte
	digest [32]byte
}

// Load reads a keymap file. Fails if the file exceeds MaxSize or is
// empty.
func Load(path string) (*Keymap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keymap: %w", err)
	}
	return FromBytes(data)
}

// FromBytes wraps raw keymap bytes. The slice is copied; callers may
// reuse their buffer.
func FromBytes(data []byte) (*Keymap, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("keymap is empty")
	}
	if len(data) > MaxSize {
		return nil, fmt.Errorf("keymap is %d bytes, limit %d", len(data), MaxSize)
	}

	k := &Keymap{data: make([]byte, len(data))}
	copy(k.data, data)
	k.digest = blake3.Sum256(k.data)
	return k, nil
}

// Bytes returns the keymap blob. Callers must not mutate it.
func (k *Keymap) Bytes() []byte { return k.data }

// Len returns the blob size in bytes.
func (k *Keymap) Len() int { return len(k.data) }

// Digest returns the lowercase hex BLAKE3 digest of the blob.
func (k *Keymap) Digest() string { return hex.EncodeToString(k.digest[:]) }
