// Package keyring implements the rotating symmetric-key ring (C2): key
// material, on-disk persistence, and the auto-create/auto-update lifecycle
// policy that lets the token codec roll keys without downtime.
package keyring

import (
	"crypto/rand"
	"fmt"
	"time"
)

// KeySize is the AES-128 key length in bytes.
const KeySize = 16

// KindAES128 is the only key kind the wire format currently supports.
const KindAES128 = 1

// Key is an immutable symmetric key with its validity window.
type Key struct {
	Kind      uint8
	CreatedAt time.Time
	ValidAfter time.Time
	Bytes     [KeySize]byte
}

// Generate mints a fresh random AES-128 key valid starting at validAfter.
func Generate(createdAt, validAfter time.Time) (Key, error) {
	var k Key
	k.Kind = KindAES128
	k.CreatedAt = createdAt
	k.ValidAfter = validAfter
	if _, err := rand.Read(k.Bytes[:]); err != nil {
		return Key{}, fmt.Errorf("keyring: generate key: %w", err)
	}
	return k, nil
}
