// Package token implements the C3 token codec: HMAC-authenticated,
// AES-128-CBC-encrypted typed attribute lists, plus per-kind typed views
// (C5) over the decoded attribute list.
package token

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // mandated by the legacy wire format
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/webauth/webkdcd/internal/attrlist"
	"github.com/webauth/webkdcd/internal/keyring"
)

// Version is the only wire format version this codec emits or accepts.
const Version = 1

const (
	nonceLen = 16
	hmacLen  = 20
)

// Sentinel errors classifying a failed Parse, forming the token-level
// error vocabulary. internal/issuance maps these onto the numeric
// internal/werror codes.
var (
	ErrBadVersion    = errors.New("token: unsupported wire version")
	ErrBadHMAC       = errors.New("token: hmac verification failed")
	ErrTokenExpired  = errors.New("token: expiration passed")
	ErrTokenStale    = errors.New("token: creation time outside ttl window")
	ErrMalformed     = errors.New("token: malformed ciphertext")
	ErrNoEncryptKey  = errors.New("token: keyring has no usable encrypting key")
)

// Create encrypts attrs under ring's current encrypting key. If attrs does
// not already carry a "t" attribute, kind is appended as one. creationHint,
// when non-zero, sets the authenticated creation time; the zero value means
// "now".
func Create(kind string, attrs *attrlist.List, creationHint time.Time, ring *keyring.Ring) ([]byte, error) {
	now := creationHint
	if now.IsZero() {
		now = time.Now().UTC()
	}
	key, ok := ring.EncryptingKey(time.Now().UTC())
	if !ok {
		return nil, ErrNoEncryptKey
	}
	return seal(kind, attrs, now, key.Bytes)
}

// CreateWithKey is Create's counterpart for tokens encrypted under an
// explicit key (a service token's session key) rather than the keyring.
func CreateWithKey(kind string, attrs *attrlist.List, creationHint time.Time, key [keyring.KeySize]byte) ([]byte, error) {
	now := creationHint
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return seal(kind, attrs, now, key)
}

func seal(kind string, attrs *attrlist.List, creation time.Time, key [keyring.KeySize]byte) ([]byte, error) {
	if attrs.Find("t") < 0 {
		attrs.AddStr("t", kind)
	}

	encoded := attrs.Encode()
	plaintext := make([]byte, 8+len(encoded))
	binary.BigEndian.PutUint64(plaintext[:8], uint64(creation.Unix()))
	copy(plaintext[8:], encoded)

	mac := computeHMAC(key, plaintext)

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("token: generate nonce: %w", err)
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("token: new cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, nonce).CryptBlocks(ciphertext, padded)

	out := make([]byte, 0, 1+nonceLen+hmacLen+len(ciphertext))
	out = append(out, byte(Version))
	out = append(out, nonce...)
	out = append(out, mac...)
	out = append(out, ciphertext...)
	return out, nil
}

// Parse decrypts and validates data against every key in ring, newest
// first, until one verifies. ttl, when non-zero, enforces the freshness
// window in addition to any absolute "et" expiration attribute.
func Parse(data []byte, ttl time.Duration, ring *keyring.Ring) (*attrlist.List, error) {
	var lastErr error = ErrBadHMAC
	for _, k := range ring.Keys() {
		attrs, err := unseal(data, ttl, k.Bytes)
		if err == nil {
			return attrs, nil
		}
		if !errors.Is(err, ErrBadHMAC) {
			// version/expiry/stale/malformed failures are conclusive for
			// the key that produced a verified HMAC; propagate directly.
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ParseWithKey decrypts and validates data against a single explicit key
// (a service token's session key).
func ParseWithKey(data []byte, ttl time.Duration, key [keyring.KeySize]byte) (*attrlist.List, error) {
	return unseal(data, ttl, key)
}

func unseal(data []byte, ttl time.Duration, key [keyring.KeySize]byte) (*attrlist.List, error) {
	if len(data) < 1+nonceLen+hmacLen {
		return nil, ErrMalformed
	}
	if data[0] != Version {
		return nil, ErrBadVersion
	}
	nonce := data[1 : 1+nonceLen]
	wantMAC := data[1+nonceLen : 1+nonceLen+hmacLen]
	ciphertext := data[1+nonceLen+hmacLen:]

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrMalformed
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("token: new cipher: %w", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, nonce).CryptBlocks(padded, ciphertext)
	plaintext, err := pkcs7Unpad(padded, block.BlockSize())
	if err != nil || len(plaintext) < 8 {
		// A bad nonce, a bad key, or a mutated ciphertext all land here
		// indistinguishably from a bad HMAC: any single-bit tamper of
		// nonce/ciphertext/hmac must surface as bad_hmac,
		// never a separate "malformed" signal that would leak which part
		// of the token an attacker corrupted.
		return nil, ErrBadHMAC
	}

	gotMAC := computeHMAC(key, plaintext)
	if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
		return nil, ErrBadHMAC
	}

	creationUnix := int64(binary.BigEndian.Uint64(plaintext[:8]))
	creation := time.Unix(creationUnix, 0).UTC()

	attrs, err := attrlist.Decode(plaintext[8:])
	if err != nil {
		return nil, ErrBadHMAC
	}

	now := time.Now().UTC()
	if exp, ok := attrs.GetTime("et"); ok && now.After(exp) {
		return nil, ErrTokenExpired
	}
	if ttl > 0 && now.Sub(creation) > ttl {
		return nil, ErrTokenStale
	}

	return attrs, nil
}

func computeHMAC(key [keyring.KeySize]byte, data []byte) []byte {
	mac := hmac.New(sha1.New, key[:])
	mac.Write(data)
	return mac.Sum(nil)[:hmacLen]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("token: invalid padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("token: invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("token: invalid padding")
		}
	}
	return data[:len(data)-padLen], nil
}
