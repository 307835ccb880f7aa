// Package crypto provides NaCl secretbox encryption for sync messages.
//
// A 32-byte symmetric key is derived from the shared token using HKDF-SHA256.
// Every message is encrypted with a random 24-byte nonce prepended to the
// ciphertext:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// With an empty token the wire layer passes a nil key and messages travel as
// plain JSON.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var hkdfInfo = []byte("mpclip-v1")

// ErrDecrypt means a message did not authenticate under the key, which in
// practice means the two sides use different tokens.
var ErrDecrypt = errors.New("decryption failed (wrong token?)")

// Key is a secretbox key.
type Key = [KeySize]byte

// DeriveKey derives the secretbox key for token. Both sides must use the same
// token to derive the same key.
func DeriveKey(token string) (*Key, error) {
	h := hkdf.New(sha256.New, []byte(token), nil, hkdfInfo)
	var key Key
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// KeyFor is DeriveKey for an optional token: an empty token yields a nil key.
func KeyFor(token string) (*Key, error) {
	if token == "" {
		return nil, nil
	}
	return DeriveKey(token)
}

// Seal encrypts plaintext with key, prepending a random nonce.
func Seal(plaintext []byte, key *Key) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, key), nil
}

// Open decrypts nonce+ciphertext with key.
func Open(ciphertext []byte, key *Key) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("ciphertext too short (%d bytes)", len(ciphertext))
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}
