// Package crypto wraps ed25519 identities and SHA-256 hashing used for
// transaction signing, block sealing and secret-input authorization.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// PrivateKey wraps ed25519 private key bytes.
type PrivateKey []byte

// PublicKey wraps ed25519 public key bytes. Its hex form is the identity of
// a player, game creator, sequencer or the computation engine.
type PublicKey []byte

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

// Hex is the 64-char identity string carried in transactions and game state.
func (pub PublicKey) Hex() string {
	return hex.EncodeToString(pub)
}

// String abbreviates the key for log lines.
func (pub PublicKey) String() string {
	if s := pub.Hex(); len(s) > 8 {
		return s[:8]
	}
	return pub.Hex()
}

// Equal reports whether both keys hold the same bytes.
func (pub PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(pub, other)
}

func (priv PrivateKey) Hex() string {
	return hex.EncodeToString(priv)
}

// Public derives the ed25519 public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

func decodeKey(s, what string, size int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}

// PubKeyFromHex decodes an identity string.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := decodeKey(s, "pubkey", ed25519.PublicKeySize)
	return PublicKey(b), err
}

// PrivKeyFromHex decodes a hex-encoded private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := decodeKey(s, "privkey", ed25519.PrivateKeySize)
	return PrivateKey(b), err
}
