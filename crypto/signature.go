package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// Sign signs data with the private key and returns a hex-encoded signature.
func Sign(priv PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), data))
}

// Verify checks a hex-encoded signature against data using the public key.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return ErrBadSignature
	}
	return nil
}

// VerifyHex is Verify for a signer given as a hex public key.
func VerifyHex(pubHex string, data []byte, sigHex string) error {
	pub, err := PubKeyFromHex(pubHex)
	if err != nil {
		return err
	}
	return Verify(pub, data, sigHex)
}
