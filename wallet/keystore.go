// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"

	"github.com/tolelom/zktrivia/crypto"
)

// ErrWrongPassword is returned when a keystore cannot be decrypted.
var ErrWrongPassword = errors.New("wrong password or corrupted keystore")

const kdfIterations = 210_000

type keystoreFile struct {
	PubKey     string `json:"pub_key"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"cipher_text"`
}

// SaveKey encrypts priv with password and writes it to path.
// The AES-256-GCM key is PBKDF2-SHA256(password, salt).
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv, nil)

	ks := keystoreFile{
		PubKey:     priv.Public().Hex(),
		Salt:       hex.EncodeToString(salt),
		Nonce:      hex.EncodeToString(nonce),
		CipherText: hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("keystore dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadKey decrypts the keystore at path using password.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("keystore %s: %w", path, err)
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, fmt.Errorf("keystore salt: %w", err)
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, fmt.Errorf("keystore nonce: %w", err)
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, fmt.Errorf("keystore ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	privBytes, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	priv := crypto.PrivateKey(privBytes)
	if priv.Public().Hex() != ks.PubKey {
		return nil, fmt.Errorf("keystore %s: public key mismatch", path)
	}
	return priv, nil
}

// LoadOrCreateKey loads the keystore at path, generating and saving a new
// key when the file does not exist yet.
func LoadOrCreateKey(path, password string) (priv crypto.PrivateKey, created bool, err error) {
	priv, err = LoadKey(path, password)
	if err == nil {
		return priv, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}
	priv, _, err = crypto.GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := SaveKey(path, password, priv); err != nil {
		return nil, false, err
	}
	return priv, true, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
