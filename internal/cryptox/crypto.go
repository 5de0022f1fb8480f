// Package cryptox holds the symmetric primitives behind the vault:
// PBKDF2-SHA256 key derivation and AES-256-GCM sealing with detached IVs.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize  = 32 // AES-256
	IVSize   = 12 // 96-bit GCM nonce
	SaltSize = 16

	DefaultIterations = 100_000
)

// ErrDecryptionFailed is returned for every decryption failure: wrong key,
// wrong IV and corrupted ciphertext all look the same to the caller.
var ErrDecryptionFailed = errors.New("decryption failed")

// DeriveKey stretches secret into a 256-bit key with PBKDF2-HMAC-SHA256.
func DeriveKey(secret, salt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

// Encrypt seals plaintext under key with a fresh random IV. The returned
// ciphertext carries the GCM tag.
func Encrypt(key, plaintext []byte) (ciphertext, iv []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv, err = randomBytes(IVSize)
	if err != nil {
		return nil, nil, err
	}

	return aead.Seal(nil, iv, plaintext, nil), iv, nil
}

// Decrypt opens ciphertext produced by Encrypt. Any failure yields
// ErrDecryptionFailed.
func Decrypt(key, ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, ErrDecryptionFailed
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptJSON serializes v to JSON and seals it with Encrypt.
func EncryptJSON(key []byte, v any) (ciphertext, iv []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal: %w", err)
	}
	return Encrypt(key, plaintext)
}

// DecryptJSON opens ciphertext and unmarshals the JSON into v. A plaintext
// that does not parse is reported as ErrDecryptionFailed as well.
func DecryptJSON(key, ciphertext, iv []byte, v any) error {
	plaintext, err := Decrypt(key, ciphertext, iv)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryptionFailed
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto provider unavailable: %w", err)
	}
	return b, nil
}
