// Package vault derives per-installation encryption keys from the user's
// password and keeps the test vector used to check a candidate password
// without touching the real secrets.
package vault

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/cryptox"
	"github.com/dmitrijs2005/prwatch/internal/repositories/kv"
)

// Plain storage keys owned by the vault.
const (
	KeySalt               = "salt"
	KeyKDFIterations      = "kdf_iterations"
	KeyInstallationID     = "installation_id"
	KeyTestVector         = "test_vector"
	KeyTestVectorIV       = "test_vector_iv"
	TestVectorPlaintext   = "github-pr-tracker-test-vector"
	installationSeparator = ":"
)

type Vault struct {
	repo kv.Repository
	// iterations seeds KeyKDFIterations on installs that have not stored
	// one yet. Derivation always uses the stored value.
	iterations int

	// mu serializes first-time creation of the salt and installation id.
	mu sync.Mutex
}

type Option func(*Vault)

// WithIterations overrides the PBKDF2 iteration count for new installs.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

func New(repo kv.Repository, opts ...Option) *Vault {
	v := &Vault{repo: repo, iterations: cryptox.DefaultIterations}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// InstallationID returns the stable identifier of this installation,
// creating it on first use. It is not a secret, but it is bound into every
// derived key, so it survives ClearSecureStorage.
func (v *Vault) InstallationID(ctx context.Context) (string, error) {
	id, err := v.loadOrCreate(ctx, KeyInstallationID, func() ([]byte, error) {
		return []byte(uuid.NewString()), nil
	})
	if err != nil {
		return "", err
	}
	return string(id), nil
}

func (v *Vault) salt(ctx context.Context) ([]byte, error) {
	return v.loadOrCreate(ctx, KeySalt, cryptox.NewSalt)
}

// kdfIterations returns the iteration count the salt was created with,
// recording the configured one the first time.
func (v *Vault) kdfIterations(ctx context.Context) (int, error) {
	raw, err := v.loadOrCreate(ctx, KeyKDFIterations, func() ([]byte, error) {
		return []byte(strconv.Itoa(v.iterations)), nil
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("stored kdf iterations %q are invalid", raw)
	}
	return n, nil
}

func (v *Vault) loadOrCreate(ctx context.Context, key string, create func() ([]byte, error)) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	value, err := v.repo.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if value != nil {
		return value, nil
	}

	value, err = create()
	if err != nil {
		return nil, err
	}
	if err := v.repo.Set(ctx, key, value); err != nil {
		return nil, err
	}
	return value, nil
}

// DeriveKey turns password into the AES key for this installation. The same
// (installation, password) pair always yields the same key.
func (v *Vault) DeriveKey(ctx context.Context, password string) ([]byte, error) {
	id, err := v.InstallationID(ctx)
	if err != nil {
		return nil, fmt.Errorf("installation id: %w", err)
	}
	salt, err := v.salt(ctx)
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	iterations, err := v.kdfIterations(ctx)
	if err != nil {
		return nil, fmt.Errorf("kdf iterations: %w", err)
	}

	secret := []byte(id + installationSeparator + password)
	defer common.WipeByteArray(secret)

	return cryptox.DeriveKey(secret, salt, iterations), nil
}

func (v *Vault) Encrypt(key, plaintext []byte) (ciphertext, iv []byte, err error) {
	return cryptox.Encrypt(key, plaintext)
}

func (v *Vault) Decrypt(key, ciphertext, iv []byte) ([]byte, error) {
	return cryptox.Decrypt(key, ciphertext, iv)
}

// SetupTestVector encrypts the sentinel under password and stores it,
// replacing any previous vector.
func (v *Vault) SetupTestVector(ctx context.Context, password string) error {
	key, err := v.DeriveKey(ctx, password)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	entries, err := v.SealTestVector(key)
	if err != nil {
		return err
	}
	return v.repo.SetMany(ctx, entries)
}

// SealTestVector encrypts the sentinel under key and returns the storage
// entries for it without writing them, so callers can commit the vector
// together with other blobs.
func (v *Vault) SealTestVector(key []byte) (map[string][]byte, error) {
	ct, iv, err := cryptox.Encrypt(key, []byte(TestVectorPlaintext))
	if err != nil {
		return nil, fmt.Errorf("encrypt test vector: %w", err)
	}
	return map[string][]byte{
		KeyTestVector:   ct,
		KeyTestVectorIV: iv,
	}, nil
}

// HasTestVector reports whether a test vector is stored.
func (v *Vault) HasTestVector(ctx context.Context) (bool, error) {
	ct, err := v.repo.Get(ctx, KeyTestVector)
	if err != nil {
		return false, err
	}
	return ct != nil, nil
}

// ValidatePassword reports whether password decrypts the stored test vector
// to exactly the sentinel. A missing vector means false; only storage
// failures are returned as errors.
func (v *Vault) ValidatePassword(ctx context.Context, password string) (bool, error) {
	ct, err := v.repo.Get(ctx, KeyTestVector)
	if err != nil {
		return false, err
	}
	iv, err := v.repo.Get(ctx, KeyTestVectorIV)
	if err != nil {
		return false, err
	}
	if ct == nil || iv == nil {
		return false, nil
	}

	key, err := v.DeriveKey(ctx, password)
	if err != nil {
		return false, err
	}
	defer common.WipeByteArray(key)

	plaintext, err := cryptox.Decrypt(key, ct, iv)
	if err != nil {
		return false, nil
	}
	return subtle.ConstantTimeCompare(plaintext, []byte(TestVectorPlaintext)) == 1, nil
}

// SecretKeys lists the vault keys removed by a full reset. The installation
// id is not among them.
func SecretKeys() []string {
	return []string{KeySalt, KeyKDFIterations, KeyTestVector, KeyTestVectorIV}
}
