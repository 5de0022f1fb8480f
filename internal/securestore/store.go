// Package securestore keeps the GitHub token and the app-data document
// encrypted at rest under a password-derived key.
//
// Decrypt paths distinguish three cases: nothing stored yet, stored but not
// decryptable with this password (wrong password and corruption look the
// same), and storage failures, which are the only ones reported as errors.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/prwatch/internal/common"
	"github.com/dmitrijs2005/prwatch/internal/cryptox"
	"github.com/dmitrijs2005/prwatch/internal/models"
	"github.com/dmitrijs2005/prwatch/internal/repositories/kv"
	"github.com/dmitrijs2005/prwatch/internal/vault"
)

// Storage keys owned by the store.
const (
	KeyEncryptedToken   = "encrypted_token"
	KeyTokenIV          = "token_iv"
	KeyEncryptedAppData = "encrypted_app_data"
	KeyAppDataIV        = "app_data_iv"
	KeyFirstRunNotify   = "notify_on_first_run"
)

// ErrUndecryptable is returned by UpdateAppData and ReencryptAll when the
// stored document cannot be opened with the given password.
var ErrUndecryptable = errors.New("app data cannot be decrypted with this password")

type Store struct {
	repo  kv.Repository
	vault *vault.Vault

	// docMu is the critical section for read-decrypt-modify-encrypt-write of
	// the app-data document. Token writes share it too.
	docMu sync.Mutex
}

func New(repo kv.Repository, v *vault.Vault) *Store {
	return &Store{repo: repo, vault: v}
}

func (s *Store) Vault() *vault.Vault { return s.vault }

// EncryptToken stores token encrypted under password. The first call on a
// fresh installation also creates the test vector.
func (s *Store) EncryptToken(ctx context.Context, token, password string) error {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	if err := s.encryptBlob(ctx, password, []byte(token), KeyEncryptedToken, KeyTokenIV); err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}

	has, err := s.vault.HasTestVector(ctx)
	if err != nil {
		return err
	}
	if !has {
		if err := s.vault.SetupTestVector(ctx, password); err != nil {
			return fmt.Errorf("setup test vector: %w", err)
		}
	}
	return nil
}

// DecryptToken returns the token and true, or "" and false when no token is
// stored or password cannot decrypt it.
func (s *Store) DecryptToken(ctx context.Context, password string) (string, bool, error) {
	plaintext, err := s.decryptBlob(ctx, password, KeyEncryptedToken, KeyTokenIV)
	if err != nil {
		return "", false, err
	}
	if plaintext == nil {
		return "", false, nil
	}
	return string(plaintext), true, nil
}

func (s *Store) EncryptAppData(ctx context.Context, data *models.AppData, password string) error {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	return s.encryptAppData(ctx, data, password)
}

// DecryptAppData returns an empty document when nothing is stored yet and
// nil when the stored document cannot be decrypted with password.
func (s *Store) DecryptAppData(ctx context.Context, password string) (*models.AppData, error) {
	s.docMu.Lock()
	defer s.docMu.Unlock()
	return s.decryptAppData(ctx, password)
}

// UpdateAppData runs fn on the decrypted document and re-encrypts the result,
// holding the document lock throughout so concurrent mutators serialize.
// If fn returns an error nothing is written.
func (s *Store) UpdateAppData(ctx context.Context, password string, fn func(*models.AppData) error) (*models.AppData, error) {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	data, err := s.decryptAppData(ctx, password)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrUndecryptable
	}
	if err := fn(data); err != nil {
		return nil, err
	}
	if err := s.encryptAppData(ctx, data, password); err != nil {
		return nil, err
	}
	return data, nil
}

// ReencryptAll re-encrypts the token and app data under newPassword and
// replaces the test vector. oldPassword must decrypt both blobs. The three
// are committed in one transaction: either all of them follow newPassword or
// none does.
func (s *Store) ReencryptAll(ctx context.Context, oldPassword, newPassword string) error {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	token, err := s.decryptBlob(ctx, oldPassword, KeyEncryptedToken, KeyTokenIV)
	if err != nil {
		return err
	}
	if token == nil {
		return common.ErrWrongPassword
	}
	defer common.WipeByteArray(token)

	data, err := s.decryptAppData(ctx, oldPassword)
	if err != nil {
		return err
	}
	if data == nil {
		return ErrUndecryptable
	}
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal app data: %w", err)
	}
	defer common.WipeByteArray(plaintext)

	key, err := s.vault.DeriveKey(ctx, newPassword)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	entries, err := s.vault.SealTestVector(key)
	if err != nil {
		return err
	}
	if err := s.seal(key, token, KeyEncryptedToken, KeyTokenIV, entries); err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	if err := s.seal(key, plaintext, KeyEncryptedAppData, KeyAppDataIV, entries); err != nil {
		return fmt.Errorf("encrypt app data: %w", err)
	}

	if err := s.repo.SetMany(ctx, entries); err != nil {
		return fmt.Errorf("reencrypt: %w", err)
	}
	return nil
}

func (s *Store) HasStoredToken(ctx context.Context) (bool, error) {
	v, err := s.repo.Get(ctx, KeyEncryptedToken)
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

func (s *Store) HasEncryptionSetup(ctx context.Context) (bool, error) {
	return s.vault.HasTestVector(ctx)
}

// ClearSecureStorage removes the token, test vector, salt, KDF iteration
// count and app data in a single transaction. Afterwards the installation
// behaves as brand new.
func (s *Store) ClearSecureStorage(ctx context.Context) error {
	s.docMu.Lock()
	defer s.docMu.Unlock()

	keys := append([]string{KeyEncryptedToken, KeyTokenIV, KeyEncryptedAppData, KeyAppDataIV}, vault.SecretKeys()...)
	if err := s.repo.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("clear secure storage: %w", err)
	}
	return nil
}

// FirstRunNotify reports the plain "notify on first run" opt-in.
func (s *Store) FirstRunNotify(ctx context.Context) (bool, error) {
	v, err := s.repo.Get(ctx, KeyFirstRunNotify)
	if err != nil {
		return false, err
	}
	return string(v) == "true", nil
}

func (s *Store) SetFirstRunNotify(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return s.repo.Set(ctx, KeyFirstRunNotify, []byte(value))
}

func (s *Store) encryptAppData(ctx context.Context, data *models.AppData, password string) error {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal app data: %w", err)
	}
	defer common.WipeByteArray(plaintext)

	if err := s.encryptBlob(ctx, password, plaintext, KeyEncryptedAppData, KeyAppDataIV); err != nil {
		return fmt.Errorf("encrypt app data: %w", err)
	}
	return nil
}

func (s *Store) decryptAppData(ctx context.Context, password string) (*models.AppData, error) {
	ct, err := s.repo.Get(ctx, KeyEncryptedAppData)
	if err != nil {
		return nil, err
	}
	if ct == nil {
		return &models.AppData{}, nil
	}

	plaintext, err := s.decryptBlob(ctx, password, KeyEncryptedAppData, KeyAppDataIV)
	if err != nil || plaintext == nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	var data models.AppData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, nil
	}
	return &data, nil
}

func (s *Store) encryptBlob(ctx context.Context, password string, plaintext []byte, ctKey, ivKey string) error {
	key, err := s.vault.DeriveKey(ctx, password)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	entries := make(map[string][]byte, 2)
	if err := s.seal(key, plaintext, ctKey, ivKey, entries); err != nil {
		return err
	}
	return s.repo.SetMany(ctx, entries)
}

// seal encrypts plaintext under key into entries[ctKey] and entries[ivKey].
func (s *Store) seal(key, plaintext []byte, ctKey, ivKey string, entries map[string][]byte) error {
	ct, iv, err := s.vault.Encrypt(key, plaintext)
	if err != nil {
		return err
	}
	entries[ctKey] = ct
	entries[ivKey] = iv
	return nil
}

// decryptBlob returns (nil, nil) when the blob is absent or undecryptable.
func (s *Store) decryptBlob(ctx context.Context, password string, ctKey, ivKey string) ([]byte, error) {
	ct, err := s.repo.Get(ctx, ctKey)
	if err != nil {
		return nil, err
	}
	iv, err := s.repo.Get(ctx, ivKey)
	if err != nil {
		return nil, err
	}
	if ct == nil || iv == nil {
		return nil, nil
	}

	key, err := s.vault.DeriveKey(ctx, password)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	plaintext, err := s.vault.Decrypt(key, ct, iv)
	if errors.Is(err, cryptox.ErrDecryptionFailed) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}
