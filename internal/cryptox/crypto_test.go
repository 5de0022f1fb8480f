package cryptox

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDeriveKey_KnownVector(t *testing.T) {
	// RFC 7914 section 11, PBKDF2-HMAC-SHA256, c=1.
	key := DeriveKey([]byte("password"), []byte("salt"), 1)
	assert.Equal(t, "120fb6cffcf8b32c43e7225256c4f837a86548c92ccc35480805987cb70be17b", hex.EncodeToString(key))
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("fixed-salt-16byt")

	key1 := DeriveKey([]byte("install-1:secret-password"), salt, 1000)
	key2 := DeriveKey([]byte("install-1:secret-password"), salt, 1000)
	assert.Equal(t, key1, key2)
	assert.Equal(t, "a6ce6d05559424e8a93dfd37d4bdbf3e4aaba63c31abd24997fff1d6559b296d", hex.EncodeToString(key1))

	other := DeriveKey([]byte("install-2:secret-password"), salt, 1000)
	assert.NotEqual(t, key1, other, "installation id must change the key")
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := DeriveKey([]byte("k"), []byte("s"), 1)

	ct, iv, err := Encrypt(key, []byte("ghp_token"))
	require.NoError(t, err)
	assert.Len(t, iv, IVSize)
	assert.NotContains(t, string(ct), "ghp_token")

	pt, err := Decrypt(key, ct, iv)
	require.NoError(t, err)
	assert.Equal(t, []byte("ghp_token"), pt)
}

func TestEncrypt_FreshIVPerCall(t *testing.T) {
	key := DeriveKey([]byte("k"), []byte("s"), 1)

	ct1, iv1, err := Encrypt(key, []byte("same"))
	require.NoError(t, err)
	ct2, iv2, err := Encrypt(key, []byte("same"))
	require.NoError(t, err)

	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, ct1, ct2)
}

func TestDecrypt_FailuresAreOpaque(t *testing.T) {
	key := DeriveKey([]byte("right"), []byte("s"), 1)
	wrong := DeriveKey([]byte("wrong"), []byte("s"), 1)

	ct, iv, err := Encrypt(key, []byte("secret"))
	require.NoError(t, err)

	tampered := bytes.Clone(ct)
	tampered[0] ^= 0xff

	cases := map[string]struct {
		key, ct, iv []byte
	}{
		"wrong key":      {wrong, ct, iv},
		"wrong iv":       {key, ct, make([]byte, IVSize)},
		"short iv":       {key, ct, iv[:4]},
		"tampered":       {key, tampered, iv},
		"bad key length": {key[:5], ct, iv},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decrypt(tc.key, tc.ct, tc.iv)
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestEncrypt_BadKeyLength(t *testing.T) {
	_, _, err := Encrypt([]byte("short"), []byte("x"))
	assert.Error(t, err)
}

func TestEncryptDecryptJSON(t *testing.T) {
	type doc struct {
		Items []int `json:"items"`
	}
	key := DeriveKey([]byte("k"), []byte("s"), 1)

	ct, iv, err := EncryptJSON(key, doc{Items: []int{1, 2}})
	require.NoError(t, err)

	var out doc
	require.NoError(t, DecryptJSON(key, ct, iv, &out))
	assert.Equal(t, []int{1, 2}, out.Items)

	ct, iv, err = Encrypt(key, []byte("not json"))
	require.NoError(t, err)
	assert.ErrorIs(t, DecryptJSON(key, ct, iv, &out), ErrDecryptionFailed)
}

func TestNewSalt(t *testing.T) {
	s, err := NewSalt()
	require.NoError(t, err)
	assert.Len(t, s, SaltSize)
}

func TestRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.SliceOfN(rapid.Byte(), KeySize, KeySize).Draw(t, "key")
		plaintext := rapid.SliceOf(rapid.Byte()).Draw(t, "plaintext")

		ct, iv, err := Encrypt(key, plaintext)
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		got, err := Decrypt(key, ct, iv)
		if err != nil {
			t.Fatalf("decrypt: %v", err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: %x != %x", got, plaintext)
		}
	})
}
