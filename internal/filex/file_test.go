package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsurePrivateDir_Creates(t *testing.T) {
	want := filepath.Join(t.TempDir(), "a", "b")

	got, err := EnsurePrivateDir(want)
	require.NoError(t, err)
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm())
	}
}

func TestEnsurePrivateDir_Idempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")

	_, err := EnsurePrivateDir(dir)
	require.NoError(t, err)
	_, err = EnsurePrivateDir(dir)
	require.NoError(t, err)
}

func TestEnsurePrivateDir_FailsIfFileWithSameNameExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := EnsurePrivateDir(path)
	require.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "session.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":1}`), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte(`{"a":2}`), 0o600))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, string(got))

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone")

	require.NoError(t, RemoveIfExists(path))

	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.NoError(t, RemoveIfExists(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
