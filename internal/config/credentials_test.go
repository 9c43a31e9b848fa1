package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zerologNop() zerolog.Logger { return zerolog.Nop() }

func TestCredentialStore_Missing(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "m2m-api", "config.json"))
	username, token, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, username)
	assert.Empty(t, token)
}

func TestCredentialStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m2m-api", "config.json")
	store := NewCredentialStore(path)

	require.NoError(t, store.Save("user", "app-token"))

	username, token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "user", username)
	assert.Equal(t, "app-token", token)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
}

func TestCredentialStore_PreservesOtherMembers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"old","note":"keep"}`), 0600))

	store := NewCredentialStore(path)
	require.NoError(t, store.Save("user", "t2"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"note": "keep"`)
}

func TestCredentialStore_Clear(t *testing.T) {
	store := NewCredentialStore(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, store.Save("user", "app-token"))
	require.NoError(t, store.Clear())

	username, token, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "user", username)
	assert.Empty(t, token)
}

func TestCredentialStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))

	_, _, err := NewCredentialStore(path).Load()
	assert.Error(t, err)
}

func TestDefaultCredentialPath(t *testing.T) {
	path := DefaultCredentialPath()
	assert.Equal(t, "config.json", filepath.Base(path))
	assert.Equal(t, "m2m-api", filepath.Base(filepath.Dir(path)))
}
