package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/mailclash/internal/model"
)

func TestStorageKey(t *testing.T) {
	assert.Equal(t, "alice_example_com", StorageKey("alice@example.com"))
	assert.Equal(t, "first_last_mail_co_uk", StorageKey("first.last@mail.co.uk"))
	assert.Equal(t, "ABC123", StorageKey("ABC123"))
	assert.Equal(t, "caf_", StorageKey("café"))
}

func TestFileTokenStore_PutGet(t *testing.T) {
	store := NewFileTokenStore(t.TempDir())

	expiry := time.Now().Add(1 * time.Hour).Round(time.Second)
	cred := &model.Credential{
		AccessToken:  "test-access-token",
		RefreshToken: "test-refresh-token",
		Expiry:       expiry,
	}
	require.NoError(t, store.Put("alice_example_com", cred))

	loaded, err := store.Get("alice_example_com")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, cred.AccessToken, loaded.AccessToken)
	assert.Equal(t, cred.RefreshToken, loaded.RefreshToken)
	assert.True(t, loaded.Expiry.Equal(expiry))

	info, err := os.Stat(filepath.Join(store.Dir, "alice_example_com.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileTokenStore_GetMissing(t *testing.T) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "nested"))

	cred, err := store.Get("nobody")
	require.NoError(t, err, "Get should not return an error for a missing file")
	assert.Nil(t, cred)
}

func TestFileTokenStore_Delete(t *testing.T) {
	store := NewFileTokenStore(t.TempDir())
	require.NoError(t, store.Put("k", &model.Credential{AccessToken: "at"}))

	require.NoError(t, store.Delete("k"))
	cred, err := store.Get("k")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.Delete("k"), "deleting twice is not an error")
}
