package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beekhof/mailclash/internal/model"
)

func openTestStore(t *testing.T) *TokenStore {
	t.Helper()
	store, err := OpenTokenStore(filepath.Join(t.TempDir(), "data", "mailclash.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestTokenStore_PutGet(t *testing.T) {
	store := openTestStore(t)

	expiry := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put("alice_example_com", &model.Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       expiry,
	}))

	cred, err := store.Get("alice_example_com")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "at", cred.AccessToken)
	assert.Equal(t, "rt", cred.RefreshToken)
	assert.True(t, cred.Expiry.Equal(expiry))
}

func TestTokenStore_PutReplaces(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put("k", &model.Credential{AccessToken: "one", RefreshToken: "rt"}))
	require.NoError(t, store.Put("k", &model.Credential{AccessToken: "two", RefreshToken: "rt"}))

	cred, err := store.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "two", cred.AccessToken)
}

func TestTokenStore_MissingAndDelete(t *testing.T) {
	store := openTestStore(t)

	cred, err := store.Get("nobody")
	require.NoError(t, err)
	assert.Nil(t, cred)

	require.NoError(t, store.Put("k", &model.Credential{AccessToken: "at"}))
	require.NoError(t, store.Delete("k"))

	cred, err = store.Get("k")
	require.NoError(t, err)
	assert.Nil(t, cred)
}
