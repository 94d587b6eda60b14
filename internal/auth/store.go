package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/beekhof/mailclash/internal/model"
	"github.com/beekhof/mailclash/internal/storage/atomicfile"
)

// TokenStore persists one credential per storage key.
// Get returns nil, nil when no credential is stored under key.
type TokenStore interface {
	Get(key string) (*model.Credential, error)
	Put(key string, cred *model.Credential) error
	Delete(key string) error
}

// StorageKey maps an account identifier to its persistence key by replacing
// every non-alphanumeric character with '_'.
func StorageKey(accountID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, accountID)
}

// FileTokenStore keeps each credential in its own JSON file under Dir.
type FileTokenStore struct {
	Dir string
}

// NewFileTokenStore creates a new FileTokenStore rooted at dir.
func NewFileTokenStore(dir string) *FileTokenStore {
	return &FileTokenStore{Dir: dir}
}

func (store *FileTokenStore) path(key string) string {
	return filepath.Join(store.Dir, key+".json")
}

// Put writes the credential to <Dir>/<key>.json with owner-only permissions.
func (store *FileTokenStore) Put(key string, cred *model.Credential) error {
	if cred == nil {
		return fmt.Errorf("refusing to store nil credential for %s", key)
	}
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}
	if err := atomicfile.Write(store.path(key), data, 0o600); err != nil {
		return fmt.Errorf("failed to save token file: %w", err)
	}
	return nil
}

// Get loads the credential stored under key.
// Returns nil, nil if the file does not exist (no error).
func (store *FileTokenStore) Get(key string) (*model.Credential, error) {
	data, err := os.ReadFile(store.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var cred model.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	return &cred, nil
}

// Delete removes the credential file. Deleting a missing key is not an error.
func (store *FileTokenStore) Delete(key string) error {
	if err := os.Remove(store.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}
