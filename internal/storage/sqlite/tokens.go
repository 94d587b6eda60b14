package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/beekhof/mailclash/internal/model"
)

const credentialsDDL = `CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// TokenStore keeps serialized credentials in a key/value table.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore prepares the credentials table on db.
func NewTokenStore(db *sql.DB) (*TokenStore, error) {
	if _, err := db.Exec(credentialsDDL); err != nil {
		return nil, fmt.Errorf("create credentials table: %w", err)
	}
	return &TokenStore{db: db}, nil
}

// OpenTokenStore opens the database at path and prepares the credentials table.
func OpenTokenStore(path string) (*TokenStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	store, err := NewTokenStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Get returns the credential stored under key, or nil, nil if absent.
func (s *TokenStore) Get(key string) (*model.Credential, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM credentials WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select credential %s: %w", key, err)
	}

	var cred model.Credential
	if err := json.Unmarshal([]byte(value), &cred); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", key, err)
	}
	return &cred, nil
}

// Put inserts or replaces the credential stored under key.
func (s *TokenStore) Put(key string, cred *model.Credential) error {
	if cred == nil {
		return fmt.Errorf("refusing to store nil credential for %s", key)
	}
	value, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential %s: %w", key, err)
	}

	_, err = s.db.Exec(`INSERT INTO credentials (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(value), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert credential %s: %w", key, err)
	}
	return nil
}

// Delete removes the credential stored under key.
func (s *TokenStore) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM credentials WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete credential %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *TokenStore) Close() error {
	return s.db.Close()
}
