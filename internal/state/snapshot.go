package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/beekhof/mailclash/internal/model"
	"github.com/beekhof/mailclash/internal/storage/atomicfile"
)

const snapshotVersion = 1

// Snapshot is the on-disk form of the state.
type Snapshot struct {
	Version   int                   `json:"version"`
	Accounts  []string              `json:"accounts"`
	Events    []model.Event         `json:"events"`
	Clashes   []model.Clash         `json:"clashes"`
	Calendar  map[string]Marker     `json:"calendar"`
	Dismissed []string              `json:"dismissed,omitempty"`
	Synced    map[string]SyncRecord `json:"synced,omitempty"`
}

// FileSnapshotStore keeps the snapshot in a single JSON file.
type FileSnapshotStore struct {
	Path string
}

// Save atomically replaces the snapshot file.
func (f *FileSnapshotStore) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return atomicfile.Write(f.Path, data, 0o600)
}

// Load reads the snapshot file. A missing file yields an empty snapshot.
func (f *FileSnapshotStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{Version: snapshotVersion}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse state file %s: %w", f.Path, err)
	}
	if snap.Version > snapshotVersion {
		return Snapshot{}, fmt.Errorf("state file %s has unsupported version %d", f.Path, snap.Version)
	}
	return snap, nil
}

// Open loads the state persisted at path and keeps persisting there.
func Open(path string) (*State, error) {
	store := &FileSnapshotStore{Path: path}
	snap, err := store.Load()
	if err != nil {
		return nil, err
	}
	return FromSnapshot(snap, store), nil
}
