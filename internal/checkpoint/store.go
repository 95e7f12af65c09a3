package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// Store persists ingestion checkpoints under a directory, one JSON file per
// correlation id. Saves are atomic (temp file + fsync + rename) and guarded by
// an advisory file lock so two processes never write the same directory.
type Store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewStore creates the checkpoint directory if needed and acquires the
// directory lock. A second process holding the lock is reported as a locked
// error rather than blocking.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			fmt.Sprintf("failed to create checkpoint directory %s", dir))
	}

	lock := flock.New(filepath.Join(dir, ".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to acquire checkpoint lock")
	}
	if !ok {
		return nil, citeerrors.New(citeerrors.ErrCodeZoteroDatabaseLocked,
			fmt.Sprintf("checkpoint directory %s is locked by another process", dir)).
			WithSuggestion("Wait for the other ingestion run to finish or remove a stale .lock file")
	}

	return &Store{dir: dir, lock: lock}, nil
}

// Close releases the directory lock.
func (s *Store) Close() error {
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}

func (s *Store) path(correlationID string) string {
	return filepath.Join(s.dir, correlationID+".json")
}

// Save validates and atomically writes the checkpoint. A partial write never
// replaces a previously valid file.
func (s *Store) Save(ckpt *IngestionCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ckpt.Validate(); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInvalidInput, "refusing to save inconsistent checkpoint")
	}

	data, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to encode checkpoint")
	}

	if err := renameio.WriteFile(s.path(ckpt.CorrelationID), data, 0o644); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			fmt.Sprintf("failed to write checkpoint %s", ckpt.CorrelationID))
	}
	return nil
}

// Load reads a checkpoint by correlation id. Returns (nil, nil) when no
// checkpoint exists. Corrupt JSON is surfaced as an error, never dropped.
func (s *Store) Load(correlationID string) (*IngestionCheckpoint, error) {
	data, err := os.ReadFile(s.path(correlationID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			fmt.Sprintf("failed to read checkpoint %s", correlationID))
	}

	var ckpt IngestionCheckpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeCheckpointCorrupt,
			fmt.Sprintf("checkpoint %s is not valid JSON", correlationID)).
			WithSuggestion("Delete the corrupt checkpoint file to start a fresh batch")
	}
	if err := ckpt.Validate(); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeCheckpointCorrupt,
			fmt.Sprintf("checkpoint %s failed validation", correlationID))
	}
	return &ckpt, nil
}

// Exists reports whether a checkpoint file exists for the correlation id.
func (s *Store) Exists(correlationID string) bool {
	_, err := os.Stat(s.path(correlationID))
	return err == nil
}

// List returns the correlation ids of all stored checkpoints.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to list checkpoints")
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			ids = append(ids, name[:len(name)-len(".json")])
		}
	}
	return ids, nil
}
