package vecindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio"

	citeerrors "github.com/citeloom/citeloom/internal/errors"
)

// Binding pins a collection to its embedding models. Once bound, the dense
// model can only change through a force rebuild.
type Binding struct {
	ProjectID     string    `json:"project_id"`
	Collection    string    `json:"collection"`
	DenseModel    string    `json:"dense_model"`
	SparseModel   string    `json:"sparse_model,omitempty"`
	HybridEnabled bool      `json:"hybrid_enabled"`
	BoundAt       time.Time `json:"bound_at"`
}

// BindingStore persists bindings keyed by collection name. Writes replace the
// whole file atomically.
type BindingStore struct {
	mu       sync.Mutex
	path     string
	bindings map[string]Binding
}

// NewBindingStore loads the binding file at path, creating an empty store
// when it does not exist yet.
func NewBindingStore(path string) (*BindingStore, error) {
	s := &BindingStore{path: path, bindings: make(map[string]Binding)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to read collection bindings")
	}
	if err := json.Unmarshal(data, &s.bindings); err != nil {
		return nil, citeerrors.Wrap(err, citeerrors.ErrCodeInternal,
			"collection binding file is corrupt: "+path)
	}
	return s, nil
}

// Get returns the binding for a collection name.
func (s *BindingStore) Get(collection string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[collection]
	return b, ok
}

// Put records a binding and persists the file.
func (s *BindingStore) Put(b Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[b.Collection] = b
	return s.flushLocked()
}

// Delete removes a binding and persists the file.
func (s *BindingStore) Delete(collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, collection)
	return s.flushLocked()
}

// List returns all bindings ordered by project id.
func (s *BindingStore) List() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return out
}

func (s *BindingStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to create binding directory")
	}
	data, err := json.MarshalIndent(s.bindings, "", "  ")
	if err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to encode collection bindings")
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return citeerrors.Wrap(err, citeerrors.ErrCodeInternal, "failed to write collection bindings")
	}
	return nil
}
