package embed

import (
	"fmt"
	"sync"
)

// Pool caches embedding engines for the lifetime of the process. Keys follow
// "embedding_model:<id>:<config_hash|default>"; there is no eviction.
type Pool struct {
	mu      sync.RWMutex
	engines map[string]any
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{engines: make(map[string]any)}
}

// defaultPool is the process-wide pool. Tests reset it explicitly.
var defaultPool = NewPool()

// Default returns the process-wide pool.
func Default() *Pool { return defaultPool }

// ResetDefault replaces the process-wide pool. Test use only.
func ResetDefault() { defaultPool = NewPool() }

// Key builds a pool key from a model id and an optional config hash.
func Key(modelID, configHash string) string {
	if configHash == "" {
		configHash = "default"
	}
	return fmt.Sprintf("embedding_model:%s:%s", modelID, configHash)
}

// Dense returns the cached dense embedder for the key, instantiating it on
// first use.
func (p *Pool) Dense(modelID, configHash string, factory func() (Embedder, error)) (Embedder, error) {
	v, err := p.get(Key(modelID, configHash), func() (any, error) { return factory() })
	if err != nil {
		return nil, err
	}
	return v.(Embedder), nil
}

// Sparse returns the cached sparse embedder for the key, instantiating it on
// first use.
func (p *Pool) Sparse(modelID, configHash string, factory func() (SparseEmbedder, error)) (SparseEmbedder, error) {
	v, err := p.get(Key(modelID, configHash), func() (any, error) { return factory() })
	if err != nil {
		return nil, err
	}
	return v.(SparseEmbedder), nil
}

func (p *Pool) get(key string, factory func() (any, error)) (any, error) {
	p.mu.RLock()
	if engine, ok := p.engines[key]; ok {
		p.mu.RUnlock()
		return engine, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if engine, ok := p.engines[key]; ok {
		return engine, nil
	}
	engine, err := factory()
	if err != nil {
		return nil, err
	}
	p.engines[key] = engine
	return engine, nil
}

// Len reports how many engines are cached.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.engines)
}
