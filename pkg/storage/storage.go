// Package storage implements the three-tier persistence policy of
// spec §6: an in-process LRU hot tier, a warm tier behind a KVStore
// interface, and a cold archive tier that receives only the keys a
// caller passes to Archive; no age-based (epoch) horizon is applied
// here. Persistence backends themselves
// are out of scope (spec §1, "treated as a key-value interface"); this
// package supplies the interface and an in-memory reference
// implementation of it.
//
// Grounded on the (now superseded) pkg/unified/erigon_storage.go's
// hot/warm/cold tiering idea, generalized to the spec's plain KV model
// — no Erigon-style flat-file/MDBX layout, since that is EVM-state
// specific and out of scope here.
package storage

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// KVStore is the interface a real persistence backend (the teacher's
// leveldb, or any other store) would implement for the warm and cold
// tiers. This package's Tiered type ships an in-memory implementation
// of it so the tiering policy is runnable without a backend.
type KVStore interface {
	Get(key []byte) ([]byte, bool)
	Put(key []byte, value []byte)
	Delete(key []byte)
}

// memStore is a trivial in-memory KVStore.
type memStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(key []byte) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	return v, ok
}

func (m *memStore) Put(key []byte, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
}

func (m *memStore) Delete(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
}

// DefaultHotTierSize bounds the LRU working set, in entries.
const DefaultHotTierSize = 4096

// Tiered implements the hot/warm/cold policy: reads check the LRU hot
// tier first, then the warm KVStore, promoting warm hits into the hot
// tier on access; writes land in both hot and warm. Cold is a separate
// KVStore that only receives entries explicitly archived by Archive,
// and is never consulted by Get/Put directly (archived keys are
// assumed evicted from warm by the caller before archiving).
type Tiered struct {
	hot  *lru.Cache
	warm KVStore
	cold KVStore
}

// NewTiered constructs a Tiered store with an LRU hot tier of the
// given size (defaulting to DefaultHotTierSize) and in-memory warm/cold
// tiers.
func NewTiered(hotSize int) (*Tiered, error) {
	if hotSize <= 0 {
		hotSize = DefaultHotTierSize
	}
	hot, err := lru.New(hotSize)
	if err != nil {
		return nil, fmt.Errorf("storage: new hot tier: %w", err)
	}
	return &Tiered{hot: hot, warm: newMemStore(), cold: newMemStore()}, nil
}

// Get looks up key in the hot tier, falling back to warm and promoting
// the value into hot on a warm hit.
func (t *Tiered) Get(key []byte) ([]byte, bool) {
	if v, ok := t.hot.Get(string(key)); ok {
		return v.([]byte), true
	}
	if v, ok := t.warm.Get(key); ok {
		t.hot.Add(string(key), v)
		return v, true
	}
	return nil, false
}

// Put writes key/value to both the hot and warm tiers.
func (t *Tiered) Put(key []byte, value []byte) {
	t.hot.Add(string(key), value)
	t.warm.Put(key, value)
}

// Delete removes key from the hot and warm tiers.
func (t *Tiered) Delete(key []byte) {
	t.hot.Remove(string(key))
	t.warm.Delete(key)
}

// Archive moves key from the warm tier into cold storage, for
// snapshots the caller has determined are older than the retention
// horizon (spec §6). The hot tier's copy, if any, is evicted too.
func (t *Tiered) Archive(key []byte) {
	if v, ok := t.warm.Get(key); ok {
		t.cold.Put(key, v)
		t.warm.Delete(key)
	}
	t.hot.Remove(string(key))
}

// GetArchived looks up key in the cold tier only.
func (t *Tiered) GetArchived(key []byte) ([]byte, bool) {
	return t.cold.Get(key)
}
