package assetgen

import (
	"fmt"
	"sync"

	"citygen/internal/domain"
)

// Library holds every accepted asset instance of a run, in insertion order.
// It is safe for concurrent use; each key is written at most once.
type Library struct {
	mu      sync.Mutex
	entries map[string]domain.GeneratedAsset
	order   []string
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{entries: make(map[string]domain.GeneratedAsset)}
}

// Add stores asset under the next instance key "<asset id>_<n>", where n is
// the library size after insertion, and returns the key.
func (l *Library) Add(asset domain.GeneratedAsset) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := fmt.Sprintf("%s_%d", asset.AssetID, len(l.order)+1)
	if err := l.insertLocked(key, asset); err != nil {
		return "", err
	}
	return key, nil
}

// Insert stores asset under an explicit key. An occupied key is rejected
// with domain.ErrDuplicateInstance.
func (l *Library) Insert(key string, asset domain.GeneratedAsset) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insertLocked(key, asset)
}

func (l *Library) insertLocked(key string, asset domain.GeneratedAsset) error {
	if _, ok := l.entries[key]; ok {
		return fmt.Errorf("assetgen: %s: %w", key, domain.ErrDuplicateInstance)
	}
	l.entries[key] = asset
	l.order = append(l.order, key)
	return nil
}

// Get returns the asset stored under key.
func (l *Library) Get(key string) (domain.GeneratedAsset, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.entries[key]
	return a, ok
}

// Len reports the number of stored instances.
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Entries returns a snapshot of the library in insertion order.
func (l *Library) Entries() []domain.LibraryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.LibraryEntry, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, domain.LibraryEntry{Key: key, Asset: l.entries[key]})
	}
	return out
}
