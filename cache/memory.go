// Package cache provides caption caches for the upscale pipeline.
//
// Keys are opaque strings built by upscale.CaptionKey; they already fold in
// the tagger settings, so entries never need per-setting invalidation.
// Clear drops everything, for example after swapping tagger models on disk.
package cache

import (
	"context"
	"sync"
)

// Memory is an in-process cache. The zero value is ready to use and safe
// for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]string
	hits    int
	misses  int
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if ok {
		m.hits++
	} else {
		m.misses++
	}
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	m.entries[key] = caption
	return nil
}

// Clear removes every entry and resets the counters.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]string)
	m.hits, m.misses = 0, 0
}

// Len returns the number of cached captions.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Stats returns hit and miss counts since creation or the last Clear.
func (m *Memory) Stats() (hits, misses int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hits, m.misses
}
