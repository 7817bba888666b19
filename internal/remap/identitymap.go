// Package remap holds the identity-resolution state for a restore run: the
// per-kind mapping from old identifiers to their counterparts in the target
// instance, and the ordered report of per-entity outcomes.
package remap

import "sync"

// Resolution is the terminal state of one entity's restore.
type Resolution string

const (
	// Created means the entity was created in the target.
	Created Resolution = "created"
	// MatchedExisting means an entity with the same natural key already
	// existed in the target and was reused.
	MatchedExisting Resolution = "matched"
	// SkippedMissingDependency means a required reference never resolved,
	// so the entity was not submitted at all.
	SkippedMissingDependency Resolution = "skipped-missing-dependency"
	// Failed means the create call was attempted and rejected.
	Failed Resolution = "failed"
)

// Entry records how one old identifier resolved in the target.
type Entry struct {
	NewID  int64
	Key    string
	Method Resolution
}

// IdentityMap maps, per entity kind, old numeric identifiers to their
// resolution in the target system. Workers of the same kind append
// concurrently; the map is mutex-protected.
type IdentityMap struct {
	mu    sync.Mutex
	kinds map[string]map[int64]Entry
}

// NewIdentityMap returns an empty map.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{kinds: make(map[string]map[int64]Entry)}
}

// Put records the resolution of one old identifier.
func (m *IdentityMap) Put(kind string, oldID int64, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.kinds[kind]
	if !ok {
		byID = make(map[int64]Entry)
		m.kinds[kind] = byID
	}
	byID[oldID] = e
}

// Entry returns the recorded resolution for an old identifier.
func (m *IdentityMap) Entry(kind string, oldID int64) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kinds[kind][oldID]
	return e, ok
}

// Resolve returns the new identifier for an old one, but only when the
// entity actually exists in the target (created or matched). Dependents must
// never be built on a failed or skipped reference.
func (m *IdentityMap) Resolve(kind string, oldID int64) (int64, bool) {
	e, ok := m.Entry(kind, oldID)
	if !ok || (e.Method != Created && e.Method != MatchedExisting) {
		return 0, false
	}
	return e.NewID, true
}

// ResolvedCount returns how many entries of a kind are created or matched.
func (m *IdentityMap) ResolvedCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.kinds[kind] {
		if e.Method == Created || e.Method == MatchedExisting {
			n++
		}
	}
	return n
}
