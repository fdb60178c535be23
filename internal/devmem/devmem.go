// Package devmem keeps the per-tab output-device memory: every observed
// label-to-id association, the last applied selection, and whether that
// selection was made manually by the user. State is tab-scoped and
// in-memory only; device ids are ephemeral per browsing context, so
// nothing here is worth persisting across runs.
package devmem

import (
	"log/slog"
	"sync"
)

// Selection is the last applied device choice for one tab.
type Selection struct {
	Label  string
	LastID string
	Manual bool
}

type tabMemory struct {
	last Selection
	has  bool
	// labels maps device label to the last concrete id observed for it
	// in this tab's browsing context.
	labels map[string]string
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	tabs map[string]*tabMemory
}

func NewStore() *Store {
	return &Store{tabs: make(map[string]*tabMemory)}
}

func (s *Store) tabLocked(tabID string) *tabMemory {
	m := s.tabs[tabID]
	if m == nil {
		m = &tabMemory{labels: make(map[string]string)}
		s.tabs[tabID] = m
	}
	return m
}

// Record remembers an applied selection for a tab. Manual selections set
// the override flag; automatic (rule-driven) selections never clear a
// manual flag already present — the user's explicit choice outranks
// rules until the tab goes away. The label-to-id association is cached
// either way.
func (s *Store) Record(tabID, label, id string, manual bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.tabLocked(tabID)
	if label != "" && id != "" {
		m.labels[label] = id
	}
	if !manual && m.last.Manual {
		// Rules lost the race to a manual override; keep the label the
		// user chose but refresh the id if it is for the same device.
		if label == m.last.Label {
			m.last.LastID = id
		}
		return
	}
	m.has = true
	m.last.Label = label
	m.last.LastID = id
	if manual {
		m.last.Manual = true
	}
	slog.Debug("devmem recorded", "tab_id", tabID, "label", label, "manual", m.last.Manual)
}

// RecordLabel caches an observed label-to-id pair without treating it as
// a selection. Called for every device seen during enumeration so a
// later lookup by label can succeed even if a fresh enumeration omits
// the device.
func (s *Store) RecordLabel(tabID, label, id string) {
	if label == "" || id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabLocked(tabID).labels[label] = id
}

// LookupLabel returns the last concrete id observed for a label in this
// tab. The association is tab-scoped; the same label maps to different
// ids in different tabs.
func (s *Store) LookupLabel(tabID, label string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.tabs[tabID]
	if m == nil {
		return "", false
	}
	id, ok := m.labels[label]
	return id, ok
}

// Lookup returns the last applied selection for a tab, if any.
func (s *Store) Lookup(tabID string) (Selection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.tabs[tabID]
	if m == nil || !m.has {
		return Selection{}, false
	}
	return m.last, true
}

// IsManual reports whether the tab carries a manual override.
func (s *Store) IsManual(tabID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.tabs[tabID]
	return m != nil && m.last.Manual
}

// Clear forgets a tab entirely. Called when the tab closes; a recycled
// tab id must start with no memory and no manual override.
func (s *Store) Clear(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[tabID]; ok {
		delete(s.tabs, tabID)
		slog.Debug("devmem cleared", "tab_id", tabID)
	}
}
