// Package rules persists the URL-pattern routing rules and related
// routing settings as a single JSON file. Rule order is significant:
// the auto-router uses the first structural match.
package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// Rule maps a URL glob pattern to an output device. Device is the
// human-readable label; DeviceID is the last concrete id resolved for
// it, kept as a routing hint because ids are only semi-stable across
// browsing contexts. A rule whose pattern is empty, or whose device is
// empty or the literal "Default", is kept in the list but never routes
// anything.
type Rule struct {
	Pattern  string `json:"pattern"`
	Device   string `json:"device"`
	DeviceID string `json:"device_id,omitempty"`
}

// Inert reports whether the rule is a structural match candidate at all.
func (r Rule) Inert() bool {
	if strings.TrimSpace(r.Pattern) == "" {
		return true
	}
	dev := strings.TrimSpace(r.Device)
	return dev == "" || strings.EqualFold(dev, "Default")
}

// Compile builds the matcher for the rule's pattern. Patterns use glob
// syntax over the full URL with no special separator, so "*" crosses
// path segments ("*meet.google.com/*" matches any Meet URL).
func (r Rule) Compile() (glob.Glob, error) {
	g, err := glob.Compile(r.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", r.Pattern, err)
	}
	return g, nil
}

// Settings are the persisted toggles that ride along with the rules.
type Settings struct {
	// EnableMeetTabs gates the meeting-page command surface.
	EnableMeetTabs bool `json:"enable_meet_tabs"`
	// EnableAutoRoute gates rule-driven routing entirely; manual
	// selections keep working when this is off.
	EnableAutoRoute bool `json:"enable_auto_route"`
}

type fileState struct {
	Rules    []Rule   `json:"rules"`
	Settings Settings `json:"settings"`
}

// Store manages the rules file on disk. All mutations rewrite the whole
// file; the data is tiny and a full rewrite keeps ordering trivially
// consistent.
type Store struct {
	path string
	mu   sync.RWMutex

	state fileState
}

// NewStore loads the rules file, creating parent directories and
// starting empty when the file does not exist yet. A file that exists
// but fails to parse is an error, not silent data loss.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rules store: mkdir: %w", err)
	}

	s := &Store{
		path: path,
		state: fileState{
			Rules:    []Rule{},
			Settings: Settings{EnableMeetTabs: true, EnableAutoRoute: true},
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("rules store: read: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("rules store: unmarshal %s: %w", path, err)
	}
	if s.state.Rules == nil {
		s.state.Rules = []Rule{}
	}
	slog.Info("rules loaded", "path", path, "rules", len(s.state.Rules))
	return s, nil
}

// Rules returns a copy of the rule list in stored order.
func (s *Store) Rules() []Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.state.Rules))
	copy(out, s.state.Rules)
	return out
}

// Settings returns the persisted settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Settings
}

// Replace swaps in a whole new rule list, preserving the given order.
// Every non-inert rule must carry a compilable pattern.
func (s *Store) Replace(rules []Rule) error {
	for _, r := range rules {
		if r.Inert() {
			continue
		}
		if _, err := r.Compile(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Rules = make([]Rule, len(rules))
	copy(s.state.Rules, rules)
	return s.saveLocked()
}

// Upsert replaces the rule with the same pattern or appends a new one.
func (s *Store) Upsert(rule Rule) error {
	if !rule.Inert() {
		if _, err := rule.Compile(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.state.Rules {
		if r.Pattern == rule.Pattern {
			s.state.Rules[i] = rule
			return s.saveLocked()
		}
	}
	s.state.Rules = append(s.state.Rules, rule)
	return s.saveLocked()
}

// Delete removes the rule with the given pattern. Deleting a pattern
// that is not present is not an error.
func (s *Store) Delete(pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.Rules[:0]
	for _, r := range s.state.Rules {
		if r.Pattern != pattern {
			kept = append(kept, r)
		}
	}
	s.state.Rules = kept
	return s.saveLocked()
}

// UpdateSettings persists new settings.
func (s *Store) UpdateSettings(set Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Settings = set
	return s.saveLocked()
}

// Match returns the first non-inert rule whose pattern matches the URL,
// or false when nothing matches. Inert rules are skipped entirely; they
// never match and never shadow later rules.
func (s *Store) Match(url string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.state.Rules {
		if r.Inert() {
			continue
		}
		g, err := r.Compile()
		if err != nil {
			slog.Warn("rules skipping uncompilable pattern", "pattern", r.Pattern, "error", err)
			continue
		}
		if g.Match(url) {
			return r, true
		}
	}
	return Rule{}, false
}

// saveLocked writes the file atomically via a temp file rename.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("rules store: marshal: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("rules store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rules store: rename: %w", err)
	}
	return nil
}
