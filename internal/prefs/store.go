// Package prefs persists small local preferences: the player volume and the
// last audio/subtitle stream chosen per item.
package prefs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// VolumeKey is the storage key of the music player volume.
const VolumeKey = "music_volume"

const lastLanguageKey = "lastLanguageByItem"

// DefaultVolume is used until a volume has been stored.
const DefaultVolume = 0.5

// LastLanguage is the stream choice remembered for one item.
type LastLanguage struct {
	Audio    *int `json:"audio,omitempty"`
	Subtitle *int `json:"subtitle,omitempty"`
}

// Store is a JSON key-value file. Unreadable values read as unset.
type Store struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// Open loads the store at dir/prefs.json. A missing file is an empty store.
func Open(dir string) (*Store, error) {
	s := &Store{
		path:   filepath.Join(dir, "prefs.json"),
		values: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read prefs: %w", err)
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse prefs: %w", err)
	}
	return s, nil
}

func (s *Store) getLocked(key string, v any) bool {
	raw, ok := s.values[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (s *Store) setLocked(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	s.values[key] = raw
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create prefs directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	return nil
}

// Volume returns the stored volume, or DefaultVolume.
func (s *Store) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v float64
	if !s.getLocked(VolumeKey, &v) || v < 0 || v > 1 {
		return DefaultVolume
	}
	return v
}

// SetVolume stores the volume clamped to [0, 1].
func (s *Store) SetVolume(v float64) error {
	v = min(max(v, 0), 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(VolumeKey, v)
}

func (s *Store) languagesLocked() map[string]LastLanguage {
	m := map[string]LastLanguage{}
	s.getLocked(lastLanguageKey, &m)
	return m
}

// LastLanguage returns what was last chosen for the item.
func (s *Store) LastLanguage(itemID string) LastLanguage {
	if itemID == "" {
		return LastLanguage{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.languagesLocked()[itemID]
}

// SetLastAudio remembers the audio stream index for the item.
func (s *Store) SetLastAudio(itemID string, index int) error {
	return s.updateLanguage(itemID, func(l *LastLanguage) { l.Audio = &index })
}

// SetLastSubtitle remembers the subtitle index for the item.
func (s *Store) SetLastSubtitle(itemID string, index int) error {
	return s.updateLanguage(itemID, func(l *LastLanguage) { l.Subtitle = &index })
}

// RemoveLastAudio forgets the audio choice for the item.
func (s *Store) RemoveLastAudio(itemID string) error {
	return s.updateLanguage(itemID, func(l *LastLanguage) { l.Audio = nil })
}

// RemoveLastSubtitle forgets the subtitle choice for the item.
func (s *Store) RemoveLastSubtitle(itemID string) error {
	return s.updateLanguage(itemID, func(l *LastLanguage) { l.Subtitle = nil })
}

func (s *Store) updateLanguage(itemID string, fn func(*LastLanguage)) error {
	if itemID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.languagesLocked()
	l := m[itemID]
	fn(&l)
	if l.Audio == nil && l.Subtitle == nil {
		delete(m, itemID)
	} else {
		m[itemID] = l
	}
	return s.setLocked(lastLanguageKey, m)
}

// String returns a stored string value.
func (s *Store) String(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v string
	ok := s.getLocked(key, &v)
	return v, ok && v != ""
}

// SetString stores a string value.
func (s *Store) SetString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, value)
}
