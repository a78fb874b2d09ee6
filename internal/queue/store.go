package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// PersistentState represents the queue state that gets persisted to disk
type PersistentState struct {
	Entries  []Entry `json:"entries"`
	Original []Entry `json:"original,omitempty"`
	Index    int     `json:"index"`
	Shuffle  bool    `json:"shuffle"`
	Repeat   bool    `json:"repeat"`
}

// Store handles queue persistence to disk
type Store struct {
	mu       sync.Mutex
	filePath string
	manager  *Manager
}

// NewStore creates a new queue store
func NewStore(configDir string, manager *Manager) *Store {
	return &Store{
		filePath: filepath.Join(configDir, "queue.json"),
		manager:  manager,
	}
}

// Load loads the queue state from disk
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read queue file: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse queue file: %w", err)
	}

	index := state.Index
	if len(state.Entries) == 0 {
		index = -1
	} else if index < 0 || index >= len(state.Entries) {
		index = 0
	}

	m := s.manager
	m.mu.Lock()
	m.entries = state.Entries
	m.original = state.Original
	m.index = index
	m.shuffle = state.Shuffle
	m.repeat = state.Repeat
	for _, e := range append(append([]Entry(nil), state.Entries...), state.Original...) {
		if e.Key > m.nextKey {
			m.nextKey = e.Key
		}
	}
	m.mu.Unlock()

	return nil
}

// Save saves the current queue state to disk
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.manager
	m.mu.RLock()
	state := PersistentState{
		Entries:  append([]Entry(nil), m.entries...),
		Original: append([]Entry(nil), m.original...),
		Index:    m.index,
		Shuffle:  m.shuffle,
		Repeat:   m.repeat,
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	if err := renameio.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}

	return nil
}

// GetFilePath returns the path to the queue file
func (s *Store) GetFilePath() string {
	return s.filePath
}
