// Package queue manages the playback queue.
package queue

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

var (
	// ErrEmpty is returned when loading a queue with no tracks.
	ErrEmpty = errors.New("queue: no tracks")
	// ErrIndexOutOfRange is returned for an index outside the queue.
	ErrIndexOutOfRange = errors.New("queue: index out of range")
)

// Entry is one position in the queue. Key is unique per load and is what
// shuffle reversal matches on, so the same track queued twice stays distinct.
type Entry struct {
	Key   uint64      `json:"key"`
	Track types.Track `json:"track"`
}

// ChangeCallback is called when the queue state changes
type ChangeCallback func()

// Manager manages the playback queue
type Manager struct {
	mu       sync.RWMutex
	entries  []Entry // play order
	original []Entry // order before any shuffle, captured once per Load
	index    int     // -1 iff entries is empty
	shuffle  bool
	repeat   bool
	nextKey  uint64
	rng      *rand.Rand
	onChange ChangeCallback
}

// NewManager creates a new queue manager
func NewManager() *Manager {
	return &Manager{
		index: -1,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetOnChange sets a callback to be called when the queue state changes
func (m *Manager) SetOnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// notifyChange calls the onChange callback if set (must be called without lock held)
func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (m *Manager) newEntries(tracks []types.Track) []Entry {
	entries := make([]Entry, len(tracks))
	for i, t := range tracks {
		m.nextKey++
		entries[i] = Entry{Key: m.nextKey, Track: t}
	}
	return entries
}

// Load replaces the queue. The original order is captured here. When shuffle
// is on, the start track is placed first and the rest are shuffled behind it.
func (m *Manager) Load(tracks []types.Track, startIndex int) (types.Track, error) {
	if len(tracks) == 0 {
		return types.Track{}, ErrEmpty
	}
	if startIndex < 0 || startIndex >= len(tracks) {
		return types.Track{}, ErrIndexOutOfRange
	}

	m.mu.Lock()
	m.original = m.newEntries(tracks)
	m.index = startIndex
	m.entries = append([]Entry(nil), m.original...)

	if m.shuffle {
		start := m.entries[startIndex]
		rest := make([]Entry, 0, len(m.entries)-1)
		rest = append(rest, m.entries[:startIndex]...)
		rest = append(rest, m.entries[startIndex+1:]...)
		m.shuffleEntries(rest)
		m.entries = append([]Entry{start}, rest...)
		m.index = 0
	}
	current := m.entries[m.index].Track
	m.mu.Unlock()

	m.notifyChange()
	return current, nil
}

// Append adds tracks to the end of the queue and of the original order.
func (m *Manager) Append(tracks []types.Track) {
	if len(tracks) == 0 {
		return
	}

	m.mu.Lock()
	added := m.newEntries(tracks)
	m.entries = append(m.entries, added...)
	m.original = append(m.original, added...)
	if m.index < 0 {
		m.index = 0
	}
	m.mu.Unlock()

	m.notifyChange()
}

// Clear empties the queue. Shuffle and repeat modes are kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.entries = nil
	m.original = nil
	m.index = -1
	m.mu.Unlock()
	m.notifyChange()
}

// shuffleEntries is a Fisher-Yates shuffle in place.
func (m *Manager) shuffleEntries(entries []Entry) {
	for i := len(entries) - 1; i > 0; i-- {
		j := m.rng.Intn(i + 1)
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// Current returns the current track
func (m *Manager) Current() (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 {
		return types.Track{}, false
	}
	return m.entries[m.index].Track, true
}

// At returns the track at a queue position
func (m *Manager) At(index int) (types.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.entries) {
		return types.Track{}, false
	}
	return m.entries[index].Track, true
}

// NextIndex returns the position skipNext would move to. At the end it wraps
// to 0 only with repeat on.
func (m *Manager) NextIndex() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.entries)
	if n == 0 {
		return -1, false
	}
	if m.index+1 < n {
		return m.index + 1, true
	}
	if m.repeat {
		return 0, true
	}
	return -1, false
}

// PrevIndex returns the position of the previous track. At the start it
// wraps to the last index only with repeat on.
func (m *Manager) PrevIndex() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.entries)
	if n == 0 {
		return -1, false
	}
	if m.index-1 >= 0 {
		return m.index - 1, true
	}
	if m.repeat {
		return n - 1, true
	}
	return -1, false
}

// SetIndex sets the current queue index
func (m *Manager) SetIndex(index int) (types.Track, error) {
	m.mu.Lock()

	if index < 0 || index >= len(m.entries) {
		m.mu.Unlock()
		return types.Track{}, ErrIndexOutOfRange
	}

	m.index = index
	track := m.entries[index].Track
	m.mu.Unlock()
	m.notifyChange()
	return track, nil
}

// Position returns the current index and queue size
func (m *Manager) Position() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.index, len(m.entries)
}

// Entries returns the queue in play order
func (m *Manager) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]Entry(nil), m.entries...)
}

// Tracks returns the tracks in play order
func (m *Manager) Tracks() []types.Track {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tracks := make([]types.Track, len(m.entries))
	for i, e := range m.entries {
		tracks[i] = e.Track
	}
	return tracks
}

// SetShuffle enables or disables shuffle mode.
//
// Enabling shuffles every entry except the current one, which keeps its
// position. Disabling restores the original order and moves the index to
// wherever the current entry sits in it; if it is missing the index falls
// back to 0.
func (m *Manager) SetShuffle(enabled bool) {
	m.mu.Lock()

	if enabled == m.shuffle {
		m.mu.Unlock()
		return
	}
	m.shuffle = enabled

	if enabled {
		m.shuffleAroundCurrent()
	} else {
		m.restoreOriginal()
	}

	m.mu.Unlock()
	m.notifyChange()
}

// ToggleShuffle flips shuffle mode and returns the new state
func (m *Manager) ToggleShuffle() bool {
	m.mu.RLock()
	enabled := !m.shuffle
	m.mu.RUnlock()
	m.SetShuffle(enabled)
	return enabled
}

func (m *Manager) shuffleAroundCurrent() {
	if len(m.original) == 0 {
		m.original = append([]Entry(nil), m.entries...)
	}
	if len(m.entries) < 2 {
		return
	}

	positions := make([]int, 0, len(m.entries)-1)
	others := make([]Entry, 0, len(m.entries)-1)
	for i, e := range m.entries {
		if i == m.index {
			continue
		}
		positions = append(positions, i)
		others = append(others, e)
	}
	m.shuffleEntries(others)
	for i, pos := range positions {
		m.entries[pos] = others[i]
	}
}

func (m *Manager) restoreOriginal() {
	if len(m.original) == 0 {
		return
	}

	var currentKey uint64
	hasCurrent := m.index >= 0 && m.index < len(m.entries)
	if hasCurrent {
		currentKey = m.entries[m.index].Key
	}

	m.entries = append([]Entry(nil), m.original...)
	m.index = 0
	if hasCurrent {
		for i, e := range m.entries {
			if e.Key == currentKey {
				m.index = i
				break
			}
		}
	}
}

// Shuffle returns whether shuffle is enabled
func (m *Manager) Shuffle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.shuffle
}

// SetRepeat sets the repeat mode
func (m *Manager) SetRepeat(enabled bool) {
	m.mu.Lock()
	m.repeat = enabled
	m.mu.Unlock()
	m.notifyChange()
}

// Repeat returns whether repeat is enabled
func (m *Manager) Repeat() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.repeat
}
