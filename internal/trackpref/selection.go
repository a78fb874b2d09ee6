package trackpref

import (
	"fmt"
	"sync"

	"github.com/KartoffelChipss/pelagica/playerd/internal/prefs"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// LastLanguageStore remembers choices per item across sessions.
type LastLanguageStore interface {
	LastLanguage(itemID string) prefs.LastLanguage
	SetLastAudio(itemID string, index int) error
	SetLastSubtitle(itemID string, index int) error
	RemoveLastSubtitle(itemID string) error
}

// Selection tracks the selection for the item currently open. It is
// recomputed when preferences change, except for kinds the user picked
// explicitly, which stay frozen until the item changes.
type Selection struct {
	mu      sync.Mutex
	item    types.Item
	prefs   Preferences
	store   LastLanguageStore
	choice  Choice
	current TrackPreference
}

// NewSelection resolves the initial selection for item.
func NewSelection(item types.Item, p Preferences, store LastLanguageStore) *Selection {
	s := &Selection{item: item, prefs: p, store: store}
	s.resolveLocked()
	return s
}

func (s *Selection) resolveLocked() {
	var last prefs.LastLanguage
	if s.store != nil {
		last = s.store.LastLanguage(s.item.ID)
	}
	s.current = Resolve(s.item, s.prefs, last, s.choice)
}

// Item returns the item the selection belongs to.
func (s *Selection) Item() types.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.item
}

// Current returns the resolved selection.
func (s *Selection) Current() TrackPreference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetItem switches to another item and drops the explicit choices.
func (s *Selection) SetItem(item types.Item) TrackPreference {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID != s.item.ID {
		s.choice = Choice{}
	}
	s.item = item
	s.resolveLocked()
	return s.current
}

// SetPreferences applies changed language preferences.
func (s *Selection) SetPreferences(p Preferences) TrackPreference {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs = p
	s.resolveLocked()
	return s.current
}

// ChooseAudio freezes the audio selection and remembers it for the item.
func (s *Selection) ChooseAudio(index int) (TrackPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.choice.AudioSet = true
	s.choice.Audio = index
	s.resolveLocked()

	if s.store != nil {
		if err := s.store.SetLastAudio(s.item.ID, index); err != nil {
			return s.current, fmt.Errorf("remember audio choice: %w", err)
		}
	}
	return s.current, nil
}

// ChooseSubtitle freezes the subtitle selection; nil switches subtitles off.
func (s *Selection) ChooseSubtitle(index *int) (TrackPreference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.choice.SubtitleSet = true
	s.choice.Subtitle = copyIndex(index)
	s.resolveLocked()

	if s.store == nil {
		return s.current, nil
	}
	var err error
	if index == nil {
		err = s.store.RemoveLastSubtitle(s.item.ID)
	} else {
		err = s.store.SetLastSubtitle(s.item.ID, *index)
	}
	if err != nil {
		return s.current, fmt.Errorf("remember subtitle choice: %w", err)
	}
	return s.current, nil
}
