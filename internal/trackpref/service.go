package trackpref

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// ErrNoItem is returned when choosing a track before any item was opened.
var ErrNoItem = errors.New("trackpref: no item open")

// Catalog is what the service reads from the media server.
type Catalog interface {
	Item(ctx context.Context, userID, itemID string) (types.Item, error)
	UserConfiguration(ctx context.Context, userID string) (types.UserConfiguration, error)
}

// Service resolves the selection of the item currently open for video
// playback. Local overrides beat the server-side user configuration.
type Service struct {
	catalog Catalog
	userID  string
	store   LastLanguageStore
	logger  zerolog.Logger

	mu        sync.Mutex
	overrides Preferences
	server    Preferences
	selection *Selection
}

// NewService creates a service for userID. store may be nil.
func NewService(catalog Catalog, userID string, store LastLanguageStore, overrides Preferences) *Service {
	return &Service{
		catalog:   catalog,
		userID:    userID,
		store:     store,
		overrides: overrides,
		logger:    log.WithComponent("trackpref"),
	}
}

func (s *Service) preferencesLocked() Preferences {
	p := s.server
	if s.overrides.AudioLanguage != "" {
		p.AudioLanguage = s.overrides.AudioLanguage
	}
	if s.overrides.SubtitleLanguage != "" {
		p.SubtitleLanguage = s.overrides.SubtitleLanguage
	}
	return p
}

// Open fetches itemID with its streams and resolves its selection. Opening
// the same item again keeps explicit choices.
func (s *Service) Open(ctx context.Context, itemID string) (types.Item, TrackPreference, error) {
	item, err := s.catalog.Item(ctx, s.userID, itemID)
	if err != nil {
		return types.Item{}, TrackPreference{}, fmt.Errorf("fetch item: %w", err)
	}

	uc, err := s.catalog.UserConfiguration(ctx, s.userID)
	if err != nil {
		// the last known server preferences still apply
		s.logger.Warn().Err(err).Msg("failed to fetch user configuration")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		s.server = Preferences{
			AudioLanguage:    uc.AudioLanguagePreference,
			SubtitleLanguage: uc.SubtitleLanguagePreference,
		}
	}

	if s.selection == nil {
		s.selection = NewSelection(item, s.preferencesLocked(), s.store)
		return item, s.selection.Current(), nil
	}
	s.selection.SetPreferences(s.preferencesLocked())
	return item, s.selection.SetItem(item), nil
}

// Current returns the open item's selection.
func (s *Service) Current() (string, TrackPreference, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selection == nil {
		return "", TrackPreference{}, false
	}
	return s.selection.Item().ID, s.selection.Current(), true
}

// SetOverrides replaces the local overrides and re-resolves the open item.
func (s *Service) SetOverrides(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overrides = p
	if s.selection != nil {
		cur := s.selection.SetPreferences(s.preferencesLocked())
		s.logger.Debug().Str("item_id", s.selection.Item().ID).Int("audio", cur.AudioIndex).Msg("preferences changed")
	}
}

func (s *Service) open() (*Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return nil, ErrNoItem
	}
	return s.selection, nil
}

// ChooseAudio picks an audio stream for the open item.
func (s *Service) ChooseAudio(index int) (TrackPreference, error) {
	sel, err := s.open()
	if err != nil {
		return TrackPreference{}, err
	}
	return sel.ChooseAudio(index)
}

// ChooseSubtitle picks a subtitle for the open item; nil turns them off.
func (s *Service) ChooseSubtitle(index *int) (TrackPreference, error) {
	sel, err := s.open()
	if err != nil {
		return TrackPreference{}, err
	}
	return sel.ChooseSubtitle(index)
}
