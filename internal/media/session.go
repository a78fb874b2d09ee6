// Package media provides OS-level media session integration.
package media

import (
	"errors"
	"time"
)

// ErrUnsupported is returned by NewSession where no media surface exists.
var ErrUnsupported = errors.New("media session not supported on this platform")

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// Artwork is one rendition of the cover image.
type Artwork struct {
	URL  string
	Size int // square, in pixels
}

// Metadata contains track metadata for media session display
type Metadata struct {
	TrackID  string
	Title    string
	Artists  []string
	Album    string
	Duration time.Duration
	Artwork  []Artwork
}

// Largest returns the biggest artwork, if any.
func (m Metadata) Largest() (Artwork, bool) {
	var best Artwork
	for _, a := range m.Artwork {
		if a.Size > best.Size {
			best = a
		}
	}
	return best, best.URL != ""
}

// PositionState is the position/duration/rate triple shown by the OS.
type PositionState struct {
	Position time.Duration
	Duration time.Duration
	Rate     float64
}

// Action is a control the OS surface can invoke.
type Action string

const (
	ActionPlay         Action = "play"
	ActionPause        Action = "pause"
	ActionPrevious     Action = "previoustrack"
	ActionNext         Action = "nexttrack"
	ActionSeekTo       Action = "seekto"
	ActionSeekBackward Action = "seekbackward"
	ActionSeekForward  Action = "seekforward"
	ActionShuffle      Action = "shuffle"
	ActionRepeat       Action = "repeat"
)

// Actions lists every action a bridge registers.
var Actions = []Action{
	ActionPlay, ActionPause, ActionPrevious, ActionNext,
	ActionSeekTo, ActionSeekBackward, ActionSeekForward,
	ActionShuffle, ActionRepeat,
}

// ActionDetails carries the arguments of an action.
type ActionDetails struct {
	// SeekTime is the target of seekto
	SeekTime time.Duration
	// SeekOffset is the step of seekforward/seekbackward, zero for the default
	SeekOffset time.Duration
	// Enabled is the requested mode of shuffle/repeat
	Enabled bool
}

// ActionHandler runs an action.
type ActionHandler func(ActionDetails) error

// Session is the interface for OS media session integration
type Session interface {
	SetMetadata(metadata Metadata) error
	SetPlaybackState(state PlaybackState) error
	SetPositionState(state PositionState) error
	SetModes(shuffle, repeat bool) error

	// SetActionHandler registers handler for action; nil unregisters it.
	SetActionHandler(action Action, handler ActionHandler)

	Close() error
}

// NoOpSession is a session that does nothing
// Used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) SetMetadata(Metadata) error { return nil }
func (s *NoOpSession) SetPlaybackState(PlaybackState) error { return nil }
func (s *NoOpSession) SetPositionState(PositionState) error { return nil }
func (s *NoOpSession) SetModes(bool, bool) error { return nil }
func (s *NoOpSession) SetActionHandler(Action, ActionHandler) {}
func (s *NoOpSession) Close() error { return nil }
