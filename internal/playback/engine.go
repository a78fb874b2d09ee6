// Package playback owns the music queue and the single audio engine, and
// keeps the media server informed of what is playing.
package playback

import (
	"context"
	"fmt"

	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// Engine is the one media engine of a playback surface. Implementations
// report what happens to the loaded source as Events, tagged with the item
// id passed to Load, and must never deliver them synchronously from inside
// one of these methods.
type Engine interface {
	Load(ctx context.Context, url, itemID string) error
	Play() error
	Pause() error
	Seek(position types.Ticks) error
	Stop() error
	SetVolume(volume float64) error
}

// EventKind identifies an engine notification.
type EventKind int

const (
	EventPlay EventKind = iota
	EventPause
	EventTimeUpdate
	EventDurationChange
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventTimeUpdate:
		return "timeupdate"
	case EventDurationChange:
		return "durationchange"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a notification from the engine.
type Event struct {
	Kind     EventKind
	ItemID   string
	Position types.Ticks
	Duration types.Ticks
	Err      error
}

// StreamSource builds playable URLs for tracks.
type StreamSource interface {
	AudioStreamURL(trackID string) (string, error)
}

// VolumeStore persists the volume between runs.
type VolumeStore interface {
	Volume() float64
	SetVolume(v float64) error
}
