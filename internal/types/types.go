// Package types provides shared type definitions used across the playerd daemon.
package types

import (
	"strconv"
	"time"
)

// Ticks is the media server's native time unit: 10,000,000 per second.
type Ticks int64

// TicksPerSecond is the number of ticks in one second.
const TicksPerSecond Ticks = 10_000_000

// TicksFromDuration converts a duration to ticks (one tick is 100ns).
func TicksFromDuration(d time.Duration) Ticks {
	return Ticks(d / 100)
}

// TicksFromSeconds converts fractional seconds, as reported by media engines, to ticks.
func TicksFromSeconds(s float64) Ticks {
	return Ticks(s * float64(TicksPerSecond))
}

// Duration converts ticks to a time.Duration.
func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * 100
}

// Seconds returns the tick count as fractional seconds.
func (t Ticks) Seconds() float64 {
	return float64(t) / float64(TicksPerSecond)
}

func (t Ticks) String() string {
	return strconv.FormatInt(int64(t), 10)
}

// Track is a playable audio item. Identity is ID.
type Track struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Artists   []string `json:"artists,omitempty"`
	AlbumID   string   `json:"albumId,omitempty"`
	AlbumName string   `json:"albumName,omitempty"`
	Duration  Ticks    `json:"durationTicks,omitempty"`
}

// Artist returns the artists joined for display.
func (t Track) Artist() string {
	switch len(t.Artists) {
	case 0:
		return ""
	case 1:
		return t.Artists[0]
	}
	s := t.Artists[0]
	for _, a := range t.Artists[1:] {
		s += ", " + a
	}
	return s
}

// Item kinds returned by the catalog.
const (
	ItemEpisode = "Episode"
	ItemMovie   = "Movie"
	ItemAudio   = "Audio"
)

// Stream kinds within an item's media streams.
const (
	StreamAudio    = "Audio"
	StreamSubtitle = "Subtitle"
	StreamVideo    = "Video"
)

// MediaStream is one selectable stream of an item.
type MediaStream struct {
	Index    int    `json:"Index"`
	Type     string `json:"Type"`
	Language string `json:"Language,omitempty"`
	Title    string `json:"DisplayTitle,omitempty"`
}

// UserData is the per-user playback state of an item.
type UserData struct {
	PlaybackPositionTicks Ticks      `json:"PlaybackPositionTicks"`
	Played                bool       `json:"Played"`
	LastPlayedDate        *time.Time `json:"LastPlayedDate,omitempty"`
}

// Item is a catalog item as returned by the media server.
type Item struct {
	ID           string        `json:"Id"`
	Name         string        `json:"Name"`
	Type         string        `json:"Type"`
	SeriesID     string        `json:"SeriesId,omitempty"`
	SeriesName   string        `json:"SeriesName,omitempty"`
	IndexNumber  int           `json:"IndexNumber,omitempty"`
	RunTimeTicks Ticks         `json:"RunTimeTicks,omitempty"`
	DateCreated  *time.Time    `json:"DateCreated,omitempty"`
	UserData     *UserData     `json:"UserData,omitempty"`
	MediaStreams []MediaStream `json:"MediaStreams,omitempty"`
}

// LastPlayed returns the item's last-played time, if recorded.
func (i Item) LastPlayed() (time.Time, bool) {
	if i.UserData == nil || i.UserData.LastPlayedDate == nil {
		return time.Time{}, false
	}
	return *i.UserData.LastPlayedDate, true
}

// ResumePosition returns where the user stopped watching this item.
func (i Item) ResumePosition() Ticks {
	if i.UserData == nil {
		return 0
	}
	return i.UserData.PlaybackPositionTicks
}

// UserConfiguration carries the user's stored language preferences.
type UserConfiguration struct {
	AudioLanguagePreference    string `json:"AudioLanguagePreference"`
	SubtitleLanguagePreference string `json:"SubtitleLanguagePreference"`
}
