package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/reporting"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// PlaySessionReporter hands out sinks tagged with a play session id.
type PlaySessionReporter interface {
	WithPlaySession(playSessionID string) reporting.Sink
}

// MusicClearer is the music surface, which a video takes over from.
type MusicClearer interface {
	Clear()
}

// VideoOptions tunes a VideoSession.
type VideoOptions struct {
	// ReportInterval is the periodic progress cadence (default: 5s)
	ReportInterval time.Duration
	// MinPlaytime suppresses progress until the position passes it (default: 5s)
	MinPlaytime time.Duration
}

// VideoState is what the video surface last told us.
type VideoState struct {
	ItemID        string      `json:"itemId,omitempty"`
	PlaySessionID string      `json:"playSessionId,omitempty"`
	Position      types.Ticks `json:"positionTicks"`
	Paused        bool        `json:"paused"`
	Active        bool        `json:"active"`
}

// VideoSession reports playback of a video item played by an external
// surface. The surface pushes its position with Update.
type VideoSession struct {
	reporter PlaySessionReporter
	music    MusicClearer
	opts     VideoOptions
	logger   zerolog.Logger

	mu        sync.Mutex
	item      types.Item
	sink      reporting.Sink
	sessionID string
	position  types.Ticks // surface position
	lastPos   types.Ticks // last reported position, used for stop
	paused    bool
	active    bool

	ticker   reporting.Ticker
	timerGen uint64
}

// NewVideoSession creates a session. music may be nil.
func NewVideoSession(reporter PlaySessionReporter, music MusicClearer, opts VideoOptions) *VideoSession {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 5 * time.Second
	}
	if opts.MinPlaytime <= 0 {
		opts.MinPlaytime = 5 * time.Second
	}
	return &VideoSession{
		reporter: reporter,
		music:    music,
		opts:     opts,
		logger:   log.WithComponent("video"),
	}
}

// Begin starts reporting for item from its resume position and returns the
// play session id. A video already active is ended first.
func (v *VideoSession) Begin(item types.Item) string {
	if v.music != nil {
		v.music.Clear()
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.active {
		v.endLocked()
	}

	start := item.ResumePosition()
	v.item = item
	v.sessionID = uuid.NewString()
	v.sink = v.reporter.WithPlaySession(v.sessionID)
	v.position = start
	v.lastPos = start
	v.paused = false
	v.active = true

	v.sink.ReportStart(item.ID, start)
	v.reportLocked()

	v.timerGen++
	gen := v.timerGen
	v.ticker.Start(v.opts.ReportInterval, func() { v.tick(gen) })

	v.logger.Info().Str("item", item.ID).Str("play_session", v.sessionID).Stringer("start", start).Msg("video playback started")
	return v.sessionID
}

// Update records the surface's position and pause state.
func (v *VideoSession) Update(position types.Ticks, paused bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return
	}
	v.position = max(position, 0)
	v.paused = paused
}

// RenewPlaySession switches to a fresh play session id, as needed after the
// surface reopens the stream with another audio track.
func (v *VideoSession) RenewPlaySession() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return ""
	}
	v.sessionID = uuid.NewString()
	v.sink = v.reporter.WithPlaySession(v.sessionID)
	return v.sessionID
}

// MarkCompleted reports the item as watched to the end.
func (v *VideoSession) MarkCompleted() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active || v.item.RunTimeTicks <= 0 {
		return
	}
	v.position = v.item.RunTimeTicks
	v.lastPos = v.item.RunTimeTicks
	v.sink.ReportProgress(v.item.ID, v.lastPos, true)
}

func (v *VideoSession) tick(gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if gen != v.timerGen || !v.active {
		return
	}
	v.reportLocked()
}

// reportLocked sends progress once the surface is past the minimum playtime.
func (v *VideoSession) reportLocked() {
	if v.position <= types.TicksFromDuration(v.opts.MinPlaytime) {
		return
	}
	v.lastPos = v.position
	v.sink.ReportProgress(v.item.ID, v.position, v.paused)
}

// End stops the timer and reports stop at the last reported position.
// Calling it again does nothing.
func (v *VideoSession) End() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.active {
		return
	}
	v.endLocked()
}

func (v *VideoSession) endLocked() {
	v.timerGen++
	v.ticker.Cancel()
	v.sink.ReportStop(v.item.ID, v.lastPos)
	v.active = false
	v.logger.Info().Str("item", v.item.ID).Stringer("position", v.lastPos).Msg("video playback ended")
}

// State returns the current surface state.
func (v *VideoSession) State() VideoState {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := VideoState{Position: v.position, Paused: v.paused, Active: v.active}
	if v.active {
		st.ItemID = v.item.ID
		st.PlaySessionID = v.sessionID
	}
	return st
}
