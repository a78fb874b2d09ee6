package media

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// ArtworkSizes are the square renditions offered to the OS.
var ArtworkSizes = []int{96, 192, 512}

const defaultSeekOffset = 10 * time.Second

// Player is the music controller as seen from the OS surface.
type Player interface {
	Play() error
	Pause() error
	Seek(position types.Ticks) error
	SkipNext(ctx context.Context) error
	SkipPrevious(ctx context.Context) error
	SetShuffle(enabled bool)
	SetRepeat(enabled bool)
	Snapshot() playback.Snapshot
	Subscribe(fn func(playback.Snapshot)) func()
}

// ArtworkSource builds image URLs for an item.
type ArtworkSource interface {
	PrimaryImageURL(itemID string, width, height int) string
}

// BridgeOptions tunes a Bridge.
type BridgeOptions struct {
	// SeekOffset is the step of seekforward/seekbackward without an offset (default: 10s)
	SeekOffset time.Duration
}

// Bridge mirrors a Player onto a Session and routes the session's actions
// back into the player.
type Bridge struct {
	session Session
	player  Player
	art     ArtworkSource
	opts    BridgeOptions
	logger  zerolog.Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func()
	trackID     string
	hasTrack    bool
	state       PlaybackState
	stateSet    bool
	shuffle     bool
	repeat      bool
	modesSet    bool
	position    PositionState
}

// NewBridge creates a bridge. art may be nil, in which case no artwork is
// published.
func NewBridge(session Session, player Player, art ArtworkSource, opts BridgeOptions) *Bridge {
	if opts.SeekOffset <= 0 {
		opts.SeekOffset = defaultSeekOffset
	}
	return &Bridge{
		session: session,
		player:  player,
		art:     art,
		opts:    opts,
		logger:  log.WithComponent("media"),
	}
}

// Start registers the action handlers and follows the player. Starting a
// started bridge does nothing.
func (b *Bridge) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	for action, handler := range b.handlers() {
		b.session.SetActionHandler(action, handler)
	}

	unsubscribe := b.player.Subscribe(b.Sync)

	b.mu.Lock()
	b.unsubscribe = unsubscribe
	b.mu.Unlock()

	b.Sync(b.player.Snapshot())
}

func (b *Bridge) handlers() map[Action]ActionHandler {
	return map[Action]ActionHandler{
		ActionPlay: func(ActionDetails) error {
			return b.player.Play()
		},
		ActionPause: func(ActionDetails) error {
			return b.player.Pause()
		},
		ActionPrevious: func(ActionDetails) error {
			return b.player.SkipPrevious(context.Background())
		},
		ActionNext: func(ActionDetails) error {
			return b.player.SkipNext(context.Background())
		},
		ActionSeekTo: func(d ActionDetails) error {
			return b.player.Seek(types.TicksFromDuration(d.SeekTime))
		},
		ActionSeekBackward: func(d ActionDetails) error {
			return b.seekBy(-b.offset(d))
		},
		ActionSeekForward: func(d ActionDetails) error {
			return b.seekBy(b.offset(d))
		},
		ActionShuffle: func(d ActionDetails) error {
			b.player.SetShuffle(d.Enabled)
			return nil
		},
		ActionRepeat: func(d ActionDetails) error {
			b.player.SetRepeat(d.Enabled)
			return nil
		},
	}
}

func (b *Bridge) offset(d ActionDetails) time.Duration {
	if d.SeekOffset > 0 {
		return d.SeekOffset
	}
	return b.opts.SeekOffset
}

// seekBy moves relative to the player's current position; the player clamps.
func (b *Bridge) seekBy(step time.Duration) error {
	snap := b.player.Snapshot()
	return b.player.Seek(snap.Position + types.TicksFromDuration(step))
}

// Sync pushes snap to the session, skipping parts that did not change.
func (b *Bridge) Sync(snap playback.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return
	}

	trackID := ""
	if snap.Track != nil {
		trackID = snap.Track.ID
	}
	if !b.hasTrack || trackID != b.trackID {
		b.hasTrack = true
		b.trackID = trackID
		if err := b.session.SetMetadata(b.metadata(snap.Track)); err != nil {
			b.logger.Debug().Err(err).Msg("set metadata failed")
		}
	}

	state := playbackState(snap)
	if !b.stateSet || state != b.state {
		b.stateSet = true
		b.state = state
		if err := b.session.SetPlaybackState(state); err != nil {
			b.logger.Debug().Err(err).Msg("set playback state failed")
		}
	}

	if !b.modesSet || snap.Shuffle != b.shuffle || snap.Repeat != b.repeat {
		b.modesSet = true
		b.shuffle, b.repeat = snap.Shuffle, snap.Repeat
		if err := b.session.SetModes(snap.Shuffle, snap.Repeat); err != nil {
			b.logger.Debug().Err(err).Msg("set modes failed")
		}
	}

	// the OS rejects a position state without a duration
	if snap.Duration > 0 {
		pos := PositionState{
			Position: min(snap.Position, snap.Duration).Duration(),
			Duration: snap.Duration.Duration(),
			Rate:     1,
		}
		if pos != b.position {
			b.position = pos
			if err := b.session.SetPositionState(pos); err != nil {
				b.logger.Debug().Err(err).Msg("set position state failed")
			}
		}
	}
}

func playbackState(snap playback.Snapshot) PlaybackState {
	switch {
	case snap.Track == nil:
		return StateStopped
	case snap.State == playback.StatePlaying:
		return StatePlaying
	default:
		return StatePaused
	}
}

func (b *Bridge) metadata(track *types.Track) Metadata {
	if track == nil {
		return Metadata{}
	}
	md := Metadata{
		TrackID:  track.ID,
		Title:    track.Title,
		Artists:  track.Artists,
		Album:    track.AlbumName,
		Duration: track.Duration.Duration(),
	}
	if b.art != nil && track.AlbumID != "" {
		for _, size := range ArtworkSizes {
			if url := b.art.PrimaryImageURL(track.AlbumID, size, size); url != "" {
				md.Artwork = append(md.Artwork, Artwork{URL: url, Size: size})
			}
		}
	}
	return md
}

// Close stops following the player, removes every action handler and
// leaves the session stopped. The session itself stays open.
func (b *Bridge) Close() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.hasTrack, b.stateSet, b.modesSet = false, false, false
	b.position = PositionState{}
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	for _, action := range Actions {
		b.session.SetActionHandler(action, nil)
	}
	if err := b.session.SetMetadata(Metadata{}); err != nil {
		b.logger.Debug().Err(err).Msg("clear metadata failed")
	}
	if err := b.session.SetPlaybackState(StateStopped); err != nil {
		b.logger.Debug().Err(err).Msg("set playback state failed")
	}
}
