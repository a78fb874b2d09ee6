package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/prefs"
	"github.com/KartoffelChipss/pelagica/playerd/internal/queue"
	"github.com/KartoffelChipss/pelagica/playerd/internal/reporting"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// ErrNoTrack is returned by operations that need a loaded track.
var ErrNoTrack = errors.New("playback: no track loaded")

// State is the coarse playback state.
type State string

const (
	StateEmpty   State = "empty"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	Seq      uint64       `json:"-"`
	State    State        `json:"state"`
	Track    *types.Track `json:"track,omitempty"`
	Index    int          `json:"index"`
	Length   int          `json:"length"`
	Position types.Ticks  `json:"positionTicks"`
	Duration types.Ticks  `json:"durationTicks"`
	Volume   float64      `json:"volume"`
	Shuffle  bool         `json:"shuffle"`
	Repeat   bool         `json:"repeat"`
	Seeking  bool         `json:"seeking"`
	Error    string       `json:"error,omitempty"`
}

// IsPlaying reports whether the engine is playing.
func (s Snapshot) IsPlaying() bool { return s.State == StatePlaying }

// Options tunes a Controller.
type Options struct {
	// ReportInterval is the periodic progress cadence (default: 10s)
	ReportInterval time.Duration
	// RestartThreshold is how far into a track SkipPrevious rewinds instead (default: 3s)
	RestartThreshold time.Duration
	// EventBuffer sizes the Post queue (default: 64)
	EventBuffer int
}

func normalizeOptions(opts Options) Options {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 10 * time.Second
	}
	if opts.RestartThreshold <= 0 {
		opts.RestartThreshold = 3 * time.Second
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return opts
}

// Controller is the music playback state machine. It is the only mutator
// of its Engine.
type Controller struct {
	engine  Engine
	source  StreamSource
	sink    reporting.Sink
	queue   *queue.Manager
	volumes VolumeStore
	opts    Options
	logger  zerolog.Logger

	mu       sync.Mutex
	state    State
	current  *types.Track
	lastPos  types.Ticks // last position the engine reported; read at teardown
	duration types.Ticks
	seeking  bool
	volume   float64
	lastErr  string
	seq      uint64

	ticker   reporting.Ticker
	timerGen uint64

	events chan Event

	subMu     sync.Mutex
	subs      map[int]func(Snapshot)
	nextSub   int
	published uint64
}

// NewController wires a controller. volumes may be nil.
func NewController(engine Engine, source StreamSource, sink reporting.Sink, q *queue.Manager, volumes VolumeStore, opts Options) *Controller {
	opts = normalizeOptions(opts)
	c := &Controller{
		engine:  engine,
		source:  source,
		sink:    sink,
		queue:   q,
		volumes: volumes,
		opts:    opts,
		logger:  log.WithComponent("playback"),
		state:   StateEmpty,
		volume:  prefs.DefaultVolume,
		events:  make(chan Event, opts.EventBuffer),
		subs:    make(map[int]func(Snapshot)),
	}
	if volumes != nil {
		c.volume = clampVolume(volumes.Volume())
	}
	if err := engine.SetVolume(c.volume); err != nil {
		c.logger.Warn().Err(err).Msg("failed to apply stored volume")
	}
	return c
}

func clampVolume(v float64) float64 {
	return min(1, max(0, v))
}

// unlockAndPublish releases mu and hands the new state to subscribers.
func (c *Controller) unlockAndPublish() {
	c.seq++
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

func (c *Controller) snapshotLocked() Snapshot {
	index, length := c.queue.Position()
	snap := Snapshot{
		Seq:      c.seq,
		State:    c.state,
		Index:    index,
		Length:   length,
		Position: c.lastPos,
		Duration: c.duration,
		Volume:   c.volume,
		Shuffle:  c.queue.Shuffle(),
		Repeat:   c.queue.Repeat(),
		Seeking:  c.seeking,
		Error:    c.lastErr,
	}
	if c.current != nil {
		t := *c.current
		snap.Track = &t
	}
	return snap
}

func (c *Controller) publish(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	// concurrent callers may arrive out of order
	if snap.Seq <= c.published {
		return
	}
	c.published = snap.Seq
	for _, fn := range c.subs {
		fn(snap)
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every state change and returns a function that
// removes it. fn must not call Subscribe.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// LoadQueue replaces the queue with tracks and loads the one at startIndex.
// With shuffle on, the start track comes first and the rest are shuffled.
func (c *Controller) LoadQueue(ctx context.Context, tracks []types.Track, startIndex int, autoPlay bool) error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	first, err := c.queue.Load(tracks, startIndex)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	return c.loadLocked(ctx, first, autoPlay)
}

// LoadTrack moves to the queue entry at index.
func (c *Controller) LoadTrack(ctx context.Context, index int, autoPlay bool) error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	track, err := c.queue.SetIndex(index)
	if err != nil {
		return fmt.Errorf("load track %d: %w", index, err)
	}
	return c.loadLocked(ctx, track, autoPlay)
}

// PlayTrack replaces the queue with a single track and plays it.
func (c *Controller) PlayTrack(ctx context.Context, track types.Track) error {
	return c.LoadQueue(ctx, []types.Track{track}, 0, true)
}

// Restore loads the current entry of a queue restored from disk without
// playing it.
func (c *Controller) Restore(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	track, ok := c.queue.Current()
	if !ok {
		return nil
	}
	return c.loadLocked(ctx, track, false)
}

// loadLocked swaps the active track. The stop report for the old track is
// always queued before the start report for the new one.
func (c *Controller) loadLocked(ctx context.Context, track types.Track, autoPlay bool) error {
	c.stopTimerLocked()
	if c.current != nil {
		c.sink.ReportStop(c.current.ID, c.lastPos)
	}

	c.current = &track
	c.lastPos = 0
	c.duration = track.Duration
	c.seeking = false
	c.lastErr = ""
	c.state = StateLoading

	url, err := c.source.AudioStreamURL(track.ID)
	if err != nil {
		return c.failLocked(fmt.Errorf("resolve stream for %s: %w", track.ID, err))
	}
	if err := c.engine.Load(ctx, url, track.ID); err != nil {
		return c.failLocked(fmt.Errorf("load %s: %w", track.ID, err))
	}

	c.sink.ReportStart(track.ID, 0)
	c.state = StatePaused
	c.logger.Info().Str("item", track.ID).Str("title", track.Title).Bool("autoplay", autoPlay).Msg("track loaded")

	if autoPlay {
		if err := c.engine.Play(); err != nil {
			return c.failLocked(fmt.Errorf("play %s: %w", track.ID, err))
		}
	}
	return nil
}

func (c *Controller) failLocked(err error) error {
	c.stopTimerLocked()
	c.state = StatePaused
	c.lastErr = err.Error()
	c.logger.Error().Err(err).Msg("playback failed")
	return err
}

// Play resumes the engine. The state turns to playing once the engine
// confirms with a play event.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.unlockAndPublish()
	return c.playLocked()
}

func (c *Controller) playLocked() error {
	if c.current == nil {
		return ErrNoTrack
	}
	if err := c.engine.Play(); err != nil {
		return c.failLocked(fmt.Errorf("play %s: %w", c.current.ID, err))
	}
	return nil
}

// Pause pauses the engine and reports the paused state right away.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.unlockAndPublish()
	return c.pauseLocked()
}

func (c *Controller) pauseLocked() error {
	if c.current == nil {
		return nil
	}
	if err := c.engine.Pause(); err != nil {
		return fmt.Errorf("pause %s: %w", c.current.ID, err)
	}
	c.stopTimerLocked()
	c.state = StatePaused
	c.sink.ReportProgress(c.current.ID, c.lastPos, true)
	return nil
}

// TogglePlayPause pauses when playing and plays otherwise.
func (c *Controller) TogglePlayPause() error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	if c.state == StatePlaying {
		return c.pauseLocked()
	}
	return c.playLocked()
}

// Seek moves the engine position. It reports nothing itself; the periodic
// report picks up the new position.
func (c *Controller) Seek(position types.Ticks) error {
	c.mu.Lock()
	defer c.unlockAndPublish()
	return c.seekLocked(position)
}

func (c *Controller) seekLocked(position types.Ticks) error {
	if c.current == nil {
		return ErrNoTrack
	}
	position = max(position, 0)
	if c.duration > 0 {
		position = min(position, c.duration)
	}
	if err := c.engine.Seek(position); err != nil {
		return fmt.Errorf("seek %s: %w", c.current.ID, err)
	}
	c.lastPos = position
	c.seeking = true
	return nil
}

// SkipNext moves to the next entry, wrapping only with repeat on. At the end
// of the queue it does nothing.
func (c *Controller) SkipNext(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	next, ok := c.queue.NextIndex()
	if !ok {
		return nil
	}
	return c.skipToLocked(ctx, next)
}

// SkipPrevious rewinds the current track once past the restart threshold,
// and moves to the previous entry otherwise.
func (c *Controller) SkipPrevious(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	if c.current == nil {
		return nil
	}
	if c.lastPos > types.TicksFromDuration(c.opts.RestartThreshold) {
		return c.seekLocked(0)
	}
	prev, ok := c.queue.PrevIndex()
	if !ok {
		return nil
	}
	return c.skipToLocked(ctx, prev)
}

func (c *Controller) skipToLocked(ctx context.Context, index int) error {
	autoPlay := c.state == StatePlaying
	track, err := c.queue.SetIndex(index)
	if err != nil {
		return fmt.Errorf("skip to %d: %w", index, err)
	}
	return c.loadLocked(ctx, track, autoPlay)
}

// ToggleShuffle flips shuffle and returns the new mode. The playing track
// keeps playing.
func (c *Controller) ToggleShuffle() bool {
	c.mu.Lock()
	defer c.unlockAndPublish()
	return c.queue.ToggleShuffle()
}

// SetShuffle sets the shuffle mode.
func (c *Controller) SetShuffle(enabled bool) {
	c.mu.Lock()
	defer c.unlockAndPublish()
	c.queue.SetShuffle(enabled)
}

// SetRepeat sets the repeat mode.
func (c *Controller) SetRepeat(enabled bool) {
	c.mu.Lock()
	defer c.unlockAndPublish()
	c.queue.SetRepeat(enabled)
}

// SetVolume clamps v to [0,1], applies and persists it.
func (c *Controller) SetVolume(v float64) error {
	c.mu.Lock()
	defer c.unlockAndPublish()

	v = clampVolume(v)
	if err := c.engine.SetVolume(v); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	c.volume = v
	if c.volumes != nil {
		if err := c.volumes.SetVolume(v); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist volume")
		}
	}
	return nil
}

// Clear stops playback, sends the final stop report and empties the queue.
// Calling it again does nothing.
func (c *Controller) Clear() {
	c.mu.Lock()
	if _, length := c.queue.Position(); c.current == nil && length == 0 {
		c.mu.Unlock()
		return
	}
	defer c.unlockAndPublish()

	c.endLocked()
	c.queue.Clear()
	c.state = StateEmpty
	c.duration = 0
	c.seeking = false
	c.lastErr = ""
}

// Close ends the active track like Clear but keeps the queue, so a
// remembered queue survives a restart.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.unlockAndPublish()

	c.endLocked()
	c.state = StateEmpty
}

func (c *Controller) endLocked() {
	c.stopTimerLocked()
	if c.current != nil {
		c.sink.ReportStop(c.current.ID, c.lastPos)
	}
	if err := c.engine.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("engine stop failed")
	}
	c.current = nil
	c.lastPos = 0
}

func (c *Controller) startTimerLocked() {
	c.timerGen++
	gen := c.timerGen
	c.ticker.Start(c.opts.ReportInterval, func() { c.tick(gen) })
}

func (c *Controller) stopTimerLocked() {
	c.timerGen++
	c.ticker.Cancel()
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a tick racing a cancel belongs to a timer that no longer exists
	if gen != c.timerGen || c.state != StatePlaying || c.current == nil {
		return
	}
	c.sink.ReportProgress(c.current.ID, c.lastPos, false)
}

// Post queues an engine event for Run. Time updates are dropped when the
// queue is full.
func (c *Controller) Post(ev Event) {
	if ev.Kind == EventTimeUpdate {
		select {
		case c.events <- ev:
		default:
		}
		return
	}
	c.events <- ev
}

// Run dispatches posted events until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-c.events:
			c.Dispatch(ev)
		}
	}
}

// Dispatch applies an engine event. Events for an item that is no longer
// active are ignored.
func (c *Controller) Dispatch(ev Event) {
	c.mu.Lock()
	if c.current == nil || ev.ItemID != c.current.ID {
		c.mu.Unlock()
		c.logger.Debug().Stringer("event", ev.Kind).Str("item", ev.ItemID).Msg("ignoring stale engine event")
		return
	}
	defer c.unlockAndPublish()

	switch ev.Kind {
	case EventPlay:
		if c.state == StatePlaying {
			return
		}
		c.state = StatePlaying
		c.lastErr = ""
		c.sink.ReportProgress(c.current.ID, c.lastPos, false)
		c.startTimerLocked()

	case EventPause:
		if c.state != StatePlaying {
			return
		}
		c.stopTimerLocked()
		c.state = StatePaused
		c.sink.ReportProgress(c.current.ID, c.lastPos, true)

	case EventTimeUpdate:
		c.lastPos = ev.Position
		c.seeking = false

	case EventDurationChange:
		c.duration = ev.Duration

	case EventEnded:
		c.endedLocked()

	case EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("engine error")
		}
		_ = c.failLocked(fmt.Errorf("engine: %w", err))
	}
}

// endedLocked handles the natural end of a track: restart with repeat,
// otherwise advance, otherwise halt paused at the end.
func (c *Controller) endedLocked() {
	if c.queue.Repeat() {
		c.lastPos = 0
		if err := c.engine.Seek(0); err != nil {
			_ = c.failLocked(fmt.Errorf("restart %s: %w", c.current.ID, err))
			return
		}
		if err := c.engine.Play(); err != nil {
			_ = c.failLocked(fmt.Errorf("restart %s: %w", c.current.ID, err))
		}
		return
	}

	index, length := c.queue.Position()
	if index+1 < length {
		track, err := c.queue.SetIndex(index + 1)
		if err == nil {
			_ = c.loadLocked(context.Background(), track, true)
			return
		}
	}

	c.stopTimerLocked()
	c.state = StatePaused
	if c.duration > 0 {
		c.lastPos = c.duration
	}
	c.sink.ReportProgress(c.current.ID, c.lastPos, true)
	c.logger.Info().Str("item", c.current.ID).Msg("end of queue")
}
