// Package audio plays remote audio streams using FFmpeg and Oto.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

const (
	positionInterval = 250 * time.Millisecond
	drainPoll        = 50 * time.Millisecond
)

// ErrNoSource is returned when playing before anything was loaded.
var ErrNoSource = errors.New("audio: no source loaded")

// Output is the interface for audio output backends
type Output interface {
	io.WriteCloser
	SampleRate() int
	Channels() int
	Pause()
	Resume()
	Stop()
	SetVolume(v float64)
	Played() time.Duration
	Buffered() int
}

// Decoder turns a source into PCM for an Output
type Decoder interface {
	Decode(ctx context.Context, source string, start time.Duration, output Output) error
	Probe(ctx context.Context, source string) (time.Duration, error)
}

// Engine is the playback.Engine for music. It decodes one source at a
// time and emits events through the sink set with SetSink.
type Engine struct {
	output  Output
	decoder Decoder
	logger  zerolog.Logger

	opMu sync.Mutex // serializes operations; mu is released while a decode winds down

	sinkMu sync.RWMutex
	sink   func(playback.Event)

	mu       sync.Mutex
	source   string
	itemID   string
	offset   time.Duration // where the running decode started
	playing  bool
	session  uint64        // incremented on each new decode
	cancel   context.CancelFunc
	done     chan struct{} // closed when the current decode exits

	events chan playback.Event
	quit   chan struct{}
	pumped chan struct{}
	once   sync.Once
}

// NewEngine creates an engine over output and decoder.
func NewEngine(output Output, decoder Decoder) *Engine {
	e := &Engine{
		output:  output,
		decoder: decoder,
		logger:  log.WithComponent("audio"),
		events:  make(chan playback.Event, 64),
		quit:    make(chan struct{}),
		pumped:  make(chan struct{}),
	}
	go e.pump()
	return e
}

// SetSink sets where events go, usually playback.Controller.Post.
func (e *Engine) SetSink(sink func(playback.Event)) {
	e.sinkMu.Lock()
	e.sink = sink
	e.sinkMu.Unlock()
}

// pump delivers events outside of any engine call
func (e *Engine) pump() {
	defer close(e.pumped)
	for {
		select {
		case <-e.quit:
			return
		case ev := <-e.events:
			e.sinkMu.RLock()
			sink := e.sink
			e.sinkMu.RUnlock()
			if sink != nil {
				sink(ev)
			}
		}
	}
}

func (e *Engine) emitLocked(kind playback.EventKind, ev playback.Event) {
	ev.Kind = kind
	ev.ItemID = e.itemID
	if kind == playback.EventTimeUpdate {
		select {
		case e.events <- ev:
		default:
		}
		return
	}
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}

// Load stops whatever plays and prepares source, probing its duration.
func (e *Engine) Load(ctx context.Context, source, itemID string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	duration, err := e.decoder.Probe(ctx, source)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	e.source = source
	e.itemID = itemID
	e.offset = 0
	if duration > 0 {
		e.emitLocked(playback.EventDurationChange, playback.Event{Duration: types.TicksFromDuration(duration)})
	}
	e.logger.Debug().Str("item", itemID).Dur("duration", duration).Msg("source loaded")
	return nil
}

// Play starts or resumes playback.
func (e *Engine) Play() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == "" {
		return ErrNoSource
	}
	if e.playing {
		return nil
	}
	e.playing = true

	if e.done != nil {
		e.output.Resume()
	} else {
		e.startLocked()
	}
	e.emitLocked(playback.EventPlay, playback.Event{Position: e.positionLocked()})
	return nil
}

// Pause pauses playback. Pausing while paused does nothing.
func (e *Engine) Pause() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.playing {
		return nil
	}
	e.playing = false
	e.output.Pause()
	e.emitLocked(playback.EventPause, playback.Event{Position: e.positionLocked()})
	return nil
}

// Seek restarts decoding at position. A paused engine stays paused.
func (e *Engine) Seek(position types.Ticks) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == "" {
		return ErrNoSource
	}

	e.haltLocked()
	e.offset = position.Duration()
	if e.playing {
		e.startLocked()
	}
	e.emitLocked(playback.EventTimeUpdate, playback.Event{Position: position})
	return nil
}

// Stop stops playback and unloads the source.
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *Engine) stopLocked() {
	e.haltLocked()
	e.playing = false
	e.source = ""
	e.offset = 0
}

// SetVolume sets the output volume (0.0 - 1.0)
func (e *Engine) SetVolume(v float64) error {
	if v < 0 || v > 1 {
		return errors.New("volume must be between 0.0 and 1.0")
	}
	e.output.SetVolume(v)
	return nil
}

// Close stops playback and releases the output.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.mu.Lock()
	e.stopLocked()
	e.mu.Unlock()

	e.once.Do(func() { close(e.quit) })
	<-e.pumped
	return e.output.Close()
}

func (e *Engine) positionLocked() types.Ticks {
	if e.done == nil {
		return types.TicksFromDuration(e.offset)
	}
	return types.TicksFromDuration(e.offset + e.output.Played())
}

// haltLocked cancels the running decode and waits for it to exit.
func (e *Engine) haltLocked() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	done := e.done
	// unblocks a decoder waiting for buffer room
	e.output.Stop()

	// the decode goroutine needs mu to finish
	e.mu.Unlock()
	<-done
	e.mu.Lock()

	if e.done == done {
		e.done = nil
	}
	e.output.Stop()
}

func (e *Engine) startLocked() {
	e.session++
	session := e.session
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done

	e.output.Stop()
	e.output.Resume()

	source, offset := e.source, e.offset
	go func() {
		defer close(done)
		e.run(ctx, session, source, offset)
	}()
}

// run decodes one source from offset until it ends or is cancelled.
func (e *Engine) run(ctx context.Context, session uint64, source string, offset time.Duration) {
	positionDone := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.reportPosition(ctx, session, positionDone)
	}()
	defer func() {
		close(positionDone)
		wg.Wait()
	}()

	err := e.decoder.Decode(ctx, source, offset, e.output)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.logger.Error().Err(err).Str("source", source).Msg("decode failed")
		e.finish(session, playback.EventError, err)
		return
	}

	// decoding outruns playback by the output buffer
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()
	for e.output.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
	e.finish(session, playback.EventEnded, nil)
}

func (e *Engine) finish(session uint64, kind playback.EventKind, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if session != e.session || e.cancel == nil {
		return
	}
	pos := e.positionLocked()
	e.cancel()
	e.cancel = nil
	e.done = nil
	e.playing = false
	e.offset = pos.Duration()
	e.emitLocked(kind, playback.Event{Position: pos, Err: err})
}

func (e *Engine) reportPosition(ctx context.Context, session uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(positionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if session == e.session && e.playing && e.done != nil {
				e.emitLocked(playback.EventTimeUpdate, playback.Event{Position: e.positionLocked()})
			}
			e.mu.Unlock()
		}
	}
}
