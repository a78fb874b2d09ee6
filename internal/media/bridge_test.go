package media

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

type fakeSession struct {
	mu        sync.Mutex
	handlers  map[Action]ActionHandler
	metadata  []Metadata
	states    []PlaybackState
	positions []PositionState
	modes     [][2]bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[Action]ActionHandler)}
}

func (s *fakeSession) SetMetadata(m Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = append(s.metadata, m)
	return nil
}

func (s *fakeSession) SetPlaybackState(st PlaybackState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
	return nil
}

func (s *fakeSession) SetPositionState(p PositionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, p)
	return nil
}

func (s *fakeSession) SetModes(shuffle, repeat bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes = append(s.modes, [2]bool{shuffle, repeat})
	return nil
}

func (s *fakeSession) SetActionHandler(a Action, h ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, a)
		return
	}
	s.handlers[a] = h
}

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) invoke(t *testing.T, a Action, d ActionDetails) error {
	t.Helper()
	s.mu.Lock()
	h := s.handlers[a]
	s.mu.Unlock()
	require.NotNil(t, h, "no handler for %s", a)
	return h(d)
}

type fakePlayer struct {
	mu    sync.Mutex
	snap  playback.Snapshot
	calls []string
	subs  []func(playback.Snapshot)
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePlayer) Play() error  { p.record("play"); return nil }
func (p *fakePlayer) Pause() error { p.record("pause"); return nil }

func (p *fakePlayer) Seek(pos types.Ticks) error {
	p.record(fmt.Sprintf("seek %v", pos.Duration()))
	return nil
}

func (p *fakePlayer) SkipNext(context.Context) error     { p.record("next"); return nil }
func (p *fakePlayer) SkipPrevious(context.Context) error { p.record("prev"); return nil }
func (p *fakePlayer) SetShuffle(on bool)                 { p.record(fmt.Sprintf("shuffle %v", on)) }
func (p *fakePlayer) SetRepeat(on bool)                  { p.record(fmt.Sprintf("repeat %v", on)) }

func (p *fakePlayer) Snapshot() playback.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *fakePlayer) Subscribe(fn func(playback.Snapshot)) func() {
	p.mu.Lock()
	p.subs = append(p.subs, fn)
	i := len(p.subs) - 1
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.subs[i] = nil
		p.mu.Unlock()
	}
}

func (p *fakePlayer) publish(snap playback.Snapshot) {
	p.mu.Lock()
	p.snap = snap
	subs := append([]func(playback.Snapshot){}, p.subs...)
	p.mu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(snap)
		}
	}
}

func (p *fakePlayer) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, fn := range p.subs {
		if fn != nil {
			n++
		}
	}
	return n
}

type fakeArt struct{}

func (fakeArt) PrimaryImageURL(id string, w, h int) string {
	return fmt.Sprintf("http://img/%s/%dx%d", id, w, h)
}

func playing(pos, dur time.Duration) playback.Snapshot {
	return playback.Snapshot{
		State: playback.StatePlaying,
		Track: &types.Track{
			ID:        "t1",
			Title:     "Song",
			Artists:   []string{"A", "B"},
			AlbumID:   "al1",
			AlbumName: "Album",
			Duration:  types.TicksFromDuration(dur),
		},
		Position: types.TicksFromDuration(pos),
		Duration: types.TicksFromDuration(dur),
	}
}

func newBridge(t *testing.T) (*Bridge, *fakeSession, *fakePlayer) {
	t.Helper()
	s := newFakeSession()
	p := &fakePlayer{}
	b := NewBridge(s, p, fakeArt{}, BridgeOptions{})
	t.Cleanup(b.Close)
	return b, s, p
}

func TestBridgeStartRegistersEveryAction(t *testing.T) {
	b, s, p := newBridge(t)

	b.Start()
	b.Start()

	assert.Len(t, s.handlers, len(Actions))
	assert.Equal(t, 1, p.subscribers())
	assert.Equal(t, []PlaybackState{StateStopped}, s.states)
}

func TestBridgeMetadataAndArtwork(t *testing.T) {
	b, s, p := newBridge(t)
	b.Start()

	p.publish(playing(time.Second, 3*time.Minute))

	require.Len(t, s.metadata, 2)
	md := s.metadata[1]
	assert.Equal(t, "Song", md.Title)
	assert.Equal(t, []string{"A", "B"}, md.Artists)
	assert.Equal(t, "Album", md.Album)
	assert.Equal(t, []Artwork{
		{URL: "http://img/al1/96x96", Size: 96},
		{URL: "http://img/al1/192x192", Size: 192},
		{URL: "http://img/al1/512x512", Size: 512},
	}, md.Artwork)

	largest, ok := md.Largest()
	assert.True(t, ok)
	assert.Equal(t, 512, largest.Size)

	// same track again does not resend metadata
	p.publish(playing(2*time.Second, 3*time.Minute))
	assert.Len(t, s.metadata, 2)
	assert.Equal(t, []PlaybackState{StateStopped, StatePlaying}, s.states)
}

func TestBridgePositionNeedsDuration(t *testing.T) {
	b, s, p := newBridge(t)
	b.Start()

	p.publish(playing(time.Second, 0))
	assert.Empty(t, s.positions)

	p.publish(playing(time.Second, time.Minute))
	p.publish(playing(time.Second, time.Minute))
	require.Len(t, s.positions, 1)
	assert.Equal(t, PositionState{Position: time.Second, Duration: time.Minute, Rate: 1}, s.positions[0])
}

func TestBridgeActionsReachPlayer(t *testing.T) {
	b, s, p := newBridge(t)
	b.Start()
	p.publish(playing(30*time.Second, time.Minute))

	require.NoError(t, s.invoke(t, ActionPlay, ActionDetails{}))
	require.NoError(t, s.invoke(t, ActionPause, ActionDetails{}))
	require.NoError(t, s.invoke(t, ActionNext, ActionDetails{}))
	require.NoError(t, s.invoke(t, ActionPrevious, ActionDetails{}))
	require.NoError(t, s.invoke(t, ActionSeekTo, ActionDetails{SeekTime: 12 * time.Second}))
	require.NoError(t, s.invoke(t, ActionSeekForward, ActionDetails{}))
	require.NoError(t, s.invoke(t, ActionSeekBackward, ActionDetails{SeekOffset: 5 * time.Second}))
	require.NoError(t, s.invoke(t, ActionShuffle, ActionDetails{Enabled: true}))
	require.NoError(t, s.invoke(t, ActionRepeat, ActionDetails{Enabled: false}))

	assert.Equal(t, []string{
		"play", "pause", "next", "prev",
		"seek 12s", "seek 40s", "seek 25s",
		"shuffle true", "repeat false",
	}, p.calls)
}

func TestBridgeModes(t *testing.T) {
	b, s, p := newBridge(t)
	b.Start()

	snap := playing(0, time.Minute)
	snap.Shuffle = true
	p.publish(snap)
	p.publish(snap)

	assert.Equal(t, [][2]bool{{false, false}, {true, false}}, s.modes)
}

func TestBridgeCloseUnregisters(t *testing.T) {
	b, s, p := newBridge(t)
	b.Start()
	p.publish(playing(0, time.Minute))

	b.Close()

	assert.Empty(t, s.handlers)
	assert.Equal(t, 0, p.subscribers())
	assert.Equal(t, StateStopped, s.states[len(s.states)-1])

	// a late snapshot after close is ignored
	n := len(s.metadata)
	b.Sync(playing(0, 2*time.Minute))
	assert.Len(t, s.metadata, n)
}
