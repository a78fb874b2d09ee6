package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/KartoffelChipss/pelagica/playerd/internal/queue"
	"github.com/KartoffelChipss/pelagica/playerd/internal/reporting"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	loaded  string
	volume  float64
	loadErr error
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

func (e *fakeEngine) Load(_ context.Context, url, itemID string) error {
	e.record("load " + itemID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loadErr != nil {
		return e.loadErr
	}
	e.loaded = url
	return nil
}

func (e *fakeEngine) Play() error  { e.record("play"); return nil }
func (e *fakeEngine) Pause() error { e.record("pause"); return nil }
func (e *fakeEngine) Stop() error  { e.record("stop"); return nil }

func (e *fakeEngine) Seek(p types.Ticks) error {
	e.record(fmt.Sprintf("seek %d", p))
	return nil
}

func (e *fakeEngine) SetVolume(v float64) error {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

type report struct {
	Kind     string
	ItemID   string
	Position types.Ticks
	Paused   bool
}

type fakeSink struct {
	mu      sync.Mutex
	reports []report
}

func (s *fakeSink) add(r report) {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
}

func (s *fakeSink) ReportStart(id string, p types.Ticks) { s.add(report{"start", id, p, false}) }
func (s *fakeSink) ReportStop(id string, p types.Ticks)  { s.add(report{"stop", id, p, false}) }
func (s *fakeSink) ReportProgress(id string, p types.Ticks, paused bool) {
	s.add(report{"progress", id, p, paused})
}

func (s *fakeSink) Reports() []report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]report(nil), s.reports...)
}

func (s *fakeSink) Kinds() []string {
	var out []string
	for _, r := range s.Reports() {
		out = append(out, r.Kind+" "+r.ItemID)
	}
	return out
}

func (s *fakeSink) Reset() {
	s.mu.Lock()
	s.reports = nil
	s.mu.Unlock()
}

var _ reporting.Sink = (*fakeSink)(nil)

type fakeSource struct{}

func (fakeSource) AudioStreamURL(id string) (string, error) {
	if id == "" {
		return "", errors.New("no id")
	}
	return "http://media.test/Audio/" + id + "/universal", nil
}

type memVolume struct{ v float64 }

func (m *memVolume) Volume() float64           { return m.v }
func (m *memVolume) SetVolume(v float64) error { m.v = v; return nil }

func tracks(ids ...string) []types.Track {
	out := make([]types.Track, len(ids))
	for i, id := range ids {
		out[i] = types.Track{ID: id, Title: "Track " + id, Duration: types.TicksFromSeconds(180)}
	}
	return out
}

type harness struct {
	c      *Controller
	engine *fakeEngine
	sink   *fakeSink
	vol    *memVolume
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{engine: &fakeEngine{}, sink: &fakeSink{}, vol: &memVolume{v: 0.8}}
	h.c = NewController(h.engine, fakeSource{}, h.sink, queue.NewManager(), h.vol, opts)
	t.Cleanup(h.c.Close)
	return h
}

// playing loads ids and confirms playback the way the engine would.
func (h *harness) playing(t *testing.T, start int, ids ...string) {
	t.Helper()
	require.NoError(t, h.c.LoadQueue(context.Background(), tracks(ids...), start, true))
	h.c.Dispatch(Event{Kind: EventPlay, ItemID: ids[start]})
}

func TestNewControllerAppliesStoredVolume(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, 0.8, h.engine.volume)
	assert.Equal(t, 0.8, h.c.Snapshot().Volume)
}

func TestLoadQueueReportsStart(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.c.LoadQueue(context.Background(), tracks("a", "b"), 1, false))

	snap := h.c.Snapshot()
	require.NotNil(t, snap.Track)
	assert.Equal(t, "b", snap.Track.ID)
	assert.Equal(t, StatePaused, snap.State)
	assert.Equal(t, 1, snap.Index)
	assert.Equal(t, []string{"start b"}, h.sink.Kinds())
	assert.Equal(t, []string{"load b"}, h.engine.Calls())
}

func TestTrackSwapStopsBeforeStart(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b")
	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "a", Position: 42})

	require.NoError(t, h.c.SkipNext(context.Background()))

	reports := h.sink.Reports()
	var stopAt, startAt = -1, -1
	for i, r := range reports {
		if r.Kind == "stop" && r.ItemID == "a" {
			stopAt = i
			assert.Equal(t, types.Ticks(42), r.Position, "stop uses the last known position")
		}
		if r.Kind == "start" && r.ItemID == "b" {
			startAt = i
			assert.Equal(t, types.Ticks(0), r.Position)
		}
	}
	require.NotEqual(t, -1, stopAt)
	require.NotEqual(t, -1, startAt)
	assert.Less(t, stopAt, startAt)
}

func TestPlayEventReportsImmediately(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a")

	assert.Equal(t, []string{"start a", "progress a"}, h.sink.Kinds())
	assert.Equal(t, StatePlaying, h.c.Snapshot().State)
	assert.True(t, h.c.ticker.Running())
}

func TestPauseReportsPausedRightAway(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a")
	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "a", Position: 1000})
	h.sink.Reset()

	require.NoError(t, h.c.Pause())

	assert.Equal(t, []report{{"progress", "a", 1000, true}}, h.sink.Reports())
	assert.False(t, h.c.ticker.Running())

	// the engine's own pause event must not report a second time
	h.c.Dispatch(Event{Kind: EventPause, ItemID: "a"})
	assert.Len(t, h.sink.Reports(), 1)
}

func TestPeriodicProgressWhilePlaying(t *testing.T) {
	h := newHarness(t, Options{ReportInterval: 10 * time.Millisecond})
	h.playing(t, 0, "a")
	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "a", Position: 500})

	assert.Eventually(t, func() bool {
		n := 0
		for _, r := range h.sink.Reports() {
			if r.Kind == "progress" && !r.Paused && r.Position == 500 {
				n++
			}
		}
		return n >= 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.c.Pause())
	h.sink.Reset()
	time.Sleep(40 * time.Millisecond)
	assert.Empty(t, h.sink.Reports(), "timer keeps firing after pause")
}

func TestSeekDoesNotReport(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a")
	h.sink.Reset()

	require.NoError(t, h.c.Seek(types.TicksFromSeconds(30)))

	assert.Empty(t, h.sink.Reports())
	snap := h.c.Snapshot()
	assert.True(t, snap.Seeking)
	assert.Equal(t, types.TicksFromSeconds(30), snap.Position)

	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "a", Position: types.TicksFromSeconds(31)})
	assert.False(t, h.c.Snapshot().Seeking)
}

func TestSeekClampsToDuration(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a")

	require.NoError(t, h.c.Seek(types.TicksFromSeconds(999)))
	assert.Equal(t, types.TicksFromSeconds(180), h.c.Snapshot().Position)

	require.NoError(t, h.c.Seek(-5))
	assert.Equal(t, types.Ticks(0), h.c.Snapshot().Position)
}

func TestSeekWithoutTrack(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.c.Seek(10), ErrNoTrack)
	assert.ErrorIs(t, h.c.Play(), ErrNoTrack)
	assert.NoError(t, h.c.Pause())
}

func TestSkipNextAtEndWithoutRepeat(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.LoadQueue(context.Background(), tracks("a", "b"), 1, false))
	h.sink.Reset()

	require.NoError(t, h.c.SkipNext(context.Background()))

	snap := h.c.Snapshot()
	assert.Equal(t, 1, snap.Index)
	assert.Equal(t, "b", snap.Track.ID)
	assert.False(t, snap.IsPlaying())
	assert.Empty(t, h.sink.Reports())
}

func TestSkipNextWrapsWithRepeat(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.LoadQueue(context.Background(), tracks("a", "b"), 1, false))
	h.c.SetRepeat(true)

	require.NoError(t, h.c.SkipNext(context.Background()))

	snap := h.c.Snapshot()
	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, "a", snap.Track.ID)
}

func TestSkipKeepsPlayState(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b", "c")

	require.NoError(t, h.c.SkipNext(context.Background()))
	assert.Equal(t, "play", h.engine.Calls()[len(h.engine.Calls())-1])

	h.c.Dispatch(Event{Kind: EventPlay, ItemID: "b"})
	require.NoError(t, h.c.Pause())
	require.NoError(t, h.c.SkipNext(context.Background()))
	assert.Equal(t, "load c", h.engine.Calls()[len(h.engine.Calls())-1])
}

func TestSkipPreviousThreshold(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 1, "a", "b")

	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "b", Position: 30_000_001})
	require.NoError(t, h.c.SkipPrevious(context.Background()))
	snap := h.c.Snapshot()
	assert.Equal(t, 1, snap.Index, "past the threshold rewinds instead")
	assert.Equal(t, types.Ticks(0), snap.Position)
	assert.Contains(t, h.engine.Calls(), "seek 0")

	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "b", Position: 3_000_000})
	require.NoError(t, h.c.SkipPrevious(context.Background()))
	snap = h.c.Snapshot()
	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, "a", snap.Track.ID)
}

func TestSkipPreviousAtStart(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.LoadQueue(context.Background(), tracks("a", "b", "c"), 0, false))

	require.NoError(t, h.c.SkipPrevious(context.Background()))
	assert.Equal(t, 0, h.c.Snapshot().Index)

	h.c.SetRepeat(true)
	require.NoError(t, h.c.SkipPrevious(context.Background()))
	assert.Equal(t, 2, h.c.Snapshot().Index)
}

func TestClearIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b")
	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "a", Position: 77})

	h.c.Clear()
	h.c.Clear()

	stops := 0
	for _, r := range h.sink.Reports() {
		if r.Kind == "stop" {
			stops++
			assert.Equal(t, types.Ticks(77), r.Position)
		}
	}
	assert.Equal(t, 1, stops)

	snap := h.c.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.Nil(t, snap.Track)
	assert.Equal(t, -1, snap.Index)
	assert.Equal(t, 0, snap.Length)
	assert.False(t, h.c.ticker.Running())
}

func TestClearKeepsModes(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b")
	h.c.SetRepeat(true)
	h.c.SetShuffle(true)

	h.c.Clear()

	snap := h.c.Snapshot()
	assert.True(t, snap.Repeat)
	assert.True(t, snap.Shuffle)
}

func TestStaleEventsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b")
	require.NoError(t, h.c.SkipNext(context.Background()))

	h.c.Dispatch(Event{Kind: EventTimeUpdate, ItemID: "a", Position: 999})
	h.c.Dispatch(Event{Kind: EventEnded, ItemID: "a"})

	snap := h.c.Snapshot()
	assert.Equal(t, "b", snap.Track.ID)
	assert.Equal(t, types.Ticks(0), snap.Position)
}

func TestEndedAdvances(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b")

	h.c.Dispatch(Event{Kind: EventEnded, ItemID: "a"})

	snap := h.c.Snapshot()
	assert.Equal(t, "b", snap.Track.ID)
	assert.Equal(t, "play", h.engine.Calls()[len(h.engine.Calls())-1])
}

func TestEndedWithRepeatRestarts(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a", "b")
	h.c.SetRepeat(true)

	h.c.Dispatch(Event{Kind: EventEnded, ItemID: "a"})

	snap := h.c.Snapshot()
	assert.Equal(t, "a", snap.Track.ID)
	calls := h.engine.Calls()
	assert.Equal(t, []string{"seek 0", "play"}, calls[len(calls)-2:])
}

func TestEndedAtEndHalts(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a")

	h.c.Dispatch(Event{Kind: EventEnded, ItemID: "a"})

	snap := h.c.Snapshot()
	assert.Equal(t, StatePaused, snap.State)
	assert.Equal(t, snap.Duration, snap.Position)
	assert.False(t, h.c.ticker.Running())
}

func TestLoadErrorSurfaces(t *testing.T) {
	h := newHarness(t, Options{})
	h.engine.loadErr = errors.New("unsupported source")

	err := h.c.LoadQueue(context.Background(), tracks("a"), 0, true)
	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported source")

	snap := h.c.Snapshot()
	assert.Equal(t, StatePaused, snap.State)
	assert.NotEmpty(t, snap.Error)
	assert.Empty(t, h.sink.Reports())
}

func TestEngineErrorEvent(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 0, "a")

	h.c.Dispatch(Event{Kind: EventError, ItemID: "a", Err: errors.New("decode failed")})

	snap := h.c.Snapshot()
	assert.Equal(t, StatePaused, snap.State)
	assert.Contains(t, snap.Error, "decode failed")
	assert.False(t, h.c.ticker.Running())
}

func TestSetVolumeClampsAndPersists(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.c.SetVolume(1.7))
	assert.Equal(t, 1.0, h.vol.v)
	assert.Equal(t, 1.0, h.engine.volume)

	require.NoError(t, h.c.SetVolume(-1))
	assert.Equal(t, 0.0, h.c.Snapshot().Volume)
}

func TestToggleShuffleKeepsTrack(t *testing.T) {
	h := newHarness(t, Options{})
	h.playing(t, 2, "a", "b", "c", "d", "e")

	assert.True(t, h.c.ToggleShuffle())
	assert.Equal(t, "c", h.c.Snapshot().Track.ID)

	assert.False(t, h.c.ToggleShuffle())
	snap := h.c.Snapshot()
	assert.Equal(t, 2, snap.Index)
	assert.Equal(t, "c", snap.Track.ID)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	h := newHarness(t, Options{})

	var (
		mu   sync.Mutex
		seen []State
	)
	unsubscribe := h.c.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})

	h.playing(t, 0, "a")
	unsubscribe()
	require.NoError(t, h.c.Pause())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StatePaused, StatePlaying}, seen)
}

func TestRunDrainsPostedEvents(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.c.LoadQueue(context.Background(), tracks("a"), 0, true))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.c.Run(ctx) }()

	h.c.Post(Event{Kind: EventDurationChange, ItemID: "a", Duration: 1234})
	h.c.Post(Event{Kind: EventPlay, ItemID: "a"})

	assert.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.IsPlaying() && s.Duration == 1234
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRestoreDoesNotPlay(t *testing.T) {
	h := newHarness(t, Options{})
	q := queue.NewManager()
	_, err := q.Load(tracks("x", "y"), 1)
	require.NoError(t, err)
	h.c = NewController(h.engine, fakeSource{}, h.sink, q, nil, Options{})
	t.Cleanup(h.c.Close)

	require.NoError(t, h.c.Restore(context.Background()))

	assert.Equal(t, "y", h.c.Snapshot().Track.ID)
	assert.NotContains(t, h.engine.Calls(), "play")
}
