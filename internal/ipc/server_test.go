package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KartoffelChipss/pelagica/playerd/internal/auth"
	"github.com/KartoffelChipss/pelagica/playerd/internal/config"
	"github.com/KartoffelChipss/pelagica/playerd/internal/continuewatch"
	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/trackpref"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

type fakePlayer struct {
	mu     sync.Mutex
	calls  []string
	tracks []types.Track
	snap   playback.Snapshot
	subs   map[int]func(playback.Snapshot)
	nextID int
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{subs: make(map[int]func(playback.Snapshot)), snap: playback.Snapshot{State: playback.StateEmpty, Index: -1}}
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePlayer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePlayer) LoadQueue(_ context.Context, tracks []types.Track, start int, autoPlay bool) error {
	p.record("loadQueue")
	p.mu.Lock()
	p.tracks = tracks
	p.snap.Index = start
	p.snap.Length = len(tracks)
	p.snap.Track = &tracks[start]
	if autoPlay {
		p.snap.State = playback.StatePlaying
	} else {
		p.snap.State = playback.StatePaused
	}
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) LoadTrack(_ context.Context, index int, _ bool) error {
	p.record("loadTrack")
	if index < 0 || index >= len(p.tracks) {
		return errors.New("index out of range")
	}
	return nil
}

func (p *fakePlayer) PlayTrack(ctx context.Context, t types.Track) error {
	return p.LoadQueue(ctx, []types.Track{t}, 0, true)
}

func (p *fakePlayer) Play() error { p.record("play"); return nil }
func (p *fakePlayer) Pause() error { p.record("pause"); return nil }
func (p *fakePlayer) TogglePlayPause() error { p.record("toggle"); return nil }
func (p *fakePlayer) Seek(types.Ticks) error { p.record("seek"); return nil }
func (p *fakePlayer) SkipNext(context.Context) error { p.record("next"); return nil }
func (p *fakePlayer) SkipPrevious(context.Context) error { p.record("prev"); return nil }
func (p *fakePlayer) SetShuffle(bool) { p.record("shuffle") }
func (p *fakePlayer) SetRepeat(bool) { p.record("repeat") }
func (p *fakePlayer) SetVolume(float64) error { p.record("volume"); return nil }
func (p *fakePlayer) Clear() { p.record("clear") }
func (p *fakePlayer) Tracks() []types.Track { return p.tracks }

func (p *fakePlayer) Snapshot() playback.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *fakePlayer) Subscribe(fn func(playback.Snapshot)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

func (p *fakePlayer) publish(snap playback.Snapshot) {
	p.mu.Lock()
	p.snap = snap
	subs := make([]func(playback.Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

type fakeLibrary struct {
	limit    int
	accurate bool
}

func (l *fakeLibrary) Reconcile(_ context.Context, _ string, limit int, accurate bool) ([]continuewatch.Entry, error) {
	l.limit, l.accurate = limit, accurate
	return []continuewatch.Entry{{Item: types.Item{ID: "ep1", Type: types.ItemEpisode}}}, nil
}

type fakeTracks struct{}

func (fakeTracks) Open(_ context.Context, itemID string) (types.Item, trackpref.TrackPreference, error) {
	if itemID == "missing" {
		return types.Item{}, trackpref.TrackPreference{}, errors.New("not found")
	}
	item := types.Item{ID: itemID, UserData: &types.UserData{PlaybackPositionTicks: 42}}
	return item, trackpref.TrackPreference{AudioIndex: 2, MatchedUserLanguage: true}, nil
}

func (fakeTracks) ChooseAudio(index int) (trackpref.TrackPreference, error) {
	return trackpref.TrackPreference{AudioIndex: index}, nil
}

func (fakeTracks) ChooseSubtitle(index *int) (trackpref.TrackPreference, error) {
	return trackpref.TrackPreference{AudioIndex: 1, SubtitleIndex: index}, nil
}

type fakeVideo struct {
	mu    sync.Mutex
	state playback.VideoState
}

func (v *fakeVideo) Begin(item types.Item) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = playback.VideoState{ItemID: item.ID, PlaySessionID: "ps-1", Position: item.ResumePosition(), Active: true}
	return "ps-1"
}

func (v *fakeVideo) Update(pos types.Ticks, paused bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Position, v.state.Paused = pos, paused
}

func (v *fakeVideo) MarkCompleted() {}

func (v *fakeVideo) End() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Active = false
}

func (v *fakeVideo) State() playback.VideoState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

type harness struct {
	player  *fakePlayer
	library *fakeLibrary
	cfg     *config.Manager
	conn    net.Conn
	reader  *bufio.Reader
}

func startServer(t *testing.T) *harness {
	t.Helper()

	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.NewManager(dir)
	require.NoError(t, cfg.Load())

	store, err := auth.NewStore(filepath.Join(dir, "clients.json"))
	require.NoError(t, err)

	h := &harness{player: newFakePlayer(), library: &fakeLibrary{}, cfg: cfg}
	srv, err := NewServer(filepath.Join(dir, "s.sock"), Deps{
		Auth:    auth.NewManager(store, auth.Options{AutoApprove: true}),
		Config:  cfg,
		Player:  h.player,
		Queue:   h.player,
		Library: h.library,
		Tracks:  fakeTracks{},
		Video:   &fakeVideo{},
	})
	require.NoError(t, err)

	ln, err := net.Listen("unix", filepath.Join(dir, "s.sock"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h.conn, err = net.Dial("unix", filepath.Join(dir, "s.sock"))
	require.NoError(t, err)
	t.Cleanup(func() { h.conn.Close() })
	h.reader = bufio.NewReader(h.conn)
	return h
}

func (h *harness) send(t *testing.T, cmd CommandType, token string, data any) *Response {
	t.Helper()
	req := &Request{Cmd: cmd, Token: token}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		req.Data = raw
	}
	line, err := EncodeRequest(req)
	require.NoError(t, err)
	_, err = h.conn.Write(append(line, '\n'))
	require.NoError(t, err)

	for {
		resp := h.readLine(t)
		var push PushMessage
		if json.Unmarshal(resp, &push) == nil && push.Type != "" {
			continue
		}
		decoded, err := DecodeResponse(resp)
		require.NoError(t, err)
		return decoded
	}
}

func (h *harness) readLine(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, h.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := h.reader.ReadBytes('\n')
	require.NoError(t, err)
	return line
}

func (h *harness) pair(t *testing.T) string {
	t.Helper()
	resp := h.send(t, CmdPair, "", PairRequest{ClientName: "test"})
	require.True(t, resp.Success, resp.Error)
	var pr PairResponse
	require.NoError(t, json.Unmarshal(resp.Data, &pr))
	require.NotEmpty(t, pr.Token)
	return pr.Token
}

func TestServerRejectsMissingToken(t *testing.T) {
	h := startServer(t)

	resp := h.send(t, CmdStatus, "", nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestServerInvalidJSON(t *testing.T) {
	h := startServer(t)

	_, err := h.conn.Write([]byte("{nope\n"))
	require.NoError(t, err)
	resp, err := DecodeResponse(h.readLine(t))
	require.NoError(t, err)
	assert.Equal(t, "invalid request format", resp.Error)
}

func TestServerLoadQueueReturnsStatus(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CmdLoadQueue, token, LoadQueueRequest{
		Tracks:     []types.Track{{ID: "a"}, {ID: "b"}},
		StartIndex: 1,
		AutoPlay:   true,
	})
	require.True(t, resp.Success, resp.Error)

	var status map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &status))
	assert.Equal(t, "playing", status["state"])
	assert.Equal(t, float64(1), status["index"])

	resp = h.send(t, CmdGetQueue, token, nil)
	require.True(t, resp.Success)
	var q GetQueueResponse
	require.NoError(t, json.Unmarshal(resp.Data, &q))
	assert.Len(t, q.Tracks, 2)
}

func TestServerLoadQueueNeedsTracks(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CmdLoadQueue, token, LoadQueueRequest{})
	assert.False(t, resp.Success)
	assert.Empty(t, h.player.Calls())
}

func TestServerTransportCommands(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	for _, cmd := range []CommandType{CmdPlay, CmdPause, CmdToggle, CmdNext, CmdPrev, CmdClear} {
		resp := h.send(t, cmd, token, nil)
		require.True(t, resp.Success, "%s: %s", cmd, resp.Error)
	}
	h.send(t, CmdSeek, token, SeekRequest{PositionTicks: 5})
	h.send(t, CmdShuffle, token, ToggleRequest{Enabled: true})
	h.send(t, CmdRepeat, token, ToggleRequest{Enabled: true})
	h.send(t, CmdVolume, token, VolumeRequest{Level: 0.3})

	assert.Equal(t, []string{"play", "pause", "toggle", "next", "prev", "clear", "seek", "shuffle", "repeat", "volume"}, h.player.Calls())
}

func TestServerSubscribePushesStatus(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CmdSubscribe, token, nil)
	require.True(t, resp.Success)

	h.player.publish(playback.Snapshot{Seq: 1, State: playback.StatePlaying, Index: 0, Length: 1})

	var push PushMessage
	require.NoError(t, json.Unmarshal(h.readLine(t), &push))
	assert.Equal(t, PushStatus, push.Type)

	resp = h.send(t, CmdUnsubscribe, token, nil)
	require.True(t, resp.Success)
	assert.Eventually(t, func() bool {
		h.player.mu.Lock()
		defer h.player.mu.Unlock()
		return len(h.player.subs) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestServerContinueWatchingUsesConfig(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CmdContinueWatching, token, nil)
	require.True(t, resp.Success, resp.Error)

	var cw ContinueWatchingResponse
	require.NoError(t, json.Unmarshal(resp.Data, &cw))
	require.Len(t, cw.Items, 1)
	assert.Equal(t, "ep1", cw.Items[0].Item.ID)
	assert.Equal(t, config.DefaultConfig().ContinueWatching.Limit, h.library.limit)
	assert.True(t, h.library.accurate)
}

func TestServerResolveTracks(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CmdResolveTracks, token, ItemRequest{ItemID: "movie"})
	require.True(t, resp.Success, resp.Error)
	var tr TracksResponse
	require.NoError(t, json.Unmarshal(resp.Data, &tr))
	assert.Equal(t, 2, tr.Tracks.AudioIndex)
	assert.True(t, tr.Tracks.MatchedUserLanguage)

	resp = h.send(t, CmdResolveTracks, token, ItemRequest{ItemID: "missing"})
	assert.False(t, resp.Success)
}

func TestServerVideoLifecycle(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CmdVideoBegin, token, ItemRequest{ItemID: "movie"})
	require.True(t, resp.Success, resp.Error)
	var vb VideoBeginResponse
	require.NoError(t, json.Unmarshal(resp.Data, &vb))
	assert.Equal(t, "ps-1", vb.PlaySessionID)
	assert.Equal(t, types.Ticks(42), vb.StartTicks)

	resp = h.send(t, CmdVideoUpdate, token, VideoUpdateRequest{PositionTicks: 100, Paused: true})
	var st VideoStateResponse
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.Equal(t, types.Ticks(100), st.Position)
	assert.True(t, st.Paused)

	resp = h.send(t, CmdVideoEnd, token, nil)
	require.NoError(t, json.Unmarshal(resp.Data, &st))
	assert.False(t, st.Active)
}

func TestServerSetPreferencesPersists(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	seen := make(chan *config.Config, 1)
	h.cfg.OnChange(func(c *config.Config) { seen <- c })

	de := "de"
	resp := h.send(t, CmdSetPreferences, token, SetPreferencesRequest{AudioLanguage: &de})
	require.True(t, resp.Success, resp.Error)

	var cr ConfigResponse
	require.NoError(t, json.Unmarshal(resp.Data, &cr))
	assert.Equal(t, "de", cr.AudioLanguage)
	assert.Empty(t, cr.SubtitleLanguage)
	select {
	case c := <-seen:
		assert.Equal(t, "de", c.Preferences.AudioLanguage)
	case <-time.After(time.Second):
		t.Fatal("no change notification")
	}
}

func TestServerUnknownCommand(t *testing.T) {
	h := startServer(t)
	token := h.pair(t)

	resp := h.send(t, CommandType("dance"), token, nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "unknown command", resp.Error)
}
