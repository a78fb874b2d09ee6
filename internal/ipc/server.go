package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/auth"
	"github.com/KartoffelChipss/pelagica/playerd/internal/config"
	"github.com/KartoffelChipss/pelagica/playerd/internal/continuewatch"
	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/trackpref"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

const maxLineBytes = 4 << 20

// Player is the music transport the server drives.
type Player interface {
	LoadQueue(ctx context.Context, tracks []types.Track, startIndex int, autoPlay bool) error
	LoadTrack(ctx context.Context, index int, autoPlay bool) error
	PlayTrack(ctx context.Context, track types.Track) error
	Play() error
	Pause() error
	TogglePlayPause() error
	Seek(position types.Ticks) error
	SkipNext(ctx context.Context) error
	SkipPrevious(ctx context.Context) error
	SetShuffle(enabled bool)
	SetRepeat(enabled bool)
	SetVolume(v float64) error
	Clear()
	Snapshot() playback.Snapshot
	Subscribe(fn func(playback.Snapshot)) func()
}

// QueueReader lists the queue in play order.
type QueueReader interface {
	Tracks() []types.Track
}

// Library builds the continue-watching list.
type Library interface {
	Reconcile(ctx context.Context, userID string, limit int, accurateSorting bool) ([]continuewatch.Entry, error)
}

// TrackSelector resolves and records audio/subtitle choices.
type TrackSelector interface {
	Open(ctx context.Context, itemID string) (types.Item, trackpref.TrackPreference, error)
	ChooseAudio(index int) (trackpref.TrackPreference, error)
	ChooseSubtitle(index *int) (trackpref.TrackPreference, error)
}

// VideoSurface reports playback of an externally rendered video.
type VideoSurface interface {
	Begin(item types.Item) string
	Update(position types.Ticks, paused bool)
	MarkCompleted()
	End()
	State() playback.VideoState
}

// Deps are the collaborators a Server dispatches to.
type Deps struct {
	Auth    *auth.Manager
	Config  *config.Manager
	Player  Player
	Queue   QueueReader
	Library Library
	Tracks  TrackSelector
	Video   VideoSurface
}

type client struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex

	subMu       sync.Mutex
	unsubscribe func()
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(append(data, '\n'))
	return err
}

func (c *client) dropSubscription() {
	c.subMu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.subMu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	deps       Deps
	logger     zerolog.Logger

	listener net.Listener
	mu       sync.Mutex
	closing  bool
	clients  map[net.Conn]*client
	nextID   atomic.Uint64
}

// NewServer creates a new IPC server
func NewServer(socketPath string, deps Deps) (*Server, error) {
	if deps.Auth == nil || deps.Config == nil || deps.Player == nil {
		return nil, errors.New("ipc: auth, config and player are required")
	}
	return &Server{
		socketPath: socketPath,
		deps:       deps,
		logger:     log.WithComponent("ipc"),
		clients:    make(map[net.Conn]*client),
	}, nil
}

// DefaultSocketPath returns the per-user socket path.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/playerd.sock"
	}
	return fmt.Sprintf("/tmp/playerd-%d.sock", os.Getuid())
}

// Start listens on the socket and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info().Str("socket", s.socketPath).Msg("ipc server listening")
	err = s.Serve(ctx, listener)
	os.RemoveAll(s.socketPath)
	return err
}

// Serve accepts connections on listener until ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.acceptLoop(ctx, &wg)
	}()

	<-ctx.Done()

	listener.Close()
	s.mu.Lock()
	s.closing = true
	clientCount := len(s.clients)
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	wg.Wait()

	s.logger.Info().Int("clients", clientCount).Msg("ipc server stopped")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		c := &client{id: "conn-" + strconv.FormatUint(s.nextID.Add(1), 10), conn: conn}

		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[conn] = c
		clientCount := len(s.clients)
		s.mu.Unlock()

		s.logger.Debug().Str("client", c.id).Int("clients", clientCount).Msg("client connected")

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, c)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.dropSubscription()
		c.conn.Close()
		s.mu.Lock()
		delete(s.clients, c.conn)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.logger.Debug().Str("client", c.id).Int("clients", clientCount).Msg("client disconnected")
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		start := time.Now()
		var resp *Response
		req, err := DecodeRequest(line)
		if err != nil {
			s.logger.Debug().Err(err).Str("client", c.id).Msg("invalid request")
			resp = NewErrorResponse("invalid request format")
		} else {
			resp = s.handleRequest(ctx, c, req)
			logExchange(s.logger, req, resp, time.Since(start))
		}

		data, err := EncodeResponse(resp)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to encode response")
			return
		}
		if err := c.write(data); err != nil {
			s.logger.Debug().Err(err).Str("client", c.id).Msg("send failed")
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug().Err(err).Str("client", c.id).Msg("read failed")
	}
}

func (s *Server) handleRequest(ctx context.Context, c *client, req *Request) *Response {
	// Pair command doesn't require authentication
	if req.Cmd == CmdPair {
		return s.handlePair(req)
	}

	if err := s.deps.Auth.Authenticate(c.id, req.Token); err != nil {
		if errors.Is(err, auth.ErrLockedOut) || errors.Is(err, auth.ErrPending) {
			return NewErrorResponse(err.Error())
		}
		return NewErrorResponse("unauthorized")
	}

	switch req.Cmd {
	case CmdStatus:
		return s.handleStatus()
	case CmdLoadQueue:
		return s.handleLoadQueue(ctx, req)
	case CmdPlayTrack:
		return s.handlePlayTrack(ctx, req)
	case CmdQueueJump:
		return s.handleQueueJump(ctx, req)
	case CmdGetQueue:
		return s.handleGetQueue()
	case CmdPlay:
		return s.transport(s.deps.Player.Play())
	case CmdPause:
		return s.transport(s.deps.Player.Pause())
	case CmdToggle:
		return s.transport(s.deps.Player.TogglePlayPause())
	case CmdSeek:
		return s.handleSeek(req)
	case CmdNext:
		return s.transport(s.deps.Player.SkipNext(ctx))
	case CmdPrev:
		return s.transport(s.deps.Player.SkipPrevious(ctx))
	case CmdShuffle:
		return s.handleToggle(req, s.deps.Player.SetShuffle)
	case CmdRepeat:
		return s.handleToggle(req, s.deps.Player.SetRepeat)
	case CmdVolume:
		return s.handleVolume(req)
	case CmdClear:
		s.deps.Player.Clear()
		return s.handleStatus()
	case CmdSubscribe:
		return s.handleSubscribe(c)
	case CmdUnsubscribe:
		c.dropSubscription()
		return success(nil)
	case CmdContinueWatching:
		return s.handleContinueWatching(ctx)
	case CmdResolveTracks:
		return s.handleResolveTracks(ctx, req)
	case CmdChooseAudio:
		return s.handleChooseAudio(req)
	case CmdChooseSubtitle:
		return s.handleChooseSubtitle(req)
	case CmdVideoBegin:
		return s.handleVideoBegin(ctx, req)
	case CmdVideoUpdate:
		return s.handleVideoUpdate(req)
	case CmdVideoEnd:
		return s.videoCommand(func(v VideoSurface) { v.End() })
	case CmdVideoComplete:
		return s.videoCommand(func(v VideoSurface) { v.MarkCompleted() })
	case CmdVideoState:
		return s.videoCommand(func(VideoSurface) {})
	case CmdGetConfig:
		return s.handleGetConfig()
	case CmdSetPreferences:
		return s.handleSetPreferences(req)
	default:
		return NewErrorResponse("unknown command")
	}
}

func success(data any) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse("internal error")
	}
	return resp
}

func (s *Server) handlePair(req *Request) *Response {
	var pairReq PairRequest
	if err := decodeData(req, &pairReq); err != nil {
		return NewErrorResponse("invalid pair request")
	}

	result, err := s.deps.Auth.Pair(pairReq.ClientName)
	if err != nil {
		s.logger.Error().Err(err).Str("client", pairReq.ClientName).Msg("pairing failed")
		return NewErrorResponse(err.Error())
	}
	return success(PairResponse(result))
}

func (s *Server) handleStatus() *Response {
	return success(StatusResponse(s.deps.Player.Snapshot()))
}

// transport answers a transport command with the resulting status.
func (s *Server) transport(err error) *Response {
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.handleStatus()
}

func (s *Server) handleLoadQueue(ctx context.Context, req *Request) *Response {
	var r LoadQueueRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	if len(r.Tracks) == 0 {
		return NewErrorResponse("tracks are required")
	}
	return s.transport(s.deps.Player.LoadQueue(ctx, r.Tracks, r.StartIndex, r.AutoPlay))
}

func (s *Server) handlePlayTrack(ctx context.Context, req *Request) *Response {
	var r PlayTrackRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.Track.ID == "" {
		return NewErrorResponse("track id is required")
	}
	return s.transport(s.deps.Player.PlayTrack(ctx, r.Track))
}

func (s *Server) handleQueueJump(ctx context.Context, req *Request) *Response {
	var r QueueJumpRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.transport(s.deps.Player.LoadTrack(ctx, r.Index, r.AutoPlay))
}

func (s *Server) handleGetQueue() *Response {
	snap := s.deps.Player.Snapshot()
	resp := GetQueueResponse{
		Tracks:  []types.Track{},
		Index:   snap.Index,
		Shuffle: snap.Shuffle,
		Repeat:  snap.Repeat,
	}
	if s.deps.Queue != nil {
		if tracks := s.deps.Queue.Tracks(); tracks != nil {
			resp.Tracks = tracks
		}
	}
	return success(resp)
}

func (s *Server) handleSeek(req *Request) *Response {
	var r SeekRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.transport(s.deps.Player.Seek(r.PositionTicks))
}

func (s *Server) handleToggle(req *Request, set func(bool)) *Response {
	var r ToggleRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	set(r.Enabled)
	return s.handleStatus()
}

func (s *Server) handleVolume(req *Request) *Response {
	var r VolumeRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.transport(s.deps.Player.SetVolume(r.Level))
}

func (s *Server) handleSubscribe(c *client) *Response {
	c.dropSubscription()
	unsub := s.deps.Player.Subscribe(func(snap playback.Snapshot) {
		msg, err := NewPushMessage(PushStatus, StatusResponse(snap))
		if err != nil {
			return
		}
		if err := c.write(msg); err != nil {
			s.logger.Debug().Err(err).Str("client", c.id).Msg("status push failed")
		}
	})
	c.subMu.Lock()
	c.unsubscribe = unsub
	c.subMu.Unlock()
	return s.handleStatus()
}

func (s *Server) handleContinueWatching(ctx context.Context) *Response {
	if s.deps.Library == nil {
		return NewErrorResponse("library not available")
	}
	cfg := s.deps.Config.Get()
	entries, err := s.deps.Library.Reconcile(ctx, cfg.Server.UserID, cfg.ContinueWatching.Limit, cfg.ContinueWatching.AccurateSorting)
	if err != nil {
		s.logger.Warn().Err(err).Msg("continue watching failed")
		return NewErrorResponse(err.Error())
	}
	return success(newContinueWatchingResponse(entries))
}

func (s *Server) handleResolveTracks(ctx context.Context, req *Request) *Response {
	if s.deps.Tracks == nil {
		return NewErrorResponse("track selection not available")
	}
	var r ItemRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.ItemID == "" {
		return NewErrorResponse("itemId is required")
	}
	item, pref, err := s.deps.Tracks.Open(ctx, r.ItemID)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(TracksResponse{ItemID: item.ID, Tracks: pref})
}

func (s *Server) handleChooseAudio(req *Request) *Response {
	if s.deps.Tracks == nil {
		return NewErrorResponse("track selection not available")
	}
	var r ChooseAudioRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	pref, err := s.deps.Tracks.ChooseAudio(r.Index)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(TracksResponse{Tracks: pref, PlaySessionID: s.renewedPlaySession()})
}

func (s *Server) handleChooseSubtitle(req *Request) *Response {
	if s.deps.Tracks == nil {
		return NewErrorResponse("track selection not available")
	}
	var r ChooseSubtitleRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	pref, err := s.deps.Tracks.ChooseSubtitle(r.Index)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	return success(TracksResponse{Tracks: pref})
}

// renewedPlaySession gives an active video a fresh play session, since a new
// audio stream means a new transcode on the server.
func (s *Server) renewedPlaySession() string {
	renewer, ok := s.deps.Video.(interface{ RenewPlaySession() string })
	if !ok {
		return ""
	}
	return renewer.RenewPlaySession()
}

func (s *Server) handleVideoBegin(ctx context.Context, req *Request) *Response {
	if s.deps.Video == nil || s.deps.Tracks == nil {
		return NewErrorResponse("video not available")
	}
	var r ItemRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	if r.ItemID == "" {
		return NewErrorResponse("itemId is required")
	}
	item, pref, err := s.deps.Tracks.Open(ctx, r.ItemID)
	if err != nil {
		return NewErrorResponse(err.Error())
	}
	playSession := s.deps.Video.Begin(item)
	return success(VideoBeginResponse{
		ItemID:        item.ID,
		PlaySessionID: playSession,
		StartTicks:    item.ResumePosition(),
		Tracks:        pref,
	})
}

func (s *Server) handleVideoUpdate(req *Request) *Response {
	var r VideoUpdateRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}
	return s.videoCommand(func(v VideoSurface) { v.Update(r.PositionTicks, r.Paused) })
}

func (s *Server) videoCommand(fn func(VideoSurface)) *Response {
	if s.deps.Video == nil {
		return NewErrorResponse("video not available")
	}
	fn(s.deps.Video)
	return success(VideoStateResponse(s.deps.Video.State()))
}

func (s *Server) handleGetConfig() *Response {
	cfg := s.deps.Config.Get()
	return success(ConfigResponse{
		ConfigPath:       s.deps.Config.GetPath(),
		ServerURL:        cfg.Server.URL,
		UserID:           cfg.Server.UserID,
		AudioLanguage:    cfg.Preferences.AudioLanguage,
		SubtitleLanguage: cfg.Preferences.SubtitleLanguage,
		RememberQueue:    cfg.Behavior.RememberQueue,
		MediaSession:     cfg.Media.EnableSession,
	})
}

func (s *Server) handleSetPreferences(req *Request) *Response {
	var r SetPreferencesRequest
	if err := decodeData(req, &r); err != nil {
		return NewErrorResponse(err.Error())
	}

	next := *s.deps.Config.Get()
	if r.AudioLanguage != nil {
		next.Preferences.AudioLanguage = *r.AudioLanguage
	}
	if r.SubtitleLanguage != nil {
		next.Preferences.SubtitleLanguage = *r.SubtitleLanguage
	}
	if err := s.deps.Config.Update(&next); err != nil {
		s.logger.Error().Err(err).Msg("failed to save preferences")
		return NewErrorResponse(err.Error())
	}
	return s.handleGetConfig()
}
