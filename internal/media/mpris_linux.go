//go:build linux

package media

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusPrefix       = "org.mpris.MediaPlayer2."
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
	trackPathPrefix      = "/org/pelagica/playerd/track/"
	noTrackPath          = "/org/mpris/MediaPlayer2/TrackList/NoTrack"
)

// MPRISSession implements MPRIS media session for Linux
type MPRISSession struct {
	conn     *dbus.Conn
	identity string

	mu       sync.Mutex
	handlers map[Action]ActionHandler
	metadata Metadata
	state    PlaybackState
	position PositionState
	shuffle  bool
	repeat   bool
}

// NewSession creates a new MPRIS media session registered as name
func NewSession(name string) (Session, error) {
	if name == "" {
		name = "playerd"
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusPrefix+name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", mprisBusPrefix+name)
	}

	session := &MPRISSession{
		conn:     conn,
		identity: name,
		handlers: make(map[Action]ActionHandler),
		state:    StateStopped,
	}

	if err := session.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}

	return session, nil
}

func (s *MPRISSession) exportInterfaces() error {
	path := dbus.ObjectPath(mprisObjectPath)
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, "org.freedesktop.DBus.Properties"} {
		if err := s.conn.Export(s, path, iface); err != nil {
			return err
		}
	}
	return nil
}

// SetMetadata updates the track metadata
func (s *MPRISSession) SetMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	props := map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(s.metadataMapLocked()),
	}
	s.mu.Unlock()

	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

// SetPlaybackState updates the playback state
func (s *MPRISSession) SetPlaybackState(state PlaybackState) error {
	s.mu.Lock()
	s.state = state
	props := map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(s.playbackStatusLocked()),
	}
	s.mu.Unlock()

	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

// SetPositionState updates the position. Clients extrapolate from Rate, so
// only a jump is signalled.
func (s *MPRISSession) SetPositionState(state PositionState) error {
	s.mu.Lock()
	prev := s.position
	s.position = state
	s.mu.Unlock()

	if !isJump(prev, state) {
		return nil
	}
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		mprisPlayerInterface+".Seeked",
		state.Position.Microseconds(),
	)
}

// isJump reports whether next is not reachable from prev by playing.
func isJump(prev, next PositionState) bool {
	delta := next.Position - prev.Position
	return delta < 0 || delta > 2*time.Second || prev.Duration != next.Duration
}

// SetModes updates the shuffle and loop properties
func (s *MPRISSession) SetModes(shuffle, repeat bool) error {
	s.mu.Lock()
	s.shuffle = shuffle
	s.repeat = repeat
	props := map[string]dbus.Variant{
		"Shuffle":    dbus.MakeVariant(shuffle),
		"LoopStatus": dbus.MakeVariant(loopStatus(repeat)),
	}
	s.mu.Unlock()

	return s.emitPropertiesChanged(mprisPlayerInterface, props)
}

func loopStatus(repeat bool) string {
	if repeat {
		return "Playlist"
	}
	return "None"
}

// SetActionHandler registers or, with nil, removes an action handler
func (s *MPRISSession) SetActionHandler(action Action, handler ActionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if handler == nil {
		delete(s.handlers, action)
		return
	}
	s.handlers[action] = handler
}

func (s *MPRISSession) invoke(action Action, details ActionDetails) *dbus.Error {
	s.mu.Lock()
	handler := s.handlers[action]
	s.mu.Unlock()

	if handler == nil {
		return nil
	}
	if err := handler(details); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// Close releases resources
func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// MPRIS DBus method implementations

// org.mpris.MediaPlayer2 methods

func (s *MPRISSession) Raise() *dbus.Error {
	return nil
}

func (s *MPRISSession) Quit() *dbus.Error {
	return nil
}

// org.mpris.MediaPlayer2.Player methods

func (s *MPRISSession) Play() *dbus.Error {
	return s.invoke(ActionPlay, ActionDetails{})
}

func (s *MPRISSession) Pause() *dbus.Error {
	return s.invoke(ActionPause, ActionDetails{})
}

func (s *MPRISSession) PlayPause() *dbus.Error {
	s.mu.Lock()
	playing := s.state == StatePlaying
	s.mu.Unlock()

	if playing {
		return s.Pause()
	}
	return s.Play()
}

// Stop pauses; the queue is only cleared from the daemon itself
func (s *MPRISSession) Stop() *dbus.Error {
	return s.Pause()
}

func (s *MPRISSession) Next() *dbus.Error {
	return s.invoke(ActionNext, ActionDetails{})
}

func (s *MPRISSession) Previous() *dbus.Error {
	return s.invoke(ActionPrevious, ActionDetails{})
}

func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	step := time.Duration(offset) * time.Microsecond
	if step < 0 {
		return s.invoke(ActionSeekBackward, ActionDetails{SeekOffset: -step})
	}
	return s.invoke(ActionSeekForward, ActionDetails{SeekOffset: step})
}

func (s *MPRISSession) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	s.mu.Lock()
	current := trackPath(s.metadata.TrackID)
	s.mu.Unlock()

	// stale requests for a previous track are ignored per the MPRIS spec
	if trackID != current {
		return nil
	}
	return s.invoke(ActionSeekTo, ActionDetails{SeekTime: time.Duration(position) * time.Microsecond})
}

// org.freedesktop.DBus.Properties methods

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	all, derr := s.GetAll(iface)
	if derr != nil {
		return dbus.Variant{}, derr
	}
	v, ok := all[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return s.mediaPlayer2Properties(), nil
	case mprisPlayerInterface:
		return s.playerProperties(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface {
		return nil
	}

	switch prop {
	case "Shuffle":
		enabled, ok := value.Value().(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for Shuffle"))
		}
		return s.invoke(ActionShuffle, ActionDetails{Enabled: enabled})
	case "LoopStatus":
		status, ok := value.Value().(string)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("invalid type for LoopStatus"))
		}
		return s.invoke(ActionRepeat, ActionDetails{Enabled: status != "None"})
	}

	return nil
}

func (s *MPRISSession) mediaPlayer2Properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(s.identity),
		"DesktopEntry":        dbus.MakeVariant(s.identity),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"http", "https"}),
		"SupportedMimeTypes":  dbus.MakeVariant([]string{"audio/mpeg", "audio/flac", "audio/ogg", "audio/aac"}),
	}
}

func (s *MPRISSession) playerProperties() map[string]dbus.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	has := func(a Action) bool { return s.handlers[a] != nil }
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(s.playbackStatusLocked()),
		"Metadata":       dbus.MakeVariant(s.metadataMapLocked()),
		"Position":       dbus.MakeVariant(s.position.Position.Microseconds()),
		"Rate":           dbus.MakeVariant(1.0),
		"MinimumRate":    dbus.MakeVariant(1.0),
		"MaximumRate":    dbus.MakeVariant(1.0),
		"CanGoNext":      dbus.MakeVariant(has(ActionNext)),
		"CanGoPrevious":  dbus.MakeVariant(has(ActionPrevious)),
		"CanPlay":        dbus.MakeVariant(has(ActionPlay)),
		"CanPause":       dbus.MakeVariant(has(ActionPause)),
		"CanSeek":        dbus.MakeVariant(has(ActionSeekTo)),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(1.0),
		"Shuffle":        dbus.MakeVariant(s.shuffle),
		"LoopStatus":     dbus.MakeVariant(loopStatus(s.repeat)),
	}
}

func (s *MPRISSession) playbackStatusLocked() string {
	switch s.state {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// trackPath turns an item id into a valid D-Bus object path
func trackPath(id string) dbus.ObjectPath {
	if id == "" {
		return noTrackPath
	}
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return dbus.ObjectPath(trackPathPrefix + b.String())
}

func (s *MPRISSession) metadataMapLocked() map[string]dbus.Variant {
	m := make(map[string]dbus.Variant)
	md := s.metadata

	m["mpris:trackid"] = dbus.MakeVariant(trackPath(md.TrackID))

	if md.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(md.Title)
	}
	if len(md.Artists) > 0 {
		m["xesam:artist"] = dbus.MakeVariant(md.Artists)
	}
	if md.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(md.Album)
	}
	if md.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(md.Duration.Microseconds())
	}
	if art, ok := md.Largest(); ok {
		m["mpris:artUrl"] = dbus.MakeVariant(art.URL)
	}

	return m
}

func (s *MPRISSession) emitPropertiesChanged(iface string, props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		"org.freedesktop.DBus.Properties.PropertiesChanged",
		iface,
		props,
		[]string{},
	)
}
