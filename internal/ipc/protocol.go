// Package ipc handles inter-process communication between the daemon and clients.
//
// Messages are newline-delimited JSON. Every request gets exactly one
// response; subscribed clients additionally receive push messages.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/KartoffelChipss/pelagica/playerd/internal/auth"
	"github.com/KartoffelChipss/pelagica/playerd/internal/continuewatch"
	"github.com/KartoffelChipss/pelagica/playerd/internal/playback"
	"github.com/KartoffelChipss/pelagica/playerd/internal/trackpref"
	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdPair   CommandType = "pair"
	CmdStatus CommandType = "status"

	// Music transport
	CmdLoadQueue CommandType = "loadQueue"
	CmdPlayTrack CommandType = "playTrack"
	CmdQueueJump CommandType = "queueJump"
	CmdGetQueue  CommandType = "getQueue"
	CmdPlay      CommandType = "play"
	CmdPause     CommandType = "pause"
	CmdToggle    CommandType = "toggle"
	CmdSeek      CommandType = "seek"
	CmdNext      CommandType = "next"
	CmdPrev      CommandType = "prev"
	CmdShuffle   CommandType = "shuffle"
	CmdRepeat    CommandType = "repeat"
	CmdVolume    CommandType = "volume"
	CmdClear     CommandType = "clear"

	// Status push
	CmdSubscribe   CommandType = "subscribe"
	CmdUnsubscribe CommandType = "unsubscribe"

	// Library
	CmdContinueWatching CommandType = "continueWatching"
	CmdResolveTracks    CommandType = "resolveTracks"
	CmdChooseAudio      CommandType = "chooseAudio"
	CmdChooseSubtitle   CommandType = "chooseSubtitle"

	// Video surface
	CmdVideoBegin    CommandType = "videoBegin"
	CmdVideoUpdate   CommandType = "videoUpdate"
	CmdVideoEnd      CommandType = "videoEnd"
	CmdVideoComplete CommandType = "videoComplete"
	CmdVideoState    CommandType = "videoState"

	// Configuration
	CmdGetConfig      CommandType = "getConfig"
	CmdSetPreferences CommandType = "setPreferences"
)

// PushStatus is the push message type carrying a StatusResponse.
const PushStatus = "status"

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd   CommandType     `json:"cmd"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// PairRequest is the data for a pair command
type PairRequest struct {
	ClientName string `json:"clientName"`
}

// PairResponse is the response to a pair command
type PairResponse = auth.PairResult

// LoadQueueRequest replaces the queue.
type LoadQueueRequest struct {
	Tracks     []types.Track `json:"tracks"`
	StartIndex int           `json:"startIndex"`
	AutoPlay   bool          `json:"autoPlay"`
}

// PlayTrackRequest plays one track as a single-entry queue.
type PlayTrackRequest struct {
	Track types.Track `json:"track"`
}

// QueueJumpRequest is the data for a queueJump command
type QueueJumpRequest struct {
	Index    int  `json:"index"`
	AutoPlay bool `json:"autoPlay"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	PositionTicks types.Ticks `json:"positionTicks"`
}

// ToggleRequest sets shuffle or repeat.
type ToggleRequest struct {
	Enabled bool `json:"enabled"`
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// StatusResponse is the response to a status command and the status push.
type StatusResponse = playback.Snapshot

// GetQueueResponse is the response to a getQueue command
type GetQueueResponse struct {
	Tracks  []types.Track `json:"tracks"`
	Index   int           `json:"index"`
	Shuffle bool          `json:"shuffle"`
	Repeat  bool          `json:"repeat"`
}

// ContinueWatchingItem is one row of the continue-watching list.
type ContinueWatchingItem struct {
	Item               types.Item `json:"item"`
	EffectiveTimestamp *time.Time `json:"effectiveTimestamp,omitempty"`
	Inferred           bool       `json:"inferred,omitempty"`
}

// ContinueWatchingResponse is the response to continueWatching.
type ContinueWatchingResponse struct {
	Items []ContinueWatchingItem `json:"items"`
}

func newContinueWatchingResponse(entries []continuewatch.Entry) ContinueWatchingResponse {
	resp := ContinueWatchingResponse{Items: make([]ContinueWatchingItem, 0, len(entries))}
	for _, e := range entries {
		row := ContinueWatchingItem{Item: e.Item, Inferred: e.Inferred}
		if !e.EffectiveTimestamp.IsZero() {
			ts := e.EffectiveTimestamp.UTC()
			row.EffectiveTimestamp = &ts
		}
		resp.Items = append(resp.Items, row)
	}
	return resp
}

// ItemRequest names an item.
type ItemRequest struct {
	ItemID string `json:"itemId"`
}

// TracksResponse is the selection for an item.
type TracksResponse struct {
	ItemID        string                    `json:"itemId"`
	Tracks        trackpref.TrackPreference `json:"tracks"`
	PlaySessionID string                    `json:"playSessionId,omitempty"`
}

// ChooseAudioRequest picks an audio stream by its stream index.
type ChooseAudioRequest struct {
	Index int `json:"index"`
}

// ChooseSubtitleRequest picks a subtitle by ordinal; null turns them off.
type ChooseSubtitleRequest struct {
	Index *int `json:"index"`
}

// VideoBeginResponse is the response to videoBegin.
type VideoBeginResponse struct {
	ItemID        string                    `json:"itemId"`
	PlaySessionID string                    `json:"playSessionId"`
	StartTicks    types.Ticks               `json:"startTicks"`
	Tracks        trackpref.TrackPreference `json:"tracks"`
}

// VideoUpdateRequest is the surface's position.
type VideoUpdateRequest struct {
	PositionTicks types.Ticks `json:"positionTicks"`
	Paused        bool        `json:"paused"`
}

// VideoStateResponse is the response to the video commands.
type VideoStateResponse = playback.VideoState

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	ConfigPath       string `json:"configPath"`
	ServerURL        string `json:"serverUrl"`
	UserID           string `json:"userId"`
	AudioLanguage    string `json:"audioLanguage,omitempty"`
	SubtitleLanguage string `json:"subtitleLanguage,omitempty"`
	RememberQueue    bool   `json:"rememberQueue"`
	MediaSession     bool   `json:"mediaSession"`
}

// SetPreferencesRequest overrides the server-side language preferences.
// Nil fields are left alone; an empty string clears the override.
type SetPreferencesRequest struct {
	AudioLanguage    *string `json:"audioLanguage,omitempty"`
	SubtitleLanguage *string `json:"subtitleLanguage,omitempty"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data any) (*Response, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Response{Success: true, Data: raw}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage encodes a push message
func NewPushMessage(msgType string, data any) ([]byte, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(PushMessage{Type: msgType, Data: raw})
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}

// decodeData unmarshals req.Data into v. Missing data leaves v zero.
func decodeData(req *Request, v any) error {
	if len(req.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return fmt.Errorf("invalid %s request: %w", req.Cmd, err)
	}
	return nil
}
