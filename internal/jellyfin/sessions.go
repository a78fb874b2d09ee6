package jellyfin

import (
	"context"
	"net/http"
	"net/url"

	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

type sessionInfo struct {
	ID       string `json:"Id"`
	DeviceID string `json:"DeviceId"`
}

// CurrentSessionID returns the id of the server session bound to this
// device. An empty id with a nil error means the server has no session yet.
func (c *Client) CurrentSessionID(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("deviceId", c.deviceID())

	var sessions []sessionInfo
	if err := c.do(ctx, http.MethodGet, "/Sessions", params, nil, &sessions); err != nil {
		return "", err
	}
	for _, s := range sessions {
		if s.ID != "" {
			return s.ID, nil
		}
	}
	return "", nil
}

// PlaybackReport is the body of the playstate endpoints.
type PlaybackReport struct {
	ItemID        string      `json:"ItemId"`
	SessionID     string      `json:"SessionId"`
	PositionTicks types.Ticks `json:"PositionTicks"`
	IsPaused      bool        `json:"IsPaused"`
	PlaySessionID string      `json:"PlaySessionId,omitempty"`
}

// ReportPlaybackStart tells the server playback of an item began.
func (c *Client) ReportPlaybackStart(ctx context.Context, r PlaybackReport) error {
	return c.do(ctx, http.MethodPost, "/Sessions/Playing", nil, r, nil)
}

// ReportPlaybackProgress updates the position of the playing item.
func (c *Client) ReportPlaybackProgress(ctx context.Context, r PlaybackReport) error {
	return c.do(ctx, http.MethodPost, "/Sessions/Playing/Progress", nil, r, nil)
}

// ReportPlaybackStopped tells the server playback of an item ended.
func (c *Client) ReportPlaybackStopped(ctx context.Context, r PlaybackReport) error {
	return c.do(ctx, http.MethodPost, "/Sessions/Playing/Stopped", nil, r, nil)
}
