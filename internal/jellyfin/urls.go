package jellyfin

import (
	"net/url"
	"strconv"
)

// Containers the universal audio endpoint may serve without transcoding.
const directPlayContainers = "opus,webm|opus,ts|mp3,mp3,aac,m4a|aac,m4b|aac,flac,alac,m4a|alac,m4b|alac,webma,webm|webma,wav,ogg,mp4|opus"

// AudioStreamURL returns the universal audio stream URL for a track.
func (c *Client) AudioStreamURL(trackID string) (string, error) {
	u, err := c.endpoint("/Audio/"+url.PathEscape(trackID)+"/universal", nil)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	if c.userID != "" {
		q.Set("UserId", c.userID)
	}
	q.Set("DeviceId", c.deviceID())
	q.Set("ApiKey", c.token)
	q.Set("AudioCodec", "aac")
	q.Set("Container", directPlayContainers)
	q.Set("TranscodingContainer", "mp4")
	q.Set("TranscodingProtocol", "hls")
	q.Set("StartTimeTicks", "0")
	q.Set("MaxStreamingBitrate", "150000000")
	q.Set("EnableRedirection", "true")
	q.Set("EnableRemoteMedia", "false")
	q.Set("EnableAudioVbrEncoding", "true")
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// PrimaryImageURL returns the primary image of an item scaled to width x height.
// It returns "" when the server is not configured.
func (c *Client) PrimaryImageURL(itemID string, width, height int) string {
	u, err := c.endpoint("/Items/"+url.PathEscape(itemID)+"/Images/Primary/0", nil)
	if err != nil {
		return ""
	}

	q := url.Values{}
	q.Set("tag", "v1")
	q.Set("quality", "90")
	q.Set("token", c.token)
	if width > 0 {
		q.Set("width", strconv.Itoa(width))
	}
	if height > 0 {
		q.Set("height", strconv.Itoa(height))
	}
	u.RawQuery = q.Encode()

	return u.String()
}
