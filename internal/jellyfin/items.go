package jellyfin

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/KartoffelChipss/pelagica/playerd/internal/types"
)

type itemsResponse struct {
	Items []types.Item `json:"Items"`
}

func listParams(userID string, limit int) url.Values {
	params := url.Values{}
	params.Set("userId", userID)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("startIndex", "0")
	params.Set("fields", "PrimaryImageAspectRatio,DateCreated,MediaStreams")
	params.Set("enableUserData", "true")
	params.Set("enableImages", "true")
	return params
}

// ResumeItems returns movies and episodes with in-progress playback.
func (c *Client) ResumeItems(ctx context.Context, userID string, limit int) ([]types.Item, error) {
	params := listParams(userID, limit)
	params.Set("includeItemTypes", "Movie,Episode")

	var res itemsResponse
	if err := c.do(ctx, http.MethodGet, "/UserItems/Resume", params, nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// NextUp returns series continuation candidates.
func (c *Client) NextUp(ctx context.Context, userID string, limit int) ([]types.Item, error) {
	var res itemsResponse
	if err := c.do(ctx, http.MethodGet, "/Shows/NextUp", listParams(userID, limit), nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// EpisodeNeighbors returns the window of episodes around episodeID.
func (c *Client) EpisodeNeighbors(ctx context.Context, userID, seriesID, episodeID string, window int) ([]types.Item, error) {
	params := listParams(userID, window)
	params.Del("startIndex")
	params.Set("adjacentTo", episodeID)

	var res itemsResponse
	path := "/Shows/" + url.PathEscape(seriesID) + "/Episodes"
	if err := c.do(ctx, http.MethodGet, path, params, nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Item fetches one item with its media streams.
func (c *Client) Item(ctx context.Context, userID, itemID string) (types.Item, error) {
	params := url.Values{}
	params.Set("userId", userID)

	var item types.Item
	if err := c.do(ctx, http.MethodGet, "/Items/"+url.PathEscape(itemID), params, nil, &item); err != nil {
		return types.Item{}, err
	}
	return item, nil
}

type userResponse struct {
	ID            string                  `json:"Id"`
	Configuration types.UserConfiguration `json:"Configuration"`
}

// UserConfiguration returns the user's stored playback preferences.
func (c *Client) UserConfiguration(ctx context.Context, userID string) (types.UserConfiguration, error) {
	var res userResponse
	if err := c.do(ctx, http.MethodGet, "/Users/"+url.PathEscape(userID), nil, nil, &res); err != nil {
		return types.UserConfiguration{}, err
	}
	return res.Configuration, nil
}
