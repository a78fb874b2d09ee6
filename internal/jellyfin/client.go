// Package jellyfin talks to a Jellyfin-compatible media server: session
// lookup, playstate reporting, catalog reads and stream URLs.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

var (
	// ErrUpstream wraps transport failures and non-2xx responses.
	ErrUpstream = errors.New("jellyfin: upstream unavailable")
	// ErrNotConfigured is returned when the server URL or token is missing.
	ErrNotConfigured = errors.New("jellyfin: server not configured")
)

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Path, e.Status)
}

// Client is a media server API client.
type Client struct {
	baseURL    string
	token      string
	userID     string
	deviceName string
	version    string
	deviceID   func() string
	http       *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// Options configures the client.
type Options struct {
	AccessToken string
	UserID      string
	DeviceName  string
	Version     string
	// DeviceID supplies the id sent in the Authorization header.
	DeviceID  func() string
	Timeout   time.Duration
	RateLimit rate.Limit // 0 disables limiting
	Burst     int
	Transport http.RoundTripper
}

const (
	defaultTimeout = 10 * time.Second
	defaultBurst   = 10
	clientName     = "playerd"
)

func normalizeOptions(opts Options) Options {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if strings.TrimSpace(opts.DeviceName) == "" {
		opts.DeviceName = clientName
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.DeviceID == nil {
		opts.DeviceID = func() string { return clientName }
	}
	if opts.Transport == nil {
		opts.Transport = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
		}
	}
	return opts
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	nopts := normalizeOptions(opts)

	var limiter *rate.Limiter
	if nopts.RateLimit > 0 {
		limiter = rate.NewLimiter(nopts.RateLimit, nopts.Burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      nopts.AccessToken,
		userID:     nopts.UserID,
		deviceName: nopts.DeviceName,
		version:    nopts.Version,
		deviceID:   nopts.DeviceID,
		http: &http.Client{
			Timeout:   nopts.Timeout,
			Transport: otelhttp.NewTransport(nopts.Transport),
		},
		limiter: limiter,
		logger:  log.WithComponent("jellyfin"),
	}
}

// UserID returns the configured user.
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) endpoint(path string, params url.Values) (*url.URL, error) {
	if c.baseURL == "" || c.token == "" {
		return nil, ErrNotConfigured
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u, nil
}

func (c *Client) authorization() string {
	return fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s", Token="%s"`,
		clientName, c.deviceName, c.deviceID(), c.version, c.token)
}

// do sends one request. body is JSON-encoded when non-nil; out is decoded when non-nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	u, err := c.endpoint(path, params)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.authorization())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	recordRequest(method, path, status, time.Since(start), err)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if status < 200 || status > 299 {
		return fmt.Errorf("%w: %w", ErrUpstream, &StatusError{Status: status, Path: path})
	}

	if out == nil || status == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
