// Package config handles daemon configuration file management.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Config represents the daemon configuration
type Config struct {
	// DataDir is where to store state files (queue, prefs, clients)
	DataDir string `json:"dataDir"`

	Server           ServerConfig           `json:"server"`
	Audio            AudioConfig            `json:"audio"`
	Playback         PlaybackConfig         `json:"playback"`
	ContinueWatching ContinueWatchingConfig `json:"continueWatching"`
	Preferences      PreferencesConfig      `json:"preferences"`
	Behavior         BehaviorConfig         `json:"behavior"`
	Media            MediaConfig            `json:"media"`
	Metrics          MetricsConfig          `json:"metrics"`
	Log              LogConfig              `json:"log"`
}

// ServerConfig points at the media server
type ServerConfig struct {
	URL         string `json:"url"`
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	DeviceName  string `json:"deviceName"`

	// TimeoutMs bounds a single HTTP request (default: 10000)
	TimeoutMs int `json:"timeoutMs"`

	// RequestsPerSecond limits outgoing requests, 0 disables the limit
	RequestsPerSecond float64 `json:"requestsPerSecond"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	// SampleRate for audio output (default: 44100)
	SampleRate int `json:"sampleRate"`

	// BufferSize in milliseconds (default: 100)
	BufferSizeMs int `json:"bufferSizeMs"`

	// Volume used when nothing is stored yet, 0.0 - 1.0 (default: 0.5)
	DefaultVolume float64 `json:"defaultVolume"`
}

// RetryConfig is an exponential backoff policy
type RetryConfig struct {
	BaseMs      int `json:"baseMs"`
	MaxMs       int `json:"maxMs"`
	MaxAttempts int `json:"maxAttempts"`
}

// PlaybackConfig tunes progress reporting and transport behaviour
type PlaybackConfig struct {
	AudioReportIntervalMs int         `json:"audioReportIntervalMs"`
	VideoReportIntervalMs int         `json:"videoReportIntervalMs"`
	VideoMinPlaytimeMs    int         `json:"videoMinPlaytimeMs"`
	RestartThresholdMs    int         `json:"restartThresholdMs"`
	SeekOffsetMs          int         `json:"seekOffsetMs"`
	SessionCacheTTLMs     int         `json:"sessionCacheTtlMs"`
	StartRetry            RetryConfig `json:"startRetry"`
}

// ContinueWatchingConfig controls the reconciled resume list
type ContinueWatchingConfig struct {
	Limit           int  `json:"limit"`
	AccurateSorting bool `json:"accurateSorting"`
	Concurrency     int  `json:"concurrency"`
}

// PreferencesConfig overrides the server-side language preferences when set
type PreferencesConfig struct {
	AudioLanguage    string `json:"audioLanguage,omitempty"`
	SubtitleLanguage string `json:"subtitleLanguage,omitempty"`
}

// BehaviorConfig contains behavior-related settings
type BehaviorConfig struct {
	// RememberQueue - persist queue across restarts
	RememberQueue bool `json:"rememberQueue"`
}

// MediaConfig controls the OS media session
type MediaConfig struct {
	EnableSession bool `json:"enableSession"`
}

// MetricsConfig enables the metrics listener when Addr is set
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// LogConfig sets the log level and format
type LogConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DeviceName:        "playerd",
			TimeoutMs:         10000,
			RequestsPerSecond: 20,
		},
		Audio: AudioConfig{
			SampleRate:    44100,
			BufferSizeMs:  100,
			DefaultVolume: 0.5,
		},
		Playback: PlaybackConfig{
			AudioReportIntervalMs: 10000,
			VideoReportIntervalMs: 5000,
			VideoMinPlaytimeMs:    5000,
			RestartThresholdMs:    3000,
			SeekOffsetMs:          10000,
			SessionCacheTTLMs:     30000,
			StartRetry: RetryConfig{
				BaseMs:      1000,
				MaxMs:       30000,
				MaxAttempts: 3,
			},
		},
		ContinueWatching: ContinueWatchingConfig{
			Limit:           12,
			AccurateSorting: true,
			Concurrency:     4,
		},
		Behavior: BehaviorConfig{
			RememberQueue: true,
		},
		Media: MediaConfig{
			EnableSession: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate reports settings the daemon cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 1 {
		errs = append(errs, fmt.Errorf("audio.defaultVolume must be between 0 and 1, got %v", c.Audio.DefaultVolume))
	}
	if c.Playback.AudioReportIntervalMs <= 0 || c.Playback.VideoReportIntervalMs <= 0 {
		errs = append(errs, errors.New("playback report intervals must be positive"))
	}
	if c.Playback.StartRetry.MaxAttempts < 1 {
		errs = append(errs, errors.New("playback.startRetry.maxAttempts must be at least 1"))
	}
	if c.ContinueWatching.Limit < 1 {
		errs = append(errs, errors.New("continueWatching.limit must be at least 1"))
	}
	return errors.Join(errs...)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// AudioReportInterval is the periodic progress cadence for music
func (p PlaybackConfig) AudioReportInterval() time.Duration { return ms(p.AudioReportIntervalMs) }

// VideoReportInterval is the periodic progress cadence for video
func (p PlaybackConfig) VideoReportInterval() time.Duration { return ms(p.VideoReportIntervalMs) }

// VideoMinPlaytime suppresses video progress until the position passes it
func (p PlaybackConfig) VideoMinPlaytime() time.Duration { return ms(p.VideoMinPlaytimeMs) }

// RestartThreshold is how far into a track skipPrevious rewinds instead
func (p PlaybackConfig) RestartThreshold() time.Duration { return ms(p.RestartThresholdMs) }

// SeekOffset is the default step for seek forward/backward
func (p PlaybackConfig) SeekOffset() time.Duration { return ms(p.SeekOffsetMs) }

// SessionCacheTTL is how long a resolved session id is reused
func (p PlaybackConfig) SessionCacheTTL() time.Duration { return ms(p.SessionCacheTTLMs) }

// Base returns the first retry delay
func (r RetryConfig) Base() time.Duration { return ms(r.BaseMs) }

// Max returns the retry delay cap
func (r RetryConfig) Max() time.Duration { return ms(r.MaxMs) }

// Timeout returns the per-request timeout
func (s ServerConfig) Timeout() time.Duration { return ms(s.TimeoutMs) }

// Manager handles loading and saving configuration
type Manager struct {
	mu          sync.RWMutex
	configDir   string
	configPath  string
	config      *Config
	subscribers []func(*Config)
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "config.json"),
		config:     DefaultConfig(),
	}
}

// DefaultDir returns ~/.config/playerd, or the platform equivalent
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(base, "playerd"), nil
}

// Load reads the configuration from disk, writing defaults when the file is missing
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		m.mu.Lock()
		m.config = DefaultConfig()
		m.mu.Unlock()
		return m.Save()
	}

	config, err := m.read()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

func (m *Manager) read() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.DataDir == "" {
		config.DataDir = m.configDir
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	m.mu.RLock()
	data, err := json.MarshalIndent(m.config, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := renameio.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Get returns the current configuration. Callers must not mutate it.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := m.config
	if cfg.DataDir == "" {
		c := *cfg
		c.DataDir = m.configDir
		return &c
	}
	return cfg
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update updates the configuration and saves it
func (m *Manager) Update(config *Config) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	if err := m.Save(); err != nil {
		return err
	}
	m.notify(config)
	return nil
}

// OnChange registers a callback run after every successful reload or update
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

func (m *Manager) notify(cfg *Config) {
	m.mu.RLock()
	subs := append(([]func(*Config))(nil), m.subscribers...)
	m.mu.RUnlock()
	for _, fn := range subs {
		fn(cfg)
	}
}

// Reload re-reads the file. A bad file keeps the previous configuration.
func (m *Manager) Reload() error {
	config, err := m.read()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	m.notify(config)
	return nil
}
