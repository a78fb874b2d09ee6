package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	require.NoError(t, m.Load())

	_, err := os.Stat(filepath.Join(dir, "config.json"))
	require.NoError(t, err)

	cfg := m.Get()
	assert.Equal(t, 0.5, cfg.Audio.DefaultVolume)
	assert.Equal(t, 10*time.Second, cfg.Playback.AudioReportInterval())
	assert.Equal(t, 5*time.Second, cfg.Playback.VideoReportInterval())
	assert.Equal(t, 30*time.Second, cfg.Playback.SessionCacheTTL())
	assert.Equal(t, 3, cfg.Playback.StartRetry.MaxAttempts)
	assert.Equal(t, dir, cfg.DataDir)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	data := `{"server":{"url":"http://media.local:8096"},"continueWatching":{"limit":5}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(data), 0600))

	m := NewManager(dir)
	require.NoError(t, m.Load())

	cfg := m.Get()
	assert.Equal(t, "http://media.local:8096", cfg.Server.URL)
	assert.Equal(t, 5, cfg.ContinueWatching.Limit)
	assert.True(t, cfg.ContinueWatching.AccurateSorting)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	data := `{"audio":{"defaultVolume":3}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(data), 0600))

	err := NewManager(dir).Load()
	assert.ErrorContains(t, err, "defaultVolume")
}

func TestUpdateNotifiesSubscribers(t *testing.T) {
	m := NewManager(t.TempDir())
	require.NoError(t, m.Load())

	var got *Config
	m.OnChange(func(c *Config) { got = c })

	cfg := *m.Get()
	cfg.Preferences.AudioLanguage = "de"
	require.NoError(t, m.Update(&cfg))

	require.NotNil(t, got)
	assert.Equal(t, "de", got.Preferences.AudioLanguage)
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	require.NoError(t, m.Load())

	reloaded := make(chan *Config, 4)
	m.OnChange(func(c *Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	cfg := *m.Get()
	cfg.Preferences.SubtitleLanguage = "en"
	require.NoError(t, m.Update(&cfg))
	<-reloaded // the Update itself

	select {
	case c := <-reloaded:
		assert.Equal(t, "en", c.Preferences.SubtitleLanguage)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
}
