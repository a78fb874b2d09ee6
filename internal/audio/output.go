package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

const (
	defaultSampleRate = 44100
	defaultChannels   = 2
	defaultBitDepth   = 2 // 16-bit = 2 bytes

	defaultBufferMs = 100
)

// OtoOutput is an audio output using the Oto library
type OtoOutput struct {
	context    *oto.Context
	player     oto.Player // oto.Player is an interface, not a pointer
	sampleRate int
	channels   int
	maxBuffer  int // bytes; Write blocks above this so decoding follows playback

	mu     sync.Mutex
	cond   *sync.Cond // Condition variable for pause/resume synchronization
	buffer *bytes.Buffer
	played int64   // bytes of real audio handed to the device since the last Stop
	volume float64 // 0.0 - 1.0
	paused bool    // True when explicitly paused - prevents auto-resume on Write
	closed bool    // True when output is closed - unblocks waiting goroutines
}

// NewOtoOutput creates an output with the given rate and buffer size.
// Zero values pick the defaults.
func NewOtoOutput(sampleRate, bufferMs int) (*OtoOutput, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if bufferMs <= 0 {
		bufferMs = defaultBufferMs
	}

	ctx, ready, err := oto.NewContext(sampleRate, defaultChannels, defaultBitDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-ready

	output := newOutput(sampleRate, defaultChannels, bufferMs)
	output.context = ctx
	output.player = ctx.NewPlayer(output)
	return output, nil
}

func newOutput(sampleRate, channels, bufferMs int) *OtoOutput {
	o := &OtoOutput{
		sampleRate: sampleRate,
		channels:   channels,
		maxBuffer:  sampleRate * channels * defaultBitDepth * bufferMs / 1000,
		buffer:     &bytes.Buffer{},
		volume:     1.0,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Read implements io.Reader for the player to read from
func (o *OtoOutput) Read(p []byte) (n int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Block while paused and not closed, waiting for Resume() or Close()
	for o.paused && !o.closed {
		o.cond.Wait()
	}

	// If closed, signal EOF to stop the player cleanly
	if o.closed {
		return 0, io.EOF
	}

	// If buffer is empty but not paused, return silence to keep stream alive
	if o.buffer.Len() == 0 {
		clear(p)
		return len(p), nil
	}

	n, err = o.buffer.Read(p)
	if err != nil {
		return n, err
	}
	o.played += int64(n)

	// Apply volume scaling to 16-bit PCM samples
	if o.volume < 1.0 && n > 0 {
		o.applyVolume(p[:n])
	}

	return n, nil
}

// applyVolume scales 16-bit PCM samples by the current volume
func (o *OtoOutput) applyVolume(data []byte) {
	vol := o.volume
	if vol >= 1.0 {
		return
	}

	// Process 16-bit samples (2 bytes per sample, little-endian)
	for i := 0; i < len(data)-1; i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

// SetVolume sets the playback volume (0.0 - 1.0)
func (o *OtoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = min(1, max(0, v))
}

// GetVolume returns the current volume
func (o *OtoOutput) GetVolume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Write writes PCM audio data to the output buffer.
// Blocks while the buffer is full so decoding is throttled to playback.
func (o *OtoOutput) Write(data []byte) (int, error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		if o.buffer.Len() < o.maxBuffer {
			break
		}
		o.mu.Unlock()
		// Buffer full, wait for playback to consume some
		time.Sleep(10 * time.Millisecond)
	}
	defer o.mu.Unlock()

	n, err := o.buffer.Write(data)
	if err != nil {
		return n, err
	}

	// Only auto-start player if not explicitly paused
	if o.player != nil && !o.player.IsPlaying() && !o.paused {
		o.player.Play()
	}

	return n, nil
}

// Pause pauses audio playback
func (o *OtoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = true // Set flag BEFORE pausing to prevent race with Write
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

// Resume resumes audio playback
func (o *OtoOutput) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.cond.Broadcast() // Wake up any blocked Read() goroutines
	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}
}

// Stop stops playback, drops buffered audio and resets the played counter
func (o *OtoOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.cond.Broadcast()
	if o.player != nil {
		o.player.Pause()
	}
	o.buffer.Reset()
	o.played = 0
}

// Played returns how much audio reached the device since the last Stop
func (o *OtoOutput) Played() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	bytesPerSecond := int64(o.sampleRate * o.channels * defaultBitDepth)
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(o.played * int64(time.Second) / bytesPerSecond)
}

// Buffered returns the bytes waiting to be played
func (o *OtoOutput) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Len()
}

// Close releases the audio output resources
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.cond.Broadcast() // Wake up any blocked Read() goroutines so they can exit

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return err
		}
	}
	return nil
}

// SampleRate returns the sample rate
func (o *OtoOutput) SampleRate() int {
	return o.sampleRate
}

// Channels returns the number of channels
func (o *OtoOutput) Channels() int {
	return o.channels
}

var (
	_ io.Reader = (*OtoOutput)(nil)
	_ Output    = (*OtoOutput)(nil)
)
