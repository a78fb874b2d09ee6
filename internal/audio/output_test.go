package audio

import (
	"testing"
	"time"
)

func TestApplyVolume(t *testing.T) {
	o := newOutput(defaultSampleRate, defaultChannels, defaultBufferMs)

	tests := []struct {
		name     string
		volume   float64
		input    []byte
		expected []byte
	}{
		{
			name:     "full volume passthrough",
			volume:   1.0,
			input:    []byte{0x00, 0x10, 0xFF, 0x7F},
			expected: []byte{0x00, 0x10, 0xFF, 0x7F},
		},
		{
			name:     "half volume",
			volume:   0.5,
			input:    []byte{0x00, 0x10, 0xFE, 0x7F}, // 4096, 32766
			expected: []byte{0x00, 0x08, 0xFF, 0x3F}, // 2048, 16383
		},
		{
			name:     "zero volume",
			volume:   0.0,
			input:    []byte{0xFF, 0x7F, 0x00, 0x80},
			expected: []byte{0x00, 0x00, 0x00, 0x00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o.volume = tt.volume
			data := make([]byte, len(tt.input))
			copy(data, tt.input)

			o.applyVolume(data)

			for i := range data {
				if data[i] != tt.expected[i] {
					t.Errorf("Byte %d: expected %02X, got %02X", i, tt.expected[i], data[i])
				}
			}
		})
	}
}

func TestSetVolumeClamp(t *testing.T) {
	o := newOutput(defaultSampleRate, defaultChannels, defaultBufferMs)

	o.SetVolume(-0.5)
	if o.GetVolume() != 0 {
		t.Errorf("Expected volume 0 for negative input, got %f", o.GetVolume())
	}

	o.SetVolume(1.5)
	if o.GetVolume() != 1 {
		t.Errorf("Expected volume 1 for >1 input, got %f", o.GetVolume())
	}

	o.SetVolume(0.75)
	if o.GetVolume() != 0.75 {
		t.Errorf("Expected volume 0.75, got %f", o.GetVolume())
	}
}

func TestReadCountsPlayedAudio(t *testing.T) {
	o := newOutput(1000, 1, 1000) // 2000 bytes per second

	if _, err := o.Write(make([]byte, 1000)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := o.Buffered(); got != 1000 {
		t.Errorf("Expected 1000 buffered bytes, got %d", got)
	}

	buf := make([]byte, 400)
	if n, _ := o.Read(buf); n != 400 {
		t.Fatalf("Expected 400 bytes read, got %d", n)
	}
	if got := o.Played(); got != 200*time.Millisecond {
		t.Errorf("Expected 200ms played, got %v", got)
	}

	// silence while the buffer is empty does not count as played
	o.Read(make([]byte, 600))
	o.Read(make([]byte, 600))
	if got := o.Played(); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms played, got %v", got)
	}

	o.Stop()
	if o.Played() != 0 || o.Buffered() != 0 {
		t.Error("Expected Stop to reset the played counter and buffer")
	}
}

func TestWriteAfterClose(t *testing.T) {
	o := newOutput(defaultSampleRate, defaultChannels, defaultBufferMs)
	if err := o.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := o.Write([]byte{1, 2}); err == nil {
		t.Error("Expected Write to fail after Close")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"183.500000\n", 183500 * time.Millisecond, false},
		{"N/A", 0, false},
		{"", 0, false},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDuration(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInputArgs(t *testing.T) {
	if args := inputArgs("/music/a.flac"); len(args) != 0 {
		t.Errorf("Expected no reconnect args for a file, got %v", args)
	}
	if args := inputArgs("https://media.local/Audio/x/universal"); len(args) == 0 {
		t.Error("Expected reconnect args for a remote stream")
	}
}
