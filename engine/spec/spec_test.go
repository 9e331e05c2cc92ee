package spec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzeloof/oscar-language/devices"
)

func TestResolve_Defaults(t *testing.T) {
	s := Resolve(Preferences{}, nil)
	assert.Equal(t, 48000.0, s.SampleRate)
	assert.Equal(t, 512, s.FramesPerBuffer)
	assert.Equal(t, 2, s.Channels)
}

func TestResolve_LatencyHint(t *testing.T) {
	tests := []struct {
		latency Latency
		want    int
	}{
		{LatencyLow, 256},
		{LatencyMedium, 512},
		{LatencyHigh, 1024},
	}
	for _, tt := range tests {
		t.Run(string(tt.latency), func(t *testing.T) {
			s := Resolve(Preferences{Latency: tt.latency}, nil)
			assert.Equal(t, tt.want, s.FramesPerBuffer)
		})
	}
}

func TestResolve_ExplicitBufferWins(t *testing.T) {
	s := Resolve(Preferences{Latency: LatencyHigh, BufferSize: 128}, nil)
	assert.Equal(t, 128, s.FramesPerBuffer)
}

func TestResolve_DeviceDefaults(t *testing.T) {
	dev := &devices.AudioDevice{Index: 3, Name: "Interface", MaxOutputChannels: 8, DefaultSampleRate: 44100}
	s := Resolve(Preferences{}, dev)
	assert.Equal(t, 44100.0, s.SampleRate)
	assert.Equal(t, 8, s.Channels)

	s = Resolve(Preferences{SampleRate: 96000, Channels: 4}, dev)
	assert.Equal(t, 96000.0, s.SampleRate)
	assert.Equal(t, 4, s.Channels)
}

func TestStream_Latency(t *testing.T) {
	s := Stream{SampleRate: 48000, FramesPerBuffer: 480}
	assert.Equal(t, 10*time.Millisecond, s.Latency())
	assert.Zero(t, Stream{}.Latency())
}

func TestParseLatency(t *testing.T) {
	l, err := ParseLatency("")
	require.NoError(t, err)
	assert.Equal(t, LatencyMedium, l)

	l, err = ParseLatency(" LOW ")
	require.NoError(t, err)
	assert.Equal(t, LatencyLow, l)

	_, err = ParseLatency("ultra")
	assert.Error(t, err)
}
