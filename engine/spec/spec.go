// Package spec turns configured audio preferences into concrete stream
// parameters.
package spec

import (
	"fmt"
	"strings"
	"time"

	"github.com/azzeloof/oscar-language/devices"
)

// Latency is a coarse latency preference.
type Latency string

const (
	LatencyLow    Latency = "low"
	LatencyMedium Latency = "medium"
	LatencyHigh   Latency = "high"
)

// ParseLatency accepts "", low, medium and high (case-insensitive). The
// empty string means medium.
func ParseLatency(s string) (Latency, error) {
	switch Latency(strings.ToLower(strings.TrimSpace(s))) {
	case "", LatencyMedium:
		return LatencyMedium, nil
	case LatencyLow:
		return LatencyLow, nil
	case LatencyHigh:
		return LatencyHigh, nil
	}
	return "", fmt.Errorf("unknown latency %q (want low, medium or high)", s)
}

// Preferences are the user-facing audio settings. Zero values mean
// "pick a default".
type Preferences struct {
	SampleRate float64
	Latency    Latency
	BufferSize int
	Channels   int
}

// Stream is a resolved stream configuration.
type Stream struct {
	SampleRate      float64
	FramesPerBuffer int
	Channels        int
}

// Latency reports the buffer duration.
func (s Stream) Latency() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.FramesPerBuffer) / s.SampleRate * float64(time.Second))
}

// Resolve applies defaults to p. The device, when given, supplies the
// sample rate if none was configured and the channel count if none was
// requested. An explicit BufferSize wins over the latency preference.
func Resolve(p Preferences, dev *devices.AudioDevice) Stream {
	rate := p.SampleRate
	if rate <= 0 && dev != nil {
		rate = dev.DefaultSampleRate
	}
	if rate <= 0 {
		rate = 48000
	}

	buf := p.BufferSize
	if buf <= 0 {
		switch p.Latency {
		case LatencyLow:
			buf = 256
		case LatencyHigh:
			buf = 1024
		default:
			buf = 512
		}
	}

	ch := p.Channels
	if ch <= 0 && dev != nil && dev.MaxOutputChannels > 0 {
		ch = dev.MaxOutputChannels
	}
	if ch <= 0 {
		ch = 2
	}

	return Stream{SampleRate: rate, FramesPerBuffer: buf, Channels: ch}
}
