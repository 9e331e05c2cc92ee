// Package analyze measures rendered audio blocks: levels per channel,
// dominant frequency and routing checks.
package analyze

import (
	"fmt"
	"math"
)

// Metrics summarizes one channel of audio.
type Metrics struct {
	RMS    float64
	Peak   float64
	Frames int
}

// DB returns the RMS level in dBFS. Silence is -Inf.
func (m Metrics) DB() float64 { return LinearToDB(m.RMS) }

// Config holds thresholds for validation.
type Config struct {
	MinSignalLevel float64 // RMS below this counts as silence
	ToleranceDB    float64 // allowed deviation for level comparisons
	ToleranceHz    float64 // allowed deviation for frequency estimates
}

// DefaultConfig returns thresholds suitable for tests.
func DefaultConfig() Config {
	return Config{
		MinSignalLevel: 0.001, // -60dB
		ToleranceDB:    1.0,
		ToleranceHz:    5.0,
	}
}

// Measure computes the metrics of one channel.
func Measure(buf []float32) Metrics {
	m := Metrics{Frames: len(buf)}
	if len(buf) == 0 {
		return m
	}
	var sum float64
	for _, s := range buf {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > m.Peak {
			m.Peak = a
		}
	}
	m.RMS = math.Sqrt(sum / float64(len(buf)))
	return m
}

// MeasureAll computes metrics for every channel of a block.
func MeasureAll(block [][]float32) []Metrics {
	out := make([]Metrics, len(block))
	for i, ch := range block {
		out[i] = Measure(ch)
	}
	return out
}

// LinearToDB converts a linear amplitude to decibels.
func LinearToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// Frequency estimates the fundamental of buf from its rising zero
// crossings. It returns 0 when fewer than two crossings are found.
func Frequency(buf []float32, sampleRate float64) float64 {
	first, last, count := -1.0, -1.0, 0
	for i := 1; i < len(buf); i++ {
		a, b := buf[i-1], buf[i]
		if a < 0 && b >= 0 {
			// interpolate the crossing position between samples
			pos := float64(i-1) + float64(-a)/float64(b-a)
			if first < 0 {
				first = pos
			}
			last = pos
			count++
		}
	}
	if count < 2 || last <= first {
		return 0
	}
	return float64(count-1) * sampleRate / (last - first)
}

// ValidateRouting checks that exactly the expected channels carry signal.
func ValidateRouting(levels []Metrics, expected []int, cfg Config) error {
	want := make(map[int]bool, len(expected))
	for _, ch := range expected {
		want[ch] = true
	}
	for ch, m := range levels {
		hasSignal := m.RMS > cfg.MinSignalLevel
		switch {
		case want[ch] && !hasSignal:
			return fmt.Errorf("channel %d: expected signal, measured %.6f RMS", ch, m.RMS)
		case !want[ch] && hasSignal:
			return fmt.Errorf("channel %d: expected silence, measured %.6f RMS", ch, m.RMS)
		}
	}
	return nil
}

// ValidateLevel checks that m is within cfg.ToleranceDB of the expected
// RMS level.
func ValidateLevel(m Metrics, expectedRMS float64, cfg Config) error {
	diff := math.Abs(LinearToDB(m.RMS) - LinearToDB(expectedRMS))
	if math.IsNaN(diff) || diff > cfg.ToleranceDB {
		return fmt.Errorf("level mismatch: expected %.6f RMS, measured %.6f (%.2f dB off)",
			expectedRMS, m.RMS, diff)
	}
	return nil
}

// ValidateFrequency checks an estimated frequency against the expected one.
func ValidateFrequency(got, want float64, cfg Config) error {
	if math.Abs(got-want) > cfg.ToleranceHz {
		return fmt.Errorf("frequency mismatch: expected %.2f Hz, estimated %.2f Hz", want, got)
	}
	return nil
}
