package oscar

import (
	"fmt"
	"math"
	"sync"
)

// Synth is a named handle to an engine-side oscillator. It caches only the
// wave shape used to regenerate its table; frequency, amplitude, phase and
// play state are always read from the engine. Dropping a handle does not
// remove the engine-side synth.
type Synth struct {
	binding *Binding
	name    string

	mu        sync.Mutex
	shape     WaveFunc
	shapeName string
	args      map[string]float64
	tableSize int
}

type synthConfig struct {
	frequency float64
	amplitude float64
	phase     float64
	shape     WaveFunc
	shapeName string
	args      map[string]float64
	tableSize int
}

// SynthOption configures NewSynth.
type SynthOption func(*synthConfig)

// WithFrequency sets the initial frequency in Hz (default 440).
func WithFrequency(hz float64) SynthOption {
	return func(c *synthConfig) { c.frequency = hz }
}

// WithAmplitude sets the initial amplitude (default 0.5).
func WithAmplitude(amp float64) SynthOption {
	return func(c *synthConfig) { c.amplitude = amp }
}

// WithPhase sets the initial phase offset as a fraction of a cycle.
func WithPhase(p float64) SynthOption {
	return func(c *synthConfig) { c.phase = p }
}

// WithWave sets the wave shape and its arguments (default sine).
func WithWave(name string, shape WaveFunc, args map[string]float64) SynthOption {
	return func(c *synthConfig) {
		c.shape = shape
		c.shapeName = name
		c.args = args
	}
}

// WithTableSize overrides DefaultTableSize.
func WithTableSize(n int) SynthOption {
	return func(c *synthConfig) { c.tableSize = n }
}

// NewSynth resolves the engine bound to KindSynth, creates or fetches the
// named synth with a freshly normalized wavetable, applies frequency,
// amplitude and phase, and starts it.
func NewSynth(b *Binding, name string, opts ...SynthOption) (*Synth, error) {
	eng, err := b.Resolve(KindSynth)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrEmptyName
	}

	cfg := synthConfig{
		frequency: 440.0,
		amplitude: 0.5,
		shape:     Sine,
		shapeName: "sine",
		tableSize: DefaultTableSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shape == nil {
		cfg.shape, cfg.shapeName = Sine, "sine"
	}

	if math.IsNaN(cfg.phase) || math.IsInf(cfg.phase, 0) {
		return nil, fmt.Errorf("synth %q: phase %g: %w", name, cfg.phase, ErrNotFinite)
	}

	table, err := Wavetable(cfg.shape, cfg.args, cfg.tableSize)
	if err != nil {
		return nil, fmt.Errorf("synth %q: %w", name, err)
	}

	if err := eng.GetOrCreateSynth(name, table); err != nil {
		return nil, fmt.Errorf("synth %q: %w", name, err)
	}
	if err := eng.SetFrequency(name, cfg.frequency); err != nil {
		return nil, fmt.Errorf("synth %q: %w", name, err)
	}
	if err := eng.SetAmplitude(name, cfg.amplitude); err != nil {
		return nil, fmt.Errorf("synth %q: %w", name, err)
	}
	if err := eng.SetPhaseOffset(name, WrapPhase(cfg.phase)); err != nil {
		return nil, fmt.Errorf("synth %q: %w", name, err)
	}
	if err := eng.StartSynth(name); err != nil {
		return nil, fmt.Errorf("synth %q: %w", name, err)
	}

	return &Synth{
		binding:   b,
		name:      name,
		shape:     cfg.shape,
		shapeName: cfg.shapeName,
		args:      cfg.args,
		tableSize: cfg.tableSize,
	}, nil
}

// AttachSynth returns a handle to a synth that already exists in the
// engine without touching its state. Only WithWave and WithTableSize are
// honoured; they record what later Wave calls regenerate from.
func AttachSynth(b *Binding, name string, opts ...SynthOption) (*Synth, error) {
	eng, err := b.Resolve(KindSynth)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	if _, err := eng.IsPlaying(name); err != nil {
		return nil, err
	}

	cfg := synthConfig{shape: Sine, shapeName: "sine", tableSize: DefaultTableSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.shape == nil {
		cfg.shape, cfg.shapeName = Sine, "sine"
	}
	return &Synth{
		binding:   b,
		name:      name,
		shape:     cfg.shape,
		shapeName: cfg.shapeName,
		args:      cfg.args,
		tableSize: cfg.tableSize,
	}, nil
}

// Name returns the engine key of the synth.
func (s *Synth) Name() string { return s.name }

// TableSize returns the number of samples per wavetable cycle.
func (s *Synth) TableSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tableSize
}

// Shape returns the name and arguments of the current wave shape.
func (s *Synth) Shape() (string, map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	args := make(map[string]float64, len(s.args))
	for k, v := range s.args {
		args[k] = v
	}
	return s.shapeName, args
}

func (s *Synth) engine() (Engine, error) {
	return s.binding.Resolve(KindSynth)
}

// Start resumes playback.
func (s *Synth) Start() error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.StartSynth(s.name)
}

// Stop silences the synth without removing it.
func (s *Synth) Stop() error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.StopSynth(s.name)
}

// Playing reports the engine-side play state.
func (s *Synth) Playing() (bool, error) {
	eng, err := s.engine()
	if err != nil {
		return false, err
	}
	return eng.IsPlaying(s.name)
}

// Freq reads the frequency from the engine.
func (s *Synth) Freq() (float64, error) {
	eng, err := s.engine()
	if err != nil {
		return 0, err
	}
	return eng.Frequency(s.name)
}

// SetFreq writes the frequency to the engine.
func (s *Synth) SetFreq(hz float64) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.SetFrequency(s.name, hz)
}

// Amp reads the amplitude from the engine.
func (s *Synth) Amp() (float64, error) {
	eng, err := s.engine()
	if err != nil {
		return 0, err
	}
	return eng.Amplitude(s.name)
}

// SetAmp writes the amplitude to the engine.
func (s *Synth) SetAmp(amp float64) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.SetAmplitude(s.name, amp)
}

// Phase reads the phase offset from the engine, in [0,1).
func (s *Synth) Phase() (float64, error) {
	eng, err := s.engine()
	if err != nil {
		return 0, err
	}
	return eng.PhaseOffset(s.name)
}

// SetPhase writes the phase offset modulo 1.
func (s *Synth) SetPhase(p float64) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return fmt.Errorf("synth %q: phase %g: %w", s.name, p, ErrNotFinite)
	}
	return eng.SetPhaseOffset(s.name, WrapPhase(p))
}

// Wave regenerates the wavetable from shape and pushes it to the engine.
// The play state is left untouched. On failure the previous shape is kept.
func (s *Synth) Wave(name string, shape WaveFunc, args map[string]float64) error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	if shape == nil {
		return fmt.Errorf("synth %q: nil wave function", s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := Wavetable(shape, args, s.tableSize)
	if err != nil {
		return fmt.Errorf("synth %q: %w", s.name, err)
	}
	if err := eng.UpdateWavetable(s.name, table); err != nil {
		return fmt.Errorf("synth %q: %w", s.name, err)
	}
	s.shape, s.shapeName, s.args = shape, name, args
	return nil
}

// Delete removes the engine-side synth together with every patch routed
// from it. The handle is unusable afterwards.
func (s *Synth) Delete() error {
	eng, err := s.engine()
	if err != nil {
		return err
	}
	return eng.DeleteSynth(s.name)
}

// synthName lets *Synth act as a SynthRef.
func (s *Synth) synthName() string { return s.name }
