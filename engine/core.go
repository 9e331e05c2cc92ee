// Package engine provides Core, an in-process implementation of
// oscar.Engine, and Null, a backend that creates Cores without opening an
// audio device. Audio backends such as engine/portaudio drive Core.Render
// from their stream callback.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/engine/analyze"
)

// Options configures a Core.
type Options struct {
	Channels   int
	SampleRate float64
	Logger     *slog.Logger
}

type patch struct {
	synth    string
	channels []int
}

// snapshot is the immutable routing table read by Render.
type snapshot struct {
	voices []voiceRoutes
}

type voiceRoutes struct {
	v      *voice
	routes [][]int
}

// Core owns named synths and patches and mixes them into output channels.
// Parameter access is lock-free; topology changes take a mutex and publish
// a new snapshot for the render path.
type Core struct {
	id         uuid.UUID
	channels   int
	sampleRate float64
	logger     *slog.Logger

	mu      sync.Mutex
	synths  map[string]*voice
	patches map[string]patch

	snap       atomic.Pointer[snapshot]
	volume     atomicFloat
	closed     atomic.Bool
	onShutdown func() error

	scratch []float32
	meters  []meter
	frames  atomic.Int64
}

type meter struct {
	rms  atomicFloat
	peak atomicFloat
}

var _ oscar.Engine = (*Core)(nil)

// NewCore creates an engine with no synths, no patches and master volume 1.
func NewCore(opts Options) *Core {
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 48000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Core{
		id:         uuid.New(),
		channels:   opts.Channels,
		sampleRate: opts.SampleRate,
		logger:     opts.Logger,
		synths:     make(map[string]*voice),
		patches:    make(map[string]patch),
		meters:     make([]meter, opts.Channels),
	}
	c.volume.Store(1)
	c.snap.Store(&snapshot{})
	return c
}

// ID returns the engine's UUID
func (c *Core) ID() uuid.UUID { return c.id }

// Channels returns the number of output channels.
func (c *Core) Channels() int { return c.channels }

// SampleRate returns the render sample rate.
func (c *Core) SampleRate() float64 { return c.sampleRate }

// OnShutdown registers fn to run once during Shutdown, after every synth
// has been stopped. Backends use it to close their stream.
func (c *Core) OnShutdown(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onShutdown = fn
}

func (c *Core) check() error {
	if c.closed.Load() {
		return oscar.ErrEngineShutdown
	}
	return nil
}

func unknownSynth(name string) error {
	return fmt.Errorf("%w: %s", oscar.ErrUnknownSynth, name)
}

func unknownPatch(name string) error {
	return fmt.Errorf("%w: %s", oscar.ErrUnknownPatch, name)
}

// publish rebuilds the render snapshot. Caller holds c.mu.
func (c *Core) publish() {
	byVoice := make(map[*voice]int)
	snap := &snapshot{}

	names := make([]string, 0, len(c.patches))
	for name := range c.patches {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := c.patches[name]
		v, ok := c.synths[p.synth]
		if !ok {
			continue
		}
		idx, seen := byVoice[v]
		if !seen {
			idx = len(snap.voices)
			byVoice[v] = idx
			snap.voices = append(snap.voices, voiceRoutes{v: v})
		}
		snap.voices[idx].routes = append(snap.voices[idx].routes, p.channels)
	}
	c.snap.Store(snap)
}

func (c *Core) voice(name string) (*voice, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.synths[name]
	if !ok {
		return nil, unknownSynth(name)
	}
	return v, nil
}

// GetOrCreateSynth implements oscar.Engine.
func (c *Core) GetOrCreateSynth(name string, table []float32) error {
	if err := c.check(); err != nil {
		return err
	}
	if name == "" {
		return oscar.ErrEmptyName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.synths[name]; ok {
		return nil
	}
	if len(table) == 0 {
		return fmt.Errorf("synth %q: empty wavetable", name)
	}
	c.synths[name] = newVoice(table)
	c.logger.Debug("engine: synth created", "synth", name, "table", len(table))
	return nil
}

// GetOrCreatePatch implements oscar.Engine. The synth must exist.
func (c *Core) GetOrCreatePatch(name, synth string, channels []int) error {
	if err := c.check(); err != nil {
		return err
	}
	if name == "" {
		return oscar.ErrEmptyName
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.synths[synth]; !ok {
		return fmt.Errorf("cannot create patch %q: %w", name, unknownSynth(synth))
	}
	if _, ok := c.patches[name]; ok {
		return nil
	}
	c.patches[name] = patch{synth: synth, channels: copyInts(channels)}
	c.publish()
	c.logger.Debug("engine: patch created", "patch", name, "synth", synth, "channels", channels)
	return nil
}

// DeleteSynth removes a synth and every patch routed from it.
func (c *Core) DeleteSynth(name string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.synths[name]; !ok {
		return unknownSynth(name)
	}
	for pname, p := range c.patches {
		if p.synth == name {
			delete(c.patches, pname)
		}
	}
	delete(c.synths, name)
	c.publish()
	return nil
}

// DeletePatch removes a patch.
func (c *Core) DeletePatch(name string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.patches[name]; !ok {
		return unknownPatch(name)
	}
	delete(c.patches, name)
	c.publish()
	return nil
}

// StartSynth implements oscar.Engine.
func (c *Core) StartSynth(name string) error {
	v, err := c.voice(name)
	if err != nil {
		return err
	}
	v.playing.Store(true)
	return nil
}

// StopSynth implements oscar.Engine.
func (c *Core) StopSynth(name string) error {
	v, err := c.voice(name)
	if err != nil {
		return err
	}
	v.playing.Store(false)
	return nil
}

// IsPlaying implements oscar.Engine.
func (c *Core) IsPlaying(name string) (bool, error) {
	v, err := c.voice(name)
	if err != nil {
		return false, err
	}
	return v.playing.Load(), nil
}

// Frequency implements oscar.Engine.
func (c *Core) Frequency(name string) (float64, error) {
	v, err := c.voice(name)
	if err != nil {
		return 0, err
	}
	return v.frequency.Load(), nil
}

// finite rejects NaN and infinities, which would index the wavetable out
// of range on the audio thread.
func finite(x float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("%w: %g", oscar.ErrNotFinite, x)
	}
	return nil
}

// SetFrequency implements oscar.Engine.
func (c *Core) SetFrequency(name string, hz float64) error {
	v, err := c.voice(name)
	if err != nil {
		return err
	}
	if err := finite(hz); err != nil {
		return fmt.Errorf("synth %q: frequency: %w", name, err)
	}
	if hz < 0 {
		return fmt.Errorf("synth %q: negative frequency %g", name, hz)
	}
	v.frequency.Store(hz)
	return nil
}

// Amplitude implements oscar.Engine.
func (c *Core) Amplitude(name string) (float64, error) {
	v, err := c.voice(name)
	if err != nil {
		return 0, err
	}
	return v.amplitude.Load(), nil
}

// SetAmplitude implements oscar.Engine.
func (c *Core) SetAmplitude(name string, amp float64) error {
	v, err := c.voice(name)
	if err != nil {
		return err
	}
	if err := finite(amp); err != nil {
		return fmt.Errorf("synth %q: amplitude: %w", name, err)
	}
	v.amplitude.Store(amp)
	return nil
}

// PhaseOffset implements oscar.Engine.
func (c *Core) PhaseOffset(name string) (float64, error) {
	v, err := c.voice(name)
	if err != nil {
		return 0, err
	}
	return v.phaseOffset.Load(), nil
}

// SetPhaseOffset implements oscar.Engine. The offset is stored modulo 1.
func (c *Core) SetPhaseOffset(name string, offset float64) error {
	v, err := c.voice(name)
	if err != nil {
		return err
	}
	if err := finite(offset); err != nil {
		return fmt.Errorf("synth %q: phase: %w", name, err)
	}
	v.phaseOffset.Store(oscar.WrapPhase(offset))
	return nil
}

// UpdateWavetable implements oscar.Engine.
func (c *Core) UpdateWavetable(name string, table []float32) error {
	v, err := c.voice(name)
	if err != nil {
		return err
	}
	if len(table) == 0 {
		return fmt.Errorf("synth %q: empty wavetable", name)
	}
	v.setTable(table)
	return nil
}

// PatchSynth implements oscar.Engine.
func (c *Core) PatchSynth(name string) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patches[name]
	if !ok {
		return "", unknownPatch(name)
	}
	return p.synth, nil
}

// SetPatchSynth implements oscar.Engine.
func (c *Core) SetPatchSynth(name, synth string) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patches[name]
	if !ok {
		return unknownPatch(name)
	}
	if _, ok := c.synths[synth]; !ok {
		return unknownSynth(synth)
	}
	p.synth = synth
	c.patches[name] = p
	c.publish()
	return nil
}

// PatchChannels implements oscar.Engine.
func (c *Core) PatchChannels(name string) ([]int, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patches[name]
	if !ok {
		return nil, unknownPatch(name)
	}
	return copyInts(p.channels), nil
}

// SetPatchChannels implements oscar.Engine.
func (c *Core) SetPatchChannels(name string, channels []int) error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.patches[name]
	if !ok {
		return unknownPatch(name)
	}
	p.channels = copyInts(channels)
	c.patches[name] = p
	c.publish()
	return nil
}

// MasterVolume implements oscar.Engine.
func (c *Core) MasterVolume() (float64, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.volume.Load(), nil
}

// SetMasterVolume implements oscar.Engine.
func (c *Core) SetMasterVolume(v float64) error {
	if err := c.check(); err != nil {
		return err
	}
	if err := finite(v); err != nil {
		return fmt.Errorf("master volume: %w", err)
	}
	if v < 0 {
		return fmt.Errorf("negative master volume %g", v)
	}
	c.volume.Store(v)
	return nil
}

// Synths implements oscar.Engine. Names are sorted.
func (c *Core) Synths() ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.synths))
	for n := range c.synths {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Patches implements oscar.Engine. Names are sorted.
func (c *Core) Patches() ([]string, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.patches))
	for n := range c.patches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// StopAll implements oscar.Engine.
func (c *Core) StopAll() error {
	if err := c.check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.synths {
		v.playing.Store(false)
	}
	return nil
}

// Shutdown stops every synth and runs the backend's shutdown hook. Only
// the first call does anything.
func (c *Core) Shutdown() error {
	if !c.closed.CompareAndSwap(false, true) {
		return oscar.ErrEngineShutdown
	}
	c.mu.Lock()
	for _, v := range c.synths {
		v.playing.Store(false)
	}
	hook := c.onShutdown
	c.mu.Unlock()

	c.logger.Info("engine: shutdown", "engine", c.id)
	if hook != nil {
		return hook()
	}
	return nil
}

// Render fills out (one slice per channel, equal lengths) with the mix of
// every patched, playing synth scaled by the master volume. Channels a
// patch names beyond len(out) are ignored. Render must only be called from
// one goroutine at a time.
func (c *Core) Render(out [][]float32) {
	if len(out) == 0 {
		return
	}
	frames := len(out[0])
	for _, ch := range out {
		for i := range ch {
			ch[i] = 0
		}
	}
	if c.closed.Load() {
		return
	}
	if cap(c.scratch) < frames {
		c.scratch = make([]float32, frames)
	}
	mono := c.scratch[:frames]

	snap := c.snap.Load()
	for _, vr := range snap.voices {
		if !vr.v.playing.Load() {
			continue
		}
		vr.v.render(mono, c.sampleRate)
		for _, chans := range vr.routes {
			for _, ch := range chans {
				if ch < 0 || ch >= len(out) {
					continue
				}
				dst := out[ch]
				for i := range dst {
					dst[i] += mono[i]
				}
			}
		}
	}

	vol := float32(c.volume.Load())
	if vol != 1 {
		for _, ch := range out {
			for i := range ch {
				ch[i] *= vol
			}
		}
	}
	c.meter(out)
}

func (c *Core) meter(out [][]float32) {
	for ch := range c.meters {
		if ch >= len(out) {
			break
		}
		m := analyze.Measure(out[ch])
		c.meters[ch].rms.Store(m.RMS)
		c.meters[ch].peak.Store(m.Peak)
	}
	c.frames.Store(int64(len(out[0])))
}

// Levels returns the metrics of the most recently rendered block, one
// entry per output channel.
func (c *Core) Levels() []analyze.Metrics {
	frames := int(c.frames.Load())
	out := make([]analyze.Metrics, len(c.meters))
	for i := range c.meters {
		out[i] = analyze.Metrics{
			RMS:    c.meters[i].rms.Load(),
			Peak:   c.meters[i].peak.Load(),
			Frames: frames,
		}
	}
	return out
}

func copyInts(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	return out
}
