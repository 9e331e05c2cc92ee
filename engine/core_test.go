package engine

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/devices"
	"github.com/azzeloof/oscar-language/engine/analyze"
)

const testRate = 48000

func sineTable(t *testing.T) []float32 {
	t.Helper()
	table, err := oscar.Wavetable(oscar.Sine, nil, oscar.DefaultTableSize)
	require.NoError(t, err)
	return table
}

func block(channels, frames int) [][]float32 {
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out
}

func newTestCore(t *testing.T, channels int) *Core {
	t.Helper()
	return NewCore(Options{Channels: channels, SampleRate: testRate})
}

func TestCore_SynthDefaults(t *testing.T) {
	c := newTestCore(t, 2)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))

	freq, err := c.Frequency("a")
	require.NoError(t, err)
	assert.Equal(t, 440.0, freq)

	amp, err := c.Amplitude("a")
	require.NoError(t, err)
	assert.Equal(t, 0.5, amp)

	playing, err := c.IsPlaying("a")
	require.NoError(t, err)
	assert.False(t, playing)

	vol, err := c.MasterVolume()
	require.NoError(t, err)
	assert.Equal(t, 1.0, vol)
}

func TestCore_GetOrCreateKeepsExisting(t *testing.T) {
	c := newTestCore(t, 2)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.SetFrequency("a", 220))
	require.NoError(t, c.GetOrCreateSynth("a", []float32{1, -1}))

	freq, err := c.Frequency("a")
	require.NoError(t, err)
	assert.Equal(t, 220.0, freq)
}

func TestCore_UnknownNames(t *testing.T) {
	c := newTestCore(t, 2)

	_, err := c.Frequency("ghost")
	assert.ErrorIs(t, err, oscar.ErrUnknownSynth)
	assert.ErrorIs(t, c.StartSynth("ghost"), oscar.ErrUnknownSynth)
	assert.ErrorIs(t, c.DeleteSynth("ghost"), oscar.ErrUnknownSynth)

	_, err = c.PatchChannels("ghost")
	assert.ErrorIs(t, err, oscar.ErrUnknownPatch)
	assert.ErrorIs(t, c.DeletePatch("ghost"), oscar.ErrUnknownPatch)

	assert.ErrorIs(t, c.GetOrCreatePatch("p", "ghost", []int{0}), oscar.ErrUnknownSynth)
	assert.ErrorIs(t, c.GetOrCreateSynth("", sineTable(t)), oscar.ErrEmptyName)
	assert.Error(t, c.GetOrCreateSynth("empty", nil))
}

func TestCore_PatchRoundTrip(t *testing.T) {
	c := newTestCore(t, 4)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.GetOrCreateSynth("b", sineTable(t)))
	require.NoError(t, c.GetOrCreatePatch("p", "a", []int{0, 1}))

	require.NoError(t, c.SetPatchChannels("p", []int{2, 3}))
	chans, err := c.PatchChannels("p")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, chans)

	require.NoError(t, c.SetPatchSynth("p", "b"))
	synth, err := c.PatchSynth("p")
	require.NoError(t, err)
	assert.Equal(t, "b", synth)

	assert.ErrorIs(t, c.SetPatchSynth("p", "ghost"), oscar.ErrUnknownSynth)

	// returned slices are copies
	chans[0] = 99
	again, err := c.PatchChannels("p")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, again)
}

func TestCore_DeleteSynthCascades(t *testing.T) {
	c := newTestCore(t, 2)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.GetOrCreateSynth("b", sineTable(t)))
	require.NoError(t, c.GetOrCreatePatch("pa", "a", []int{0}))
	require.NoError(t, c.GetOrCreatePatch("pb", "b", []int{1}))

	require.NoError(t, c.DeleteSynth("a"))

	synths, err := c.Synths()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, synths)

	patches, err := c.Patches()
	require.NoError(t, err)
	assert.Equal(t, []string{"pb"}, patches)
}

func TestCore_PhaseOffsetWraps(t *testing.T) {
	c := newTestCore(t, 2)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))

	require.NoError(t, c.SetPhaseOffset("a", -0.25))
	p, err := c.PhaseOffset("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, p, 1e-12)

	require.NoError(t, c.SetPhaseOffset("a", 1.25))
	p, err = c.PhaseOffset("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, p, 1e-12)
}

func TestCore_RejectsNonFinite(t *testing.T) {
	c := newTestCore(t, 1)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.StartSynth("a"))
	require.NoError(t, c.GetOrCreatePatch("p", "a", []int{0}))

	for _, x := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, c.SetFrequency("a", x), oscar.ErrNotFinite, "freq %v", x)
		assert.ErrorIs(t, c.SetAmplitude("a", x), oscar.ErrNotFinite, "amp %v", x)
		assert.ErrorIs(t, c.SetPhaseOffset("a", x), oscar.ErrNotFinite, "phase %v", x)
		assert.ErrorIs(t, c.SetMasterVolume(x), oscar.ErrNotFinite, "vol %v", x)
	}

	freq, err := c.Frequency("a")
	require.NoError(t, err)
	assert.Equal(t, 440.0, freq)
	p, err := c.PhaseOffset("a")
	require.NoError(t, err)
	assert.Zero(t, p)

	out := block(1, 512)
	assert.NotPanics(t, func() { c.Render(out) })
	for _, s := range out[0] {
		require.False(t, math.IsNaN(float64(s)))
	}
}

func TestCore_RenderRouting(t *testing.T) {
	c := newTestCore(t, 3)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.StartSynth("a"))
	require.NoError(t, c.GetOrCreatePatch("p", "a", []int{0, 2, 7}))

	out := block(3, 4800)
	c.Render(out)

	cfg := analyze.DefaultConfig()
	levels := analyze.MeasureAll(out)
	require.NoError(t, analyze.ValidateRouting(levels, []int{0, 2}, cfg))
	assert.NoError(t, analyze.ValidateLevel(levels[0], 0.5/math.Sqrt2, cfg))
}

func TestCore_RenderFrequency(t *testing.T) {
	c := newTestCore(t, 1)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.SetFrequency("a", 440))
	require.NoError(t, c.StartSynth("a"))
	require.NoError(t, c.GetOrCreatePatch("p", "a", []int{0}))

	out := block(1, testRate)
	c.Render(out)

	got := analyze.Frequency(out[0], testRate)
	assert.NoError(t, analyze.ValidateFrequency(got, 440, analyze.DefaultConfig()))
}

func TestCore_RenderStoppedIsSilent(t *testing.T) {
	c := newTestCore(t, 2)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.GetOrCreatePatch("p", "a", []int{0, 1}))

	out := block(2, 512)
	c.Render(out)
	for _, m := range analyze.MeasureAll(out) {
		assert.Zero(t, m.Peak)
	}
}

func TestCore_RenderMasterVolume(t *testing.T) {
	c := newTestCore(t, 1)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.StartSynth("a"))
	require.NoError(t, c.GetOrCreatePatch("p", "a", []int{0}))
	require.NoError(t, c.SetMasterVolume(0.5))
	assert.Error(t, c.SetMasterVolume(-1))

	out := block(1, 4800)
	c.Render(out)
	assert.NoError(t, analyze.ValidateLevel(analyze.Measure(out[0]), 0.25/math.Sqrt2, analyze.DefaultConfig()))

	levels := c.Levels()
	require.Len(t, levels, 1)
	assert.InDelta(t, 0.25/math.Sqrt2, levels[0].RMS, 0.01)
	assert.Equal(t, 4800, levels[0].Frames)
}

func TestCore_RenderSumsPatches(t *testing.T) {
	c := newTestCore(t, 1)
	require.NoError(t, c.GetOrCreateSynth("a", []float32{1, 1, 1, 1}))
	require.NoError(t, c.SetAmplitude("a", 0.25))
	require.NoError(t, c.StartSynth("a"))
	require.NoError(t, c.GetOrCreatePatch("p1", "a", []int{0}))
	require.NoError(t, c.GetOrCreatePatch("p2", "a", []int{0}))

	out := block(1, 16)
	c.Render(out)
	for _, s := range out[0] {
		assert.InDelta(t, 0.5, s, 1e-6)
	}
}

func TestCore_Shutdown(t *testing.T) {
	c := newTestCore(t, 2)
	require.NoError(t, c.GetOrCreateSynth("a", sineTable(t)))
	require.NoError(t, c.StartSynth("a"))

	var hooks int32
	c.OnShutdown(func() error {
		atomic.AddInt32(&hooks, 1)
		return nil
	})

	require.NoError(t, c.Shutdown())
	assert.ErrorIs(t, c.Shutdown(), oscar.ErrEngineShutdown)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hooks))

	_, err := c.IsPlaying("a")
	assert.ErrorIs(t, err, oscar.ErrEngineShutdown)

	out := block(2, 64)
	out[0][0] = 1
	c.Render(out)
	assert.Zero(t, out[0][0])
}

func TestCore_ShutdownHookError(t *testing.T) {
	c := newTestCore(t, 2)
	boom := errors.New("stream close failed")
	c.OnShutdown(func() error { return boom })
	assert.ErrorIs(t, c.Shutdown(), boom)
}

func TestValidateDevice(t *testing.T) {
	devs := devices.AudioDevices{
		{Index: 0, Name: "Mic", MaxInputChannels: 1},
		{Index: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 44100},
	}

	tests := []struct {
		name     string
		index    int
		channels int
		msg      string
	}{
		{"unknown index", 5, 2, "invalid device index"},
		{"input only", 0, 2, "device has no output channels"},
		{"too many channels", 1, 4, "device does not support requested number of output channels"},
		{"zero channels", 1, 0, "requested channel count must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateDevice(devs, tt.index, tt.channels)
			var initErr *oscar.DeviceInitError
			require.ErrorAs(t, err, &initErr)
			assert.Equal(t, tt.index, initErr.Device)
			assert.Equal(t, tt.msg, initErr.Msg)
		})
	}

	dev, err := ValidateDevice(devs, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "Speakers", dev.Name)
}

func TestNullBackend(t *testing.T) {
	n := NewNull()
	_, err := n.ListDevices()
	assert.Error(t, err, "not initialized")

	require.NoError(t, n.Initialize())
	defer n.Terminate()

	devs, err := n.ListDevices()
	require.NoError(t, err)
	require.NotNil(t, devs.DefaultOutput())

	eng, err := n.CreateEngine(0, 2)
	require.NoError(t, err)
	core, ok := eng.(*Core)
	require.True(t, ok)
	assert.Equal(t, 2, core.Channels())
	assert.Equal(t, 48000.0, core.SampleRate())

	_, err = n.CreateEngine(42, 2)
	var initErr *oscar.DeviceInitError
	assert.ErrorAs(t, err, &initErr)
}
