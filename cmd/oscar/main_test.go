package main

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/config"
	"github.com/azzeloof/oscar-language/devices"
	"github.com/azzeloof/oscar-language/engine"
	"github.com/azzeloof/oscar-language/midi"
	"github.com/azzeloof/oscar-language/mux"
)

func testDevices() devices.AudioDevices {
	return devices.AudioDevices{
		{Index: 0, Name: "Mic", MaxInputChannels: 1},
		{Index: 1, Name: "Speakers", MaxOutputChannels: 2, IsDefaultOutput: true},
		{Index: 2, Name: "Scarlett 18i20", MaxOutputChannels: 8},
	}
}

func TestParseFlags_Apply(t *testing.T) {
	f, err := parseFlags([]string{"-device", "2", "-backend", "null", "-listen", "0.0.0.0:9999", "-midi", "serial", "-midi-port", "/dev/ttyUSB0", "-debug"})
	require.NoError(t, err)

	cfg := config.Default()
	f.apply(&cfg)
	require.NotNil(t, cfg.Audio.Device)
	assert.Equal(t, 2, *cfg.Audio.Device)
	assert.Equal(t, "null", cfg.Audio.Backend)
	assert.Equal(t, "0.0.0.0:9999", cfg.Listen)
	assert.Equal(t, "serial", cfg.MIDI.Driver)
	assert.Equal(t, "/dev/ttyUSB0", cfg.MIDI.Port)
	assert.True(t, cfg.Log.Debug)

	f, err = parseFlags(nil)
	require.NoError(t, err)
	cfg = config.Default()
	f.apply(&cfg)
	assert.Nil(t, cfg.Audio.Device)
	assert.Equal(t, config.DefaultListen, cfg.Listen)
}

func TestLoadConfig_RejectsInvalidOverride(t *testing.T) {
	f, err := parseFlags([]string{"-backend", "jack"})
	require.NoError(t, err)
	_, err = loadConfig(f)
	assert.Error(t, err)
}

func TestChooseDevice(t *testing.T) {
	devs := testDevices()
	noPrompt := func(devices.AudioDevices) (int, error) {
		t.Fatal("prompt must not run")
		return 0, nil
	}

	idx := 2
	d, err := chooseDevice(config.AudioConfig{Device: &idx}, devs, true, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, "Scarlett 18i20", d.Name)

	d, err = chooseDevice(config.AudioConfig{DeviceName: "scarlett"}, devs, true, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Index)

	_, err = chooseDevice(config.AudioConfig{DeviceName: "mic"}, devs, true, noPrompt)
	assert.Error(t, err, "input-only devices are not candidates")

	d, err = chooseDevice(config.AudioConfig{}, devs, false, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, "Speakers", d.Name)

	d, err = chooseDevice(config.AudioConfig{}, devs, true, func(outs devices.AudioDevices) (int, error) {
		assert.Len(t, outs, 2)
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Index)

	_, err = chooseDevice(config.AudioConfig{}, devs, true, func(devices.AudioDevices) (int, error) {
		return 0, errors.New("aborted")
	})
	assert.Error(t, err)

	_, err = chooseDevice(config.AudioConfig{}, devices.AudioDevices{{Index: 0, MaxInputChannels: 2}}, false, nil)
	assert.Error(t, err)
}

func TestChooseDevice_UnknownIndexFailsAtCreate(t *testing.T) {
	idx := 9
	d, err := chooseDevice(config.AudioConfig{Device: &idx}, engine.NullDevices, false, nil)
	require.NoError(t, err)

	_, err = engine.NewNull().CreateEngine(d.Index, 2)
	var devErr *oscar.DeviceInitError
	assert.True(t, errors.As(err, &devErr))
}

func TestMappingFromConfig(t *testing.T) {
	ch := 3
	m := mappingFromConfig(config.MappingConfig{CC: 21, Channel: &ch, Synth: "lead", Param: "freq"})
	assert.Equal(t, midi.CC{Channel: 3, Controller: 21}, m.CC)
	assert.Equal(t, 20.0, m.Min)
	assert.Equal(t, 2000.0, m.Max)

	m = mappingFromConfig(config.MappingConfig{CC: 7, Param: "vol", Min: 0.2, Max: 0.9})
	assert.Equal(t, midi.Omni, m.CC.Channel)
	assert.Equal(t, 0.2, m.Min)
	assert.Equal(t, 0.9, m.Max)
}

func TestNewErrorHandler(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	eh := newErrorHandler(l)

	eh.HandleError(errors.New("stdin: boom"))
	eh.HandleError(&mux.ConnectionFault{Conn: "c1", Remote: "127.0.0.1:5000", Err: mux.ErrLineTooLong})

	assert.Equal(t, int64(2), eh.Count())
	out := buf.String()
	assert.Contains(t, out, "stdin: boom")
	assert.Contains(t, out, "client fault")
	assert.Contains(t, out, "remote=127.0.0.1:5000")
}

func TestShutdownFunc(t *testing.T) {
	n := engine.NewNull()
	require.NoError(t, n.Initialize())
	eng, err := n.CreateEngine(0, 2)
	require.NoError(t, err)

	b := oscar.NewBinding()
	b.BindAll(eng)
	s, err := oscar.NewSynth(b, "a")
	require.NoError(t, err)

	require.NoError(t, shutdownFunc(b, nil)())
	for _, k := range oscar.Kinds {
		assert.False(t, b.Bound(k))
	}
	_, err = s.Playing()
	assert.ErrorIs(t, err, oscar.ErrNotBound)

	assert.ErrorIs(t, shutdownFunc(b, nil)(), oscar.ErrNotBound)
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Backend = "null"
	b, err := newBackend(cfg)
	require.NoError(t, err)
	assert.IsType(t, &engine.Null{}, b)

	cfg.Audio.Backend = "jack"
	_, err = newBackend(cfg)
	assert.Error(t, err)
}

func TestNewMIDIDriver(t *testing.T) {
	d, err := newMIDIDriver(config.MIDIConfig{Driver: "serial"})
	require.NoError(t, err)
	assert.Equal(t, "serial", d.Name())

	_, err = newMIDIDriver(config.MIDIConfig{Driver: "alsa"})
	assert.Error(t, err)
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, testDevices())
	out := buf.String()
	assert.Contains(t, out, "INDEX")
	assert.Contains(t, out, "Scarlett 18i20")
	assert.Contains(t, out, "*")
}
