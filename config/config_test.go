package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azzeloof/oscar-language/engine/spec"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:9000", cfg.Listen)
	assert.Equal(t, "portaudio", cfg.Audio.Backend)

	d, err := cfg.PollInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, d)
}

func TestLoad(t *testing.T) {
	t.Setenv("OSCAR_VIZ", "127.0.0.1:7000")
	path := writeFile(t, "oscar.yaml", `
listen: 0.0.0.0:9100
websocket:
  addr: 127.0.0.1:9101
  path: /live
audio:
  backend: "null"
  device: 2
  channels: 4
  latency: low
midi:
  driver: rtmidi
  port: nanoKONTROL
  poll_interval: 2ms
  mappings:
    - cc: 7
      param: vol
      min: 0
      max: 1
    - cc: 21
      channel: 0
      synth: lead
      param: freq
      min: 110
      max: 880
viz:
  addr: ${OSCAR_VIZ}
log:
  debug: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9100", cfg.Listen)
	assert.Equal(t, "/live", cfg.WebSocket.Path)
	assert.Equal(t, "null", cfg.Audio.Backend)
	require.NotNil(t, cfg.Audio.Device)
	assert.Equal(t, 2, *cfg.Audio.Device)
	assert.Equal(t, "127.0.0.1:7000", cfg.Viz.Addr)
	assert.True(t, cfg.Log.Debug)

	require.Len(t, cfg.MIDI.Mappings, 2)
	assert.Nil(t, cfg.MIDI.Mappings[0].Channel)
	assert.Equal(t, "lead", cfg.MIDI.Mappings[1].Synth)

	prefs, err := cfg.Preferences()
	require.NoError(t, err)
	assert.Equal(t, spec.LatencyLow, prefs.Latency)
	assert.Equal(t, 4, prefs.Channels)

	d, err := cfg.PollInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Millisecond, d)
}

func TestLoad_KeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := Parse([]byte("log:\n  debug: true\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, cfg.Listen)
	assert.Equal(t, "portaudio", cfg.Audio.Backend)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("listen: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	neg := -1
	ch16 := 16
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad listen", func(c *Config) { c.Listen = "nohostport" }},
		{"bad websocket", func(c *Config) { c.WebSocket.Addr = "x" }},
		{"bad viz", func(c *Config) { c.Viz.Addr = "x" }},
		{"backend", func(c *Config) { c.Audio.Backend = "jack" }},
		{"latency", func(c *Config) { c.Audio.Latency = "instant" }},
		{"device", func(c *Config) { c.Audio.Device = &neg }},
		{"channels", func(c *Config) { c.Audio.Channels = -2 }},
		{"driver", func(c *Config) { c.MIDI.Driver = "alsa" }},
		{"poll", func(c *Config) { c.MIDI.PollInterval = "fast" }},
		{"poll zero", func(c *Config) { c.MIDI.PollInterval = "0s" }},
		{"cc range", func(c *Config) {
			c.MIDI.Mappings = []MappingConfig{{CC: 128, Param: "vol"}}
		}},
		{"channel range", func(c *Config) {
			c.MIDI.Mappings = []MappingConfig{{CC: 1, Channel: &ch16, Param: "vol"}}
		}},
		{"param", func(c *Config) {
			c.MIDI.Mappings = []MappingConfig{{CC: 1, Synth: "a", Param: "cutoff"}}
		}},
		{"synth missing", func(c *Config) {
			c.MIDI.Mappings = []MappingConfig{{CC: 1, Param: "freq"}}
		}},
		{"vol with synth", func(c *Config) {
			c.MIDI.Mappings = []MappingConfig{{CC: 1, Synth: "a", Param: "vol"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := writeFile(t, ".env", "OSCAR_TEST_DOTENV=loaded\n")
	t.Setenv("OSCAR_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("OSCAR_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("OSCAR_TEST_DOTENV"))
}
