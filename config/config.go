// Package config loads the host configuration from YAML and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/azzeloof/oscar-language/engine/spec"
)

const (
	DefaultListen       = "127.0.0.1:9000"
	DefaultPollInterval = time.Millisecond
)

// Config is the top-level host configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Audio     AudioConfig     `yaml:"audio"`
	MIDI      MIDIConfig      `yaml:"midi"`
	Viz       VizConfig       `yaml:"viz"`
	Log       LogConfig       `yaml:"log"`
}

// WebSocketConfig enables the WebSocket control listener when Addr is set.
type WebSocketConfig struct {
	Addr    string   `yaml:"addr"`
	Path    string   `yaml:"path"`
	Origins []string `yaml:"origins"`
}

// AudioConfig selects the backend and output device.
type AudioConfig struct {
	Backend    string  `yaml:"backend"`     // portaudio or null
	Device     *int    `yaml:"device"`      // device index; nil prompts or uses the default
	DeviceName string  `yaml:"device_name"` // case-insensitive substring match
	Channels   int     `yaml:"channels"`    // 0 uses every output channel of the device
	SampleRate float64 `yaml:"sample_rate"`
	Latency    string  `yaml:"latency"` // low, medium or high
	BufferSize int     `yaml:"buffer_size"`
	TableSize  int     `yaml:"table_size"`
}

// MIDIConfig enables the MIDI bridge when Driver is set.
type MIDIConfig struct {
	Driver       string          `yaml:"driver"` // portmidi, rtmidi or serial
	Port         string          `yaml:"port"`
	Baud         int             `yaml:"baud"`
	PollInterval string          `yaml:"poll_interval"`
	Mappings     []MappingConfig `yaml:"mappings"`
}

// MappingConfig binds a controller to a synth or master parameter. The
// controller value is scaled linearly into [Min, Max].
type MappingConfig struct {
	CC      int     `yaml:"cc"`
	Channel *int    `yaml:"channel"` // nil matches every channel
	Synth   string  `yaml:"synth"`   // empty targets master
	Param   string  `yaml:"param"`   // freq, amp, phase or vol
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// VizConfig enables the OSC visualizer bridge when Addr is set.
type VizConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen: DefaultListen,
		Audio: AudioConfig{
			Backend: "portaudio",
			Latency: string(spec.LatencyMedium),
		},
		MIDI: MIDIConfig{
			PollInterval: DefaultPollInterval.String(),
		},
	}
}

// LoadDotEnv loads environment variables from path. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads a YAML file over Default. ${VAR} references are expanded from
// the environment before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data over Default.
func Parse(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// Preferences converts the audio section into stream preferences.
func (c Config) Preferences() (spec.Preferences, error) {
	latency, err := spec.ParseLatency(c.Audio.Latency)
	if err != nil {
		return spec.Preferences{}, fmt.Errorf("config: audio: %w", err)
	}
	return spec.Preferences{
		SampleRate: c.Audio.SampleRate,
		Latency:    latency,
		BufferSize: c.Audio.BufferSize,
		Channels:   c.Audio.Channels,
	}, nil
}

// PollInterval parses the MIDI poll interval.
func (c Config) PollInterval() (time.Duration, error) {
	if c.MIDI.PollInterval == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(c.MIDI.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("config: midi: poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: midi: poll_interval must be positive, got %s", d)
	}
	return d, nil
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if err := checkAddr("listen", c.Listen); err != nil {
		return err
	}
	if c.WebSocket.Addr != "" {
		if err := checkAddr("websocket.addr", c.WebSocket.Addr); err != nil {
			return err
		}
	}
	if c.Viz.Addr != "" {
		if err := checkAddr("viz.addr", c.Viz.Addr); err != nil {
			return err
		}
	}

	switch c.Audio.Backend {
	case "portaudio", "null":
	default:
		return fmt.Errorf("config: audio: unknown backend %q", c.Audio.Backend)
	}
	if _, err := c.Preferences(); err != nil {
		return err
	}
	if c.Audio.Device != nil && *c.Audio.Device < 0 {
		return fmt.Errorf("config: audio: device index must not be negative")
	}
	if c.Audio.Channels < 0 || c.Audio.BufferSize < 0 || c.Audio.TableSize < 0 || c.Audio.SampleRate < 0 {
		return fmt.Errorf("config: audio: channels, buffer_size, table_size and sample_rate must not be negative")
	}

	switch c.MIDI.Driver {
	case "", "portmidi", "rtmidi", "serial":
	default:
		return fmt.Errorf("config: midi: unknown driver %q", c.MIDI.Driver)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	for i, m := range c.MIDI.Mappings {
		if err := m.validate(); err != nil {
			return fmt.Errorf("config: midi: mapping %d: %w", i, err)
		}
	}
	return nil
}

func (m MappingConfig) validate() error {
	if m.CC < 0 || m.CC > 127 {
		return fmt.Errorf("cc %d out of range 0-127", m.CC)
	}
	if m.Channel != nil && (*m.Channel < 0 || *m.Channel > 15) {
		return fmt.Errorf("channel %d out of range 0-15", *m.Channel)
	}
	switch m.Param {
	case "freq", "amp", "phase":
		if m.Synth == "" {
			return fmt.Errorf("param %q needs a synth", m.Param)
		}
	case "vol":
		if m.Synth != "" {
			return fmt.Errorf("param vol targets master, not synth %q", m.Synth)
		}
	default:
		return fmt.Errorf("unknown param %q", m.Param)
	}
	return nil
}

func checkAddr(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("config: %s: %w", field, err)
	}
	return nil
}
