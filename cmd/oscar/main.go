// Command oscar is the live-coding host: it opens an audio device, binds
// the engine and evaluates console commands from stdin and network clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/config"
	"github.com/azzeloof/oscar-language/console"
	"github.com/azzeloof/oscar-language/devices"
	"github.com/azzeloof/oscar-language/engine/analyze"
	"github.com/azzeloof/oscar-language/midi"
	"github.com/azzeloof/oscar-language/mux"
	"github.com/azzeloof/oscar-language/viz"
)

// logger is the package-wide structured logger. Safe to use before
// initLogger is called.
var logger = slog.Default()

func initLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	})
	logger = slog.New(h)
	slog.SetDefault(logger)
}

type flags struct {
	configPath  string
	envFile     string
	debug       bool
	listDevices bool
	device      int
	backend     string
	listen      string
	midiDriver  string
	midiPort    string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("oscar", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: oscar [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&f.configPath, "config", "", "path to YAML configuration file")
	fs.StringVar(&f.envFile, "env", ".env", "path to .env file (ignored if missing)")
	fs.BoolVar(&f.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&f.listDevices, "list-devices", false, "print audio devices and exit")
	fs.IntVar(&f.device, "device", -1, "audio device index (overrides config)")
	fs.StringVar(&f.backend, "backend", "", "audio backend: portaudio or null (overrides config)")
	fs.StringVar(&f.listen, "listen", "", "TCP control address host:port (overrides config)")
	fs.StringVar(&f.midiDriver, "midi", "", "MIDI driver: portmidi, rtmidi or serial (overrides config)")
	fs.StringVar(&f.midiPort, "midi-port", "", "MIDI input name (overrides config)")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

// apply overlays command-line settings onto cfg.
func (f flags) apply(cfg *config.Config) {
	if f.debug {
		cfg.Log.Debug = true
	}
	if f.device >= 0 {
		d := f.device
		cfg.Audio.Device = &d
	}
	if f.backend != "" {
		cfg.Audio.Backend = f.backend
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.midiDriver != "" {
		cfg.MIDI.Driver = f.midiDriver
	}
	if f.midiPort != "" {
		cfg.MIDI.Port = f.midiPort
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if err := config.LoadDotEnv(f.envFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(f); err != nil {
		var devErr *oscar.DeviceInitError
		if errors.As(err, &devErr) {
			fmt.Fprintf(os.Stderr, "audio device error: %v\n", devErr)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func loadConfig(f flags) (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	f.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	initLogger(cfg.Log.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eh := newErrorHandler(logger)
	defer func() {
		if n := eh.Count(); n > 0 {
			logger.Info("session ended with recovered errors", "count", n)
		}
	}()

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	if err := backend.Initialize(); err != nil {
		return fmt.Errorf("initialize audio backend: %w", err)
	}
	defer func() {
		if err := backend.Terminate(); err != nil {
			logger.Warn("terminate audio backend", "err", err)
		}
	}()

	devs, err := backend.ListDevices()
	if err != nil {
		return fmt.Errorf("list audio devices: %w", err)
	}
	if f.listDevices {
		printDevices(os.Stdout, devs)
		return nil
	}

	dev, err := chooseDevice(cfg.Audio, devs, stdinIsTerminal(), promptDevice)
	if err != nil {
		return err
	}
	channels := cfg.Audio.Channels
	if channels == 0 {
		channels = dev.MaxOutputChannels
	}

	eng, err := backend.CreateEngine(dev.Index, channels)
	if err != nil {
		return err
	}
	binding := oscar.Default
	binding.BindAll(eng)
	logger.Info("engine ready", "device", dev.Name, "channels", channels)

	var (
		controls *midi.ControlMap
		bridge   *midi.Bridge
		driver   midi.Driver
		serving  bool
	)
	// Once the multiplexer runs, its shutdown hook owns teardown.
	defer func() {
		if !serving {
			if err := shutdownFunc(binding, bridge)(); err != nil {
				logger.Warn("engine shutdown", "err", err)
			}
		}
	}()
	if cfg.MIDI.Driver != "" {
		driver, err = newMIDIDriver(cfg.MIDI)
		if err != nil {
			logger.Warn("midi unavailable", "driver", cfg.MIDI.Driver, "err", err)
		} else {
			controls = midi.NewControlMap()
			interval, _ := cfg.PollInterval()
			bridge, err = midi.Start(midi.Options{
				Driver:       driver,
				Port:         cfg.MIDI.Port,
				PollInterval: interval,
				ErrorHandler: eh,
				Logger:       logger,
			}, controls.Handler(eh))
			if err != nil {
				logger.Warn("midi bridge not started", "err", err)
			}
			defer func() {
				if bridge != nil {
					bridge.Stop()
				}
				driver.Close()
			}()
		}
	}

	monitor := devices.NewMonitor(devices.MonitorOptions{
		OnChange: func(c devices.Change) { logger.Info(c.String()) },
		OnError:  func(err error) { logger.Debug("device poll failed", "err", err) },
	})
	if err := monitor.Watch("audio", func() ([]string, error) {
		devs, err := backend.ListDevices()
		return devs.Names(), err
	}); err != nil {
		logger.Debug("not watching audio devices", "err", err)
	}
	if driver != nil {
		if err := monitor.Watch("midi", func() ([]string, error) { return midi.Inputs(driver) }); err != nil {
			logger.Debug("not watching midi inputs", "err", err)
		}
	}
	if err := monitor.Start(); err != nil {
		return err
	}
	defer monitor.Stop()

	var vizClient *viz.Client
	if cfg.Viz.Addr != "" {
		vizClient, err = viz.Dial(cfg.Viz.Addr, logger)
		if err != nil {
			logger.Warn("visualizer unavailable", "addr", cfg.Viz.Addr, "err", err)
		} else {
			defer vizClient.Close()
		}
	}

	var levels func() []analyze.Metrics
	if m, ok := eng.(interface{ Levels() []analyze.Metrics }); ok {
		levels = m.Levels
	}

	con, err := console.New(console.Options{
		Binding:   binding,
		Out:       os.Stdout,
		Controls:  controls,
		Viz:       vizClient,
		Levels:    levels,
		TableSize: cfg.Audio.TableSize,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	for _, mc := range cfg.MIDI.Mappings {
		if controls == nil {
			logger.Warn("midi mappings ignored: midi is not running")
			break
		}
		if err := con.Map(mappingFromConfig(mc)); err != nil {
			logger.Warn("midi mapping rejected", "cc", mc.CC, "err", err)
		}
	}

	listeners, err := openListeners(cfg)
	if err != nil {
		return err
	}

	m, err := mux.New(mux.Options{
		Stdin:        os.Stdin,
		Listeners:    listeners,
		Sink:         con,
		ErrorHandler: eh,
		Logger:       logger,
		OnShutdown:   shutdownFunc(binding, bridge),
	})
	if err != nil {
		for _, l := range listeners {
			l.Close()
		}
		return err
	}
	serving = true
	return m.Run(ctx)
}

// newErrorHandler logs recovered errors through l and counts them for the
// end-of-session summary. Client faults also get their connection logged.
func newErrorHandler(l *slog.Logger) *oscar.LoggingErrorHandler {
	return oscar.NewLoggingErrorHandler(&oscar.DefaultErrorHandler{Logger: l}, func(err error) {
		var fault *mux.ConnectionFault
		if errors.As(err, &fault) {
			l.Debug("client fault", "conn", fault.Conn, "remote", fault.Remote)
		}
	})
}

// shutdownFunc stops MIDI input, silences every synth and releases the
// engine, in that order.
func shutdownFunc(binding *oscar.Binding, bridge *midi.Bridge) func() error {
	return func() error {
		if bridge != nil {
			bridge.Stop()
		}
		master, err := oscar.NewMaster(binding)
		if err != nil {
			return err
		}
		stopErr := master.StopAll()
		return errors.Join(stopErr, master.Shutdown())
	}
}

func openListeners(cfg config.Config) ([]net.Listener, error) {
	var listeners []net.Listener
	tcp, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	listeners = append(listeners, tcp)
	logger.Info("listening", "addr", tcp.Addr().String())

	if cfg.WebSocket.Addr != "" {
		ws, err := mux.ListenWebSocket(cfg.WebSocket.Addr, cfg.WebSocket.Path, cfg.WebSocket.Origins, logger)
		if err != nil {
			tcp.Close()
			return nil, fmt.Errorf("websocket listen %s: %w", cfg.WebSocket.Addr, err)
		}
		listeners = append(listeners, ws)
		logger.Info("listening", "url", ws.URL())
	}
	return listeners, nil
}

func mappingFromConfig(mc config.MappingConfig) console.Mapping {
	ch := midi.Omni
	if mc.Channel != nil {
		ch = *mc.Channel
	}
	m := console.Mapping{
		CC:    midi.CC{Channel: ch, Controller: uint8(mc.CC)},
		Synth: mc.Synth,
		Param: mc.Param,
		Min:   mc.Min,
		Max:   mc.Max,
	}
	if m.Min == 0 && m.Max == 0 {
		m.Min, m.Max = console.DefaultRange(m.Param)
	}
	return m
}
