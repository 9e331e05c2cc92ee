package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/config"
	"github.com/azzeloof/oscar-language/devices"
	"github.com/azzeloof/oscar-language/engine"
	"github.com/azzeloof/oscar-language/engine/portaudio"
	"github.com/azzeloof/oscar-language/midi"
)

func newBackend(cfg config.Config) (oscar.Backend, error) {
	switch cfg.Audio.Backend {
	case "null":
		n := engine.NewNull()
		n.Logger = logger
		n.SampleRate = cfg.Audio.SampleRate
		return n, nil
	case "portaudio", "":
		prefs, err := cfg.Preferences()
		if err != nil {
			return nil, err
		}
		return portaudio.New(prefs, logger), nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", cfg.Audio.Backend)
}

func newMIDIDriver(cfg config.MIDIConfig) (midi.Driver, error) {
	switch cfg.Driver {
	case "portmidi":
		return midi.NewPortMidi(), nil
	case "rtmidi":
		return midi.NewRtMidi()
	case "serial":
		baud := cfg.Baud
		if baud == 0 {
			baud = midi.DefaultSerialBaud
		}
		return midi.NewSerial(baud), nil
	}
	return nil, fmt.Errorf("unknown midi driver %q", cfg.Driver)
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// chooseDevice picks the output device: configured index, then configured
// name, then an interactive prompt on a terminal, then the default output.
func chooseDevice(cfg config.AudioConfig, devs devices.AudioDevices, interactive bool, prompt func(devices.AudioDevices) (int, error)) (*devices.AudioDevice, error) {
	if cfg.Device != nil {
		// CreateEngine reports an unknown index as a DeviceInitError.
		if d := devs.ByIndex(*cfg.Device); d != nil {
			return d, nil
		}
		return &devices.AudioDevice{Index: *cfg.Device, Name: fmt.Sprintf("device %d", *cfg.Device)}, nil
	}
	if cfg.DeviceName != "" {
		d := devs.Outputs().ByName(cfg.DeviceName)
		if d == nil {
			return nil, fmt.Errorf("no output device matching %q", cfg.DeviceName)
		}
		return d, nil
	}
	outputs := devs.Outputs()
	if len(outputs) == 0 {
		return nil, fmt.Errorf("no audio output devices")
	}
	if interactive && len(outputs) > 1 && prompt != nil {
		index, err := prompt(outputs)
		if err != nil {
			return nil, err
		}
		if d := outputs.ByIndex(index); d != nil {
			return d, nil
		}
	}
	return outputs.DefaultOutput(), nil
}

func promptDevice(outputs devices.AudioDevices) (int, error) {
	opts := make([]huh.Option[int], len(outputs))
	selected := outputs[0].Index
	for i, d := range outputs {
		opts[i] = huh.NewOption(d.String(), d.Index)
		if d.IsDefaultOutput {
			selected = d.Index
		}
	}
	err := huh.NewForm(huh.NewGroup(
		huh.NewSelect[int]().
			Title("Audio output device").
			Options(opts...).
			Value(&selected),
	)).Run()
	if err != nil {
		return 0, fmt.Errorf("device prompt: %w", err)
	}
	return selected, nil
}

func printDevices(w io.Writer, devs devices.AudioDevices) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tOUT\tIN\tRATE\tDEFAULT")
	for _, d := range devs {
		def := ""
		if d.IsDefaultOutput {
			def = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%g\t%s\n", d.Index, d.Name, d.MaxOutputChannels, d.MaxInputChannels, d.DefaultSampleRate, def)
	}
	tw.Flush()
}
