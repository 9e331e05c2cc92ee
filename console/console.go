// Package console evaluates the line-oriented command language typed into
// the multiplexer and applies it to the bound engine through the proxies.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/engine/analyze"
	"github.com/azzeloof/oscar-language/midi"
	"github.com/azzeloof/oscar-language/mux"
	"github.com/azzeloof/oscar-language/viz"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("usage")
	ErrNotConfigured  = errors.New("not configured")
)

// Options configures a Console. Controls, Viz and Levels are optional;
// commands that need them fail with ErrNotConfigured when absent.
type Options struct {
	Binding   *oscar.Binding
	Out       io.Writer
	Controls  *midi.ControlMap
	Viz       *viz.Client
	Levels    func() []analyze.Metrics
	TableSize int
	Logger    *slog.Logger
}

// Console is a mux.Sink. Commands run serially on the multiplexer loop;
// mapped MIDI controls call back into it from the bridge goroutine, so the
// handle cache is guarded.
type Console struct {
	binding    *oscar.Binding
	out        io.Writer
	controls   *midi.ControlMap
	viz        *viz.Client
	levels     func() []analyze.Metrics
	tableSize  int
	logger     *slog.Logger
	serializer *oscar.Serializer

	mu       sync.Mutex
	synths   map[string]*oscar.Synth
	mappings map[midi.CC]Mapping
}

var _ mux.Sink = (*Console)(nil)

// New creates a console.
func New(opts Options) (*Console, error) {
	if opts.Binding == nil {
		return nil, fmt.Errorf("console: binding is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.TableSize <= 0 {
		opts.TableSize = oscar.DefaultTableSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Console{
		binding:   opts.Binding,
		out:       opts.Out,
		controls:  opts.Controls,
		viz:       opts.Viz,
		levels:    opts.Levels,
		tableSize: opts.TableSize,
		logger:    opts.Logger,
		synths:    make(map[string]*oscar.Synth),
		mappings:  make(map[midi.CC]Mapping),
	}
	c.serializer = oscar.NewSerializer(opts.Binding, c.shapeOf)
	return c, nil
}

// Exec implements mux.Sink.
func (c *Console) Exec(_ context.Context, cmd mux.Command) error {
	c.logger.Debug("console: exec", "source", cmd.Source, "line", cmd.Line)
	return c.Eval(cmd.Line)
}

// Eval runs a single command line.
func (c *Console) Eval(line string) error {
	words := Fields(line)
	if len(words) == 0 {
		return nil
	}
	name, args := words[0], words[1:]
	h, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: %q (try help)", ErrUnknownCommand, name)
	}
	if err := h.run(c, args); err != nil {
		if errors.Is(err, ErrUsage) {
			return fmt.Errorf("%s: %w: %s", name, ErrUsage, h.usage)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Fields splits a line into words and drops a comment. A comment starts
// at a '#' opening the line, a lone '#' word, or a word starting with "##".
// Mid-line words such as "#ff0000" are kept.
func Fields(line string) []string {
	words := strings.Fields(line)
	for i, w := range words {
		if i == 0 && strings.HasPrefix(w, "#") {
			return nil
		}
		if w == "#" || strings.HasPrefix(w, "##") {
			return words[:i]
		}
	}
	return words
}

type command struct {
	usage string
	help  string
	run   func(c *Console, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"synth":   {"synth <name> [freq=F] [amp=A] [phase=P] [wave=SHAPE] [k=v...]", "create or update a synth", (*Console).cmdSynth},
		"freq":    {"freq <synth> [hz]", "read or set frequency", (*Console).cmdFreq},
		"amp":     {"amp <synth> [amp]", "read or set amplitude", (*Console).cmdAmp},
		"phase":   {"phase <synth> [offset]", "read or set phase offset", (*Console).cmdPhase},
		"start":   {"start <synth>", "resume a synth", (*Console).cmdStart},
		"stop":    {"stop <synth>", "silence a synth", (*Console).cmdStop},
		"playing": {"playing <synth>", "report play state", (*Console).cmdPlaying},
		"wave":    {"wave <synth> <shape> [k=v...]", "regenerate the wavetable", (*Console).cmdWave},
		"patch":   {"patch <name> <synth> <ch,ch,...>", "route a synth to channels", (*Console).cmdPatch},
		"route":   {"route <patch> [synth]", "read or set the routed synth", (*Console).cmdRoute},
		"ch":      {"ch <patch> [ch,ch,...]", "read or set patch channels", (*Console).cmdChannels},
		"vol":     {"vol [v]", "read or set master volume", (*Console).cmdVol},
		"synths":  {"synths", "list synths", (*Console).cmdSynths},
		"patches": {"patches", "list patches", (*Console).cmdPatches},
		"stopall": {"stopall", "stop every synth", (*Console).cmdStopAll},
		"delete":  {"delete synth|patch <name>", "remove a synth or patch", (*Console).cmdDelete},
		"map":     {"map [<cc> <synth|master> <param> [min max] [ch=N]]", "bind a MIDI controller", (*Console).cmdMap},
		"unmap":   {"unmap <cc> [ch=N]", "release a MIDI controller", (*Console).cmdUnmap},
		"save":    {"save <file>", "write engine state as JSON", (*Console).cmdSave},
		"load":    {"load <file>", "restore engine state from JSON", (*Console).cmdLoad},
		"viz":     {"viz <ch> <param> <value> | viz scale <value>", "send a visualizer parameter", (*Console).cmdViz},
		"levels":  {"levels", "print output channel levels", (*Console).cmdLevels},
		"help":    {"help", "list commands", (*Console).cmdHelp},
	}
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *Console) shapeOf(name string) (string, map[string]float64, bool) {
	c.mu.Lock()
	s, ok := c.synths[name]
	c.mu.Unlock()
	if !ok {
		return "", nil, false
	}
	shape, args := s.Shape()
	return shape, args, true
}

// synth returns the cached handle for name, attaching to an engine-side
// synth on a miss.
func (c *Console) synth(name string) (*oscar.Synth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.synths[name]; ok {
		return s, nil
	}
	s, err := oscar.AttachSynth(c.binding, name, oscar.WithTableSize(c.tableSize))
	if err != nil {
		return nil, err
	}
	c.synths[name] = s
	return s, nil
}

func (c *Console) forget(name string) {
	c.mu.Lock()
	delete(c.synths, name)
	c.mu.Unlock()
}

// keyValues splits k=v words into a map of floats and returns the
// remaining words. wave= is returned separately since it names a shape.
func keyValues(words []string) (kv map[string]float64, wave string, rest []string, err error) {
	kv = make(map[string]float64)
	for _, w := range words {
		k, v, ok := strings.Cut(w, "=")
		if !ok {
			rest = append(rest, w)
			continue
		}
		if k == "wave" {
			wave = v
			continue
		}
		f, perr := parseFloat(v)
		if perr != nil {
			return nil, "", nil, fmt.Errorf("%s: %w", k, perr)
		}
		kv[k] = f
	}
	return kv, wave, rest, nil
}

// parseFloat accepts finite numbers only; strconv also parses "nan" and
// "inf".
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

// ParseChannels parses a comma-separated channel list such as "0,1".
func ParseChannels(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func formatChannels(chans []int) string {
	parts := make([]string, len(chans))
	for i, ch := range chans {
		parts[i] = strconv.Itoa(ch)
	}
	return strings.Join(parts, ",")
}

func lookupShape(name string) (oscar.WaveFunc, error) {
	shape, ok := oscar.Shapes[name]
	if !ok {
		return nil, fmt.Errorf("unknown shape %q (have %s)", name, strings.Join(oscar.ShapeNames(), ", "))
	}
	return shape, nil
}

func (c *Console) cmdSynth(args []string) error {
	if len(args) < 1 {
		return ErrUsage
	}
	name := args[0]
	kv, wave, rest, err := keyValues(args[1:])
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return ErrUsage
	}
	freq, hasFreq := kv["freq"]
	amp, hasAmp := kv["amp"]
	phase, hasPhase := kv["phase"]
	delete(kv, "freq")
	delete(kv, "amp")
	delete(kv, "phase")

	c.mu.Lock()
	existing, cached := c.synths[name]
	c.mu.Unlock()

	if !cached {
		opts := []oscar.SynthOption{oscar.WithTableSize(c.tableSize)}
		if hasFreq {
			opts = append(opts, oscar.WithFrequency(freq))
		}
		if hasAmp {
			opts = append(opts, oscar.WithAmplitude(amp))
		}
		if hasPhase {
			opts = append(opts, oscar.WithPhase(phase))
		}
		if wave != "" {
			shape, err := lookupShape(wave)
			if err != nil {
				return err
			}
			opts = append(opts, oscar.WithWave(wave, shape, kv))
		}
		s, err := oscar.NewSynth(c.binding, name, opts...)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.synths[name] = s
		c.mu.Unlock()
		return nil
	}

	if hasFreq {
		if err := existing.SetFreq(freq); err != nil {
			return err
		}
	}
	if hasAmp {
		if err := existing.SetAmp(amp); err != nil {
			return err
		}
	}
	if hasPhase {
		if err := existing.SetPhase(phase); err != nil {
			return err
		}
	}
	if wave != "" {
		shape, err := lookupShape(wave)
		if err != nil {
			return err
		}
		return existing.Wave(wave, shape, kv)
	}
	return nil
}

// scalar implements the read-or-set commands on a synth parameter.
func (c *Console) scalar(args []string, get func(*oscar.Synth) (float64, error), set func(*oscar.Synth, float64) error) error {
	if len(args) < 1 || len(args) > 2 {
		return ErrUsage
	}
	s, err := c.synth(args[0])
	if err != nil {
		return err
	}
	if len(args) == 1 {
		v, err := get(s)
		if err != nil {
			return err
		}
		c.printf("%g\n", v)
		return nil
	}
	v, err := parseFloat(args[1])
	if err != nil {
		return err
	}
	return set(s, v)
}

func (c *Console) cmdFreq(args []string) error {
	return c.scalar(args, (*oscar.Synth).Freq, (*oscar.Synth).SetFreq)
}

func (c *Console) cmdAmp(args []string) error {
	return c.scalar(args, (*oscar.Synth).Amp, (*oscar.Synth).SetAmp)
}

func (c *Console) cmdPhase(args []string) error {
	return c.scalar(args, (*oscar.Synth).Phase, (*oscar.Synth).SetPhase)
}

func (c *Console) cmdStart(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	s, err := c.synth(args[0])
	if err != nil {
		return err
	}
	return s.Start()
}

func (c *Console) cmdStop(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	s, err := c.synth(args[0])
	if err != nil {
		return err
	}
	return s.Stop()
}

func (c *Console) cmdPlaying(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	s, err := c.synth(args[0])
	if err != nil {
		return err
	}
	playing, err := s.Playing()
	if err != nil {
		return err
	}
	c.printf("%t\n", playing)
	return nil
}

func (c *Console) cmdWave(args []string) error {
	if len(args) < 2 {
		return ErrUsage
	}
	s, err := c.synth(args[0])
	if err != nil {
		return err
	}
	shape, err := lookupShape(args[1])
	if err != nil {
		return err
	}
	kv, _, rest, err := keyValues(args[2:])
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return ErrUsage
	}
	return s.Wave(args[1], shape, kv)
}

func (c *Console) cmdPatch(args []string) error {
	if len(args) != 3 {
		return ErrUsage
	}
	chans, err := ParseChannels(args[2])
	if err != nil {
		return err
	}
	p, err := oscar.NewPatch(c.binding, args[0], oscar.SynthName(args[1]), chans)
	if err != nil {
		return err
	}
	// NewPatch leaves an existing patch alone; the command always applies.
	if err := p.SetSynth(oscar.SynthName(args[1])); err != nil {
		return err
	}
	return p.SetChannels(chans)
}

func (c *Console) cmdRoute(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return ErrUsage
	}
	p, err := oscar.AttachPatch(c.binding, args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		return p.SetSynth(oscar.SynthName(args[1]))
	}
	name, err := p.Synth()
	if err != nil {
		return err
	}
	c.printf("%s\n", name)
	return nil
}

func (c *Console) cmdChannels(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return ErrUsage
	}
	p, err := oscar.AttachPatch(c.binding, args[0])
	if err != nil {
		return err
	}
	if len(args) == 2 {
		chans, err := ParseChannels(args[1])
		if err != nil {
			return err
		}
		return p.SetChannels(chans)
	}
	chans, err := p.Channels()
	if err != nil {
		return err
	}
	c.printf("%s\n", formatChannels(chans))
	return nil
}

func (c *Console) cmdVol(args []string) error {
	if len(args) > 1 {
		return ErrUsage
	}
	m, err := oscar.NewMaster(c.binding)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		v, err := m.Vol()
		if err != nil {
			return err
		}
		c.printf("%g\n", v)
		return nil
	}
	v, err := parseFloat(args[0])
	if err != nil {
		return err
	}
	return m.SetVol(v)
}

func (c *Console) cmdSynths(args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	m, err := oscar.NewMaster(c.binding)
	if err != nil {
		return err
	}
	names, err := m.Synths()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		s, err := c.synth(name)
		if err != nil {
			return err
		}
		freq, err := s.Freq()
		if err != nil {
			return err
		}
		amp, err := s.Amp()
		if err != nil {
			return err
		}
		playing, err := s.Playing()
		if err != nil {
			return err
		}
		shape, _ := s.Shape()
		fmt.Fprintf(tw, "%s\t%gHz\tamp=%g\t%s\tplaying=%t\n", name, freq, amp, shape, playing)
	}
	return tw.Flush()
}

func (c *Console) cmdPatches(args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	m, err := oscar.NewMaster(c.binding)
	if err != nil {
		return err
	}
	names, err := m.Patches()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		p, err := oscar.AttachPatch(c.binding, name)
		if err != nil {
			return err
		}
		synth, err := p.Synth()
		if err != nil {
			return err
		}
		chans, err := p.Channels()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t[%s]\n", name, synth, formatChannels(chans))
	}
	return tw.Flush()
}

func (c *Console) cmdStopAll(args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	m, err := oscar.NewMaster(c.binding)
	if err != nil {
		return err
	}
	return m.StopAll()
}

func (c *Console) cmdDelete(args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	switch args[0] {
	case "synth":
		s, err := c.synth(args[1])
		if err != nil {
			return err
		}
		if err := s.Delete(); err != nil {
			return err
		}
		c.forget(args[1])
		return nil
	case "patch":
		p, err := oscar.AttachPatch(c.binding, args[1])
		if err != nil {
			return err
		}
		return p.Delete()
	}
	return ErrUsage
}

func (c *Console) cmdSave(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	if err := c.serializer.SaveToWriter(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	c.logger.Info("console: state saved", "file", args[0])
	return nil
}

func (c *Console) cmdLoad(args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	state, err := oscar.ReadState(f)
	if err != nil {
		return err
	}
	if err := c.serializer.SetState(state); err != nil {
		return err
	}

	// Refresh handles so later wave commands know the restored shapes.
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, st := range state.Synths {
		shapeName := st.Shape
		if shapeName == "" {
			shapeName = "sine"
		}
		opts := []oscar.SynthOption{oscar.WithTableSize(c.tableSize)}
		if shape, ok := oscar.Shapes[shapeName]; ok {
			opts = append(opts, oscar.WithWave(shapeName, shape, st.Args))
		}
		s, err := oscar.AttachSynth(c.binding, st.Name, opts...)
		if err != nil {
			return err
		}
		c.synths[st.Name] = s
	}
	c.logger.Info("console: state loaded", "file", args[0], "synths", len(state.Synths), "patches", len(state.Patches))
	return nil
}

func (c *Console) cmdViz(args []string) error {
	if c.viz == nil {
		return fmt.Errorf("visualizer %w", ErrNotConfigured)
	}
	if len(args) == 2 && args[0] == viz.ParamScale {
		return c.viz.Set(0, viz.ParamScale, args[1])
	}
	if len(args) != 3 {
		return ErrUsage
	}
	ch, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid channel %q", args[0])
	}
	return c.viz.Set(ch, args[1], args[2])
}

func (c *Console) cmdLevels(args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	if c.levels == nil {
		return fmt.Errorf("level metering %w", ErrNotConfigured)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for ch, m := range c.levels() {
		fmt.Fprintf(tw, "ch %d\trms=%.4f\tpeak=%.4f\t%.1f dB\n", ch, m.RMS, m.Peak, m.DB())
	}
	return tw.Flush()
}

func (c *Console) cmdHelp(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", commands[name].usage, commands[name].help)
	}
	return tw.Flush()
}
