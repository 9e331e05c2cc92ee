package console

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/azzeloof/oscar-language"
	"github.com/azzeloof/oscar-language/midi"
)

// Mapping binds a MIDI controller to a synth or master parameter. The
// controller value in [0,1] is scaled linearly into [Min, Max].
type Mapping struct {
	CC    midi.CC
	Synth string // empty targets master
	Param string // freq, amp, phase or vol
	Min   float64
	Max   float64
}

// DefaultRange returns the range used when a map command names none.
func DefaultRange(param string) (lo, hi float64) {
	switch param {
	case "freq":
		return 20, 2000
	default:
		return 0, 1
	}
}

func (m Mapping) id() string {
	if m.Synth == "" {
		return "console:master." + m.Param
	}
	return "console:" + m.Synth + "." + m.Param
}

func (m Mapping) scale(v float64) float64 {
	return m.Min + v*(m.Max-m.Min)
}

func (m Mapping) String() string {
	ch := "omni"
	if m.CC.Channel != midi.Omni {
		ch = strconv.Itoa(m.CC.Channel)
	}
	target := "master"
	if m.Synth != "" {
		target = m.Synth
	}
	return fmt.Sprintf("cc %d ch %s -> %s %s [%g, %g]", m.CC.Controller, ch, target, m.Param, m.Min, m.Max)
}

func checkMapping(m Mapping) error {
	switch m.Param {
	case "freq", "amp", "phase":
		if m.Synth == "" {
			return fmt.Errorf("param %s needs a synth", m.Param)
		}
	case "vol":
		if m.Synth != "" {
			return fmt.Errorf("param vol targets master")
		}
	default:
		return fmt.Errorf("unknown param %q", m.Param)
	}
	return nil
}

// Map binds m, replacing any earlier mapping of the same controller.
func (c *Console) Map(m Mapping) error {
	if c.controls == nil {
		return fmt.Errorf("midi %w", ErrNotConfigured)
	}
	if err := checkMapping(m); err != nil {
		return err
	}

	c.mu.Lock()
	if old, ok := c.mappings[m.CC]; ok {
		if ctl, ok := c.controls.Lookup(old.CC); ok {
			ctl.Unregister(old.id())
		}
	}
	c.mappings[m.CC] = m
	c.mu.Unlock()

	c.controls.Control(m.CC).Register(m.id(), func(v float64) {
		if err := c.apply(m, m.scale(v)); err != nil {
			c.logger.Warn("console: mapped control failed", "mapping", m.String(), "err", err)
		}
	})
	return nil
}

// apply writes a scaled controller value to the mapping target.
func (c *Console) apply(m Mapping, v float64) error {
	if m.Synth == "" {
		master, err := oscar.NewMaster(c.binding)
		if err != nil {
			return err
		}
		return master.SetVol(v)
	}
	s, err := c.synth(m.Synth)
	if err != nil {
		return err
	}
	switch m.Param {
	case "freq":
		return s.SetFreq(v)
	case "amp":
		return s.SetAmp(v)
	case "phase":
		return s.SetPhase(v)
	}
	return fmt.Errorf("unknown param %q", m.Param)
}

// Unmap releases cc. It reports whether a mapping existed.
func (c *Console) Unmap(cc midi.CC) bool {
	c.mu.Lock()
	_, ok := c.mappings[cc]
	delete(c.mappings, cc)
	c.mu.Unlock()
	if ok && c.controls != nil {
		c.controls.Remove(cc)
	}
	return ok
}

// Mappings lists the active mappings ordered by channel then controller.
func (c *Console) Mappings() []Mapping {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Mapping, 0, len(c.mappings))
	for _, m := range c.mappings {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CC.Channel != out[j].CC.Channel {
			return out[i].CC.Channel < out[j].CC.Channel
		}
		return out[i].CC.Controller < out[j].CC.Controller
	})
	return out
}

func parseCC(s string) (uint8, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 127 {
		return 0, fmt.Errorf("controller %q out of range 0-127", s)
	}
	return uint8(n), nil
}

// takeChannel removes a ch=N word from args. Without one the channel is
// midi.Omni.
func takeChannel(args []string) ([]string, int, error) {
	ch := midi.Omni
	rest := args[:0:0]
	for _, a := range args {
		v, ok := strings.CutPrefix(a, "ch=")
		if !ok {
			rest = append(rest, a)
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 15 {
			return nil, 0, fmt.Errorf("channel %q out of range 0-15", v)
		}
		ch = n
	}
	return rest, ch, nil
}

func (c *Console) cmdMap(args []string) error {
	if len(args) == 0 {
		for _, m := range c.Mappings() {
			c.printf("%s\n", m)
		}
		return nil
	}
	args, ch, err := takeChannel(args)
	if err != nil {
		return err
	}
	if len(args) != 3 && len(args) != 5 {
		return ErrUsage
	}
	cc, err := parseCC(args[0])
	if err != nil {
		return err
	}
	m := Mapping{CC: midi.CC{Channel: ch, Controller: cc}, Param: args[2]}
	if args[1] != "master" {
		m.Synth = args[1]
	}
	m.Min, m.Max = DefaultRange(m.Param)
	if len(args) == 5 {
		if m.Min, err = parseFloat(args[3]); err != nil {
			return err
		}
		if m.Max, err = parseFloat(args[4]); err != nil {
			return err
		}
	}
	return c.Map(m)
}

func (c *Console) cmdUnmap(args []string) error {
	args, ch, err := takeChannel(args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return ErrUsage
	}
	cc, err := parseCC(args[0])
	if err != nil {
		return err
	}
	if !c.Unmap(midi.CC{Channel: ch, Controller: cc}) {
		return fmt.Errorf("controller %d is not mapped", cc)
	}
	return nil
}
