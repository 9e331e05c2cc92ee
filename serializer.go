package oscar

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// StateVersion is the current state document format.
const StateVersion = "1.0.0"

// EngineState is the serializable snapshot of everything an engine holds.
type EngineState struct {
	Version      string       `json:"version"`
	MasterVolume float64      `json:"master_volume"`
	Synths       []SynthState `json:"synths"`
	Patches      []PatchState `json:"patches"`
	Timestamp    int64        `json:"timestamp"`
}

// SynthState is one synth in an EngineState. Shape is empty when the wave
// shape is not known, which restores as a sine.
type SynthState struct {
	Name      string             `json:"name"`
	Frequency float64            `json:"frequency"`
	Amplitude float64            `json:"amplitude"`
	Phase     float64            `json:"phase"`
	Playing   bool               `json:"playing"`
	Shape     string             `json:"shape,omitempty"`
	Args      map[string]float64 `json:"args,omitempty"`
}

// PatchState is one patch in an EngineState.
type PatchState struct {
	Name     string `json:"name"`
	Synth    string `json:"synth"`
	Channels []int  `json:"channels"`
}

// ShapeLookup reports the wave shape of a synth, if the caller tracks it.
type ShapeLookup func(synth string) (shape string, args map[string]float64, ok bool)

// Serializer captures and restores engine state through a Binding.
type Serializer struct {
	binding *Binding
	shapes  ShapeLookup
	mu      sync.Mutex
	version string
}

// NewSerializer creates a serializer. shapes may be nil.
func NewSerializer(b *Binding, shapes ShapeLookup) *Serializer {
	return &Serializer{binding: b, shapes: shapes, version: StateVersion}
}

// GetState captures the complete engine state
func (s *Serializer) GetState() (EngineState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eng, err := s.binding.Resolve(KindMaster)
	if err != nil {
		return EngineState{}, err
	}

	vol, err := eng.MasterVolume()
	if err != nil {
		return EngineState{}, err
	}
	state := EngineState{
		Version:      s.version,
		MasterVolume: vol,
		Synths:       []SynthState{},
		Patches:      []PatchState{},
		Timestamp:    time.Now().Unix(),
	}

	synths, err := eng.Synths()
	if err != nil {
		return EngineState{}, err
	}
	sort.Strings(synths)
	for _, name := range synths {
		st, err := captureSynth(eng, name)
		if err != nil {
			return EngineState{}, fmt.Errorf("capture synth %q: %w", name, err)
		}
		if s.shapes != nil {
			if shape, args, ok := s.shapes(name); ok {
				st.Shape, st.Args = shape, args
			}
		}
		state.Synths = append(state.Synths, st)
	}

	patches, err := eng.Patches()
	if err != nil {
		return EngineState{}, err
	}
	sort.Strings(patches)
	for _, name := range patches {
		synth, err := eng.PatchSynth(name)
		if err != nil {
			return EngineState{}, fmt.Errorf("capture patch %q: %w", name, err)
		}
		chans, err := eng.PatchChannels(name)
		if err != nil {
			return EngineState{}, fmt.Errorf("capture patch %q: %w", name, err)
		}
		state.Patches = append(state.Patches, PatchState{Name: name, Synth: synth, Channels: chans})
	}
	return state, nil
}

func captureSynth(eng Engine, name string) (SynthState, error) {
	st := SynthState{Name: name}
	var err error
	if st.Frequency, err = eng.Frequency(name); err != nil {
		return st, err
	}
	if st.Amplitude, err = eng.Amplitude(name); err != nil {
		return st, err
	}
	if st.Phase, err = eng.PhaseOffset(name); err != nil {
		return st, err
	}
	if st.Playing, err = eng.IsPlaying(name); err != nil {
		return st, err
	}
	return st, nil
}

// ValidateState checks version compatibility and that every patch refers
// to a synth present in the state.
func (s *Serializer) ValidateState(state EngineState) error {
	if state.Version != s.version {
		return fmt.Errorf("%w: got %s, expected %s", ErrIncompatibleSave, state.Version, s.version)
	}
	names := make(map[string]bool, len(state.Synths))
	for _, st := range state.Synths {
		if st.Name == "" {
			return fmt.Errorf("synth state: %w", ErrEmptyName)
		}
		names[st.Name] = true
	}
	for _, p := range state.Patches {
		if !names[p.Synth] {
			return fmt.Errorf("patch %q: %w: %s", p.Name, ErrUnknownSynth, p.Synth)
		}
	}
	return nil
}

// SetState restores state on top of whatever the engine currently holds.
// Existing synths and patches with the same names are updated in place.
func (s *Serializer) SetState(state EngineState) error {
	if err := s.ValidateState(state); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range state.Synths {
		shapeName := st.Shape
		if shapeName == "" {
			shapeName = "sine"
		}
		shape, ok := Shapes[shapeName]
		if !ok {
			return fmt.Errorf("synth %q: unknown shape %q", st.Name, shapeName)
		}
		synth, err := NewSynth(s.binding, st.Name,
			WithFrequency(st.Frequency),
			WithAmplitude(st.Amplitude),
			WithPhase(st.Phase),
			WithWave(shapeName, shape, st.Args),
		)
		if err != nil {
			return fmt.Errorf("failed to restore synth %s: %w", st.Name, err)
		}
		// GetOrCreate keeps an existing table, so push the saved one.
		if err := synth.Wave(shapeName, shape, st.Args); err != nil {
			return fmt.Errorf("failed to restore synth %s: %w", st.Name, err)
		}
		if !st.Playing {
			if err := synth.Stop(); err != nil {
				return fmt.Errorf("failed to restore synth %s: %w", st.Name, err)
			}
		}
	}

	for _, ps := range state.Patches {
		patch, err := NewPatch(s.binding, ps.Name, SynthName(ps.Synth), ps.Channels)
		if err != nil {
			return fmt.Errorf("failed to restore patch %s: %w", ps.Name, err)
		}
		if err := patch.SetSynth(SynthName(ps.Synth)); err != nil {
			return fmt.Errorf("failed to restore patch %s: %w", ps.Name, err)
		}
		if err := patch.SetChannels(ps.Channels); err != nil {
			return fmt.Errorf("failed to restore patch %s: %w", ps.Name, err)
		}
	}

	master, err := NewMaster(s.binding)
	if err != nil {
		return err
	}
	return master.SetVol(state.MasterVolume)
}

// SaveToWriter writes the engine state as indented JSON.
func (s *Serializer) SaveToWriter(w io.Writer) error {
	state, err := s.GetState()
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	return nil
}

// ReadState decodes a JSON state document without applying it.
func ReadState(r io.Reader) (EngineState, error) {
	var state EngineState
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return EngineState{}, fmt.Errorf("failed to decode engine state: %w", err)
	}
	return state, nil
}

// LoadFromReader reads a JSON state document and restores it.
func (s *Serializer) LoadFromReader(r io.Reader) error {
	state, err := ReadState(r)
	if err != nil {
		return err
	}
	return s.SetState(state)
}
