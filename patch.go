package oscar

import (
	"fmt"
	"sync"
)

// SynthRef names a synth either literally (SynthName) or through a *Synth
// handle. It is resolved to a plain name once, at the call boundary.
type SynthRef interface {
	synthName() string
}

// SynthName is a literal synth name.
type SynthName string

func (n SynthName) synthName() string { return string(n) }

// Patch routes one synth into a set of output channels. Only the patch name
// and the last synth name seen are held locally; Synth and Channels re-read
// the engine.
type Patch struct {
	binding *Binding
	name    string

	mu    sync.Mutex
	synth string
}

// NewPatch resolves the engine bound to KindPatch and creates or fetches the
// named patch routing ref into channels. The synth must already exist.
func NewPatch(b *Binding, name string, ref SynthRef, channels []int) (*Patch, error) {
	eng, err := b.Resolve(KindPatch)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	synth, err := resolveRef(ref)
	if err != nil {
		return nil, fmt.Errorf("patch %q: %w", name, err)
	}
	chans, err := NormalizeChannels(channels)
	if err != nil {
		return nil, fmt.Errorf("patch %q: %w", name, err)
	}
	if err := eng.GetOrCreatePatch(name, synth, chans); err != nil {
		return nil, fmt.Errorf("patch %q: %w", name, err)
	}
	return &Patch{binding: b, name: name, synth: synth}, nil
}

// AttachPatch returns a handle to a patch that already exists in the
// engine.
func AttachPatch(b *Binding, name string) (*Patch, error) {
	eng, err := b.Resolve(KindPatch)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, ErrEmptyName
	}
	synth, err := eng.PatchSynth(name)
	if err != nil {
		return nil, err
	}
	return &Patch{binding: b, name: name, synth: synth}, nil
}

func resolveRef(ref SynthRef) (string, error) {
	if ref == nil {
		return "", fmt.Errorf("%w: no synth given", ErrUnknownSynth)
	}
	if s, ok := ref.(*Synth); ok && s == nil {
		return "", fmt.Errorf("%w: nil synth handle", ErrUnknownSynth)
	}
	name := ref.synthName()
	if name == "" {
		return "", ErrEmptyName
	}
	return name, nil
}

// NormalizeChannels validates channel indices and drops duplicates while
// keeping first-seen order.
func NormalizeChannels(channels []int) ([]int, error) {
	seen := make(map[int]struct{}, len(channels))
	out := make([]int, 0, len(channels))
	for _, ch := range channels {
		if ch < 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, ch)
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out, nil
}

// Name returns the engine key of the patch.
func (p *Patch) Name() string { return p.name }

// CachedSynth returns the synth name last read or written by this handle.
func (p *Patch) CachedSynth() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synth
}

func (p *Patch) engine() (Engine, error) {
	return p.binding.Resolve(KindPatch)
}

// Synth re-reads the routed synth name from the engine and refreshes the
// local cache.
func (p *Patch) Synth() (string, error) {
	eng, err := p.engine()
	if err != nil {
		return "", err
	}
	name, err := eng.PatchSynth(p.name)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	p.synth = name
	p.mu.Unlock()
	return name, nil
}

// SetSynth reroutes the patch to ref.
func (p *Patch) SetSynth(ref SynthRef) error {
	eng, err := p.engine()
	if err != nil {
		return err
	}
	name, err := resolveRef(ref)
	if err != nil {
		return fmt.Errorf("patch %q: %w", p.name, err)
	}
	if err := eng.SetPatchSynth(p.name, name); err != nil {
		return err
	}
	p.mu.Lock()
	p.synth = name
	p.mu.Unlock()
	return nil
}

// Channels reads the output channels from the engine.
func (p *Patch) Channels() ([]int, error) {
	eng, err := p.engine()
	if err != nil {
		return nil, err
	}
	return eng.PatchChannels(p.name)
}

// SetChannels replaces the output channels.
func (p *Patch) SetChannels(channels []int) error {
	eng, err := p.engine()
	if err != nil {
		return err
	}
	chans, err := NormalizeChannels(channels)
	if err != nil {
		return fmt.Errorf("patch %q: %w", p.name, err)
	}
	return eng.SetPatchChannels(p.name, chans)
}

// Delete removes the engine-side patch.
func (p *Patch) Delete() error {
	eng, err := p.engine()
	if err != nil {
		return err
	}
	return eng.DeletePatch(p.name)
}
