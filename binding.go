package oscar

import (
	"fmt"
	"sync"
)

// Kind identifies a proxy type in a Binding.
type Kind int

const (
	KindSynth Kind = iota
	KindPatch
	KindMaster
)

// Kinds lists every proxy kind.
var Kinds = []Kind{KindSynth, KindPatch, KindMaster}

func (k Kind) String() string {
	switch k {
	case KindSynth:
		return "synth"
	case KindPatch:
		return "patch"
	case KindMaster:
		return "master"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Binding associates each proxy kind with at most one Engine. Bind before
// constructing any proxy of that kind; rebinding is a configuration event
// and is not expected to race with proxies already in use.
//
// The zero value is ready to use.
type Binding struct {
	mu      sync.RWMutex
	engines map[Kind]Engine
}

// Default is the process-wide binding used by the host binary.
var Default = NewBinding()

// NewBinding returns an empty binding.
func NewBinding() *Binding {
	return &Binding{engines: make(map[Kind]Engine)}
}

// Bind makes eng the sole engine for kind, replacing any previous binding.
func (b *Binding) Bind(kind Kind, eng Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.engines == nil {
		b.engines = make(map[Kind]Engine)
	}
	if eng == nil {
		delete(b.engines, kind)
		return
	}
	b.engines[kind] = eng
}

// BindAll binds eng to every kind.
func (b *Binding) BindAll(eng Engine) {
	for _, k := range Kinds {
		b.Bind(k, eng)
	}
}

// Resolve returns the engine bound to kind or a *NotBoundError.
func (b *Binding) Resolve(kind Kind) (Engine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	eng, ok := b.engines[kind]
	if !ok {
		return nil, &NotBoundError{Kind: kind}
	}
	return eng, nil
}

// Bound reports whether kind has an engine.
func (b *Binding) Bound(kind Kind) bool {
	_, err := b.Resolve(kind)
	return err == nil
}

// Unbind clears kind. It is a no-op when kind is not bound.
func (b *Binding) Unbind(kind Kind) {
	b.Bind(kind, nil)
}

// Release clears every kind currently bound to eng.
func (b *Binding) Release(eng Engine) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, bound := range b.engines {
		if bound == eng {
			delete(b.engines, k)
		}
	}
}

// Reset clears all bindings.
func (b *Binding) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.engines = make(map[Kind]Engine)
}
