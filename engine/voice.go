package engine

import (
	"math"
	"sync/atomic"
)

type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }
func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }

// voice is a wavetable oscillator. Parameters are atomics so control
// goroutines never contend with the render path; phase is owned by the
// render path alone.
type voice struct {
	table       atomic.Pointer[[]float32]
	frequency   atomicFloat
	amplitude   atomicFloat
	phaseOffset atomicFloat
	playing     atomic.Bool

	phase float64
}

func newVoice(table []float32) *voice {
	v := &voice{}
	v.setTable(table)
	v.frequency.Store(440)
	v.amplitude.Store(0.5)
	return v
}

func (v *voice) setTable(table []float32) {
	cp := make([]float32, len(table))
	copy(cp, table)
	v.table.Store(&cp)
}

// render writes frames of mono output into out and advances the phase.
func (v *voice) render(out []float32, sampleRate float64) {
	tp := v.table.Load()
	if tp == nil || len(*tp) == 0 {
		for i := range out {
			out[i] = 0
		}
		return
	}
	table := *tp
	n := float64(len(table))
	inc := v.frequency.Load() / sampleRate
	amp := float32(v.amplitude.Load())
	offset := v.phaseOffset.Load()

	for i := range out {
		pos := v.phase + offset
		pos -= math.Floor(pos)
		x := pos * n
		i0 := int(x)
		if i0 >= len(table) {
			i0 = 0
		}
		i1 := i0 + 1
		if i1 == len(table) {
			i1 = 0
		}
		frac := float32(x - float64(i0))
		out[i] = amp * (table[i0] + frac*(table[i1]-table[i0]))

		v.phase += inc
		v.phase -= math.Floor(v.phase)
	}
}
