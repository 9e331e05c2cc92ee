package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/azzeloof/oscar-language/internal/testutil"
)

func TestControlMap_UpdatesScaledValue(t *testing.T) {
	m := NewControlMap()
	var got float64
	m.Control(CC{Channel: 2, Controller: 74}).Register("test", func(v float64) { got = v })

	require.NoError(t, m.Handle(midi.ControlChange(2, 74, 127)))
	assert.Equal(t, 1.0, got)

	require.NoError(t, m.Handle(midi.ControlChange(2, 74, 0)))
	assert.Equal(t, 0.0, got)

	// other channel, other controller
	require.NoError(t, m.Handle(midi.ControlChange(3, 74, 127)))
	require.NoError(t, m.Handle(midi.ControlChange(2, 75, 127)))
	assert.Equal(t, 0.0, got)
}

func TestControlMap_Omni(t *testing.T) {
	m := NewControlMap()
	var hits int
	m.Control(CC{Channel: Omni, Controller: 1}).Register("omni", func(float64) { hits++ })

	require.NoError(t, m.Handle(midi.ControlChange(0, 1, 10)))
	require.NoError(t, m.Handle(midi.ControlChange(15, 1, 10)))
	assert.Equal(t, 2, hits)
}

func TestControlMap_IgnoresOtherMessages(t *testing.T) {
	m := NewControlMap()
	var hits int
	m.Control(CC{Channel: Omni, Controller: 60}).Register("x", func(float64) { hits++ })
	require.NoError(t, m.Handle(midi.NoteOn(0, 60, 100)))
	assert.Zero(t, hits)
}

func TestControlMap_Remove(t *testing.T) {
	m := NewControlMap()
	cc := CC{Channel: Omni, Controller: 1}
	m.Control(cc)
	_, ok := m.Lookup(cc)
	require.True(t, ok)
	assert.Len(t, m.Mapped(), 1)

	m.Remove(cc)
	_, ok = m.Lookup(cc)
	assert.False(t, ok)
}

func TestControlMap_HandlerReportsErrors(t *testing.T) {
	m := NewControlMap()
	m.Control(CC{Channel: Omni, Controller: 1}).Register("bad", func(float64) { panic("boom") })

	rec := &testutil.ErrorRecorder{}
	m.Handler(rec)(midi.ControlChange(0, 1, 64))
	assert.Equal(t, 1, rec.Len())
}
