package oscar

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine satisfies Engine for binding tests; none of its methods run.
type stubEngine struct {
	Engine
	id int
}

func TestBinding_ResolveUnbound(t *testing.T) {
	b := NewBinding()
	for _, k := range Kinds {
		_, err := b.Resolve(k)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotBound)

		var nb *NotBoundError
		require.True(t, errors.As(err, &nb))
		assert.Equal(t, k, nb.Kind)
		assert.False(t, b.Bound(k))
	}
}

func TestBinding_BindPerKind(t *testing.T) {
	b := NewBinding()
	e1, e2 := &stubEngine{id: 1}, &stubEngine{id: 2}

	b.Bind(KindSynth, e1)
	b.Bind(KindPatch, e2)

	got, err := b.Resolve(KindSynth)
	require.NoError(t, err)
	assert.Same(t, e1, got)

	got, err = b.Resolve(KindPatch)
	require.NoError(t, err)
	assert.Same(t, e2, got)

	assert.False(t, b.Bound(KindMaster))

	// rebinding replaces
	b.Bind(KindSynth, e2)
	got, _ = b.Resolve(KindSynth)
	assert.Same(t, e2, got)
}

func TestBinding_ReleaseAndReset(t *testing.T) {
	b := NewBinding()
	e1, e2 := &stubEngine{id: 1}, &stubEngine{id: 2}
	b.BindAll(e1)
	b.Bind(KindMaster, e2)

	b.Release(e1)
	assert.False(t, b.Bound(KindSynth))
	assert.False(t, b.Bound(KindPatch))
	assert.True(t, b.Bound(KindMaster))

	b.Unbind(KindMaster)
	assert.False(t, b.Bound(KindMaster))
	b.Unbind(KindMaster)

	b.BindAll(e1)
	b.Reset()
	for _, k := range Kinds {
		assert.False(t, b.Bound(k))
	}
}

func TestBinding_ZeroValue(t *testing.T) {
	var b Binding
	_, err := b.Resolve(KindSynth)
	assert.ErrorIs(t, err, ErrNotBound)

	b.Bind(KindSynth, &stubEngine{})
	assert.True(t, b.Bound(KindSynth))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "synth", KindSynth.String())
	assert.Equal(t, "patch", KindPatch.String())
	assert.Equal(t, "master", KindMaster.String())
	assert.Equal(t, "kind(7)", Kind(7).String())
	assert.Equal(t, "patch: no engine bound", (&NotBoundError{Kind: KindPatch}).Error())
}

func TestDeviceInitError(t *testing.T) {
	cause := errors.New("stream refused")
	err := &DeviceInitError{Device: 3, Msg: "invalid device index"}
	assert.Equal(t, "device 3: invalid device index", err.Error())

	err = &DeviceInitError{Device: 3, Msg: "open failed", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "stream refused")
}

func TestErrorHandlerFunc(t *testing.T) {
	var got error
	var h ErrorHandler = ErrorHandlerFunc(func(err error) { got = err })
	h.HandleError(ErrEmptyName)
	assert.Equal(t, ErrEmptyName, got)

	assert.Panics(t, func() { (&PanicErrorHandler{}).HandleError(ErrEmptyName) })
}

func TestLoggingErrorHandler(t *testing.T) {
	var seen, passed []error
	h := NewLoggingErrorHandler(
		ErrorHandlerFunc(func(err error) { passed = append(passed, err) }),
		func(err error) { seen = append(seen, err) },
	)
	h.HandleError(ErrEmptyName)
	h.HandleError(ErrUnknownSynth)

	assert.Equal(t, int64(2), h.Count())
	assert.Equal(t, []error{ErrEmptyName, ErrUnknownSynth}, seen)
	assert.Equal(t, seen, passed)

	bare := NewLoggingErrorHandler(nil, nil)
	assert.NotPanics(t, func() { bare.HandleError(ErrEmptyName) })
	assert.Equal(t, int64(1), bare.Count())
}
