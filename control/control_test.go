package control

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControl_UpdateCallsEachOnce(t *testing.T) {
	c := New(0.0)
	var a, b []float64
	c.Register("a", func(v float64) { a = append(a, v) })
	c.Register("b", func(v float64) { b = append(b, v) })

	require.NoError(t, c.Update(0.5))
	assert.Equal(t, []float64{0.5}, a)
	assert.Equal(t, []float64{0.5}, b)
	assert.Equal(t, 0.5, c.Value())
}

func TestControl_ReRegisterReplaces(t *testing.T) {
	c := New(0)
	var first, second int
	c.Register("x", func(int) { first++ })
	c.Register("x", func(int) { second++ })

	require.NoError(t, c.Update(1))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, c.Len())
}

func TestControl_RegistrationOrder(t *testing.T) {
	c := New("")
	var calls []string
	for _, id := range []string{"one", "two", "three"} {
		id := id
		c.Register(id, func(string) { calls = append(calls, id) })
	}
	// replacing keeps the original slot
	c.Register("one", func(string) { calls = append(calls, "one'") })

	require.NoError(t, c.Update("v"))
	assert.Equal(t, []string{"one'", "two", "three"}, calls)
}

func TestControl_Unregister(t *testing.T) {
	c := New(0)
	var n int
	c.Register("x", func(int) { n++ })
	c.Unregister("x")
	c.Unregister("missing")

	require.NoError(t, c.Update(3))
	assert.Zero(t, n)
	assert.False(t, c.Registered("x"))
	assert.Equal(t, 3, c.Value())
}

func TestControl_Subscribe(t *testing.T) {
	c := New(0)
	var got int
	id := c.Subscribe(func(v int) { got = v })
	require.NotEmpty(t, id)
	assert.True(t, c.Registered(id))

	require.NoError(t, c.Update(7))
	assert.Equal(t, 7, got)

	other := c.Subscribe(func(int) {})
	assert.NotEqual(t, id, other)
}

func TestControl_PanicIsolated(t *testing.T) {
	c := New(0)
	var after int
	c.Register("bad", func(int) { panic("boom") })
	c.Register("good", func(v int) { after = v })

	err := c.Update(9)
	require.Error(t, err)
	var cbErr *CallbackError
	require.True(t, errors.As(err, &cbErr))
	assert.Equal(t, "bad", cbErr.ID)
	assert.Equal(t, 9, after)
}

func TestControl_CallbackMayUnregisterItself(t *testing.T) {
	c := New(0)
	var n int
	c.Register("once", func(int) {
		n++
		c.Unregister("once")
	})

	require.NoError(t, c.Update(1))
	require.NoError(t, c.Update(2))
	assert.Equal(t, 1, n)
}

func TestControl_ConcurrentUpdates(t *testing.T) {
	c := New(0)
	var calls atomic.Int64
	c.Register("count", func(int) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = c.Update(v)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(50), calls.Load())
}
