package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindFirstClearAndSet(t *testing.T) {
	b := New(10)
	for i := 0; i < 10; i++ {
		idx, ok := b.FindFirstClearAndSet()
		require.True(t, ok)
		require.Equal(t, i, idx)
	}
	_, ok := b.FindFirstClearAndSet()
	require.False(t, ok, "expected exhaustion once every bit is set")
}

func TestSetClearTest(t *testing.T) {
	b := New(64)
	require.False(t, b.Test(5))
	b.Set(5)
	require.True(t, b.Test(5))
	b.Clear(5)
	require.False(t, b.Test(5))
}

func TestSpansMultipleWords(t *testing.T) {
	b := New(130)
	for i := 0; i < 129; i++ {
		b.Set(i)
	}
	idx, ok := b.FindFirstClearAndSet()
	require.True(t, ok)
	require.Equal(t, 129, idx)
}

func TestOutOfRangePanics(t *testing.T) {
	b := New(8)
	require.Panics(t, func() { b.Set(8) })
	require.Panics(t, func() { b.Test(-1) })
}
