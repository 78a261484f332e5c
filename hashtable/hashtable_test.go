package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetDel(t *testing.T) {
	tbl := New[uintptr, string](4, HashUintptr)

	require.True(t, tbl.Set(1, "one"))
	require.True(t, tbl.Set(2, "two"))
	require.False(t, tbl.Set(1, "uno"), "duplicate key insert must fail")

	v, ok := tbl.Get(1)
	require.True(t, ok)
	require.Equal(t, "one", v)

	tbl.Del(1)
	_, ok = tbl.Get(1)
	require.False(t, ok)

	v, ok = tbl.Get(2)
	require.True(t, ok)
	require.Equal(t, "two", v)
}

func TestLenAndKeys(t *testing.T) {
	tbl := New[uintptr, int](2, HashUintptr)
	for i := uintptr(0); i < 20; i++ {
		tbl.Set(i, int(i))
	}
	require.Equal(t, 20, tbl.Len())
	require.Len(t, tbl.Keys(), 20)
}

func TestIterStopsEarly(t *testing.T) {
	tbl := New[uintptr, int](4, HashUintptr)
	for i := uintptr(0); i < 10; i++ {
		tbl.Set(i, int(i))
	}
	seen := 0
	tbl.Iter(func(k uintptr, v int) bool {
		seen++
		return seen < 3
	})
	require.Equal(t, 3, seen)
}

func TestDelMissingIsNoop(t *testing.T) {
	tbl := New[uintptr, int](1, HashUintptr)
	require.NotPanics(t, func() { tbl.Del(42) })
}
