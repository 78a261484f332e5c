package swap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/hw"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	disk := hw.NewMemDisk(SectorsPerPage * 4)
	dev := New(disk)
	require.Equal(t, 4, dev.Slots())

	s0, ok := dev.Alloc()
	require.True(t, ok)
	require.Equal(t, 0, s0)

	s1, ok := dev.Alloc()
	require.True(t, ok)
	require.Equal(t, 1, s1)

	dev.Free(s0)
	s2, ok := dev.Alloc()
	require.True(t, ok)
	require.Equal(t, 0, s2, "freed slot 0 must be reused before a higher slot")
}

func TestSwapExhaustion(t *testing.T) {
	disk := hw.NewMemDisk(SectorsPerPage * 2)
	dev := New(disk)
	_, ok := dev.Alloc()
	require.True(t, ok)
	_, ok = dev.Alloc()
	require.True(t, ok)
	_, ok = dev.Alloc()
	require.False(t, ok, "a 2-slot device must refuse a third allocation")
}

func TestReadWriteSlotRoundTrip(t *testing.T) {
	disk := hw.NewMemDisk(SectorsPerPage * 2)
	dev := New(disk)
	slot, ok := dev.Alloc()
	require.True(t, ok)

	out := make([]byte, hw.PageSize)
	out[0] = 0xDE
	out[hw.PageSize-1] = 0xAD
	require.NoError(t, dev.WriteSlot(slot, out))

	in := make([]byte, hw.PageSize)
	require.NoError(t, dev.ReadSlot(slot, in))
	require.Equal(t, out, in)
}

func TestWriteSlotRejectsWrongSize(t *testing.T) {
	disk := hw.NewMemDisk(SectorsPerPage)
	dev := New(disk)
	require.Error(t, dev.WriteSlot(0, make([]byte, 10)))
}

func TestFreeNoSlotIsNoop(t *testing.T) {
	disk := hw.NewMemDisk(SectorsPerPage)
	dev := New(disk)
	require.NotPanics(t, func() { dev.Free(NoSlot) })
}
