package frame

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/hw"
)

type fakeSwapper struct {
	uninit     bool
	swapOutOK  bool
	swappedOut bool
	cleared    bool
}

func (f *fakeSwapper) SwapOut() bool {
	f.swappedOut = true
	return f.swapOutOK
}
func (f *fakeSwapper) IsUninit() bool { return f.uninit }
func (f *fakeSwapper) ClearFrame()    { f.cleared = true }

func TestGetFrameExhaustsThenEvicts(t *testing.T) {
	alloc := hw.NewMemfdAllocator(1)
	tbl := New(alloc)

	f1 := tbl.GetFrame()
	require.NotNil(t, f1)

	pt := hw.NewPageTable()
	pt.Install(hw.VA(0x1000), f1.HW(), true)
	sw := &fakeSwapper{swapOutOK: true}
	tbl.Bind(f1, Referrer{PT: pt, VA: hw.VA(0x1000), Page: sw})

	// Pool is exhausted (capacity 1, one frame outstanding): GetFrame must
	// evict the only existing frame and hand it straight back.
	f2 := tbl.GetFrame()
	require.NotNil(t, f2)
	require.True(t, sw.swappedOut)
	require.True(t, sw.cleared)
	_, _, present := pt.Query(hw.VA(0x1000))
	require.False(t, present, "eviction must clear the hardware mapping")
}

func TestUnbindFreesWhenUnreferenced(t *testing.T) {
	alloc := hw.NewMemfdAllocator(2)
	tbl := New(alloc)
	f := tbl.GetFrame()

	pt := hw.NewPageTable()
	sw := &fakeSwapper{}
	tbl.Bind(f, Referrer{PT: pt, VA: hw.VA(0x3000), Page: sw})
	require.Equal(t, 1, f.RefCount())

	freed := tbl.Unbind(f, pt, hw.VA(0x3000))
	require.True(t, freed)
	require.Equal(t, 0, alloc.Live(), "unbinding the last sharer must return the frame to the allocator")
}

func TestBindMultipleSharers(t *testing.T) {
	alloc := hw.NewMemfdAllocator(1)
	tbl := New(alloc)
	f := tbl.GetFrame()

	pt1 := hw.NewPageTable()
	pt2 := hw.NewPageTable()
	tbl.Bind(f, Referrer{PT: pt1, VA: hw.VA(0x1000), Page: &fakeSwapper{}})
	tbl.Bind(f, Referrer{PT: pt2, VA: hw.VA(0x1000), Page: &fakeSwapper{}})
	require.Equal(t, 2, f.RefCount())

	freed := tbl.Unbind(f, pt1, hw.VA(0x1000))
	require.False(t, freed, "frame still has one sharer left")
	require.Equal(t, 1, f.RefCount())
}

func TestEvictionSkipsUninitSharers(t *testing.T) {
	alloc := hw.NewMemfdAllocator(1)
	tbl := New(alloc)
	f1 := tbl.GetFrame()

	pt := hw.NewPageTable()
	pt.Install(hw.VA(0x4000), f1.HW(), true)
	sw := &fakeSwapper{uninit: true}
	tbl.Bind(f1, Referrer{PT: pt, VA: hw.VA(0x4000), Page: sw})

	tbl.GetFrame()
	require.False(t, sw.swappedOut, "an UNINIT sharer can never be resident and must not be asked to swap out")
	require.True(t, sw.cleared)
}
