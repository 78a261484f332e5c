package page

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/frame"
	"vmcore/hw"
	"vmcore/swap"
)

func newRuntime(t *testing.T, poolCap int) *Runtime {
	t.Helper()
	alloc := hw.NewMemfdAllocator(poolCap)
	disk := hw.NewMemDisk(swap.SectorsPerPage * 8)
	return &Runtime{Frames: frame.New(alloc), Swap: swap.New(disk)}
}

func TestUninitTransformsToAnonOnFirstSwapIn(t *testing.T) {
	rt := newRuntime(t, 2)
	p := NewUninit(rt, hw.VA(0x1000), ANON, true, Owner{}, nil, nil)
	require.Equal(t, UNINIT, p.Type())

	p.Frame = rt.Frames.GetFrame()
	require.True(t, p.SwapIn())
	require.Equal(t, ANON, p.Type())
}

func TestUninitFileFutureReadsContent(t *testing.T) {
	rt := newRuntime(t, 2)
	content := make([]byte, hw.PageSize)
	content[3] = 0x55
	f := hw.NewMemFile(content)

	aux := FileAux{File: f, Offset: 0, ReadBytes: hw.PageSize}
	p := NewUninit(rt, hw.VA(0x2000), FILE, true, Owner{}, nil, aux)
	p.Frame = rt.Frames.GetFrame()

	require.True(t, p.SwapIn())
	require.Equal(t, FILE, p.Type())
	require.Equal(t, byte(0x55), p.Frame.Bytes()[3])
}

func TestUninitInitCallbackOverridesDefault(t *testing.T) {
	rt := newRuntime(t, 2)
	called := false
	cb := func(p *Page) bool {
		called = true
		p.Frame.Bytes()[0] = 0x99
		return true
	}
	p := NewUninit(rt, hw.VA(0x3000), ANON, true, Owner{}, cb, nil)
	p.Frame = rt.Frames.GetFrame()

	require.True(t, p.SwapIn())
	require.True(t, called)
	require.Equal(t, byte(0x99), p.Frame.Bytes()[0])
}

func TestAnonSwapOutThenSwapIn(t *testing.T) {
	rt := newRuntime(t, 2)
	p := NewAnon(rt, hw.VA(0x4000), true, Owner{})
	p.Frame = rt.Frames.GetFrame()
	p.Frame.Bytes()[0] = 0x77

	require.True(t, p.SwapOut())
	slot, ok := p.SwapSlot()
	require.True(t, ok)
	require.NotEqual(t, swap.NoSlot, slot)

	newFrame := rt.Frames.GetFrame()
	p.Frame = newFrame
	require.True(t, p.SwapIn())
	require.Equal(t, byte(0x77), p.Frame.Bytes()[0])

	slot, _ = p.SwapSlot()
	require.Equal(t, swap.NoSlot, slot, "slot must be released after a successful swap-in")
}

func TestAnonNeverSwappedOutSwapInIsNoop(t *testing.T) {
	rt := newRuntime(t, 2)
	p := NewAnon(rt, hw.VA(0x5000), true, Owner{})
	p.Frame = rt.Frames.GetFrame()
	p.Frame.Bytes()[0] = 0xFF // simulate stale content from a prior tenant

	require.True(t, p.SwapIn())
	require.Equal(t, byte(0xFF), p.Frame.Bytes()[0], "swap_in with no prior swap_out is a pure no-op")
}

func TestFileSwapOutWritesBackDirtyContent(t *testing.T) {
	rt := newRuntime(t, 2)
	content := make([]byte, hw.PageSize)
	f := hw.NewMemFile(content)
	aux := FileAux{File: f, Offset: 0, ReadBytes: hw.PageSize}

	p := NewUninit(rt, hw.VA(0x6000), FILE, true, Owner{}, nil, aux)
	p.Frame = rt.Frames.GetFrame()
	require.True(t, p.SwapIn())

	p.Frame.Bytes()[0] = 0x64
	require.True(t, p.SwapOut())

	buf := make([]byte, 1)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0x64), buf[0], "a FILE page's dirty content must be written back on swap_out")
}

func TestDestroyReleasesSwapSlot(t *testing.T) {
	rt := newRuntime(t, 2)
	p := NewAnon(rt, hw.VA(0x7000), true, Owner{})
	p.Frame = rt.Frames.GetFrame()
	require.True(t, p.SwapOut())
	slot, _ := p.SwapSlot()
	require.NotEqual(t, swap.NoSlot, slot)

	p.Destroy()

	reused, ok := rt.Swap.Alloc()
	require.True(t, ok)
	require.Equal(t, slot, reused, "destroying a descriptor must free its swap slot back to the pool")
}

func TestNewFileSharedReferencesSameParameters(t *testing.T) {
	rt := newRuntime(t, 2)
	f := hw.NewMemFile(make([]byte, hw.PageSize))
	p := NewFileShared(rt, hw.VA(0x8000), true, Owner{}, f, 512, 100)
	file, offset, readBytes, ok := p.FileInfo()
	require.True(t, ok)
	require.Equal(t, f, file)
	require.Equal(t, int64(512), offset)
	require.Equal(t, 100, readBytes)
}
