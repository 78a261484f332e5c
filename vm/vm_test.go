package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"vmcore/hw"
	"vmcore/page"
)

func TestStackGrowthInstallsOnePageAtAFault(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	th.UserRSP = hw.VA(uintptr(c.cfg.UserStackTop) - 64)

	faultVA := hw.VA(uintptr(th.UserRSP) - 4)
	require.True(t, c.TryHandleFault(th, faultVA, true))

	_, ok := th.Spt.Find(pageFloor(faultVA))
	require.True(t, ok)
	_, _, present := th.Pml4.Query(pageFloor(faultVA))
	require.True(t, present)
}

func TestStackGrowthRejectedBeyondLimit(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	tooFar := hw.VA(uintptr(c.cfg.UserStackTop) - c.cfg.StackGrowthLimit - hw.PageSize)
	require.False(t, c.TryHandleFault(th, tooFar, true))
}

func TestNullDereferenceRejected(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	require.False(t, c.TryHandleFault(th, 0, false))
}

func TestAnonSwapRoundTripPreservesBytePattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PhysicalPoolFrames = 1
	c := New(cfg)
	th := NewThread()

	vaA := hw.VA(0x1000)
	vaB := hw.VA(0x2000)
	require.True(t, c.AllocAnonPage(th, vaA, true))
	require.True(t, c.AllocAnonPage(th, vaB, true))

	require.True(t, c.DoClaimPage(th, vaA))
	pattern := make([]byte, hw.PageSize)
	pattern[7] = 0xAB
	require.True(t, th.Pml4.Write(vaA, pattern))

	// Only one physical frame: claiming vaB forces vaA's frame to evict.
	require.True(t, c.DoClaimPage(th, vaB))
	_, _, present := th.Pml4.Query(vaA)
	require.False(t, present, "vaA's frame must have been reclaimed by eviction")

	require.True(t, c.TryHandleFault(th, vaA, false))
	data, ok := th.Pml4.Read(vaA)
	require.True(t, ok)
	require.Equal(t, byte(0xAB), data[7])
}

func TestFileBackedMmapLazyFault(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	content := make([]byte, hw.PageSize)
	content[0] = 0x42
	f := hw.NewMemFile(content)

	base, ok := c.DoMmap(th, hw.VA(0x8000_0000), hw.PageSize, f, 0)
	require.True(t, ok)

	_, _, present := th.Pml4.Query(base)
	require.False(t, present, "mmap must not populate a mapping eagerly")

	require.True(t, c.TryHandleFault(th, base, false))
	data, _ := th.Pml4.Read(base)
	require.Equal(t, byte(0x42), data[0])
}

func TestMmapPartialPageZeroFilled(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	content := []byte{1, 2, 3, 4}
	f := hw.NewMemFile(content)

	base, ok := c.DoMmap(th, hw.VA(0x9000_0000), hw.PageSize, f, 0)
	require.True(t, ok)
	require.True(t, c.TryHandleFault(th, base, false))
	data, _ := th.Pml4.Read(base)
	require.Equal(t, byte(4), data[3])
	require.Equal(t, byte(0), data[4], "bytes beyond the file's content must be zero-filled")
}

func TestMunmapWritesBackDirtyPages(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	content := make([]byte, hw.PageSize)
	f := hw.NewMemFile(content)

	base, ok := c.DoMmap(th, hw.VA(0xA000_0000), hw.PageSize, f, 0)
	require.True(t, ok)
	require.True(t, c.TryHandleFault(th, base, false))

	dirty := make([]byte, hw.PageSize)
	dirty[0] = 0x64
	require.True(t, th.Pml4.Write(base, dirty))

	c.DoMunmap(th, base)

	buf := make([]byte, 1)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0x64), buf[0])

	_, ok = th.Spt.Find(base)
	require.False(t, ok, "munmap must remove the descriptor")
}

func TestKillThreadWritesBackDirtyFilePages(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	content := make([]byte, hw.PageSize)
	f := hw.NewMemFile(content)

	base, ok := c.DoMmap(th, hw.VA(0xB000_0000), hw.PageSize, f, 0)
	require.True(t, ok)
	require.True(t, c.TryHandleFault(th, base, false))

	dirty := make([]byte, hw.PageSize)
	dirty[0] = 0x77
	require.True(t, th.Pml4.Write(base, dirty))

	c.KillThread(th)

	buf := make([]byte, 1)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte(0x77), buf[0], "process exit must write back dirty mmap'd content")

	require.Equal(t, 0, th.Spt.Len(), "KillThread must empty the SPT")
}

func TestForkCOWSharesUntilWrite(t *testing.T) {
	c := New(DefaultConfig())
	parent := NewThread()
	va := hw.VA(0x4000)
	require.True(t, c.AllocAnonPage(parent, va, true))
	require.True(t, c.DoClaimPage(parent, va))
	parentPattern := make([]byte, hw.PageSize)
	parentPattern[0] = 0x11
	require.True(t, parent.Pml4.Write(va, parentPattern))

	child := c.ForkCopySPT(parent)
	require.NotNil(t, child)

	_, writable, present := child.Pml4.Query(va)
	require.True(t, present)
	require.False(t, writable, "a freshly-forked CoW mapping must start read-only")

	_, parentWritable, _ := parent.Pml4.Query(va)
	require.False(t, parentWritable, "forking must demote the parent's mapping too")

	require.True(t, c.TryHandleFault(child, va, true))
	childPattern := make([]byte, hw.PageSize)
	childPattern[0] = 0x22
	require.True(t, child.Pml4.Write(va, childPattern))

	parentData, _ := parent.Pml4.Read(va)
	childData, _ := child.Pml4.Read(va)
	require.Equal(t, byte(0x11), parentData[0], "the parent's copy must be unaffected by the child's write")
	require.Equal(t, byte(0x22), childData[0])
}

func TestForkCOWPromotesInPlaceWhenSoleSharer(t *testing.T) {
	c := New(DefaultConfig())
	parent := NewThread()
	va := hw.VA(0x4000)
	require.True(t, c.AllocAnonPage(parent, va, true))
	require.True(t, c.DoClaimPage(parent, va))

	child := c.ForkCopySPT(parent)
	require.NotNil(t, child)
	originalFrame, _, _ := child.Pml4.Query(va)

	// The child drops its reference; the parent becomes the sole sharer.
	c.KillThread(child)

	require.True(t, c.TryHandleFault(parent, va, true))
	_, writable, _ := parent.Pml4.Query(va)
	require.True(t, writable, "promoting the sole remaining sharer must not require a copy")
	sameFrame, _, _ := parent.Pml4.Query(va)
	require.Equal(t, originalFrame, sameFrame)
}

func TestForkCopiesUninitDescriptorWithNonFileFuture(t *testing.T) {
	c := New(DefaultConfig())
	parent := NewThread()

	// A still-UNINIT descriptor with an ANON future (as
	// AllocPageWithInitializer installs directly, with no FILE aux)
	// alongside an already-resident ANON page: forking must not abort the
	// whole child address space just because one descriptor has no FILE
	// aux to deep-copy.
	uninitVA := hw.VA(0x6000)
	require.True(t, c.AllocPageWithInitializer(parent, uninitVA, page.ANON, true, nil, nil))

	residentVA := hw.VA(0x7000)
	require.True(t, c.AllocAnonPage(parent, residentVA, true))
	require.True(t, c.DoClaimPage(parent, residentVA))

	child := c.ForkCopySPT(parent)
	require.NotNil(t, child, "an UNINIT descriptor with a non-FILE future must not abort fork")

	cp, ok := child.Spt.Find(uninitVA)
	require.True(t, ok)
	require.Equal(t, page.UNINIT, cp.Type())

	require.True(t, c.TryHandleFault(child, uninitVA, false))
	require.Equal(t, page.ANON, cp.Type())
}

func TestProtectionFaultOnReadOnlyNonCOWPage(t *testing.T) {
	c := New(DefaultConfig())
	th := NewThread()
	va := hw.VA(0x5000)
	require.True(t, c.AllocAnonPage(th, va, false))
	require.True(t, c.DoClaimPage(th, va))
	require.False(t, c.TryHandleFault(th, va, true), "a write to a genuinely read-only page must not be resolved")
}
