// Package page implements the polymorphic page-provider abstraction spec.md
// §4.1 describes: a page descriptor that starts UNINIT and transforms in
// place into ANON or FILE on first use, dispatching swap_in/swap_out/
// destroy through a per-variant operations table. Grounded on the teacher
// kernel's tagged-mtype_t + Vminfo_t design in vm/as.go (VANON/VFILE/
// VSANON tags, a single struct with a type-specific payload) but split
// into the tagged-variant-with-one-interface shape spec.md §9 calls for
// instead of the teacher's inline switch-on-mtype.
package page

import (
	"io"
	"sync"

	"vmcore/frame"
	"vmcore/hw"
	"vmcore/swap"
)

// Type identifies a page descriptor's current provider.
type Type int

const (
	UNINIT Type = iota
	ANON
	FILE
)

func (t Type) String() string {
	switch t {
	case UNINIT:
		return "UNINIT"
	case ANON:
		return "ANON"
	case FILE:
		return "FILE"
	default:
		return "UNKNOWN"
	}
}

// Owner identifies the address space that owns a descriptor: the thread
// identity (for logging/diagnostics) plus the hardware page table into
// which mappings for this descriptor must be installed or cleared.
type Owner struct {
	ThreadID any // typically uuid.UUID; kept as any to avoid this low-level
	// package depending on a specific identity scheme.
	PT *hw.PageTable
}

// Runtime is the shared, process-wide context every descriptor needs to
// service a fault: the frame table and the swap device. spec.md §9 calls
// for "a context struct... rather than true globals, reserving a single
// top-level instance" — Runtime is that instance, constructed once by
// vm.Init and handed to every Page.
type Runtime struct {
	Frames *frame.Table
	Swap   *swap.Device
}

// FileAux is the initializer payload for a FILE-typed descriptor: which
// file, at what offset, and how many bytes of the final page are backed by
// the file (the remainder is zero-filled).
type FileAux struct {
	File      hw.File
	Offset    int64
	ReadBytes int
}

type provider interface {
	declaredType() Type
	swapIn(p *Page) bool
	swapOut(p *Page) bool
	destroy(p *Page)
}

type uninitData struct {
	futureType   Type
	initCallback func(*Page) bool
	aux          any
}

type anonData struct {
	slot int
}

type fileData struct {
	file      hw.File
	offset    int64
	readBytes int
}

// Page is one page descriptor: spec.md §3's unit of address-space
// bookkeeping. Exactly one provider owns its lifetime; Destroy runs once.
type Page struct {
	mu sync.Mutex

	VA      hw.VA
	typeTag Type
	ops     provider

	Writable         bool
	OriginalWritable bool
	IsCow            bool
	Owner            Owner
	Frame            *frame.Frame

	rt *Runtime

	uninit *uninitData
	anon   *anonData
	file   *fileData
}

// NewUninit creates a descriptor in the transient UNINIT state, carrying
// everything its first swap_in needs to transform it into futureType. This
// is the descriptor-construction half of alloc_page_with_initializer
// (spec.md §4.2); SPT insertion is the caller's responsibility.
func NewUninit(rt *Runtime, va hw.VA, futureType Type, writable bool, owner Owner, initCallback func(*Page) bool, aux any) *Page {
	if futureType == UNINIT {
		panic("page: futureType must not be UNINIT")
	}
	return &Page{
		VA:               va,
		typeTag:          UNINIT,
		ops:              uninitOps{},
		Writable:         writable,
		OriginalWritable: writable,
		Owner:            owner,
		rt:               rt,
		uninit: &uninitData{
			futureType:   futureType,
			initCallback: initCallback,
			aux:          aux,
		},
	}
}

// newTyped constructs an already-transformed descriptor (ANON or FILE)
// directly, bypassing the UNINIT trampoline. Used by fork's CoW path
// (§4.6), which never wants a lazily-initialized child.
func newTyped(rt *Runtime, va hw.VA, t Type, writable, originalWritable bool, owner Owner) *Page {
	p := &Page{
		VA:               va,
		Writable:         writable,
		OriginalWritable: originalWritable,
		Owner:            owner,
		rt:               rt,
	}
	switch t {
	case ANON:
		p.typeTag = ANON
		p.ops = anonOps{}
		p.anon = &anonData{slot: swap.NoSlot}
	case FILE:
		p.typeTag = FILE
		p.ops = fileOps{}
		p.file = &fileData{}
	default:
		panic("page: newTyped requires ANON or FILE")
	}
	return p
}

// NewAnon constructs an already-ANON descriptor with no resident frame and
// no swap slot (implicitly zero content), for the fork path and for direct
// anonymous allocation (stack growth) that needs no lazy first-touch hook.
func NewAnon(rt *Runtime, va hw.VA, writable bool, owner Owner) *Page {
	return newTyped(rt, va, ANON, writable, writable, owner)
}

// NewFileShared constructs an already-FILE descriptor referencing the same
// backing file/offset/read-length as an existing one, for fork's FILE copy
// (§4.6: "create a FILE descriptor in the child referencing the same
// {file, offset, page_read_bytes}").
func NewFileShared(rt *Runtime, va hw.VA, writable bool, owner Owner, f hw.File, offset int64, readBytes int) *Page {
	p := newTyped(rt, va, FILE, writable, writable, owner)
	p.file.file = f
	p.file.offset = offset
	p.file.readBytes = readBytes
	return p
}

// Type reports the descriptor's current provider tag.
func (p *Page) Type() Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typeTag
}

// FileInfo returns the FILE provider's backing parameters. ok is false for
// any other type.
func (p *Page) FileInfo() (file hw.File, offset int64, readBytes int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typeTag != FILE || p.file == nil {
		return nil, 0, 0, false
	}
	return p.file.file, p.file.offset, p.file.readBytes, true
}

// PendingFileAux returns the FILE aux payload a still-UNINIT descriptor will
// transform with, for fork's SPT copy (spec.md §4.6: an UNINIT descriptor is
// deep-copied, not shared). ok is false for any descriptor that is not
// UNINIT with a FILE future.
func (p *Page) PendingFileAux() (FileAux, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typeTag != UNINIT || p.uninit == nil || p.uninit.futureType != FILE {
		return FileAux{}, false
	}
	fa, ok := p.uninit.aux.(FileAux)
	return fa, ok
}

// PendingFuture returns the future type and initCallback a still-UNINIT
// descriptor will transform with, for fork's SPT copy of a FILE-future *and*
// non-FILE-future (e.g. ANON, via alloc_page_with_initializer) descriptor
// alike. ok is false for any descriptor that is not UNINIT.
func (p *Page) PendingFuture() (futureType Type, initCallback func(*Page) bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typeTag != UNINIT || p.uninit == nil {
		return UNINIT, nil, false
	}
	return p.uninit.futureType, p.uninit.initCallback, true
}

// SwapSlot returns the ANON provider's current swap slot, or swap.NoSlot.
// ok is false for any other type.
func (p *Page) SwapSlot() (slot int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typeTag != ANON || p.anon == nil {
		return swap.NoSlot, false
	}
	return p.anon.slot, true
}

// SwapIn populates the frame currently bound to this descriptor with its
// content, per the provider dispatched by the current type_tag. For an
// UNINIT descriptor this performs the first-use transformation.
func (p *Page) SwapIn() bool {
	return p.ops.swapIn(p)
}

// SwapOut implements frame.Swapper: it writes the descriptor's content to
// durable storage and records whatever bookkeeping a later SwapIn needs. It
// does NOT clear the hardware mapping or the descriptor's Frame reference —
// that is the frame table's responsibility during eviction (spec.md §4.3's
// rationale: centralizing the page_list walk makes CoW-shared frames
// correct by construction).
func (p *Page) SwapOut() bool {
	return p.ops.swapOut(p)
}

// IsUninit implements frame.Swapper.
func (p *Page) IsUninit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typeTag == UNINIT
}

// ClearFrame implements frame.Swapper.
func (p *Page) ClearFrame() {
	p.Frame = nil
}

// Destroy releases provider-specific resources. It does not free the
// descriptor itself; the caller (spt.Table.Remove) does that.
func (p *Page) Destroy() {
	p.ops.destroy(p)
}

// --- uninit provider -------------------------------------------------

type uninitOps struct{}

func (uninitOps) declaredType() Type { return UNINIT }

func (uninitOps) swapIn(p *Page) bool {
	p.mu.Lock()
	u := p.uninit
	if u == nil {
		p.mu.Unlock()
		return false
	}
	switch u.futureType {
	case ANON:
		p.typeTag = ANON
		p.ops = anonOps{}
		p.anon = &anonData{slot: swap.NoSlot}
	case FILE:
		fa := u.aux.(FileAux)
		p.typeTag = FILE
		p.ops = fileOps{}
		p.file = &fileData{file: fa.File, offset: fa.Offset, readBytes: fa.ReadBytes}
	default:
		p.mu.Unlock()
		panic("page: uninit descriptor has unsupported future type")
	}
	p.uninit = nil
	p.mu.Unlock()

	if u.initCallback != nil {
		return u.initCallback(p)
	}
	return p.ops.swapIn(p)
}

func (uninitOps) swapOut(p *Page) bool {
	panic("page: swap_out called on a descriptor that is still UNINIT")
}

func (uninitOps) destroy(p *Page) {}

// --- anon provider -----------------------------------------------------

type anonOps struct{}

func (anonOps) declaredType() Type { return ANON }

func (anonOps) swapIn(p *Page) bool {
	if p.anon.slot == swap.NoSlot {
		// frame.Table.GetFrame always hands out zeroed frames (fresh from
		// the allocator or zeroed after eviction), so a page that was never
		// swapped out already holds correct content.
		return true
	}
	if err := p.rt.Swap.ReadSlot(p.anon.slot, p.Frame.Bytes()); err != nil {
		return false
	}
	p.rt.Swap.Free(p.anon.slot)
	p.anon.slot = swap.NoSlot
	return true
}

func (anonOps) swapOut(p *Page) bool {
	slot, ok := p.rt.Swap.Alloc()
	if !ok {
		return false
	}
	if err := p.rt.Swap.WriteSlot(slot, p.Frame.Bytes()); err != nil {
		p.rt.Swap.Free(slot)
		return false
	}
	p.anon.slot = slot
	return true
}

func (anonOps) destroy(p *Page) {
	if p.anon.slot != swap.NoSlot {
		p.rt.Swap.Free(p.anon.slot)
		p.anon.slot = swap.NoSlot
	}
}

// --- file provider -------------------------------------------------------

type fileOps struct{}

func (fileOps) declaredType() Type { return FILE }

func (fileOps) swapIn(p *Page) bool {
	buf := p.Frame.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	if p.file.readBytes == 0 {
		return true
	}
	_, err := p.file.file.ReadAt(buf[:p.file.readBytes], p.file.offset)
	return err == nil || err == io.EOF
}

func (fileOps) swapOut(p *Page) bool {
	if p.file.readBytes == 0 {
		return true
	}
	buf := p.Frame.Bytes()
	_, err := p.file.file.WriteAt(buf[:p.file.readBytes], p.file.offset)
	return err == nil
}

func (fileOps) destroy(p *Page) {
	if p.file.file != nil {
		_ = p.file.file.Close()
		p.file.file = nil
	}
}
