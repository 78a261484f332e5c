// Package vm is the top-level VM core spec.md's OVERVIEW and COMPONENT
// DESIGN sections describe: address-space allocation, the fault handler,
// mmap/munmap, and fork's SPT copy, all built on package page's descriptors,
// package frame's eviction-aware frame table, and package spt's per-process
// table. Grounded on the teacher kernel's vm/vm.go (the dispatcher that ties
// Vmregion_t, Physmem_t, and the page-fault trap handler together).
package vm

import (
	"sync"

	"github.com/google/uuid"

	"vmcore/frame"
	"vmcore/hw"
	"vmcore/page"
	"vmcore/spt"
	"vmcore/swap"
)

// Config bundles every ambient knob the VM core needs, with the defaults
// spec.md §6 names. Grounded on the teacher's Boot_cpu/cmdline-flag config
// pattern, adapted into a single explicit struct instead of globals.
type Config struct {
	// PhysicalPoolFrames is the user-pool capacity (spec.md §7:
	// "physical-pool empty" must be handled by eviction before failing).
	PhysicalPoolFrames int
	// SwapDiskSectors sizes the swap device; must be a multiple of
	// swap.SectorsPerPage.
	SwapDiskSectors int
	// UserStackTop is the initial top of the user stack, the upper bound of
	// the stack-growth window spec.md §4.4 defines.
	UserStackTop hw.VA
	// StackGrowthLimit is the maximum distance below UserStackTop the stack
	// may grow (spec.md §6 default: 1 MiB).
	StackGrowthLimit uintptr
}

// DefaultConfig returns the literal values spec.md §6 specifies.
func DefaultConfig() Config {
	return Config{
		PhysicalPoolFrames: 256,
		SwapDiskSectors:    8 * 1024,
		UserStackTop:       hw.VA(0x0000_4747_0000_0000),
		StackGrowthLimit:   1 << 20,
	}
}

// Thread is the external "owning thread" collaborator spec.md §6 specifies:
// an identity plus the address space (page table and supplemental page
// table) it is running against. Kept in package vm, not package hw, since it
// depends on spt and page, both of which sit above hw.
type Thread struct {
	ID      uuid.UUID
	Spt     *spt.Table
	Pml4    *hw.PageTable
	UserRSP hw.VA
}

// NewThread constructs a fresh thread with an empty address space.
func NewThread() *Thread {
	return &Thread{
		ID:   uuid.New(),
		Spt:  spt.New(),
		Pml4: hw.NewPageTable(),
	}
}

// Core is the process-wide VM runtime: the frame table, swap device, and
// configuration every Thread's fault handling shares. One Core typically
// backs one simulated machine; spec.md's "global" state (frame table, swap
// table) lives here rather than in package-level variables.
type Core struct {
	mu   sync.Mutex
	cfg  Config
	rt   *page.Runtime
	disk hw.Disk
}

// New constructs a Core over a fresh memfd-backed physical pool and an
// in-memory swap disk sized per cfg.
func New(cfg Config) *Core {
	alloc := hw.NewMemfdAllocator(cfg.PhysicalPoolFrames)
	disk := hw.NewMemDisk(cfg.SwapDiskSectors)
	return &Core{
		cfg:  cfg,
		disk: disk,
		rt: &page.Runtime{
			Frames: frame.New(alloc),
			Swap:   swap.New(disk),
		},
	}
}

// NewWithDisk is like New but lets the caller supply a durable Disk (an
// hw.FileDisk, typically), for scenarios that want swap content to survive
// across Core instances.
func NewWithDisk(cfg Config, disk hw.Disk, alloc hw.PhysicalAllocator) *Core {
	return &Core{
		cfg:  cfg,
		disk: disk,
		rt: &page.Runtime{
			Frames: frame.New(alloc),
			Swap:   swap.New(disk),
		},
	}
}

// AllocPageWithInitializer registers a lazily-initialized descriptor at va
// in th's supplemental page table (spec.md §4.2's alloc_page_with_initializer):
// the descriptor starts UNINIT and transforms into futureType on first
// fault. It reports false if va is already occupied.
//
// Core.mu serializes every operation that touches an address space's SPT
// together with Core-level state, matching spec.md §5's lock-ordering rule
// that SPT access happens before frame_lock is ever taken: frame.Table's own
// mutex (frame_lock) is acquired independently, beneath this one, by the
// frame-table methods this package calls.
func (c *Core) AllocPageWithInitializer(th *Thread, va hw.VA, futureType page.Type, writable bool, initCallback func(*page.Page) bool, aux any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocPageWithInitializerLocked(th, va, futureType, writable, initCallback, aux)
}

func (c *Core) allocPageWithInitializerLocked(th *Thread, va hw.VA, futureType page.Type, writable bool, initCallback func(*page.Page) bool, aux any) bool {
	owner := page.Owner{ThreadID: th.ID, PT: th.Pml4}
	p := page.NewUninit(c.rt, va, futureType, writable, owner, initCallback, aux)
	return th.Spt.Insert(p)
}

// AllocAnonPage registers an already-ANON descriptor at va with no lazy
// initializer, for cases that need a committed anonymous page immediately
// (stack growth: spec.md §4.4's "install a new ANON page... zero-filled").
func (c *Core) AllocAnonPage(th *Thread, va hw.VA, writable bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocAnonPageLocked(th, va, writable)
}

func (c *Core) allocAnonPageLocked(th *Thread, va hw.VA, writable bool) bool {
	owner := page.Owner{ThreadID: th.ID, PT: th.Pml4}
	p := page.NewAnon(c.rt, va, writable, owner)
	return th.Spt.Insert(p)
}

// DoClaimPage binds a physical frame to the descriptor at va and installs
// the hardware mapping, swapping the descriptor's content in first (spec.md
// §4.2's do_claim_page). It returns false if no descriptor exists at va, the
// swap-in fails, or the hardware mapping cannot be installed.
func (c *Core) DoClaimPage(th *Thread, va hw.VA) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := th.Spt.Find(va)
	if !ok {
		return false
	}
	return c.claim(th, va, p)
}

func (c *Core) claim(th *Thread, va hw.VA, p *page.Page) bool {
	f := c.rt.Frames.GetFrame()
	p.Frame = f
	if !p.SwapIn() {
		return false
	}
	if !th.Pml4.Install(va, f.HW(), p.Writable) {
		return false
	}
	c.rt.Frames.Bind(f, frame.Referrer{PT: th.Pml4, VA: va, Page: p})
	return true
}

// Runtime exposes the shared frame table / swap device for callers (fork,
// mmap) that need to construct descriptors directly.
func (c *Core) Runtime() *page.Runtime { return c.rt }

// Config returns the core's configuration.
func (c *Core) Config() Config { return c.cfg }

// Disk returns the swap device's backing disk, so a caller that constructed
// a Core with NewWithDisk over an hw.FileDisk can close it on shutdown.
func (c *Core) Disk() hw.Disk { return c.disk }

// KillThread tears down th's entire address space: every resident page's
// dirty content is written back (spec.md §5's "release all pages in its
// SPT... writing back dirty FILE pages, releasing swap slots"), then its
// hardware mapping is cleared and its frame unbound (dropping this thread's
// share of any CoW frame, promoting the remaining sharer to sole owner the
// next time it takes a write fault), and finally every descriptor's
// provider-owned resources are released. This is process exit's
// address-space teardown, the counterpart to fork's SPT copy that the
// spec's CoW design implies but does not name as its own scenario.
func (c *Core) KillThread(th *Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range th.Spt.Pages() {
		if f := p.Frame; f != nil {
			if p.Type() != page.UNINIT {
				p.SwapOut()
			}
			th.Pml4.Clear(p.VA)
			c.rt.Frames.Unbind(f, th.Pml4, p.VA)
		}
	}
	th.Spt.Kill()
}
