// Package frame owns the physical frame lifecycle: acquisition from the
// physical allocator, the reverse kva -> frame mapping, CoW-aware sharing
// via each frame's page_list, victim selection, and eviction. This is
// spec.md §4.3's "frame allocator and eviction" subsystem, grounded on the
// teacher kernel's mem.Physmem_t (kva-keyed frame records, refcount-style
// page_list, global frame_lock) but reworked around a reverse map of
// sharers instead of a flat refcount, since the VM core (not the allocator)
// needs to walk every sharer at eviction time.
package frame

import (
	"math/rand"
	"sync"

	"vmcore/errs"
	"vmcore/hashtable"
	"vmcore/hw"
	"vmcore/klog"
)

// Swapper is implemented by a page descriptor (package page) so that frame
// eviction can drive its provider's swap_out/destroy-adjacent bookkeeping
// without the frame package importing page (which itself imports frame).
type Swapper interface {
	// SwapOut writes the frame's current content to durable storage
	// (swap slot or backing file) and returns whether it succeeded.
	SwapOut() bool
	// IsUninit reports whether the descriptor's provider is still UNINIT;
	// spec.md §4.3 excludes UNINIT descriptors from swap_out on eviction
	// (they cannot be resident, so finding one in a page_list would be a
	// bug, but the check is cheap insurance during the eviction walk).
	IsUninit() bool
	// ClearFrame resets the descriptor's own frame reference to "none"
	// after the hardware mapping has been cleared.
	ClearFrame()
}

// Referrer is one entry in a Frame's page_list: a single (page table,
// virtual address, descriptor) triple currently mapped to the frame.
type Referrer struct {
	PT   *hw.PageTable
	VA   hw.VA
	Page Swapper
}

// Frame is one physical frame plus its reverse mapping of sharers.
type Frame struct {
	raw      *hw.Frame
	pageList []Referrer
}

// KVA returns the frame's kernel-visible address, the frame table's key.
func (f *Frame) KVA() hw.KVA { return f.raw.KVA() }

// Bytes returns the frame's content for direct read/write.
func (f *Frame) Bytes() []byte { return f.raw.Bytes() }

// HW exposes the underlying hardware frame, for installing a page-table
// mapping (package hw.PageTable.Install takes an *hw.Frame, not this
// package's wrapper).
func (f *Frame) HW() *hw.Frame { return f.raw }

// RefCount reports the number of descriptors currently sharing the frame.
// spec.md §8 requires |page_list| > 1 implies every sharer is_cow and !writable.
func (f *Frame) RefCount() int { return len(f.pageList) }

// Table is the process-global frame table. Its mutex is spec.md's single
// frame_lock: it protects frame-table membership, every frame's page_list,
// victim selection, and the descriptor<->frame binding. Eviction holds it
// across every sharer's SwapOut, so a provider's swap-disk or file I/O runs
// with this lock held; SwapOut takes only its own swap-bitmap/file locks and
// must never acquire this one.
type Table struct {
	mu    sync.Mutex
	alloc hw.PhysicalAllocator
	byKVA *hashtable.Table[hw.KVA, *Frame]
}

// New constructs a frame table over the given physical allocator.
func New(alloc hw.PhysicalAllocator) *Table {
	return &Table{
		alloc: alloc,
		byKVA: hashtable.New[hw.KVA, *Frame](64, hashKVA),
	}
}

func hashKVA(k hw.KVA) uint32 {
	return hashtable.HashUintptr(uintptr(k))
}

// GetFrame returns a frame ready to be bound to a descriptor, evicting a
// victim if the physical pool is exhausted. It never returns a nil frame;
// exhaustion of both the pool and every evictable frame is fatal, matching
// spec.md §7's "Out-of-metadata" / "Physical-pool empty" policy.
func (t *Table) GetFrame() *Frame {
	t.mu.Lock()
	raw, ok := t.alloc.GetUserPage()
	if ok {
		f := &Frame{raw: raw}
		t.byKVA.Set(f.KVA(), f)
		t.mu.Unlock()
		return f
	}
	t.mu.Unlock()

	f := t.evictFrame()
	if f == nil {
		klog.For("frame").Error().Str("code", errs.ENOMEM.String()).Msg("physical pool exhausted and no evictable frame found")
		panic("frame: pool and eviction both exhausted")
	}
	return f
}

// evictFrame selects a victim frame, writes back every sharer's content,
// clears every sharer's hardware mapping, zeroes the frame's content, and
// returns the now-unreferenced frame for immediate reuse by the caller of
// GetFrame, which thus always receives a zero-filled frame. The frame record
// itself is NOT removed from the table or returned to the allocator: its
// physical backing is retained and handed straight back, avoiding a
// needless free/realloc round trip.
func (t *Table) evictFrame() *Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	victim := t.getVictimLocked()
	if victim == nil {
		return nil
	}
	l := klog.For("frame")
	for _, r := range victim.pageList {
		if !r.Page.IsUninit() {
			if !r.Page.SwapOut() {
				l.Error().Str("code", errs.ENOMEM.String()).Msg("swap_out failed during eviction; swap space exhausted")
				panic("frame: swap exhausted during eviction")
			}
		}
		r.PT.Clear(r.VA)
		r.Page.ClearFrame()
	}
	l.Debug().Int("evicted_sharers", len(victim.pageList)).Msg("evicted frame")
	victim.pageList = nil
	buf := victim.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	return victim
}

// getVictimLocked picks an existing frame under frame_lock. Policy is
// unspecified beyond "pick an existing frame" (spec.md §4.3); this performs
// a random walk over the frame table, the reference policy spec.md names
// explicitly.
func (t *Table) getVictimLocked() *Frame {
	keys := t.byKVA.Keys()
	if len(keys) == 0 {
		return nil
	}
	start := rand.Intn(len(keys))
	k := keys[start]
	f, _ := t.byKVA.Get(k)
	return f
}

// Bind adds a new sharer to frame's page_list under frame_lock. Callers use
// this both for a fresh claim (do_claim_page) and for CoW sharing at fork.
func (t *Table) Bind(f *Frame, r Referrer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f.pageList = append(f.pageList, r)
}

// Unbind removes the sharer identified by (pt, va) from frame's page_list.
// If the frame becomes unreferenced, it is freed back to the physical
// allocator and removed from the table; Unbind reports whether that
// happened.
func (t *Table) Unbind(f *Frame, pt *hw.PageTable, va hw.VA) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range f.pageList {
		if r.PT == pt && r.VA == va {
			f.pageList = append(f.pageList[:i], f.pageList[i+1:]...)
			break
		}
	}
	if len(f.pageList) == 0 {
		t.byKVA.Del(f.KVA())
		t.alloc.FreeUserPage(f.raw)
		return true
	}
	return false
}
