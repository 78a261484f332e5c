package hw

import (
	"sync"

	"golang.org/x/sys/unix"
)

// VA is a page-aligned user virtual address.
type VA uintptr

type pte struct {
	frame    *Frame
	view     []byte // independent mmap view of frame's backing fd
	writable bool
}

// PageTable is one address space's hardware page table: the "install/clear/
// query a virtual->physical mapping with a protection bit" primitive
// spec.md §6 specifies as external. Each installed mapping gets its own
// mmap view of the frame's shared backing, so concurrent CoW sharers in
// different PageTables see identical bytes without aliasing Go slices.
type PageTable struct {
	mu      sync.Mutex
	entries map[VA]*pte
}

// NewPageTable allocates an empty page table for one address space.
func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[VA]*pte)}
}

// Install maps va to frame with the given protection, replacing any prior
// mapping at va. It returns false only if the underlying mmap call fails.
func (pt *PageTable) Install(va VA, frame *Frame, writable bool) bool {
	view, err := frame.remap()
	if err != nil {
		return false
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if old, ok := pt.entries[va]; ok {
		_ = unix.Munmap(old.view)
	}
	pt.entries[va] = &pte{frame: frame, view: view, writable: writable}
	return true
}

// Clear removes the mapping at va, if any, and returns whether one existed.
func (pt *PageTable) Clear(va VA) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return false
	}
	_ = unix.Munmap(e.view)
	delete(pt.entries, va)
	return true
}

// Query reports the frame currently mapped at va, its protection bit, and
// whether any mapping exists.
func (pt *PageTable) Query(va VA) (frame *Frame, writable bool, present bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return nil, false, false
	}
	return e.frame, e.writable, true
}

// SetWritable flips the protection bit of an existing mapping in place
// (used by CoW promotion, which must not disturb the frame binding).
func (pt *PageTable) SetWritable(va VA, writable bool) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va]
	if !ok {
		return false
	}
	e.writable = writable
	return true
}

// Read copies PageSize bytes from the mapping at va. It fails if no mapping
// exists; spec.md's fault handler is responsible for ensuring a mapping
// exists before any access reaches this layer.
func (pt *PageTable) Read(va VA) ([]byte, bool) {
	pt.mu.Lock()
	e, ok := pt.entries[va]
	pt.mu.Unlock()
	if !ok {
		return nil, false
	}
	out := make([]byte, PageSize)
	copy(out, e.view)
	return out, true
}

// Write stores PageSize bytes into the mapping at va. It returns false if no
// mapping exists or the mapping is not currently writable — this is the
// software enforcement of the hardware protection bit; callers (the fault
// handler) decide when a write is legitimate, this layer just refuses writes
// that bypass that decision.
func (pt *PageTable) Write(va VA, data []byte) bool {
	pt.mu.Lock()
	e, ok := pt.entries[va]
	pt.mu.Unlock()
	if !ok || !e.writable {
		return false
	}
	copy(e.view, data)
	return true
}

// Teardown clears every mapping, releasing all mmap views. It does not free
// the underlying frames — that remains the frame table's responsibility.
func (pt *PageTable) Teardown() {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for va, e := range pt.entries {
		_ = unix.Munmap(e.view)
		delete(pt.entries, va)
	}
}
