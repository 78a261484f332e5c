// Package hw contains the external collaborators spec.md treats as
// out-of-scope interfaces: the physical-page allocator, the hardware page
// table, the disk, and the byte-level file abstraction (the thread handle
// lives in package vm). Each gets a real implementation here (backed by golang.org/x/sys/unix
// mmap/memfd and os.File) so the VM core in package vm is genuinely
// exercised rather than tested against a hand-rolled simulation.
package hw

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PageSize is the fixed page size the whole core assumes (spec.md §6).
const PageSize = 4096

// KVA is a kernel-visible address: the primary key of the frame table. It is
// derived from a Frame's identity rather than its backing bytes' address, so
// it stays stable even though the underlying mmap view is only ever read
// through Frame.Bytes().
type KVA uintptr

// Frame is one physical page: a memfd-backed, shared mmap region so that two
// independent mmap calls against the same fd (one per CoW sharer) observe
// the same bytes, exactly as two hardware PTEs pointing at the same physical
// page would.
type Frame struct {
	fd   int
	data []byte
	kva  KVA
}

// KVA returns the frame's stable identity.
func (f *Frame) KVA() KVA { return f.kva }

// Bytes returns the frame's PageSize-byte content for direct read/write by
// the provider and fault-handling code (which owns the decision of whether
// the access is permitted; Frame itself enforces nothing).
func (f *Frame) Bytes() []byte { return f.data }

// PhysicalAllocator yields zeroed physical frames and reclaims them, the
// "physical-page allocator" spec.md §6 specifies as an external contract.
type PhysicalAllocator interface {
	// GetUserPage returns a new zeroed frame, or ok=false if the pool is
	// exhausted.
	GetUserPage() (*Frame, bool)
	// FreeUserPage releases a frame obtained from GetUserPage.
	FreeUserPage(*Frame)
}

// MemfdAllocator is a PhysicalAllocator backed by a fixed-size pool of
// memfd-backed pages. Capacity models the finite "user pool" spec.md's
// get_frame refers to; once Capacity frames are outstanding, GetUserPage
// returns ok=false and the VM core must evict.
type MemfdAllocator struct {
	capacity int
	live     int
	nextID   uintptr
}

// NewMemfdAllocator constructs an allocator capped at capacity live frames.
func NewMemfdAllocator(capacity int) *MemfdAllocator {
	if capacity <= 0 {
		panic("hw: non-positive pool capacity")
	}
	return &MemfdAllocator{capacity: capacity}
}

// Capacity returns the configured pool size.
func (a *MemfdAllocator) Capacity() int { return a.capacity }

// Live returns the number of frames currently checked out.
func (a *MemfdAllocator) Live() int { return a.live }

func (a *MemfdAllocator) GetUserPage() (*Frame, bool) {
	if a.live >= a.capacity {
		return nil, false
	}
	f, err := newMemfdFrame(a.nextID)
	if err != nil {
		// Treated as pool exhaustion by the caller: a memfd/mmap failure
		// this deep is not something the VM core can recover from
		// differently than "no frame available".
		return nil, false
	}
	a.nextID++
	a.live++
	return f, true
}

func (a *MemfdAllocator) FreeUserPage(f *Frame) {
	if f == nil {
		return
	}
	_ = unix.Munmap(f.data)
	_ = unix.Close(f.fd)
	a.live--
}

func newMemfdFrame(id uintptr) (*Frame, error) {
	fd, err := unix.MemfdCreate(fmt.Sprintf("vmcore-frame-%d", id), 0)
	if err != nil {
		return nil, errors.Wrap(err, "memfd_create")
	}
	if err := unix.Ftruncate(fd, PageSize); err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "ftruncate")
	}
	data, err := unix.Mmap(fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, errors.Wrap(err, "mmap")
	}
	// memfd pages are zero-filled by the kernel; no explicit zeroing needed,
	// matching the "zeroed user-pool frame" guarantee spec.md §4.3 relies on.
	return &Frame{fd: fd, data: data, kva: KVA(id + 1)}, nil
}

// remap opens a second, independent mmap view of the same backing fd. Used
// by PageTable.Install to give a CoW sharer its own view object (with its
// own advisory writable flag) while guaranteeing byte-identical content.
func (f *Frame) remap() ([]byte, error) {
	view, err := unix.Mmap(f.fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(err, "mmap remap")
	}
	return view, nil
}
