// Package swap implements the swap subsystem spec.md §4.1 describes: a
// fixed-slot store over the swap disk, one slot per page, used only by the
// ANON page provider. Grounded on the teacher kernel's disk-backed page
// I/O style (mem.go's Dmap/Refpg pattern of treating a page as a fixed-size
// unit) combined with the word-bitmap allocator idiom from gopher-os's
// pmm/allocator (first-clear-bit scan, mark-reserved/mark-free).
package swap

import (
	"github.com/pkg/errors"

	"vmcore/bitmap"
	"vmcore/hw"
)

// SectorsPerPage is the number of 512-byte disk sectors in one page
// (spec.md §6: page size 4096, sectors per page 8).
const SectorsPerPage = hw.PageSize / hw.SectorSize

// NoSlot is the sentinel meaning "no swap slot allocated" (spec.md §3:
// ANON payload carries swap_slot_index with sentinel "none").
const NoSlot = -1

// Device is the process-global swap table: a bitmap over equally-sized
// slots of the swap disk, sized at disk_size/SectorsPerPage, as spec.md §6
// and §4.6 (original_source supplement) specify.
type Device struct {
	disk   hw.Disk
	slots  *bitmap.Bitmap
	nslots int
}

// New sizes the slot bitmap from the disk's sector count and returns a
// ready-to-use swap device.
func New(disk hw.Disk) *Device {
	nslots := disk.SizeSectors() / SectorsPerPage
	return &Device{
		disk:   disk,
		slots:  bitmap.New(nslots),
		nslots: nslots,
	}
}

// Slots returns the total number of page-sized slots on the swap disk.
func (d *Device) Slots() int { return d.nslots }

// Alloc reserves the first free slot. ok is false if the swap disk is full,
// which spec.md §7 says must propagate as a failed swap_out, ultimately
// fatal if eviction cannot otherwise proceed.
func (d *Device) Alloc() (slot int, ok bool) {
	return d.slots.FindFirstClearAndSet()
}

// Free releases slot back to the pool. Double-freeing a slot is a caller
// bug (spec.md §8: "releasing a slot clears the bit exactly once") and will
// panic via the underlying bitmap's range check only if slot is out of
// range; a slot freed twice in a row simply clears an already-clear bit,
// which the bitmap permits, so callers are responsible for the "exactly
// once" discipline (ANON SwapIn/Destroy each clear their own swap_slot to
// NoSlot immediately after freeing, preventing a second Free call).
func (d *Device) Free(slot int) {
	if slot == NoSlot {
		return
	}
	d.slots.Clear(slot)
}

// ReadSlot reads one page's worth of content (SectorsPerPage sectors) from
// slot into buf, which must be exactly hw.PageSize bytes.
func (d *Device) ReadSlot(slot int, buf []byte) error {
	if len(buf) != hw.PageSize {
		return errors.Errorf("swap: buffer must be %d bytes", hw.PageSize)
	}
	base := slot * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		off := i * hw.SectorSize
		if err := d.disk.ReadSector(base+i, buf[off:off+hw.SectorSize]); err != nil {
			return errors.Wrapf(err, "swap: read slot %d sector %d", slot, i)
		}
	}
	return nil
}

// WriteSlot writes buf (exactly hw.PageSize bytes) to slot.
func (d *Device) WriteSlot(slot int, buf []byte) error {
	if len(buf) != hw.PageSize {
		return errors.Errorf("swap: buffer must be %d bytes", hw.PageSize)
	}
	base := slot * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		off := i * hw.SectorSize
		if err := d.disk.WriteSector(base+i, buf[off:off+hw.SectorSize]); err != nil {
			return errors.Wrapf(err, "swap: write slot %d sector %d", slot, i)
		}
	}
	return nil
}
