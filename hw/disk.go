package hw

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// SectorSize is the disk sector size spec.md §6 fixes at 512 bytes.
const SectorSize = 512

// Disk is the sector-granular block device contract spec.md §6 specifies as
// external: disk_size/disk_read/disk_write. The swap subsystem is the sole
// consumer in this module.
type Disk interface {
	SizeSectors() int
	ReadSector(sector int, buf []byte) error
	WriteSector(sector int, buf []byte) error
}

// FileDisk implements Disk over a regular file, the way a teaching kernel's
// disk driver is itself backed by a raw block device image. Positional
// os.File.ReadAt/WriteAt are safe for concurrent callers without an external
// lock (each syscall carries its own offset), matching the disk's being the
// one layer below the shared file_lock rather than needing one itself.
type FileDisk struct {
	f       *os.File
	sectors int
}

// NewFileDisk creates (or truncates) path to hold exactly sectors sectors
// and returns a Disk backed by it.
func NewFileDisk(path string, sectors int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open swap disk file")
	}
	if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "truncate swap disk file")
	}
	return &FileDisk{f: f, sectors: sectors}, nil
}

func (d *FileDisk) SizeSectors() int { return d.sectors }

func (d *FileDisk) ReadSector(sector int, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.Errorf("hw: read buffer must be %d bytes", SectorSize)
	}
	if sector < 0 || sector >= d.sectors {
		return errors.Errorf("hw: sector %d out of range", sector)
	}
	_, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	return errors.Wrap(err, "disk read")
}

func (d *FileDisk) WriteSector(sector int, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.Errorf("hw: write buffer must be %d bytes", SectorSize)
	}
	if sector < 0 || sector >= d.sectors {
		return errors.Errorf("hw: sector %d out of range", sector)
	}
	_, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	return errors.Wrap(err, "disk write")
}

// Close releases the backing file. Closing an in-use swap disk is a caller
// bug, not something this type guards against.
func (d *FileDisk) Close() error {
	return d.f.Close()
}

// MemDisk is an in-memory Disk, useful for tests that want a fast swap
// device without touching the filesystem.
type MemDisk struct {
	mu      sync.Mutex
	data    []byte
	sectors int
}

// NewMemDisk allocates an all-zero in-memory disk of the given sector count.
func NewMemDisk(sectors int) *MemDisk {
	return &MemDisk{data: make([]byte, sectors*SectorSize), sectors: sectors}
}

func (d *MemDisk) SizeSectors() int { return d.sectors }

func (d *MemDisk) ReadSector(sector int, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.Errorf("hw: read buffer must be %d bytes", SectorSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= d.sectors {
		return errors.Errorf("hw: sector %d out of range", sector)
	}
	copy(buf, d.data[sector*SectorSize:(sector+1)*SectorSize])
	return nil
}

func (d *MemDisk) WriteSector(sector int, buf []byte) error {
	if len(buf) != SectorSize {
		return errors.Errorf("hw: write buffer must be %d bytes", SectorSize)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if sector < 0 || sector >= d.sectors {
		return errors.Errorf("hw: sector %d out of range", sector)
	}
	copy(d.data[sector*SectorSize:(sector+1)*SectorSize], buf)
	return nil
}
