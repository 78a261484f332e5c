package hw

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// File is the byte-level file abstraction spec.md §6 specifies as external:
// length, positional read/write, reopen, close. The FILE page provider is
// the sole consumer.
type File interface {
	Length() (int64, error)
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	Reopen() (File, error)
	Close() error
}

// OSFile implements File over an *os.File, mirroring file_reopen's contract
// of producing an independent handle with its own lifetime by reopening the
// same path rather than dup()-ing the fd — independent handles can then be
// closed in any order, which is what do_munmap and SPT-copy both rely on.
type OSFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenOSFile opens path for reading and writing.
func OpenOSFile(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open file")
	}
	return &OSFile{path: path, f: f}, nil
}

func (o *OSFile) Length() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fi, err := o.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat file")
	}
	return fi.Size(), nil
}

func (o *OSFile) ReadAt(buf []byte, off int64) (int, error) {
	n, err := o.f.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, "read file")
	}
	return n, nil
}

func (o *OSFile) WriteAt(buf []byte, off int64) (int, error) {
	n, err := o.f.WriteAt(buf, off)
	if err != nil {
		return n, errors.Wrap(err, "write file")
	}
	return n, nil
}

func (o *OSFile) Reopen() (File, error) {
	return OpenOSFile(o.path)
}

func (o *OSFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.f.Close()
}

// MemFile is an in-memory File backed by a shared byte slice, letting tests
// exercise FILE-backed mappings without touching the filesystem. Reopen
// shares the same backing bytes (as file_reopen's independent-handle,
// same-content contract requires) but tracks its own close state.
type MemFile struct {
	backing *memFileBacking
	closed  bool
}

type memFileBacking struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemFile creates a MemFile with the given initial content.
func NewMemFile(content []byte) *MemFile {
	buf := make([]byte, len(content))
	copy(buf, content)
	return &MemFile{backing: &memFileBacking{data: buf}}
}

func (m *MemFile) Length() (int64, error) {
	m.backing.mu.RLock()
	defer m.backing.mu.RUnlock()
	return int64(len(m.backing.data)), nil
}

func (m *MemFile) ReadAt(buf []byte, off int64) (int, error) {
	m.backing.mu.RLock()
	defer m.backing.mu.RUnlock()
	if off < 0 || off > int64(len(m.backing.data)) {
		return 0, errors.New("hw: read offset out of range")
	}
	n := copy(buf, m.backing.data[off:])
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemFile) WriteAt(buf []byte, off int64) (int, error) {
	m.backing.mu.Lock()
	defer m.backing.mu.Unlock()
	end := off + int64(len(buf))
	if end > int64(len(m.backing.data)) {
		grown := make([]byte, end)
		copy(grown, m.backing.data)
		m.backing.data = grown
	}
	return copy(m.backing.data[off:], buf), nil
}

func (m *MemFile) Reopen() (File, error) {
	return &MemFile{backing: m.backing}, nil
}

func (m *MemFile) Close() error {
	m.closed = true
	return nil
}
