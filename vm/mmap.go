package vm

import (
	"vmcore/errs"
	"vmcore/hw"
	"vmcore/klog"
	"vmcore/page"
)

// DoMmap installs a lazily-initialized FILE-backed mapping covering length
// bytes of f starting at fileOffset, at addr (spec.md §4.5: do_mmap). Each
// page gets its own UNINIT descriptor that transforms into FILE on first
// fault; the last partial page's tail bytes beyond the file's content are
// zero-filled. It returns the mapping's base address and true on success;
// on partial failure, every descriptor already installed for this call is
// unwound before returning false, mirroring do_mmap's own rollback-on-error
// contract.
func (c *Core) DoMmap(th *Thread, addr hw.VA, length int, f hw.File, fileOffset int64) (hw.VA, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l := klog.For("vm")

	if length <= 0 {
		l.Debug().Str("code", errs.EINVAL.String()).Msg("mmap: zero or negative length")
		return 0, false
	}
	if addr == 0 || uintptr(addr) >= uintptr(c.cfg.UserStackTop) {
		l.Debug().Str("code", errs.EINVAL.String()).Msg("mmap: null or kernel-range address")
		return 0, false
	}

	fileLen, err := f.Length()
	if err != nil {
		l.Debug().Str("code", errs.EINVAL.String()).Msg("mmap: could not determine file length")
		return 0, false
	}
	if fileLen == 0 || fileOffset >= fileLen {
		l.Debug().Str("code", errs.EINVAL.String()).Msg("mmap: zero file length or offset at/beyond file length")
		return 0, false
	}

	// Round the requested [addr, addr+length) span out to a whole page
	// range (spec.md §4.5's pg_round_down/pg_round_up), anchoring the
	// per-page FILE aux at the rounded-down base rather than rejecting a
	// misaligned addr outright.
	base := pageFloor(addr)
	lead := uintptr(addr) - uintptr(base)
	adjLength := length + int(lead)
	adjOffset := fileOffset - int64(lead)
	pageCount := (adjLength + hw.PageSize - 1) / hw.PageSize

	stackFloor := uintptr(c.cfg.UserStackTop) - c.cfg.StackGrowthLimit
	rangeEnd := uintptr(base) + uintptr(pageCount)*hw.PageSize
	if rangeEnd > stackFloor {
		l.Debug().Str("code", errs.EINVAL.String()).Msg("mmap: range overlaps the stack region")
		return 0, false
	}

	installed := make([]hw.VA, 0, pageCount)

	for i := 0; i < pageCount; i++ {
		va := hw.VA(uintptr(base) + uintptr(i*hw.PageSize))
		remaining := adjLength - i*hw.PageSize
		readBytes := remaining
		if readBytes > hw.PageSize {
			readBytes = hw.PageSize
		}
		if readBytes < 0 {
			readBytes = 0
		}

		handle, err := f.Reopen()
		if err != nil {
			c.unmapList(th, installed)
			return 0, false
		}

		aux := page.FileAux{
			File:      handle,
			Offset:    adjOffset + int64(i*hw.PageSize),
			ReadBytes: readBytes,
		}
		if !c.allocPageWithInitializerLocked(th, va, page.FILE, true, nil, aux) {
			_ = handle.Close()
			c.unmapList(th, installed)
			return 0, false
		}
		installed = append(installed, va)
	}

	return base, true
}

// DoMunmap tears down the mapping starting at base (spec.md §4.5: do_munmap).
// It walks forward through consecutive pages starting exactly at base,
// writing back any resident content before destroying each descriptor, and
// stops at the first page that is absent or ANON. Any other descriptor,
// FILE or still UNINIT (whatever its future type), is taken as part of the
// run: the walk does not check which file or which mmap call a page came
// from, so a mapping laid out directly after this one is removed as well.
func (c *Core) DoMunmap(th *Thread, base hw.VA) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var vas []hw.VA
	for va := base; ; va = hw.VA(uintptr(va) + hw.PageSize) {
		p, ok := th.Spt.Find(va)
		if !ok {
			break
		}
		// DoMunmap is only ever called with a base DoMmap returned, and
		// DoMmap installs nothing but FILE futures, so any descriptor found
		// here — UNINIT or already transformed — belongs to that run. An
		// ANON page ends the run: it can only mean the caller's base has
		// drifted into unrelated memory.
		if p.Type() == page.ANON {
			break
		}
		vas = append(vas, va)
	}
	c.unmapList(th, vas)
}

func (c *Core) unmapList(th *Thread, vas []hw.VA) {
	for _, va := range vas {
		p, ok := th.Spt.Find(va)
		if !ok {
			continue
		}
		if f := p.Frame; f != nil {
			if p.Type() != page.UNINIT {
				p.SwapOut()
			}
			th.Pml4.Clear(va)
			c.rt.Frames.Unbind(f, th.Pml4, va)
		}
		th.Spt.Remove(va)
	}
}
