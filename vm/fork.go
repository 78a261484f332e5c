package vm

import (
	"vmcore/frame"
	"vmcore/page"
)

// ForkCopySPT copies every descriptor from parent's supplemental page table
// into a freshly-constructed child thread, per spec.md §4.6:
//   - an UNINIT descriptor is deep-copied regardless of its future type: the
//     child gets a new descriptor with the same future type and initializer
//     callback, and its own reopened copy of the FILE aux payload when the
//     future is FILE (an ANON or otherwise aux-less future copies with no
//     aux at all) — never sharing state with the parent's;
//   - a FILE descriptor is re-created referencing the same {file, offset,
//     page_read_bytes}, each side with its own reopened handle;
//   - an ANON descriptor becomes copy-on-write: if the parent's page has a
//     resident frame, both parent's and child's descriptors are mutated to
//     is_cow=true, not-writable, and bound as sharers of the same frame; a
//     parent page that is not yet resident is claimed first so the sharing
//     can be established (a CoW pair cannot exist without a shared frame).
//
// ForkCopySPT returns the new child thread, or nil if any step fails; on
// failure the caller should discard the partially-built child without
// touching the parent, since nothing is mutated in the parent's address
// space until the corresponding step has already succeeded.
func (c *Core) ForkCopySPT(parent *Thread) *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()

	child := NewThread()

	for _, p := range parent.Spt.Pages() {
		var ok bool
		switch p.Type() {
		case page.UNINIT:
			ok = c.forkUninit(child, p)
		case page.FILE:
			ok = c.forkFile(child, p)
		case page.ANON:
			ok = c.forkAnonCOW(parent, child, p)
		}
		if !ok {
			child.Spt.Kill()
			return nil
		}
	}

	return child
}

func (c *Core) forkUninit(child *Thread, p *page.Page) bool {
	futureType, initCallback, ok := p.PendingFuture()
	if !ok {
		return false
	}

	var childAux any
	if futureType == page.FILE {
		fa, ok := p.PendingFileAux()
		if !ok {
			return false
		}
		handle, err := fa.File.Reopen()
		if err != nil {
			return false
		}
		childAux = page.FileAux{File: handle, Offset: fa.Offset, ReadBytes: fa.ReadBytes}
	}

	owner := page.Owner{ThreadID: child.ID, PT: child.Pml4}
	np := page.NewUninit(c.rt, p.VA, futureType, p.Writable, owner, initCallback, childAux)
	return child.Spt.Insert(np)
}

func (c *Core) forkFile(child *Thread, p *page.Page) bool {
	f, offset, readBytes, ok := p.FileInfo()
	if !ok {
		return false
	}
	handle, err := f.Reopen()
	if err != nil {
		return false
	}
	owner := page.Owner{ThreadID: child.ID, PT: child.Pml4}
	np := page.NewFileShared(c.rt, p.VA, p.Writable, owner, handle, offset, readBytes)
	return child.Spt.Insert(np)
}

func (c *Core) forkAnonCOW(parent, child *Thread, p *page.Page) bool {
	if p.Frame == nil {
		if !c.claim(parent, p.VA, p) {
			return false
		}
	}

	owner := page.Owner{ThreadID: child.ID, PT: child.Pml4}
	cp := page.NewAnon(c.rt, p.VA, p.Writable, owner)
	cp.Frame = p.Frame
	cp.IsCow = true
	cp.Writable = false

	if !child.Spt.Insert(cp) {
		return false
	}
	if !parent.Pml4.SetWritable(p.VA, false) {
		return false
	}
	if !child.Pml4.Install(p.VA, p.Frame.HW(), false) {
		return false
	}
	c.rt.Frames.Bind(p.Frame, frame.Referrer{PT: child.Pml4, VA: p.VA, Page: cp})

	p.IsCow = true
	p.Writable = false
	return true
}
