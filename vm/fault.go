package vm

import (
	"vmcore/errs"
	"vmcore/frame"
	"vmcore/hw"
	"vmcore/klog"
	"vmcore/page"
)

// TryHandleFault is the page-fault decision procedure spec.md §4.4
// describes: reject null/kernel-range and truly-unmapped write faults,
// delegate a write fault against a read-only-but-CoW page to handleWP,
// claim a not-yet-resident page, grow the stack when the fault lands in the
// stack-growth window, and otherwise report a genuine protection violation.
// It returns true if the fault was resolved and the faulting instruction may
// safely retry.
func (c *Core) TryHandleFault(th *Thread, addr hw.VA, isWrite bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if addr == 0 {
		klog.For("vm").Debug().Str("code", errs.EFAULT.String()).Msg("fault: null dereference")
		return false
	}

	va := pageFloor(addr)
	p, ok := th.Spt.Find(va)
	if !ok {
		if isWrite && c.isStackGrowth(th, addr) {
			return c.growStack(th, addr)
		}
		klog.For("vm").Debug().Str("code", errs.EFAULT.String()).Msg("fault: address outside any mapped region")
		return false
	}

	if isWrite && !p.Writable {
		if p.IsCow {
			return c.handleWP(th, va, p)
		}
		klog.For("vm").Debug().Str("code", errs.EFAULT.String()).Msg("fault: write to read-only non-CoW page")
		return false
	}

	if p.Frame == nil {
		return c.claim(th, va, p)
	}

	// A descriptor exists, has a resident frame, and the access is
	// otherwise permitted: nothing to resolve. Reaching this case from a
	// real CPU trap would mean the trap fired spuriously.
	return true
}

// isStackGrowth reports whether addr falls in the stack-growth window
// spec.md §4.4 defines: no more than StackGrowthLimit bytes below
// UserStackTop, and no more than 8 bytes below the thread's current
// user-mode stack pointer (the "PUSHA-adjacent" slack a single push
// instruction may fault at before the stack pointer itself is adjusted).
func (c *Core) isStackGrowth(th *Thread, addr hw.VA) bool {
	top := c.cfg.UserStackTop
	if addr >= top {
		return false
	}
	if uintptr(top)-uintptr(addr) > c.cfg.StackGrowthLimit {
		return false
	}
	if th.UserRSP != 0 && uintptr(addr) < uintptr(th.UserRSP)-8 {
		return false
	}
	return true
}

// growStack installs a single new zero-filled ANON page at addr's page
// boundary and immediately claims it, matching spec.md §4.4's "stack growth
// installs exactly one page per fault" behavior (repeated faults grow the
// stack one page at a time, never speculatively ahead of demand).
func (c *Core) growStack(th *Thread, addr hw.VA) bool {
	base := pageFloor(addr)
	if !c.allocAnonPageLocked(th, base, true) {
		return false
	}
	p, ok := th.Spt.Find(base)
	if !ok {
		return false
	}
	return c.claim(th, base, p)
}

// handleWP resolves a write fault against a copy-on-write page (spec.md
// §4.4): if this thread's page table is the sole remaining referrer of the
// shared frame, the protection bit is simply promoted to writable in place;
// otherwise the thread is given a private copy and the shared frame's
// referrer count drops by one.
func (c *Core) handleWP(th *Thread, addr hw.VA, p *page.Page) bool {
	f := p.Frame
	if f == nil {
		// Evicted since the fault was raised; reclaim residency first.
		if !c.claim(th, addr, p) {
			return false
		}
		f = p.Frame
	}

	if f.RefCount() <= 1 {
		p.Writable = p.OriginalWritable
		p.IsCow = false
		return th.Pml4.SetWritable(addr, p.Writable)
	}

	newFrame := c.rt.Frames.GetFrame()
	copy(newFrame.Bytes(), f.Bytes())

	c.rt.Frames.Unbind(f, th.Pml4, addr)

	p.Frame = newFrame
	p.Writable = p.OriginalWritable
	p.IsCow = false

	if !th.Pml4.Install(addr, newFrame.HW(), p.Writable) {
		return false
	}
	c.rt.Frames.Bind(newFrame, frame.Referrer{PT: th.Pml4, VA: addr, Page: p})
	return true
}

func pageFloor(addr hw.VA) hw.VA {
	return hw.VA(uintptr(addr) &^ (hw.PageSize - 1))
}
