// Package spt implements the per-process supplemental page table spec.md
// §3 and §4.2 describe: the authoritative VA -> page-descriptor map that
// the fault handler, mmap/munmap, and fork all consult before touching
// hardware state. Grounded on the teacher kernel's Vmregion_t+as.go
// hashtable-of-VA-to-Vminfo pattern, reimplemented over vmcore/hashtable
// (the module's own generic table) instead of the teacher's Radix/Objtbl.
package spt

import (
	"vmcore/errs"
	"vmcore/hashtable"
	"vmcore/hw"
	"vmcore/klog"
	"vmcore/page"
)

// Table is one address space's supplemental page table.
type Table struct {
	pages *hashtable.Table[hw.VA, *page.Page]
}

// New constructs an empty supplemental page table.
func New() *Table {
	return &Table{pages: hashtable.New[hw.VA, *page.Page](64, hashVA)}
}

func hashVA(va hw.VA) uint32 {
	return hashtable.HashUintptr(uintptr(va))
}

// Find looks up the descriptor covering va. va must already be page-aligned
// by the caller (spt_find_page's contract: round down to page boundary
// before lookup).
func (t *Table) Find(va hw.VA) (*page.Page, bool) {
	return t.pages.Get(va)
}

// Insert adds p to the table, keyed by its own VA. It reports false if a
// descriptor already occupies that address, matching spt_insert_page's
// insert-fails-on-duplicate contract.
func (t *Table) Insert(p *page.Page) bool {
	if _, exists := t.pages.Get(p.VA); exists {
		klog.For("spt").Debug().Str("code", errs.EEXIST.String()).Msg("insert: descriptor already occupies address")
		return false
	}
	t.pages.Set(p.VA, p)
	return true
}

// Remove deletes the descriptor at va, destroying its provider-owned
// resources first. It reports whether a descriptor was present.
func (t *Table) Remove(va hw.VA) bool {
	p, ok := t.pages.Get(va)
	if !ok {
		return false
	}
	p.Destroy()
	t.pages.Del(va)
	return true
}

// Len reports how many descriptors the table holds.
func (t *Table) Len() int { return t.pages.Len() }

// Pages returns every descriptor currently in the table, in unspecified
// order. Used by fork's copy pass and by process teardown.
func (t *Table) Pages() []*page.Page {
	keys := t.pages.Keys()
	out := make([]*page.Page, 0, len(keys))
	for _, k := range keys {
		if p, ok := t.pages.Get(k); ok {
			out = append(out, p)
		}
	}
	return out
}

// Kill destroys every descriptor's provider-owned resources and empties the
// table. This is spt_kill: process teardown, not a single munmap.
func (t *Table) Kill() {
	for _, k := range t.pages.Keys() {
		if p, ok := t.pages.Get(k); ok {
			p.Destroy()
		}
	}
	for _, k := range t.pages.Keys() {
		t.pages.Del(k)
	}
}
