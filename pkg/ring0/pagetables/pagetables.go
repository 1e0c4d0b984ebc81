// Copyright 2019 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package pagetables provides a per-address-space page table.
//
// Entries use the Sv39 leaf layout: the frame number sits above the ten flag
// bits, and the permission bits are checked by the simulated MMU in package
// mm. Only leaf entries exist; the radix structure of a hardware table is
// replaced by a B-tree ordered by virtual page number.
package pagetables

import (
	"fmt"

	"github.com/google/btree"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/pgalloc"
)

// PTE flag bits.
const (
	Valid    PTE = 1 << 0
	Read     PTE = 1 << 1
	Write    PTE = 1 << 2
	Execute  PTE = 1 << 3
	User     PTE = 1 << 4
	Global   PTE = 1 << 5
	Accessed PTE = 1 << 6
	Dirty    PTE = 1 << 7

	flagBits  = 10
	flagsMask = 1<<flagBits - 1
)

// PTE is a page table entry.
type PTE uint64

// MakePTE returns a valid entry mapping frame with the given flags.
func MakePTE(frame pgalloc.FrameNumber, flags PTE) PTE {
	return PTE(frame)<<flagBits | flags&flagsMask | Valid
}

// Valid returns true if the entry maps a frame.
func (p PTE) Valid() bool { return p&Valid != 0 }

// Dirty returns true if the page has been written through this entry.
func (p PTE) Dirty() bool { return p&Dirty != 0 }

// User returns true if the page is accessible from user mode.
func (p PTE) User() bool { return p&User != 0 }

// Frame returns the frame mapped by the entry.
func (p PTE) Frame() pgalloc.FrameNumber {
	return pgalloc.FrameNumber(p >> flagBits)
}

// AccessType returns the permissions granted by the entry.
func (p PTE) AccessType() hostarch.AccessType {
	return hostarch.AccessType{
		Read:    p&Read != 0,
		Write:   p&Write != 0,
		Execute: p&Execute != 0,
	}
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	flags := []byte("--------")
	for i, c := range "vrwxugad" {
		if p&(1<<i) != 0 {
			flags[i] = byte(c)
		}
	}
	return fmt.Sprintf("%v[%s]", p.Frame(), flags)
}

// PermBits converts an access type into PTE permission bits.
func PermBits(at hostarch.AccessType) PTE {
	var p PTE
	if at.Read {
		p |= Read
	}
	if at.Write {
		p |= Write
	}
	if at.Execute {
		p |= Execute
	}
	return p
}

type entry struct {
	vpn uint64
	pte PTE
}

func entryLess(a, b entry) bool {
	return a.vpn < b.vpn
}

// degree is the B-tree node degree.
const degree = 8

// PageTables is a page table for one address space.
//
// PageTables is not synchronized; the owner's lock must be held.
type PageTables struct {
	tree *btree.BTreeG[entry]
}

// New returns an empty page table.
func New() *PageTables {
	return &PageTables{
		tree: btree.NewG[entry](degree, entryLess),
	}
}

// Map installs pte for the page containing addr.
//
// Preconditions: addr is page aligned. No valid entry exists for addr.
func (p *PageTables) Map(addr hostarch.Addr, pte PTE) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("unaligned map at %v", addr))
	}
	if !pte.Valid() {
		panic(fmt.Sprintf("mapping invalid entry %v at %v", pte, addr))
	}
	if old, ok := p.tree.ReplaceOrInsert(entry{vpn: addr.PageNumber(), pte: pte}); ok {
		panic(fmt.Sprintf("remap of %v: existing entry %v", addr, old.pte))
	}
}

// Lookup returns the entry for the page containing addr.
func (p *PageTables) Lookup(addr hostarch.Addr) (PTE, bool) {
	e, ok := p.tree.Get(entry{vpn: addr.PageNumber()})
	return e.pte, ok
}

// SetFlags ORs flags into the entry for the page containing addr. It returns
// false if no entry exists.
func (p *PageTables) SetFlags(addr hostarch.Addr, flags PTE) bool {
	key := entry{vpn: addr.PageNumber()}
	e, ok := p.tree.Get(key)
	if !ok {
		return false
	}
	e.pte |= flags & flagsMask
	p.tree.ReplaceOrInsert(e)
	return true
}

// Unmap removes the entry for the page containing addr and returns it.
func (p *PageTables) Unmap(addr hostarch.Addr) (PTE, bool) {
	e, ok := p.tree.Delete(entry{vpn: addr.PageNumber()})
	return e.pte, ok
}

// VisitRange calls fn for every entry whose page lies within ar, in address
// order, until fn returns false. fn must not modify p.
func (p *PageTables) VisitRange(ar hostarch.AddrRange, fn func(addr hostarch.Addr, pte PTE) bool) {
	if ar.Length() == 0 {
		return
	}
	first := entry{vpn: ar.Start.PageNumber()}
	end, ok := ar.End.RoundUp()
	if !ok || end == 0 {
		p.tree.AscendGreaterOrEqual(first, func(e entry) bool {
			return fn(hostarch.Addr(e.vpn<<hostarch.PageShift), e.pte)
		})
		return
	}
	p.tree.AscendRange(first, entry{vpn: end.PageNumber()}, func(e entry) bool {
		return fn(hostarch.Addr(e.vpn<<hostarch.PageShift), e.pte)
	})
}

// Len returns the number of valid entries.
func (p *PageTables) Len() int {
	return p.tree.Len()
}
