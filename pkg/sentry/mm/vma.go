// Copyright 2026 The gVisor Authors.
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

package mm

import (
	"fmt"

	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/ring0/pagetables"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/memmap"
)

// A vma represents a virtual memory area: a contiguous range of the address
// space backed by a file.
type vma struct {
	// valid is true if the slot holding this vma is in use. All other fields
	// are meaningless if valid is false.
	valid bool

	// start is the first address of the mapping. start is page-aligned.
	start hostarch.Addr

	// length is the size of the mapping in bytes. length is page-aligned and
	// non-zero.
	length uint64

	// file is the mapped file. The vma holds a reference on file.
	file memmap.Mappable

	// perms is the protection of the mapping.
	perms hostarch.AccessType

	// private is true if modifications to the mapping are never written back
	// to file.
	private bool

	// offset is the offset into file of start.
	offset uint64
}

// Range returns the addresses spanned by v.
func (v *vma) Range() hostarch.AddrRange {
	return hostarch.AddrRange{Start: v.start, End: v.start + hostarch.Addr(v.length)}
}

// fileOffset returns the offset into v.file backing addr.
//
// Preconditions: v.Range().Contains(addr).
func (v *vma) fileOffset(addr hostarch.Addr) int64 {
	return int64(v.offset + uint64(addr-v.start))
}

// String implements fmt.Stringer.String.
func (v *vma) String() string {
	sharing := "s"
	if v.private {
		sharing = "p"
	}
	return fmt.Sprintf("%v %s%s %#x %s", v.Range(), v.perms, sharing, v.offset, v.file.Name())
}

// findVMALocked returns the first valid vma containing addr and its slot
// index, or (nil, -1) if no vma contains addr.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) findVMALocked(addr hostarch.Addr) (*vma, int) {
	for i := range mm.vmas {
		v := &mm.vmas[i]
		if v.valid && v.Range().Contains(addr) {
			return v, i
		}
	}
	return nil, -1
}

// allocateVMALocked returns the first unused slot, marked valid, and its
// index. It returns (nil, -1) if every slot is in use.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) allocateVMALocked() (*vma, int) {
	for i := range mm.vmas {
		v := &mm.vmas[i]
		if !v.valid {
			*v = vma{valid: true}
			return v, i
		}
	}
	return nil, -1
}

// destroyVMALocked drops v's file reference and frees its slot.
//
// Preconditions:
//   - mm.mu must be locked.
//   - No page table entries remain within v.
func (mm *MemoryManager) destroyVMALocked(ctx context.Context, v *vma) {
	file := v.file
	*v = vma{}
	mappingsGauge.Add(-1)
	file.DecRef(ctx)
}

// checkInvariantsLocked panics if the vma table is inconsistent and invariant
// checking is enabled.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) checkInvariantsLocked() {
	if !mm.checkInvariants {
		return
	}
	if err := mm.validateLocked(); err != nil {
		panic(fmt.Sprintf("mm invariant violated: %v", err))
	}
}

// validateLocked returns an error describing the first inconsistency found
// in the vma table or page table.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) validateLocked() error {
	for i := range mm.vmas {
		v := &mm.vmas[i]
		if !v.valid {
			continue
		}
		ar := v.Range()
		if v.length == 0 || !ar.IsPageAligned() || !ar.WellFormed() || ar.End > MmapTop {
			return fmt.Errorf("slot %d: malformed range %v", i, ar)
		}
		if v.file == nil {
			return fmt.Errorf("slot %d: no file", i)
		}
		for j := i + 1; j < len(mm.vmas); j++ {
			w := &mm.vmas[j]
			if w.valid && ar.Overlaps(w.Range()) {
				return fmt.Errorf("slot %d %v overlaps slot %d %v", i, ar, j, w.Range())
			}
		}
	}
	var err error
	mm.pt.VisitRange(hostarch.AddrRange{Start: 0, End: MaxVA}, func(addr hostarch.Addr, pte pagetables.PTE) bool {
		if v, _ := mm.findVMALocked(addr); v == nil {
			err = fmt.Errorf("page %v mapped to %v outside of any vma", addr, pte)
			return false
		}
		return true
	})
	return err
}
