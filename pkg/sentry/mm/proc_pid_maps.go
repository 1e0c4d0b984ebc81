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
	"bytes"
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/ring0/pagetables"
)

// MappingInfo describes one mapping of a MemoryManager.
type MappingInfo struct {
	// Slot is the index of the mapping's vma slot.
	Slot int

	// Range is the range of addresses mapped.
	Range hostarch.AddrRange

	// Perms is the protection of the mapping.
	Perms hostarch.AccessType

	// Private is true for private mappings.
	Private bool

	// Offset is the offset into the file of Range.Start.
	Offset uint64

	// Name is the name of the mapped file.
	Name string

	// Resident is the number of populated pages in the mapping.
	Resident int

	// Dirty is the number of populated pages that have been written to.
	Dirty int
}

// Mappings returns a snapshot of mm's mappings, sorted by address.
func (mm *MemoryManager) Mappings() []MappingInfo {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var infos []MappingInfo
	for i := range mm.vmas {
		v := &mm.vmas[i]
		if !v.valid {
			continue
		}
		info := MappingInfo{
			Slot:    i,
			Range:   v.Range(),
			Perms:   v.perms,
			Private: v.private,
			Offset:  v.offset,
			Name:    v.file.Name(),
		}
		mm.pt.VisitRange(info.Range, func(_ hostarch.Addr, pte pagetables.PTE) bool {
			info.Resident++
			if pte.Dirty() {
				info.Dirty++
			}
			return true
		})
		infos = append(infos, info)
	}
	slices.SortFunc(infos, func(a, b MappingInfo) int {
		return cmp.Compare(a.Range.Start, b.Range.Start)
	})
	return infos
}

// Validate returns an error describing the first inconsistency in mm's
// mappings, or nil if there is none: overlapping or malformed mappings, or
// populated pages outside of every mapping.
func (mm *MemoryManager) Validate() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.validateLocked()
}

// String returns mm's mappings in the format of /proc/[pid]/maps, one line
// per mapping.
func (mm *MemoryManager) String() string {
	var b bytes.Buffer
	for _, info := range mm.Mappings() {
		b.Write(mapsEntry(info))
	}
	return b.String()
}

// mapsEntry returns a /proc/[pid]/maps entry for info, including the
// trailing newline.
func mapsEntry(info MappingInfo) []byte {
	private := "p"
	if !info.Private {
		private = "s"
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "%08x-%08x %s%s %08x %d/%d ",
		uint64(info.Range.Start), uint64(info.Range.End), info.Perms, private, info.Offset, info.Resident, info.Dirty)

	if info.Name != "" {
		// Per linux, we pad until the 74th character.
		if pad := 73 - b.Len(); pad > 0 {
			b.WriteString(strings.Repeat(" ", pad))
		}
		b.WriteString(info.Name)
	}
	b.WriteString("\n")
	return b.Bytes()
}
