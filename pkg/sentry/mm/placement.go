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
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
)

// mmapBoundaryLocked returns the lowest address used by any valid vma, or
// MmapTop if there are none.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) mmapBoundaryLocked() hostarch.Addr {
	boundary := MmapTop
	for i := range mm.vmas {
		if v := &mm.vmas[i]; v.valid && v.start < boundary {
			boundary = v.start
		}
	}
	return boundary
}

// findAvailableLocked returns the range at which a new mapping of the given
// length will be placed. Mappings grow down from MmapTop: the new range ends
// where the lowest existing mapping begins.
//
// The returned range does not overlap any valid vma, since every vma lies
// between the boundary and MmapTop. Collisions with memory below the
// mapping region are not checked.
//
// Preconditions:
//   - mm.mu must be locked.
//   - length is page-aligned and non-zero.
func (mm *MemoryManager) findAvailableLocked(length uint64) (hostarch.AddrRange, error) {
	boundary := mm.mmapBoundaryLocked()
	if length > uint64(boundary) {
		return hostarch.AddrRange{}, linuxerr.ENOMEM
	}
	return hostarch.AddrRange{Start: boundary - hostarch.Addr(length), End: boundary}, nil
}
