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

// Package mm provides a memory management subsystem for file-backed
// mappings.
//
// Each process owns a MemoryManager holding a fixed table of virtual memory
// areas (vmas) and the process's page table. Mappings are created without
// touching physical memory; pages are populated one at a time by
// HandleUserFault when the process first accesses them, and modified pages
// of shared mappings are written back to the mapped file when the pages are
// unmapped.
//
// Lock order:
//
//	MemoryManager.mu
//	  vfs.Filesystem operation slot
//	    vfs.Inode lock
//	      pgalloc.FrameAllocator.mu
package mm

import (
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/metric"
	"github.com/tkos/mmapsys/pkg/ring0/pagetables"
	"github.com/tkos/mmapsys/pkg/sentry/pgalloc"
	"github.com/tkos/mmapsys/pkg/sync"
)

const (
	// MaxVMAs is the number of vma slots in each MemoryManager.
	MaxVMAs = 16

	// MaxVA is one past the highest user virtual address.
	MaxVA hostarch.Addr = 1 << (9 + 9 + 9 + hostarch.PageShift - 1)

	// Trampoline is the address of the trap entry page.
	Trampoline = MaxVA - hostarch.PageSize

	// MmapTop is the address of the per-process trap frame page. Mappings
	// are placed below it, growing down.
	MmapTop = Trampoline - hostarch.PageSize
)

// Fault results reported by the faults metric.
const (
	faultMapped  = "mapped"
	faultNoVMA   = "no_vma"
	faultDenied  = "denied"
	faultNoMem   = "nomem"
	faultIOError = "io_error"
)

var (
	faultCounter = metric.MustCreateNewUint64Metric("/mm/faults",
		"Number of user page faults handled, by result.",
		metric.NewField("result", []string{faultMapped, faultNoVMA, faultDenied, faultNoMem, faultIOError}))
	writebackPages = metric.MustCreateNewUint64Metric("/mm/writeback_pages",
		"Number of dirty pages written back to mapped files.")
	writebackBytes = metric.MustCreateNewUint64Metric("/mm/writeback_bytes",
		"Number of bytes written back to mapped files.")
	writebackErrors = metric.MustCreateNewUint64Metric("/mm/writeback_errors",
		"Number of failed page writebacks.")
	mappingsGauge = metric.MustCreateNewInt64Gauge("/mm/mappings",
		"Number of live file mappings across all processes.")
	faultReadBytes = metric.MustCreateNewDistributionMetric("/mm/fault_read_bytes",
		"Bytes read from the mapped file per page fault.",
		metric.ExponentialBuckets(1, 4, 7))
)

// Options configures a MemoryManager.
type Options struct {
	// CheckInvariants causes the vma table to be validated after every
	// mutation. A violation panics.
	CheckInvariants bool
}

// MemoryManager implements a virtual address space.
type MemoryManager struct {
	// mfp is the allocator of physical frames backing populated pages.
	// mfp is immutable.
	mfp *pgalloc.FrameAllocator

	// checkInvariants is immutable.
	checkInvariants bool

	// mu serializes every operation on the address space, including page
	// faults, so that a vma and the page table entries populated from it
	// are always consistent.
	mu sync.Mutex

	// vmas is the table of mappings. A slot is in use iff its valid field
	// is set; valid slots never overlap.
	//
	// vmas is protected by mu.
	vmas [MaxVMAs]vma

	// pt maps populated pages to frames allocated from mfp. Every entry in
	// pt lies within a valid vma.
	//
	// pt is protected by mu.
	pt *pagetables.PageTables

	// released is set by Release.
	//
	// released is protected by mu.
	released bool
}

// NewMemoryManager returns a new MemoryManager with no mappings, backed by
// frames from mfp.
func NewMemoryManager(mfp *pgalloc.FrameAllocator, opts Options) *MemoryManager {
	return &MemoryManager{
		mfp:             mfp,
		checkInvariants: opts.CheckInvariants,
		pt:              pagetables.New(),
	}
}

// ResidentPages returns the number of pages currently populated in mm.
func (mm *MemoryManager) ResidentPages() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.Len()
}

// NumMappings returns the number of valid vmas in mm.
func (mm *MemoryManager) NumMappings() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	n := 0
	for i := range mm.vmas {
		if mm.vmas[i].valid {
			n++
		}
	}
	return n
}
