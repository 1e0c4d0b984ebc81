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


// Package pgalloc contains the physical frame allocator.
//
// Physical memory is a fixed array of page-sized frames, set up when the
// kernel boots. Frames are handed out one at a time and are never shared
// between address spaces.
package pgalloc

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/metric"
	"github.com/tkos/mmapsys/pkg/sync"
)

// Frames freshly allocated or freed are filled with junk so that code reading
// a frame before initializing it, or after releasing it, sees garbage rather
// than plausible data.
const (
	allocJunk = 0x05
	freeJunk  = 0x01
)

var (
	framesInUse = metric.MustCreateNewInt64Gauge("/pgalloc/frames_in_use", "Number of physical frames currently allocated.")
	allocFails  = metric.MustCreateNewUint64Metric("/pgalloc/alloc_failures", "Number of frame allocations that failed because physical memory was exhausted.")
)

// FrameNumber identifies a physical frame.
type FrameNumber uint32

// String implements fmt.Stringer.String.
func (f FrameNumber) String() string {
	return fmt.Sprintf("frame#%d", uint32(f))
}

// FrameAllocator allocates page-sized physical frames.
//
// FrameAllocator is safe for concurrent use. Its lock is the innermost in the
// kernel's lock order.
type FrameAllocator struct {
	// mem is the backing store of all frames. It is immutable after creation;
	// the contents of frame f are mem[f*PageSize:(f+1)*PageSize] and are owned
	// by whoever allocated f.
	mem []byte

	mu sync.Mutex

	// free is the set of unallocated frames.
	//
	// free is protected by mu.
	free *roaring.Bitmap

	// peak is the largest number of frames simultaneously allocated.
	//
	// peak is protected by mu.
	peak uint64
}

// New returns a FrameAllocator managing the given number of frames.
func New(frames uint32) *FrameAllocator {
	free := roaring.New()
	free.AddRange(0, uint64(frames))
	return &FrameAllocator{
		mem:  make([]byte, uint64(frames)*hostarch.PageSize),
		free: free,
	}
}

// TotalFrames returns the number of frames managed by fa.
func (fa *FrameAllocator) TotalFrames() uint64 {
	return uint64(len(fa.mem)) / hostarch.PageSize
}

// Allocate removes one frame from the free set and returns it. The frame's
// contents are junk. If no frame is free, Allocate returns ENOMEM.
func (fa *FrameAllocator) Allocate() (FrameNumber, error) {
	fa.mu.Lock()
	if fa.free.IsEmpty() {
		fa.mu.Unlock()
		allocFails.Increment()
		return 0, linuxerr.ENOMEM
	}
	f := fa.free.Minimum()
	fa.free.Remove(f)
	if used := fa.allocatedLocked(); used > fa.peak {
		fa.peak = used
	}
	fa.mu.Unlock()

	framesInUse.Add(1)
	fill(fa.Bytes(FrameNumber(f)), allocJunk)
	return FrameNumber(f), nil
}

// Free returns f to the free set.
//
// Preconditions: f was returned by Allocate and has not been freed since.
func (fa *FrameAllocator) Free(f FrameNumber) {
	if uint64(f) >= fa.TotalFrames() {
		panic(fmt.Sprintf("freeing %v outside of physical memory (%d frames)", f, fa.TotalFrames()))
	}
	fill(fa.Bytes(f), freeJunk)

	fa.mu.Lock()
	defer fa.mu.Unlock()
	if !fa.free.CheckedAdd(uint32(f)) {
		panic(fmt.Sprintf("double free of %v", f))
	}
	framesInUse.Add(-1)
}

// Bytes returns the memory of frame f. The returned slice aliases physical
// memory and is only valid while the caller owns f.
func (fa *FrameAllocator) Bytes(f FrameNumber) []byte {
	off := uint64(f) * hostarch.PageSize
	return fa.mem[off : off+hostarch.PageSize : off+hostarch.PageSize]
}

// Zero clears the contents of frame f.
func (fa *FrameAllocator) Zero(f FrameNumber) {
	clear(fa.Bytes(f))
}

// IsAllocated returns true if f is currently allocated.
func (fa *FrameAllocator) IsAllocated(f FrameNumber) bool {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return uint64(f) < fa.TotalFrames() && !fa.free.Contains(uint32(f))
}

// Allocated returns the number of frames currently allocated.
func (fa *FrameAllocator) Allocated() uint64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.allocatedLocked()
}

// Peak returns the largest number of frames that were allocated at once.
func (fa *FrameAllocator) Peak() uint64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.peak
}

// Preconditions: fa.mu must be locked.
func (fa *FrameAllocator) allocatedLocked() uint64 {
	return fa.TotalFrames() - fa.free.GetCardinality()
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
