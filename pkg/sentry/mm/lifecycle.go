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
	"github.com/tkos/mmapsys/pkg/ring0/pagetables"
	"github.com/tkos/mmapsys/pkg/sentry/context"
)

// Fork copies every mapping of mm into the same slot of child, taking a new
// reference on each mapped file. Populated pages are not copied: the child
// faults in its own copy of every page it touches.
//
// If a slot needed in child is already in use, Fork returns ENOMEM and child
// is left unchanged.
//
// Preconditions: child is not yet visible to any other goroutine.
func (mm *MemoryManager) Fork(ctx context.Context, child *MemoryManager) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	child.mu.Lock()
	defer child.mu.Unlock()

	if child.released {
		return linuxerr.ESRCH
	}
	for i := range mm.vmas {
		if mm.vmas[i].valid && child.vmas[i].valid {
			ctx.Debugf("fork: child slot %d already holds %v", i, &child.vmas[i])
			return linuxerr.ENOMEM
		}
	}
	for i := range mm.vmas {
		v := &mm.vmas[i]
		if !v.valid {
			continue
		}
		child.vmas[i] = *v
		v.file.IncRef()
		mappingsGauge.Add(1)
	}
	child.checkInvariantsLocked()
	return nil
}

// Release tears down every mapping in mm, writing back dirty pages of shared
// mappings and freeing every populated frame. Writeback failures are logged;
// the remaining pages are still released. mm must not be used afterwards.
func (mm *MemoryManager) Release(ctx context.Context) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return
	}
	mm.released = true

	for i := range mm.vmas {
		v := &mm.vmas[i]
		if !v.valid {
			continue
		}
		if err := mm.releaseRangeLocked(ctx, v, v.Range()); err != nil {
			ctx.Warningf("Writeback of %v failed on exit: %v", v, err)
		}
		mm.destroyVMALocked(ctx, v)
	}

	// Pages outside of every vma should not exist; free them regardless.
	var stray []hostarch.Addr
	mm.pt.VisitRange(hostarch.AddrRange{Start: 0, End: MaxVA}, func(addr hostarch.Addr, pte pagetables.PTE) bool {
		stray = append(stray, addr)
		return true
	})
	for _, addr := range stray {
		pte, _ := mm.pt.Unmap(addr)
		ctx.Warningf("Freeing stray page %v -> %v", addr, pte)
		mm.mfp.Free(pte.Frame())
	}
}

// releaseRangeLocked unmaps every populated page in ar, which must lie
// within v. Dirty pages of shared mappings are written back to v.file at the
// corresponding offset first; writeback never extends the file. Pages that
// were never populated are skipped.
//
// Every page in ar is released even if writeback fails. The returned error
// is EIO if any writeback failed.
//
// Preconditions:
//   - mm.mu must be locked.
//   - v.Range().IsSupersetOf(ar).
//   - ar is page-aligned.
func (mm *MemoryManager) releaseRangeLocked(ctx context.Context, v *vma, ar hostarch.AddrRange) error {
	type page struct {
		addr hostarch.Addr
		pte  pagetables.PTE
	}
	var pages []page
	mm.pt.VisitRange(ar, func(addr hostarch.Addr, pte pagetables.PTE) bool {
		pages = append(pages, page{addr, pte})
		return true
	})

	var retErr error
	vr := v.Range()
	for _, p := range pages {
		mm.pt.Unmap(p.addr)
		f := p.pte.Frame()
		if p.pte.Dirty() && !v.private {
			src := mm.mfp.Bytes(f)
			if rem := uint64(vr.End - p.addr); rem < uint64(len(src)) {
				src = src[:rem]
			}
			n, err := v.file.WriteBack(ctx, src, v.fileOffset(p.addr))
			if err != nil {
				writebackErrors.Increment()
				ctx.Warningf("Writing back %v of %v: %v", p.addr, v, err)
				if retErr == nil {
					retErr = linuxerr.EIO
				}
			} else {
				writebackPages.Increment()
				writebackBytes.IncrementBy(uint64(n))
			}
		}
		mm.mfp.Free(f)
	}
	return retErr
}
