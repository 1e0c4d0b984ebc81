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

// HandleUserFault handles an application page fault of type at at addr. On
// success the page containing addr is mapped and the faulting access may be
// retried.
//
// HandleUserFault returns:
//   - EFAULT if addr is not in any mapping, or the mapping does not permit
//     at.
//   - ENOMEM if no physical frame is available.
//   - EIO if the page could not be read from the mapped file.
//
// All errors are fatal to the faulting process.
func (mm *MemoryManager) HandleUserFault(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.handleFaultLocked(ctx, addr, at)
}

// TryLazyFaultFill populates the page containing addr from its mapping,
// without regard to the type of the faulting access. It returns false if the
// fault could not be resolved, in which case the caller must treat the fault
// as fatal.
func (mm *MemoryManager) TryLazyFaultFill(ctx context.Context, addr hostarch.Addr) bool {
	return mm.HandleUserFault(ctx, addr, hostarch.NoAccess) == nil
}

// handleFaultLocked implements HandleUserFault.
//
// Preconditions: mm.mu must be locked.
func (mm *MemoryManager) handleFaultLocked(ctx context.Context, addr hostarch.Addr, at hostarch.AccessType) error {
	if mm.released {
		return linuxerr.EFAULT
	}
	v, _ := mm.findVMALocked(addr)
	if v == nil {
		faultCounter.Increment(faultNoVMA)
		return linuxerr.EFAULT
	}
	if !v.perms.SupersetOf(at) {
		faultCounter.Increment(faultDenied)
		return linuxerr.EFAULT
	}

	page := addr.RoundDown()
	if _, ok := mm.pt.Lookup(page); ok {
		// Populated by an earlier fault.
		return nil
	}

	f, err := mm.mfp.Allocate()
	if err != nil {
		faultCounter.Increment(faultNoMem)
		ctx.Warningf("Out of physical memory faulting in %v of %v", page, v)
		return linuxerr.ENOMEM
	}
	mm.mfp.Zero(f)
	n, err := v.file.PRead(ctx, mm.mfp.Bytes(f), v.fileOffset(page))
	if err != nil {
		mm.mfp.Free(f)
		faultCounter.Increment(faultIOError)
		ctx.Warningf("Reading %v of %v: %v", page, v, err)
		return linuxerr.EIO
	}
	faultReadBytes.AddSample(float64(n))

	pte := pagetables.MakePTE(f, pagetables.User|pagetables.PermBits(v.perms))
	mm.pt.Map(page, pte)
	faultCounter.Increment(faultMapped)
	ctx.Debugf("Fault at %v: mapped %v (%d bytes from file)", addr, pte, n)
	return nil
}
