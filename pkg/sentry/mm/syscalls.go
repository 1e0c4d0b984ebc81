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
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/memmap"
)

// MMap establishes a memory mapping. The mapping is placed below every
// existing mapping; opts.Addr is ignored. No pages are populated.
func (mm *MemoryManager) MMap(ctx context.Context, opts memmap.MMapOpts) (hostarch.Addr, error) {
	if opts.Length == 0 {
		return 0, linuxerr.EINVAL
	}
	if opts.Mappable == nil || opts.Fixed {
		return 0, linuxerr.EINVAL
	}
	// Protections must agree with the file's access mode. Writes to private
	// mappings never reach the file.
	if opts.Perms.Read && !opts.Mappable.Readable() {
		return 0, linuxerr.EINVAL
	}
	if opts.Perms.Write && !opts.Private && !opts.Mappable.Writable() {
		return 0, linuxerr.EINVAL
	}
	// Offset must be aligned.
	if !hostarch.Addr(opts.Offset).IsPageAligned() {
		return 0, linuxerr.EINVAL
	}
	length, ok := hostarch.Addr(opts.Length).RoundUp()
	if !ok {
		return 0, linuxerr.ENOMEM
	}
	opts.Length = uint64(length)
	// Offset + length must not overflow.
	if end := opts.Offset + opts.Length; end < opts.Offset {
		return 0, linuxerr.ENOMEM
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return 0, linuxerr.ESRCH
	}

	v, slot := mm.allocateVMALocked()
	if v == nil {
		ctx.Debugf("mmap of %d bytes of %s: all %d vma slots in use", opts.Length, opts.Mappable.Name(), MaxVMAs)
		return 0, linuxerr.ENOMEM
	}
	ar, err := mm.findAvailableLocked(opts.Length)
	if err != nil {
		*v = vma{}
		return 0, err
	}
	v.start = ar.Start
	v.length = opts.Length
	v.file = opts.Mappable
	v.perms = opts.Perms
	v.private = opts.Private
	v.offset = opts.Offset
	opts.Mappable.IncRef()
	mappingsGauge.Add(1)

	ctx.Debugf("mmap slot %d: %v", slot, v)
	mm.checkInvariantsLocked()
	return ar.Start, nil
}

// MUnmap implements the semantics of Linux's munmap(2) for a single mapping.
// Only a prefix, a suffix or the whole of a mapping may be unmapped; ranges
// that would split a mapping in two are rejected with EOPNOTSUPP and have no
// effect.
//
// Pages in the unmapped range are released and, for shared mappings, dirty
// pages are written back to the file first. The mapping is shrunk even if
// writeback fails; the first writeback error is returned.
func (mm *MemoryManager) MUnmap(ctx context.Context, addr hostarch.Addr, length uint64) error {
	if length == 0 {
		return linuxerr.EINVAL
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return linuxerr.EINVAL
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	v, slot := mm.findVMALocked(addr)
	if v == nil {
		return linuxerr.EINVAL
	}
	vr := v.Range()
	if addr > vr.Start && end < vr.End {
		return linuxerr.EOPNOTSUPP
	}

	// A partial leading page stays mapped.
	ar := hostarch.AddrRange{Start: addr, End: end}
	if addr != vr.Start {
		if ar.Start, ok = addr.RoundUp(); !ok {
			return linuxerr.EINVAL
		}
	}
	if ar.End, ok = end.RoundUp(); !ok || ar.End > vr.End {
		ar.End = vr.End
	}
	if ar.Start >= ar.End {
		return nil
	}

	err := mm.releaseRangeLocked(ctx, v, ar)
	if ar.Start == v.start {
		v.start += hostarch.Addr(ar.Length())
		v.offset += ar.Length()
	}
	v.length -= ar.Length()
	if v.length == 0 {
		ctx.Debugf("munmap %v: slot %d freed", ar, slot)
		mm.destroyVMALocked(ctx, v)
	} else {
		ctx.Debugf("munmap %v: slot %d now %v", ar, slot, v)
	}
	mm.checkInvariantsLocked()
	return err
}
