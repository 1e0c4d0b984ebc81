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

// Application memory is accessed the way the hardware would: each page is
// translated through the page table, a missing entry raises a page fault
// that is resolved by handleFaultLocked, and an entry lacking the required
// permission is a protection fault that is never resolved lazily. Stores
// set the entry's dirty bit, which later decides whether the page is
// written back.

// CheckIORange is similar to hostarch.Addr.ToRange, but also requires the
// range to lie below MaxVA.
func (mm *MemoryManager) CheckIORange(addr hostarch.Addr, length int64) (hostarch.AddrRange, bool) {
	if length < 0 {
		return hostarch.AddrRange{}, false
	}
	ar, ok := addr.ToRange(uint64(length))
	return ar, ok && ar.End <= MaxVA
}

// CopyOut copies src to the application's memory at addr, faulting in pages
// as needed. It returns the number of bytes copied and the error that
// stopped the copy, if any.
func (mm *MemoryManager) CopyOut(ctx context.Context, addr hostarch.Addr, src []byte) (int, error) {
	if _, ok := mm.CheckIORange(addr, int64(len(src))); !ok {
		return 0, linuxerr.EFAULT
	}
	if len(src) == 0 {
		return 0, nil
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.withPagesLocked(ctx, addr, len(src), hostarch.Write, func(mem []byte, done int) int {
		return copy(mem, src[done:])
	})
}

// CopyIn copies from the application's memory at addr into dst, faulting in
// pages as needed. It returns the number of bytes copied and the error that
// stopped the copy, if any.
func (mm *MemoryManager) CopyIn(ctx context.Context, addr hostarch.Addr, dst []byte) (int, error) {
	if _, ok := mm.CheckIORange(addr, int64(len(dst))); !ok {
		return 0, linuxerr.EFAULT
	}
	if len(dst) == 0 {
		return 0, nil
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.withPagesLocked(ctx, addr, len(dst), hostarch.Read, func(mem []byte, done int) int {
		return copy(dst[done:], mem)
	})
}

// ZeroOut writes toZero zero bytes to the application's memory at addr.
func (mm *MemoryManager) ZeroOut(ctx context.Context, addr hostarch.Addr, toZero int64) (int64, error) {
	if _, ok := mm.CheckIORange(addr, toZero); !ok {
		return 0, linuxerr.EFAULT
	}
	if toZero == 0 {
		return 0, nil
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	n, err := mm.withPagesLocked(ctx, addr, int(toZero), hostarch.Write, func(mem []byte, _ int) int {
		clear(mem)
		return len(mem)
	})
	return int64(n), err
}

// withPagesLocked translates each page of [addr, addr+length) for an access
// of type at, and calls fn with the frame memory backing the untransferred
// part of that page. fn returns the number of bytes it transferred.
//
// Preconditions:
//   - mm.mu must be locked.
//   - at is either hostarch.Read or hostarch.Write.
//   - The range passed CheckIORange and is non-empty.
func (mm *MemoryManager) withPagesLocked(ctx context.Context, addr hostarch.Addr, length int, at hostarch.AccessType, fn func(mem []byte, done int) int) (int, error) {
	done := 0
	for done < length {
		cur := addr + hostarch.Addr(done)
		page := cur.RoundDown()
		pte, ok := mm.pt.Lookup(page)
		if !ok {
			if err := mm.handleFaultLocked(ctx, cur, at); err != nil {
				return done, err
			}
			pte, _ = mm.pt.Lookup(page)
		}
		if !pte.User() || !pte.AccessType().SupersetOf(at) {
			return done, linuxerr.EFAULT
		}

		mem := mm.mfp.Bytes(pte.Frame())[cur.PageOffset():]
		if rem := length - done; rem < len(mem) {
			mem = mem[:rem]
		}
		done += fn(mem, done)

		flags := pagetables.Accessed
		if at.Write {
			flags |= pagetables.Dirty
		}
		mm.pt.SetFlags(page, flags)
	}
	return done, nil
}
