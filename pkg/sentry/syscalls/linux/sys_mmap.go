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

package linux

import (
	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/arch"
	"github.com/tkos/mmapsys/pkg/sentry/kernel"
	"github.com/tkos/mmapsys/pkg/sentry/memmap"
)

// Mmap implements Linux syscall mmap(2).
func Mmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	prot := args[2].Int()
	flags := args[3].Int()
	fd := args[4].Int()
	fixed := flags&linux.MAP_FIXED != 0
	private := flags&linux.MAP_PRIVATE != 0
	shared := flags&linux.MAP_SHARED != 0
	anon := flags&linux.MAP_ANONYMOUS != 0

	// Require exactly one of MAP_PRIVATE and MAP_SHARED.
	if private == shared {
		return 0, linuxerr.EINVAL
	}
	// Only file-backed mappings at kernel-chosen addresses are supported.
	if fixed || anon {
		t.Debugf("mmap: unsupported flags %s", linux.MmapFlagsString(uint64(flags)))
		return 0, linuxerr.EINVAL
	}

	opts := memmap.MMapOpts{
		Length:  args[1].Uint64(),
		Offset:  args[5].Uint64(),
		Addr:    args[0].Pointer(),
		Private: private,
		Perms: hostarch.AccessType{
			Read:    linux.PROT_READ&prot != 0,
			Write:   linux.PROT_WRITE&prot != 0,
			Execute: linux.PROT_EXEC&prot != 0,
		},
	}

	// Convert the passed FD to a file reference.
	file, _ := t.FDTable().Get(fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	defer file.DecRef(t)
	opts.Mappable = file

	rv, err := t.MemoryManager().MMap(t, opts)
	if err != nil {
		t.Debugf("mmap(%s, %s, fd %d): %v", linux.ProtString(uint64(prot)), linux.MmapFlagsString(uint64(flags)), fd, err)
	}
	return uintptr(rv), err
}

// Munmap implements Linux syscall munmap(2).
func Munmap(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	return 0, t.MemoryManager().MUnmap(t, args[0].Pointer(), args[1].Uint64())
}
