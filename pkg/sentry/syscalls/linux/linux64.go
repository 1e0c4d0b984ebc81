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

// Package linux provides syscall tables for amd64 Linux.
package linux

import (
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/sentry/kernel"
	"github.com/tkos/mmapsys/pkg/sentry/syscalls"
)

// Syscall numbers used outside of the table.
const (
	SYS_OPEN   = 2
	SYS_CLOSE  = 3
	SYS_MMAP   = 9
	SYS_MUNMAP = 11
	SYS_GETPID = 39
	SYS_FORK   = 57
	SYS_EXIT   = 60
)

// AMD64 is a table of Linux amd64 syscall API with the corresponding syscall
// numbers from Linux 4.4. Only the syscalls the kernel emulates are listed;
// every other number fails with ENOSYS.
var AMD64 = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		0:          syscalls.NotSupported("read"),
		1:          syscalls.NotSupported("write"),
		SYS_OPEN:   syscalls.Supported("open", Open),
		SYS_CLOSE:  syscalls.Supported("close", Close),
		SYS_MMAP:   syscalls.PartiallySupported("mmap", Mmap, "Only file-backed mappings at kernel-chosen addresses. MAP_FIXED and MAP_ANONYMOUS fail with EINVAL."),
		10:         syscalls.Error("mprotect", linuxerr.ENOSYS),
		SYS_MUNMAP: syscalls.PartiallySupported("munmap", Munmap, "Ranges must lie within one mapping and not split it; splits fail with EOPNOTSUPP."),
		12:         syscalls.NotSupported("brk"),
		25:         syscalls.Error("mremap", linuxerr.ENOSYS),
		26:         syscalls.Error("msync", linuxerr.ENOSYS),
		SYS_GETPID: syscalls.Supported("getpid", Getpid),
		SYS_FORK:   syscalls.Supported("fork", Fork),
		SYS_EXIT:   syscalls.Supported("exit", Exit),
	},
}

func init() {
	AMD64.Init()
}
