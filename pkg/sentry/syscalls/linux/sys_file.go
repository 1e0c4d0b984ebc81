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
	"bytes"

	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/arch"
	"github.com/tkos/mmapsys/pkg/sentry/kernel"
	"github.com/tkos/mmapsys/pkg/sentry/vfs"
)

// copyInPath copies a NUL-terminated path from t's memory at addr. Memory is
// read one page at a time so that a path ending just before an unmapped
// page can be copied.
func copyInPath(t *kernel.Task, addr hostarch.Addr) (string, error) {
	var path []byte
	for len(path) < linux.PATH_MAX {
		chunk := int(hostarch.PageSize - addr.PageOffset())
		if rem := linux.PATH_MAX - len(path); chunk > rem {
			chunk = rem
		}
		buf := make([]byte, chunk)
		n, err := t.CopyInBytes(addr, buf)
		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			return string(append(path, buf[:i]...)), nil
		}
		if err != nil {
			return "", err
		}
		path = append(path, buf...)
		addr += hostarch.Addr(chunk)
	}
	return "", linuxerr.ENAMETOOLONG
}

// Open implements Linux syscall open(2).
func Open(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	addr := args[0].Pointer()
	flags := args[1].Uint()

	path, err := copyInPath(t, addr)
	if err != nil {
		return 0, err
	}
	fd, err := OpenPath(t, path, flags)
	return uintptr(fd), err
}

// OpenPath opens path in t's kernel file system and installs it at the
// lowest free descriptor of t, returning the descriptor.
func OpenPath(t *kernel.Task, path string, flags uint32) (int32, error) {
	if path == "" {
		return 0, linuxerr.ENOENT
	}
	file, err := t.Kernel().Filesystem().Open(t, path, flags)
	if err != nil {
		return 0, err
	}
	defer file.DecRef(t)

	fds, err := t.FDTable().NewFDs(t, 0, []*vfs.FileDescription{file}, kernel.FDFlags{
		CloseOnExec: flags&linux.O_CLOEXEC != 0,
	})
	if err != nil {
		return 0, err
	}
	return fds[0], nil
}

// Close implements Linux syscall close(2).
func Close(t *kernel.Task, args arch.SyscallArguments) (uintptr, error) {
	fd := args[0].Int()

	// Note that Remove provides a reference on the file that we drop
	// below. Mappings of the file keep it open.
	file := t.FDTable().Remove(t, fd)
	if file == nil {
		return 0, linuxerr.EBADF
	}
	file.DecRef(t)
	return 0, nil
}
