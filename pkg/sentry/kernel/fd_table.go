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

package kernel

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/refs"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/vfs"
	"github.com/tkos/mmapsys/pkg/sync"
)

// DefaultMaxFDs is the default number of descriptors per FDTable.
const DefaultMaxFDs = 16

// FDFlags define flags for an individual descriptor.
type FDFlags struct {
	// CloseOnExec indicates the descriptor should be closed on exec.
	CloseOnExec bool
}

// ToLinuxFileFlags converts a kernel.FDFlags object to a Linux file flags
// representation.
func (f FDFlags) ToLinuxFileFlags() (mask uint) {
	if f.CloseOnExec {
		mask |= linux.O_CLOEXEC
	}
	return
}

// descriptor holds the details about a file descriptor, namely a pointer to
// the file itself and the descriptor flags.
type descriptor struct {
	file  *vfs.FileDescription
	flags FDFlags
}

// FDTable is used to manage File references and flags.
type FDTable struct {
	refs.Refs[FDTable]

	// max is one more than the largest allowed descriptor. max is
	// immutable.
	max int32

	// mu protects below.
	mu sync.Mutex

	// descriptors holds one reference on each file.
	descriptors map[int32]descriptor
}

// NewFDTable allocates a new FDTable that may be used by tasks in k.
func (k *Kernel) NewFDTable() *FDTable {
	return newFDTable(k.opts.MaxFDs)
}

func newFDTable(max int32) *FDTable {
	if max <= 0 {
		max = DefaultMaxFDs
	}
	f := &FDTable{
		max:         max,
		descriptors: make(map[int32]descriptor),
	}
	f.InitRefs()
	return f
}

// destroy removes all of the file descriptors from the map.
func (f *FDTable) destroy(ctx context.Context) {
	f.RemoveIf(ctx, func(*vfs.FileDescription, FDFlags) bool {
		return true
	})
}

// DecRef drops a reference on f, closing every descriptor with the last
// one.
func (f *FDTable) DecRef(ctx context.Context) {
	f.Refs.DecRef(func() {
		f.destroy(ctx)
	})
}

// Size returns the number of descriptors in use.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.descriptors)
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b bytes.Buffer
	for _, fd := range f.fdsLocked() {
		b.WriteString(fmt.Sprintf("\tfd:%d => %v\n", fd, f.descriptors[fd].file))
	}
	return b.String()
}

// fdsLocked returns the descriptors in use, sorted.
//
// Preconditions: f.mu must be locked.
func (f *FDTable) fdsLocked() []int32 {
	fds := make([]int32, 0, len(f.descriptors))
	for fd := range f.descriptors {
		fds = append(fds, fd)
	}
	slices.Sort(fds)
	return fds
}

// NewFDs allocates new FDs guaranteed to be the lowest number available
// greater than or equal to the fd parameter. All files will share the set
// flags. Success is guaranteed to be all or none.
//
// The table takes its own reference on each file.
func (f *FDTable) NewFDs(ctx context.Context, fd int32, files []*vfs.FileDescription, flags FDFlags) (fds []int32, err error) {
	if fd < 0 {
		// Don't accept negative FDs.
		return nil, linuxerr.EINVAL
	}
	if fd >= f.max {
		return nil, linuxerr.EMFILE
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Find all entries before installing any.
	for i := fd; i < f.max && len(fds) < len(files); i++ {
		if _, ok := f.descriptors[i]; !ok {
			fds = append(fds, i)
		}
	}
	if len(fds) < len(files) {
		return nil, linuxerr.EMFILE
	}

	for i, file := range files {
		file.IncRef()
		f.descriptors[fds[i]] = descriptor{file: file, flags: flags}
	}
	return fds, nil
}

// NewFDAt sets the file reference for the given FD. If there is an active
// reference for that FD, it is dropped.
func (f *FDTable) NewFDAt(ctx context.Context, fd int32, file *vfs.FileDescription, flags FDFlags) error {
	if fd < 0 {
		// Don't accept negative FDs.
		return linuxerr.EBADF
	}
	if fd >= f.max {
		return linuxerr.EMFILE
	}

	f.mu.Lock()
	orig, ok := f.descriptors[fd]
	file.IncRef()
	f.descriptors[fd] = descriptor{file: file, flags: flags}
	f.mu.Unlock()

	if ok {
		orig.file.DecRef(ctx)
	}
	return nil
}

// Get returns a reference to the file and the flags for the FD or nil if no
// file is defined for the given fd.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Get(fd int32) (*vfs.FileDescription, FDFlags) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.descriptors[fd]
	if !ok {
		return nil, FDFlags{}
	}
	d.file.IncRef()
	return d.file, d.flags
}

// GetFDs returns a sorted list of valid fds.
func (f *FDTable) GetFDs() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fdsLocked()
}

// Fork returns an independent FDTable holding the same files.
func (f *FDTable) Fork(ctx context.Context) *FDTable {
	clone := newFDTable(f.max)

	f.mu.Lock()
	defer f.mu.Unlock()
	for fd, d := range f.descriptors {
		d.file.IncRef()
		clone.descriptors[fd] = d
	}
	return clone
}

// Remove removes an FD from and returns a non-file iff successful.
//
// N.B. Callers are required to use DecRef when they are done.
func (f *FDTable) Remove(ctx context.Context, fd int32) *vfs.FileDescription {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.descriptors[fd]
	if !ok {
		return nil
	}
	// The table's reference is transferred to the caller.
	delete(f.descriptors, fd)
	return d.file
}

// RemoveIf removes all FDs where cond is true.
func (f *FDTable) RemoveIf(ctx context.Context, cond func(*vfs.FileDescription, FDFlags) bool) {
	var removed []*vfs.FileDescription

	f.mu.Lock()
	for fd, d := range f.descriptors {
		if cond(d.file, d.flags) {
			delete(f.descriptors, fd)
			removed = append(removed, d.file)
		}
	}
	f.mu.Unlock()

	// Files are released without f.mu held, since releasing the last
	// reference may block on the file system.
	for _, file := range removed {
		file.DecRef(ctx)
	}
}
