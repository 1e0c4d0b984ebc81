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

package vfs

import (
	"fmt"

	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/refs"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/memmap"
)

// FileDescription is an open file: an inode plus the access mode it was
// opened with. It is shared by file descriptor table entries and memory
// mappings, each holding a reference.
type FileDescription struct {
	refs.Refs[FileDescription]

	fs     *Filesystem
	dentry *dentry
	flags  uint32
}

var _ memmap.Mappable = (*FileDescription)(nil)

func newFileDescription(fs *Filesystem, d *dentry, flags uint32) *FileDescription {
	fd := &FileDescription{
		fs:     fs,
		dentry: d,
		flags:  flags,
	}
	fd.InitRefs()
	return fd
}

// DecRef drops a reference on fd, releasing it when the last reference is
// gone.
func (fd *FileDescription) DecRef(ctx context.Context) {
	fd.Refs.DecRef(func() {
		fd.fs.releaseDentry(ctx, fd.dentry)
	})
}

// Name returns the name fd was opened by.
func (fd *FileDescription) Name() string {
	return fd.dentry.name
}

// Readable returns true if fd was opened for reading.
func (fd *FileDescription) Readable() bool {
	return linux.Readable(fd.flags)
}

// Writable returns true if fd was opened for writing.
func (fd *FileDescription) Writable() bool {
	return linux.Writable(fd.flags)
}

// String implements fmt.Stringer.String.
func (fd *FileDescription) String() string {
	return fmt.Sprintf("%q(flags=%#o refs=%d)", fd.dentry.name, fd.flags, fd.ReadRefs())
}

// WriteOptions contains options to FileDescription.PWrite.
type WriteOptions struct {
	// NoExtend clips the write at the current end of file, so that the
	// file never grows.
	NoExtend bool
}

// Size returns the current size of the file.
func (fd *FileDescription) Size() (int64, error) {
	inode := fd.dentry.inode
	inode.Lock()
	defer inode.Unlock()
	return inode.Size()
}

// PRead reads into dst from the file at offset, bracketed by a file system
// operation and the inode lock. Reading past the end of file is a short
// read, not an error.
func (fd *FileDescription) PRead(ctx context.Context, dst []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	fd.fs.BeginOp()
	defer fd.fs.EndOp()

	inode := fd.dentry.inode
	inode.Lock()
	defer inode.Unlock()

	fd.fs.reads.Add(1)
	n, err := inode.ReadAt(dst, offset)
	if err != nil {
		return n, fmt.Errorf("reading %q at %d: %w", fd.dentry.name, offset, err)
	}
	return n, nil
}

// PWrite writes src to the file at offset, bracketed by a file system
// operation and the inode lock.
func (fd *FileDescription) PWrite(ctx context.Context, src []byte, offset int64, opts WriteOptions) (int, error) {
	if offset < 0 {
		return 0, linuxerr.EINVAL
	}
	fd.fs.BeginOp()
	defer fd.fs.EndOp()

	inode := fd.dentry.inode
	inode.Lock()
	defer inode.Unlock()

	if opts.NoExtend {
		size, err := inode.Size()
		if err != nil {
			return 0, fmt.Errorf("stat %q: %w", fd.dentry.name, err)
		}
		if offset >= size {
			return 0, nil
		}
		if limit := size - offset; int64(len(src)) > limit {
			src = src[:limit]
		}
	}

	fd.fs.writes.Add(1)
	n, err := inode.WriteAt(src, offset)
	if err != nil {
		return n, fmt.Errorf("writing %q at %d: %w", fd.dentry.name, offset, err)
	}
	return n, nil
}

// WriteBack writes src at offset without extending the file. It implements
// memmap.Mappable.WriteBack.
func (fd *FileDescription) WriteBack(ctx context.Context, src []byte, offset int64) (int, error) {
	return fd.PWrite(ctx, src, offset, WriteOptions{NoExtend: true})
}
