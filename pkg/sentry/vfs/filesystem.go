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

// Package vfs implements the file layer used by memory mappings: a flat
// namespace of files, open file descriptions, and inodes backed either by
// kernel memory or by files on the host.
//
// Lock order:
//
//	Filesystem op admission (BeginOp/EndOp)
//	  Inode lock
//	    Filesystem.mu
package vfs

import (
	stdcontext "context"
	"fmt"
	"sort"

	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/atomicbitops"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sync"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxOps is the default number of file system operations that may be
// in flight at once.
const DefaultMaxOps = 10

// Filesystem is a flat namespace of files.
type Filesystem struct {
	// ops admits at most maxOps concurrent operations between BeginOp and
	// EndOp.
	ops *semaphore.Weighted

	// reads and writes count I/O operations issued through file
	// descriptions.
	reads  atomicbitops.Uint64
	writes atomicbitops.Uint64

	mu sync.Mutex

	// files maps names to dentries.
	//
	// files is protected by mu.
	files map[string]*dentry
}

// dentry binds a name to an inode.
type dentry struct {
	name string

	// hostPath is the host file backing the dentry, or empty for a file held
	// in kernel memory.
	hostPath string

	// inode is the dentry's inode. For host files it is non-nil only while
	// at least one file description is open.
	inode Inode

	// opens is the number of live file descriptions on the dentry.
	opens int
}

// NewFilesystem returns an empty Filesystem admitting at most maxOps
// concurrent operations.
func NewFilesystem(maxOps int64) *Filesystem {
	if maxOps <= 0 {
		maxOps = DefaultMaxOps
	}
	return &Filesystem{
		ops:   semaphore.NewWeighted(maxOps),
		files: make(map[string]*dentry),
	}
}

// BeginOp admits one file system operation, blocking while the maximum
// number of operations are in flight. Every BeginOp must be paired with
// EndOp.
func (fs *Filesystem) BeginOp() {
	// Acquire only fails when its context is cancelled.
	if err := fs.ops.Acquire(stdcontext.Background(), 1); err != nil {
		panic(fmt.Sprintf("BeginOp: %v", err))
	}
}

// EndOp ends an operation admitted by BeginOp.
func (fs *Filesystem) EndOp() {
	fs.ops.Release(1)
}

// AddMemFile creates or replaces a file held in kernel memory.
func (fs *Filesystem) AddMemFile(name string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if d, ok := fs.files[name]; ok && d.opens > 0 {
		return linuxerr.EBUSY
	}
	fs.files[name] = &dentry{name: name, inode: NewMemInode(data)}
	return nil
}

// AddHostFile binds name to an existing host file. The host file is opened
// when the first file description on name is created.
func (fs *Filesystem) AddHostFile(name, path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if d, ok := fs.files[name]; ok && d.opens > 0 {
		return linuxerr.EBUSY
	}
	fs.files[name] = &dentry{name: name, hostPath: path}
	return nil
}

// Names returns the sorted names of all files.
func (fs *Filesystem) Names() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open returns a new file description for name with the given open(2)
// flags. The description holds one reference, owned by the caller.
func (fs *Filesystem) Open(ctx context.Context, name string, flags uint32) (*FileDescription, error) {
	fs.mu.Lock()
	d, ok := fs.files[name]
	if !ok {
		if flags&linux.O_CREAT == 0 {
			fs.mu.Unlock()
			return nil, linuxerr.ENOENT
		}
		d = &dentry{name: name, inode: NewMemInode(nil)}
		fs.files[name] = d
	}
	if d.inode == nil {
		inode, err := OpenHostInode(d.hostPath)
		if err != nil {
			fs.mu.Unlock()
			ctx.Warningf("Opening host file %q for %q: %v", d.hostPath, name, err)
			return nil, linuxerr.EIO
		}
		d.inode = inode
	}
	d.opens++
	fs.mu.Unlock()

	fd := newFileDescription(fs, d, flags)
	if flags&linux.O_TRUNC != 0 && fd.Writable() {
		fs.BeginOp()
		d.inode.Lock()
		err := d.inode.Truncate(0)
		d.inode.Unlock()
		fs.EndOp()
		if err != nil {
			fd.DecRef(ctx)
			return nil, linuxerr.EIO
		}
	}
	return fd, nil
}

// releaseDentry drops a description's hold on d. The inode of a host file
// is released with its last description.
func (fs *Filesystem) releaseDentry(ctx context.Context, d *dentry) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	d.opens--
	if d.opens < 0 {
		panic(fmt.Sprintf("dentry %q released more often than opened", d.name))
	}
	if d.opens == 0 && d.hostPath != "" && d.inode != nil {
		if err := d.inode.Release(); err != nil {
			ctx.Warningf("Releasing host file %q: %v", d.hostPath, err)
		}
		d.inode = nil
	}
}

// Contents returns a copy of the contents of name.
func (fs *Filesystem) Contents(ctx context.Context, name string) ([]byte, error) {
	fd, err := fs.Open(ctx, name, linux.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer fd.DecRef(ctx)
	size, err := fd.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := fd.PRead(ctx, buf, 0)
	return buf[:n], err
}

// IOStats returns the number of reads and writes issued through file
// descriptions of fs.
func (fs *Filesystem) IOStats() (reads, writes uint64) {
	return fs.reads.Load(), fs.writes.Load()
}
