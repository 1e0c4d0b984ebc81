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
	"github.com/tkos/mmapsys/pkg/sync"
)

// Inode is the storage behind a file.
//
// Except for Lock, Unlock and Release, methods require the inode lock.
type Inode interface {
	sync.Locker

	// ReadAt reads into dst at offset. Bytes past the end of the file are
	// not read; a short count is returned without error.
	ReadAt(dst []byte, offset int64) (int, error)

	// WriteAt writes src at offset, growing the file if needed.
	WriteAt(src []byte, offset int64) (int, error)

	// Size returns the file size.
	Size() (int64, error)

	// Truncate sets the file size.
	Truncate(size int64) error

	// Release frees resources held by the inode. The inode must not be used
	// afterwards.
	Release() error
}

// MemInode is an inode whose contents live in kernel memory.
type MemInode struct {
	mu sync.Mutex

	// data is the file contents.
	//
	// data is protected by mu.
	data []byte
}

var _ Inode = (*MemInode)(nil)

// NewMemInode returns a MemInode holding a copy of data.
func NewMemInode(data []byte) *MemInode {
	return &MemInode{data: append([]byte(nil), data...)}
}

// Lock implements sync.Locker.Lock.
func (i *MemInode) Lock() { i.mu.Lock() }

// Unlock implements sync.Locker.Unlock.
func (i *MemInode) Unlock() { i.mu.Unlock() }

// ReadAt implements Inode.ReadAt.
func (i *MemInode) ReadAt(dst []byte, offset int64) (int, error) {
	if offset >= int64(len(i.data)) {
		return 0, nil
	}
	return copy(dst, i.data[offset:]), nil
}

// WriteAt implements Inode.WriteAt.
func (i *MemInode) WriteAt(src []byte, offset int64) (int, error) {
	if end := offset + int64(len(src)); end > int64(len(i.data)) {
		i.data = append(i.data, make([]byte, end-int64(len(i.data)))...)
	}
	return copy(i.data[offset:], src), nil
}

// Size implements Inode.Size.
func (i *MemInode) Size() (int64, error) {
	return int64(len(i.data)), nil
}

// Truncate implements Inode.Truncate.
func (i *MemInode) Truncate(size int64) error {
	if size <= int64(len(i.data)) {
		i.data = i.data[:size]
		return nil
	}
	i.data = append(i.data, make([]byte, size-int64(len(i.data)))...)
	return nil
}

// Release implements Inode.Release.
func (i *MemInode) Release() error { return nil }
