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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"github.com/tkos/mmapsys/pkg/log"
	"github.com/tkos/mmapsys/pkg/sync"
	"golang.org/x/sys/unix"
)

// maxRetries bounds retries of host I/O interrupted by signals.
const maxRetries = 5

// HostInode is an inode backed by a file on the host. The inode lock also
// holds an advisory lock on the host file, so that concurrent simulator runs
// sharing a file do not interleave page writes.
type HostInode struct {
	mu   sync.Mutex
	file *os.File
	lock *flock.Flock
}

var _ Inode = (*HostInode)(nil)

// OpenHostInode opens the host file at path, read-write if the host permits
// it and read-only otherwise. Access checks against the open mode are made by
// file descriptions, not by the host.
func OpenHostInode(path string) (*HostInode, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrPermission) || errors.Is(err, unix.EROFS) {
		f, err = os.OpenFile(path, os.O_RDONLY, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("opening host file %q: %w", path, err)
	}
	return &HostInode{
		file: f,
		lock: flock.New(path),
	}, nil
}

// Lock implements sync.Locker.Lock.
func (i *HostInode) Lock() {
	i.mu.Lock()
	if err := i.lock.Lock(); err != nil {
		log.Warningf("Acquiring lock on host file %q: %v", i.file.Name(), err)
	}
}

// Unlock implements sync.Locker.Unlock.
func (i *HostInode) Unlock() {
	if err := i.lock.Unlock(); err != nil {
		log.Warningf("Releasing lock on host file %q: %v", i.file.Name(), err)
	}
	i.mu.Unlock()
}

// retryInterrupted runs op, retrying while it fails with EINTR or EAGAIN.
func retryInterrupted(op func() error) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), maxRetries)
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

// ReadAt implements Inode.ReadAt.
func (i *HostInode) ReadAt(dst []byte, offset int64) (int, error) {
	total := 0
	for total < len(dst) {
		var n int
		err := retryInterrupted(func() error {
			var err error
			n, err = unix.Pread(int(i.file.Fd()), dst[total:], offset+int64(total))
			return err
		})
		if err != nil {
			return total, fmt.Errorf("pread: %w", unwrapPermanent(err))
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// WriteAt implements Inode.WriteAt.
func (i *HostInode) WriteAt(src []byte, offset int64) (int, error) {
	total := 0
	for total < len(src) {
		var n int
		err := retryInterrupted(func() error {
			var err error
			n, err = unix.Pwrite(int(i.file.Fd()), src[total:], offset+int64(total))
			return err
		})
		if err != nil {
			return total, fmt.Errorf("pwrite: %w", unwrapPermanent(err))
		}
		total += n
	}
	return total, nil
}

// Size implements Inode.Size.
func (i *HostInode) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(i.file.Fd()), &st); err != nil {
		return 0, fmt.Errorf("fstat: %w", err)
	}
	return st.Size, nil
}

// Truncate implements Inode.Truncate.
func (i *HostInode) Truncate(size int64) error {
	if err := unix.Ftruncate(int(i.file.Fd()), size); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}
	return nil
}

// Release implements Inode.Release.
func (i *HostInode) Release() error {
	return errors.Join(i.lock.Close(), i.file.Close())
}

// unwrapPermanent strips the backoff wrapper from errors that were not
// retried.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
