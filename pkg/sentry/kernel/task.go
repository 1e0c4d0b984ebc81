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
	"fmt"

	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/arch"
	"github.com/tkos/mmapsys/pkg/sentry/mm"
	"github.com/tkos/mmapsys/pkg/sync"
)

// Task represents a process. Every process has exactly one thread.
//
// Except for Exit and the accessors, a Task's methods must be called from a
// single goroutine: the one running the process.
type Task struct {
	// The following fields are immutable.
	k      *Kernel
	tid    ThreadID
	name   string
	parent *Task

	// mm and fdTable are owned by the task; they are released by Exit.
	mm      *mm.MemoryManager
	fdTable *FDTable

	// mu protects the fields below.
	mu sync.Mutex

	// exited is true once Exit has run.
	exited bool

	// exitStatus is the status passed to Exit.
	exitStatus int

	// killed is true if the process was terminated by an unhandled fault.
	killed bool
}

// ThreadID returns t's ThreadID.
func (t *Task) ThreadID() ThreadID {
	return t.tid
}

// Name returns the name t was created with.
func (t *Task) Name() string {
	return t.name
}

// Parent returns the process t was forked from, or nil.
func (t *Task) Parent() *Task {
	return t.parent
}

// Kernel returns the Kernel containing t.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// MemoryManager returns t's MemoryManager.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// FDTable returns t's FDTable.
func (t *Task) FDTable() *FDTable {
	return t.fdTable
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("%d(%s)", t.tid, t.name)
}

// ExitStatus returns the status t exited with, and whether it has exited.
func (t *Task) ExitStatus() (status int, exited bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitStatus, t.exited
}

// Killed returns true if t was terminated by an unhandled fault.
func (t *Task) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// Exited returns true if t has exited.
func (t *Task) Exited() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exited
}

// Fork creates a child process with a copy of t's mappings and file
// descriptors. The child's pages are faulted in independently of t's.
func (t *Task) Fork() (*Task, error) {
	if t.Exited() {
		return nil, linuxerr.ESRCH
	}
	childMM := t.k.newMemoryManager()
	if err := t.mm.Fork(t, childMM); err != nil {
		childMM.Release(t)
		return nil, err
	}
	child, err := t.k.newTask(t.name, t, childMM, t.fdTable.Fork(t))
	if err != nil {
		return nil, err
	}
	t.Debugf("Forked child %v", child)
	return child, nil
}

// Exit destroys t's process: every mapping is torn down, writing back dirty
// pages of shared mappings, and every file descriptor is closed. Exit
// returns ESRCH if t has already exited.
func (t *Task) Exit(status int) error {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return linuxerr.ESRCH
	}
	t.exited = true
	t.exitStatus = status
	t.mu.Unlock()

	t.mm.Release(t)
	t.fdTable.DecRef(t)
	t.k.removeTask(t)
	t.Debugf("Exited with status %d", status)
	return nil
}

// kill terminates t after an unhandled fault at addr.
func (t *Task) kill(addr hostarch.Addr, at hostarch.AccessType, err error) {
	t.mu.Lock()
	if t.exited {
		t.mu.Unlock()
		return
	}
	t.killed = true
	t.mu.Unlock()

	killedCounter.Increment()
	t.k.killLog.Warningf("Killing process %v: unhandled %s fault at %#x: %v", t, at, addr, err)
	t.Exit(-1)
}

// HandleFault is the trap path for a page fault at addr. An empty access
// type is a fault whose cause is unknown; it is resolved only if addr lies
// within a mapping. If the fault cannot be resolved, t's process is killed
// and the fault's error is returned.
func (t *Task) HandleFault(addr hostarch.Addr, at hostarch.AccessType) error {
	if t.Exited() {
		return linuxerr.ESRCH
	}
	var err error
	if !at.Any() {
		if !t.mm.TryLazyFaultFill(t, addr) {
			err = linuxerr.EFAULT
		}
	} else {
		err = t.mm.HandleUserFault(t, addr, at)
	}
	if err != nil {
		t.kill(addr, at, err)
	}
	return err
}

// Load performs a user-mode read of len(dst) bytes at addr. A fault that
// cannot be resolved kills t's process.
func (t *Task) Load(addr hostarch.Addr, dst []byte) (int, error) {
	if t.Exited() {
		return 0, linuxerr.ESRCH
	}
	n, err := t.mm.CopyIn(t, addr, dst)
	if err != nil {
		t.kill(addr+hostarch.Addr(n), hostarch.Read, err)
	}
	return n, err
}

// Store performs a user-mode write of src at addr. A fault that cannot be
// resolved kills t's process.
func (t *Task) Store(addr hostarch.Addr, src []byte) (int, error) {
	if t.Exited() {
		return 0, linuxerr.ESRCH
	}
	n, err := t.mm.CopyOut(t, addr, src)
	if err != nil {
		t.kill(addr+hostarch.Addr(n), hostarch.Write, err)
	}
	return n, err
}

// CopyInBytes copies len(dst) bytes from t's memory at addr on behalf of a
// system call. Unlike Load, a failure only returns an error.
func (t *Task) CopyInBytes(addr hostarch.Addr, dst []byte) (int, error) {
	return t.mm.CopyIn(t, addr, dst)
}

// CopyOutBytes copies src to t's memory at addr on behalf of a system call.
// Unlike Store, a failure only returns an error.
func (t *Task) CopyOutBytes(addr hostarch.Addr, src []byte) (int, error) {
	return t.mm.CopyOut(t, addr, src)
}

// Syscall executes system call sysno with args on behalf of t.
func (t *Task) Syscall(sysno uintptr, args arch.SyscallArguments) (uintptr, error) {
	if t.Exited() {
		return 0, linuxerr.ESRCH
	}
	s := t.k.opts.Syscalls
	var fn SyscallFn
	if s != nil {
		fn = s.Lookup(sysno)
	}
	if fn == nil {
		syscallCounter.Increment(syscallUnimplemented)
		t.Debugf("Unsupported syscall %d(%v)", sysno, args)
		return 0, linuxerr.ENOSYS
	}

	rval, err := fn(t, args)
	if err != nil {
		syscallCounter.Increment(syscallError)
		t.Debugf("%s(%v) = %v", s.LookupName(sysno), args, err)
		return 0, err
	}
	syscallCounter.Increment(syscallOK)
	t.Debugf("%s(%v) = %#x", s.LookupName(sysno), args, rval)
	return rval, nil
}
