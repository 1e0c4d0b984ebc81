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

// Package kernel provides an emulation of the process-level state of a
// teaching kernel: processes, their file descriptor tables and memory
// managers, and the system call table through which they are driven.
//
// Lock order:
//
//	Kernel.mu
//	  Task.mu
//	    mm.MemoryManager.mu
package kernel

import (
	"fmt"
	"slices"
	"time"

	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/log"
	"github.com/tkos/mmapsys/pkg/metric"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/mm"
	"github.com/tkos/mmapsys/pkg/sentry/pgalloc"
	"github.com/tkos/mmapsys/pkg/sentry/vfs"
	"github.com/tkos/mmapsys/pkg/sync"
	"golang.org/x/sync/errgroup"
)

// ThreadID is a process identifier. Every process has exactly one thread.
type ThreadID int32

// InitTID is the ThreadID of the first process created by a Kernel.
const InitTID ThreadID = 1

// Defaults for zero-valued Options fields.
const (
	DefaultFrames       = 1024
	DefaultMaxProcesses = 64
)

// Syscall results reported by the syscalls metric.
const (
	syscallOK            = "ok"
	syscallError         = "error"
	syscallUnimplemented = "unimplemented"
)

var (
	syscallCounter = metric.MustCreateNewUint64Metric("/kernel/syscalls",
		"Number of system calls executed, by result.",
		metric.NewField("result", []string{syscallOK, syscallError, syscallUnimplemented}))
	killedCounter = metric.MustCreateNewUint64Metric("/kernel/processes_killed",
		"Number of processes killed by an unhandled page fault.")
	processesGauge = metric.MustCreateNewInt64Gauge("/kernel/processes",
		"Number of live processes.")
)

// Options configures a Kernel.
type Options struct {
	// Frames is the number of physical page frames. If zero,
	// DefaultFrames is used.
	Frames uint32

	// MaxFSOps is the number of file system operations that may run
	// concurrently. If zero, the vfs default is used.
	MaxFSOps int64

	// MaxFDs is the size of each process's file descriptor table. If zero,
	// DefaultMaxFDs is used.
	MaxFDs int32

	// MaxProcesses is the number of live processes allowed. If zero,
	// DefaultMaxProcesses is used.
	MaxProcesses int

	// CheckInvariants enables consistency checks of every memory manager
	// after each mutation.
	CheckInvariants bool

	// Syscalls is the system call table used by tasks. If nil, every
	// system call fails with ENOSYS.
	Syscalls *SyscallTable

	// KillLogInterval bounds how often process kills are logged. If zero,
	// every kill is logged.
	KillLogInterval time.Duration
}

// Kernel represents an emulated kernel.
type Kernel struct {
	// ctx is the root context. Task log output is routed to it.
	ctx context.Context

	// The following fields are immutable.
	opts    Options
	fs      *vfs.Filesystem
	mfp     *pgalloc.FrameAllocator
	killLog log.Logger

	// mu protects the fields below.
	mu sync.Mutex

	// nextTID is the ThreadID of the next created process.
	nextTID ThreadID

	// tasks holds every live process.
	tasks map[ThreadID]*Task
}

// NewKernel returns a Kernel with an empty file system and no processes.
func NewKernel(ctx context.Context, opts Options) *Kernel {
	if opts.Frames == 0 {
		opts.Frames = DefaultFrames
	}
	if opts.MaxFDs <= 0 {
		opts.MaxFDs = DefaultMaxFDs
	}
	if opts.MaxProcesses <= 0 {
		opts.MaxProcesses = DefaultMaxProcesses
	}
	killLog := log.Logger(ctx)
	if opts.KillLogInterval > 0 {
		killLog = log.RateLimitedLogger(ctx, opts.KillLogInterval)
	}
	return &Kernel{
		ctx:     ctx,
		opts:    opts,
		fs:      vfs.NewFilesystem(opts.MaxFSOps),
		mfp:     pgalloc.New(opts.Frames),
		killLog: killLog,
		nextTID: InitTID,
		tasks:   make(map[ThreadID]*Task),
	}
}

// Filesystem returns the kernel's file system.
func (k *Kernel) Filesystem() *vfs.Filesystem {
	return k.fs
}

// FrameAllocator returns the kernel's physical memory.
func (k *Kernel) FrameAllocator() *pgalloc.FrameAllocator {
	return k.mfp
}

// SyscallTable returns the kernel's system call table, which may be nil.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.opts.Syscalls
}

func (k *Kernel) newMemoryManager() *mm.MemoryManager {
	return mm.NewMemoryManager(k.mfp, mm.Options{CheckInvariants: k.opts.CheckInvariants})
}

// CreateProcess creates a process with an empty address space and file
// descriptor table.
func (k *Kernel) CreateProcess(name string) (*Task, error) {
	return k.newTask(name, nil, k.newMemoryManager(), k.NewFDTable())
}

// newTask registers a new process. On failure, the memory manager and file
// descriptor table are released.
func (k *Kernel) newTask(name string, parent *Task, m *mm.MemoryManager, fdTable *FDTable) (*Task, error) {
	k.mu.Lock()
	if len(k.tasks) >= k.opts.MaxProcesses {
		k.mu.Unlock()
		m.Release(k.ctx)
		fdTable.DecRef(k.ctx)
		return nil, linuxerr.EAGAIN
	}
	t := &Task{
		k:       k,
		tid:     k.nextTID,
		name:    name,
		parent:  parent,
		mm:      m,
		fdTable: fdTable,
	}
	k.nextTID++
	k.tasks[t.tid] = t
	k.mu.Unlock()

	processesGauge.Add(1)
	t.Debugf("Created process %q", name)
	return t, nil
}

// removeTask unregisters t.
func (k *Kernel) removeTask(t *Task) {
	k.mu.Lock()
	delete(k.tasks, t.tid)
	k.mu.Unlock()
	processesGauge.Add(-1)
}

// TaskWithID returns the live process with the given ThreadID, or nil.
func (k *Kernel) TaskWithID(tid ThreadID) *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasks[tid]
}

// Tasks returns every live process, ordered by ThreadID.
func (k *Kernel) Tasks() []*Task {
	k.mu.Lock()
	ts := make([]*Task, 0, len(k.tasks))
	for _, t := range k.tasks {
		ts = append(ts, t)
	}
	k.mu.Unlock()
	slices.SortFunc(ts, func(a, b *Task) int {
		return int(a.tid - b.tid)
	})
	return ts
}

// Shutdown exits every live process concurrently, writing back their shared
// mappings. Processes that exit on their own while Shutdown runs are
// skipped.
func (k *Kernel) Shutdown(ctx context.Context) error {
	ts := k.Tasks()
	ctx.Debugf("Shutting down %d processes", len(ts))
	var g errgroup.Group
	for _, t := range ts {
		g.Go(func() error {
			if err := t.Exit(0); err != nil && !linuxerr.Equals(linuxerr.ESRCH, err) {
				return fmt.Errorf("exiting %v: %w", t, err)
			}
			return nil
		})
	}
	return g.Wait()
}
