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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/arch"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/context/contexttest"
	"github.com/tkos/mmapsys/pkg/sentry/memmap"
	"github.com/tkos/mmapsys/pkg/sentry/vfs"
)

func newTestKernel(t *testing.T, opts Options) (context.Context, *Kernel) {
	t.Helper()
	ctx := contexttest.Context(t)
	if opts.Frames == 0 {
		opts.Frames = 64
	}
	opts.CheckInvariants = true
	k := NewKernel(ctx, opts)
	t.Cleanup(func() {
		if err := k.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if got := k.FrameAllocator().Allocated(); got != 0 {
			t.Errorf("%d frames still allocated after Shutdown", got)
		}
	})
	return ctx, k
}

// mapFile opens name in t and maps its first length bytes.
func mapFile(tb testing.TB, t *Task, name string, length uint64, perms hostarch.AccessType, private bool) hostarch.Addr {
	tb.Helper()
	flags := uint32(linux.O_RDONLY)
	if perms.Write && !private {
		flags = linux.O_RDWR
	}
	file, err := t.Kernel().Filesystem().Open(t, name, flags)
	if err != nil {
		tb.Fatalf("Open(%q): %v", name, err)
	}
	defer file.DecRef(t)
	addr, err := t.MemoryManager().MMap(t, memmap.MMapOpts{
		Length:   length,
		Mappable: file,
		Perms:    perms,
		Private:  private,
	})
	if err != nil {
		tb.Fatalf("MMap(%q): %v", name, err)
	}
	return addr
}

func TestCreateProcess(t *testing.T) {
	_, k := newTestKernel(t, Options{MaxProcesses: 2})
	before := processesGauge.Value()

	a, err := k.CreateProcess("a")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	b, err := k.CreateProcess("b")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	if _, err := k.CreateProcess("c"); !linuxerr.Equals(linuxerr.EAGAIN, err) {
		t.Fatalf("CreateProcess over the limit: got %v, want EAGAIN", err)
	}
	if got := processesGauge.Value() - before; got != 2 {
		t.Errorf("processes gauge moved by %d, want 2", got)
	}

	if a.ThreadID() != InitTID || b.ThreadID() != InitTID+1 {
		t.Errorf("ThreadIDs = %d, %d; want %d, %d", a.ThreadID(), b.ThreadID(), InitTID, InitTID+1)
	}
	if got := k.TaskWithID(b.ThreadID()); got != b {
		t.Errorf("TaskWithID(%d) = %v, want %v", b.ThreadID(), got, b)
	}
	if got := TaskFromContext(a); got != a {
		t.Errorf("TaskFromContext = %v, want %v", got, a)
	}
	if got := KernelFromContext(a); got != k {
		t.Errorf("KernelFromContext = %p, want %p", got, k)
	}

	if err := a.Exit(3); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if err := a.Exit(3); !linuxerr.Equals(linuxerr.ESRCH, err) {
		t.Errorf("second Exit: got %v, want ESRCH", err)
	}
	if status, exited := a.ExitStatus(); !exited || status != 3 {
		t.Errorf("ExitStatus() = %d, %t; want 3, true", status, exited)
	}

	var names []string
	for _, task := range k.Tasks() {
		names = append(names, task.Name())
	}
	if diff := cmp.Diff([]string{"b"}, names); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}
}

func TestForkIsolation(t *testing.T) {
	ctx, k := newTestKernel(t, Options{})
	if err := k.Filesystem().AddMemFile("data", bytes.Repeat([]byte("x"), hostarch.PageSize)); err != nil {
		t.Fatalf("AddMemFile: %v", err)
	}
	parent, err := k.CreateProcess("init")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	addr := mapFile(t, parent, "data", hostarch.PageSize, hostarch.ReadWrite, true)
	if _, err := parent.Store(addr, []byte("p")); err != nil {
		t.Fatalf("parent Store: %v", err)
	}

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if child.Parent() != parent {
		t.Errorf("child.Parent() = %v, want %v", child.Parent(), parent)
	}
	if got := child.MemoryManager().ResidentPages(); got != 0 {
		t.Errorf("child has %d resident pages after fork, want 0", got)
	}

	// The child sees the file, not the parent's private modification.
	buf := make([]byte, 1)
	if _, err := child.Load(addr, buf); err != nil {
		t.Fatalf("child Load: %v", err)
	}
	if buf[0] != 'x' {
		t.Errorf("child loaded %q, want %q", buf, "x")
	}
	if _, err := child.Store(addr, []byte("c")); err != nil {
		t.Fatalf("child Store: %v", err)
	}
	if _, err := parent.Load(addr, buf); err != nil {
		t.Fatalf("parent Load: %v", err)
	}
	if buf[0] != 'p' {
		t.Errorf("parent loaded %q, want %q", buf, "p")
	}

	got, err := k.Filesystem().Contents(ctx, "data")
	if err != nil {
		t.Fatalf("Contents: %v", err)
	}
	if got[0] != 'x' {
		t.Errorf("private writes reached the file: %q", got[:1])
	}
}

func TestForkSharesDescriptors(t *testing.T) {
	_, k := newTestKernel(t, Options{})
	if err := k.Filesystem().AddMemFile("f", nil); err != nil {
		t.Fatalf("AddMemFile: %v", err)
	}
	parent, err := k.CreateProcess("init")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	file, err := k.Filesystem().Open(parent, "f", linux.O_RDONLY)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := parent.FDTable().NewFDs(parent, 0, []*vfs.FileDescription{file}, FDFlags{}); err != nil {
		t.Fatalf("NewFDs: %v", err)
	}
	file.DecRef(parent)

	child, err := parent.Fork()
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}
	if diff := cmp.Diff(parent.FDTable().GetFDs(), child.FDTable().GetFDs()); diff != "" {
		t.Errorf("child descriptors mismatch (-parent +child):\n%s", diff)
	}
	if got := file.ReadRefs(); got != 2 {
		t.Errorf("file.ReadRefs() = %d, want 2", got)
	}
	if err := child.Exit(0); err != nil {
		t.Fatalf("Exit: %v", err)
	}
	if got := file.ReadRefs(); got != 1 {
		t.Errorf("file.ReadRefs() after child exit = %d, want 1", got)
	}
}

func TestHandleFault(t *testing.T) {
	_, k := newTestKernel(t, Options{})
	if err := k.Filesystem().AddMemFile("ro", []byte("hello")); err != nil {
		t.Fatalf("AddMemFile: %v", err)
	}

	for _, tc := range []struct {
		name   string
		offset hostarch.Addr
		at     hostarch.AccessType
		killed bool
	}{
		{name: "lazy fill", at: hostarch.NoAccess},
		{name: "read", at: hostarch.Read},
		{name: "write to read-only", at: hostarch.Write, killed: true},
		{name: "unmapped", offset: 2 * hostarch.PageSize, at: hostarch.NoAccess, killed: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			task, err := k.CreateProcess(tc.name)
			if err != nil {
				t.Fatalf("CreateProcess: %v", err)
			}
			addr := mapFile(t, task, "ro", hostarch.PageSize, hostarch.Read, true)
			before := killedCounter.Value()

			err = task.HandleFault(addr+tc.offset, tc.at)
			if tc.killed {
				if !linuxerr.Equals(linuxerr.EFAULT, err) {
					t.Errorf("HandleFault: got %v, want EFAULT", err)
				}
				if !task.Killed() || !task.Exited() {
					t.Errorf("task not killed after an unhandled fault")
				}
				if status, _ := task.ExitStatus(); status != -1 {
					t.Errorf("exit status = %d, want -1", status)
				}
				if got := killedCounter.Value() - before; got != 1 {
					t.Errorf("killed counter moved by %d, want 1", got)
				}
				if k.TaskWithID(task.ThreadID()) != nil {
					t.Errorf("killed task is still registered")
				}
				return
			}
			if err != nil {
				t.Fatalf("HandleFault: %v", err)
			}
			if task.Killed() {
				t.Errorf("task killed after a handled fault")
			}
			if got := task.MemoryManager().ResidentPages(); got != 1 {
				t.Errorf("ResidentPages() = %d, want 1", got)
			}
		})
	}
}

func TestStoreKillsOnProtectionViolation(t *testing.T) {
	_, k := newTestKernel(t, Options{})
	if err := k.Filesystem().AddMemFile("ro", []byte("hello")); err != nil {
		t.Fatalf("AddMemFile: %v", err)
	}
	task, err := k.CreateProcess("init")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}
	addr := mapFile(t, task, "ro", hostarch.PageSize, hostarch.Read, true)

	// Kernel-mode copies report the failure without killing.
	if _, err := task.CopyOutBytes(addr, []byte("x")); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Fatalf("CopyOutBytes: got %v, want EFAULT", err)
	}
	if task.Killed() {
		t.Fatalf("CopyOutBytes killed the task")
	}

	if _, err := task.Store(addr, []byte("x")); !linuxerr.Equals(linuxerr.EFAULT, err) {
		t.Fatalf("Store: got %v, want EFAULT", err)
	}
	if !task.Killed() {
		t.Errorf("Store to a read-only mapping did not kill the task")
	}
	if _, err := task.Load(addr, make([]byte, 1)); !linuxerr.Equals(linuxerr.ESRCH, err) {
		t.Errorf("Load after kill: got %v, want ESRCH", err)
	}
}

func TestSyscallDispatch(t *testing.T) {
	table := &SyscallTable{
		Table: map[uintptr]Syscall{
			7: {
				Name: "double",
				Fn: func(t *Task, args arch.SyscallArguments) (uintptr, error) {
					return args[0].Value * 2, nil
				},
			},
			8: {
				Name: "fail",
				Fn: func(*Task, arch.SyscallArguments) (uintptr, error) {
					return 0, linuxerr.EINVAL
				},
			},
		},
	}
	table.Init()
	_, k := newTestKernel(t, Options{Syscalls: table})
	task, err := k.CreateProcess("init")
	if err != nil {
		t.Fatalf("CreateProcess: %v", err)
	}

	ok := syscallCounter.Value(syscallOK)
	unimpl := syscallCounter.Value(syscallUnimplemented)

	if rval, err := task.Syscall(7, arch.Args(21)); err != nil || rval != 42 {
		t.Errorf("Syscall(7, 21) = %d, %v; want 42, nil", rval, err)
	}
	if _, err := task.Syscall(8, arch.Args()); !linuxerr.Equals(linuxerr.EINVAL, err) {
		t.Errorf("Syscall(8): got %v, want EINVAL", err)
	}
	if _, err := task.Syscall(9, arch.Args()); !linuxerr.Equals(linuxerr.ENOSYS, err) {
		t.Errorf("Syscall(9): got %v, want ENOSYS", err)
	}
	if got := syscallCounter.Value(syscallOK) - ok; got != 1 {
		t.Errorf("ok syscalls moved by %d, want 1", got)
	}
	if got := syscallCounter.Value(syscallUnimplemented) - unimpl; got != 1 {
		t.Errorf("unimplemented syscalls moved by %d, want 1", got)
	}
	if got, want := table.LookupName(9), "sys_9"; got != want {
		t.Errorf("LookupName(9) = %q, want %q", got, want)
	}
}

func TestShutdownWritesBack(t *testing.T) {
	ctx := contexttest.Context(t)
	k := NewKernel(ctx, Options{Frames: 16, CheckInvariants: true})
	for _, name := range []string{"a", "b"} {
		if err := k.Filesystem().AddMemFile(name, []byte("........")); err != nil {
			t.Fatalf("AddMemFile: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		task, err := k.CreateProcess("p")
		if err != nil {
			t.Fatalf("CreateProcess: %v", err)
		}
		for _, name := range []string{"a", "b"} {
			addr := mapFile(t, task, name, hostarch.PageSize, hostarch.ReadWrite, false)
			if _, err := task.Store(addr+hostarch.Addr(i), []byte{byte('0' + i)}); err != nil {
				t.Fatalf("Store: %v", err)
			}
		}
	}

	if err := k.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := len(k.Tasks()); got != 0 {
		t.Errorf("%d tasks left after Shutdown", got)
	}
	if got := k.FrameAllocator().Allocated(); got != 0 {
		t.Errorf("%d frames still allocated", got)
	}
	for _, name := range []string{"a", "b"} {
		got, err := k.Filesystem().Contents(ctx, name)
		if err != nil {
			t.Fatalf("Contents: %v", err)
		}
		// Pages write back whole, so only the last process to exit
		// leaves its byte.
		if !bytes.ContainsAny(got[:3], "012") {
			t.Errorf("%s = %q, want at least one process's write", name, got)
		}
		if len(got) != 8 {
			t.Errorf("%s has length %d, want 8", name, len(got))
		}
	}
}

func TestSyscallTableLookup(t *testing.T) {
	m := make(map[uintptr]Syscall)
	for i := uintptr(0); i <= 300; i++ {
		j := i
		m[i] = Syscall{
			Fn: func(*Task, arch.SyscallArguments) (uintptr, error) {
				return j, nil
			},
		}
	}
	table := &SyscallTable{Table: m}
	table.Init()

	for i := uintptr(0); i <= 300; i++ {
		fn := table.Lookup(i)
		if fn == nil {
			t.Errorf("Syscall %v is set to nil", i)
			continue
		}
		if v, _ := fn(nil, arch.SyscallArguments{}); v != i {
			t.Errorf("Wrong return value for syscall %v: expected %v, got %v", i, i, v)
		}
		if table.mapLookup(i) == nil {
			t.Errorf("mapLookup(%v) = nil", i)
		}
	}
	for i := uintptr(301); i < 400; i++ {
		if fn := table.Lookup(i); fn != nil {
			t.Errorf("Syscall %v is not nil", i)
		}
	}
}
