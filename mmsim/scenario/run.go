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

package scenario

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/log"
	"github.com/tkos/mmapsys/pkg/refs"
	"github.com/tkos/mmapsys/pkg/sentry/arch"
	"github.com/tkos/mmapsys/pkg/sentry/context"
	"github.com/tkos/mmapsys/pkg/sentry/kernel"
	slinux "github.com/tkos/mmapsys/pkg/sentry/syscalls/linux"
)

// Result summarizes a run.
type Result struct {
	// Steps is the number of steps that completed as expected.
	Steps int

	// Killed lists the processes killed by faults, in order.
	Killed []string

	// PeakFrames is the largest number of frames in use at once.
	PeakFrames uint64

	// FileReads and FileWrites count file I/O, including page fills and
	// writeback.
	FileReads  uint64
	FileWrites uint64

	// Files holds the final contents of every file. It is only set by
	// successful runs.
	Files map[string][]byte
}

// runner holds the names bound while running a scenario.
type runner struct {
	k      *kernel.Kernel
	procs  map[string]*kernel.Task
	fds    map[string]int32
	addrs  map[string]hostarch.Addr
	killed []string
}

// Run runs s on a new kernel configured by opts. If opts names no syscall
// table, the amd64 Linux table is used. The kernel is shut down before Run
// returns, so every shared mapping has been written back by then. With leak
// checking enabled, objects still referenced after shutdown fail the run.
//
// On failure, Run returns the partial result along with the error.
func Run(ctx context.Context, opts kernel.Options, s *Scenario) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if opts.Syscalls == nil {
		opts.Syscalls = slinux.AMD64
	}
	s.Log()

	k := kernel.NewKernel(ctx, opts)
	fs := k.Filesystem()
	for i := range s.Files {
		f := &s.Files[i]
		var err error
		if f.Host != "" {
			err = fs.AddHostFile(f.Name, s.hostPath(f))
		} else {
			err = fs.AddMemFile(f.Name, []byte(f.Contents))
		}
		if err != nil {
			return nil, fmt.Errorf("file %q: %w", f.Name, err)
		}
	}

	r := &runner{
		k:     k,
		procs: make(map[string]*kernel.Task),
		fds:   make(map[string]int32),
		addrs: make(map[string]hostarch.Addr),
	}
	res := &Result{}
	var runErr error
	for i := range s.Steps {
		st := &s.Steps[i]
		if err := r.step(st); err != nil {
			runErr = fmt.Errorf("step %d (%s): %w", i, st, err)
			break
		}
		res.Steps++
	}

	if err := k.Shutdown(ctx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}
	res.Killed = r.killed
	res.PeakFrames = k.FrameAllocator().Peak()
	res.FileReads, res.FileWrites = fs.IOStats()
	if n := k.FrameAllocator().Allocated(); n != 0 && runErr == nil {
		runErr = fmt.Errorf("%d frames still allocated after shutdown", n)
	}
	if leaks := refs.Leaks(); len(leaks) != 0 && runErr == nil {
		runErr = fmt.Errorf("%d references leaked after shutdown:\n%s", len(leaks), strings.Join(leaks, "\n"))
	}
	if runErr != nil {
		log.Debugf("Scenario %q failed after %d steps: %v", s.Name, res.Steps, runErr)
		return res, runErr
	}

	res.Files = make(map[string][]byte)
	for _, name := range fs.Names() {
		contents, err := fs.Contents(ctx, name)
		if err != nil {
			return res, fmt.Errorf("reading file %q: %w", name, err)
		}
		res.Files[name] = contents
	}
	for i := range s.Files {
		f := &s.Files[i]
		if f.Expect != nil && string(res.Files[f.Name]) != *f.Expect {
			return res, fmt.Errorf("file %q contains %q, want %q", f.Name, res.Files[f.Name], *f.Expect)
		}
	}
	log.Debugf("Scenario %q passed: %d steps, %d killed, peak %d frames", s.Name, res.Steps, len(res.Killed), res.PeakFrames)
	return res, nil
}

func (r *runner) fd(s string) (uintptr, error) {
	if fd, ok := r.fds[s]; ok {
		return uintptr(fd), nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("fd %q is not bound", s)
	}
	return uintptr(v), nil
}

func (r *runner) addr(expr string) (hostarch.Addr, error) {
	return evalAddr(expr, func(name string) (hostarch.Addr, bool) {
		a, ok := r.addrs[name]
		return a, ok
	})
}

// step runs st and checks its outcome.
func (r *runner) step(st *Step) error {
	var t *kernel.Task
	if st.Op != OpSpawn {
		t = r.procs[st.Proc]
		if t == nil {
			return fmt.Errorf("process %q was never created", st.Proc)
		}
	}
	killedBefore := t != nil && t.Killed()

	err, mismatch := r.do(t, st)
	if mismatch != nil {
		return mismatch
	}

	killed := t != nil && t.Killed() && !killedBefore
	if killed {
		r.killed = append(r.killed, st.Proc)
	}
	if killed != st.Killed {
		return fmt.Errorf("process killed: %t, want %t (error %v)", killed, st.Killed, err)
	}

	want := st.expectedError()
	switch {
	case want == nil && err != nil && !st.Killed:
		return err
	case want != nil && err == nil:
		return fmt.Errorf("succeeded, want %s", want.Name())
	case want != nil && !linuxerr.Equals(want, err):
		return fmt.Errorf("got error %v, want %s", err, want.Name())
	}
	return nil
}

// do performs st on behalf of t. It returns the error of the operation, and
// a separate error for problems that are not the operation's outcome.
func (r *runner) do(t *kernel.Task, st *Step) (opErr, mismatch error) {
	switch st.Op {
	case OpSpawn:
		child, err := r.k.CreateProcess(st.As)
		if err == nil {
			r.procs[st.As] = child
		}
		return err, nil

	case OpFork:
		tid, err := t.Syscall(slinux.SYS_FORK, arch.Args())
		if err == nil {
			r.procs[st.As] = r.k.TaskWithID(kernel.ThreadID(tid))
		}
		return err, nil

	case OpOpen:
		flags, _ := openFlags(st.Flags)
		fd, err := slinux.OpenPath(t, st.Path, flags)
		if err == nil && st.As != "" {
			r.fds[st.As] = fd
		}
		return err, nil

	case OpClose:
		fd, err := r.fd(st.FD)
		if err != nil {
			return nil, err
		}
		_, err = t.Syscall(slinux.SYS_CLOSE, arch.Args(fd))
		return err, nil

	case OpMmap:
		fd, err := r.fd(st.FD)
		if err != nil {
			return nil, err
		}
		flags, _ := mmapFlags(st.Flags)
		prot, _ := parseAccess(st.Prot)
		addr, err := t.Syscall(slinux.SYS_MMAP, arch.Args(0, uintptr(st.Length), protBits(prot), flags, fd, uintptr(st.Offset)))
		if err == nil {
			if st.As != "" {
				r.addrs[st.As] = hostarch.Addr(addr)
			}
			r.logMappings(t)
		}
		return err, nil

	case OpMunmap:
		addr, err := r.addr(st.Addr)
		if err != nil {
			return nil, err
		}
		_, err = t.Syscall(slinux.SYS_MUNMAP, arch.Args(uintptr(addr), uintptr(st.Length)))
		if err == nil {
			r.logMappings(t)
		}
		return err, nil

	case OpStore:
		addr, err := r.addr(st.Addr)
		if err != nil {
			return nil, err
		}
		_, err = t.Store(addr, []byte(st.Data))
		return err, nil

	case OpLoad:
		addr, err := r.addr(st.Addr)
		if err != nil {
			return nil, err
		}
		n := st.Length
		if n == 0 {
			n = uint64(len(*st.Expect))
		}
		buf := make([]byte, n)
		if _, err := t.Load(addr, buf); err != nil {
			return err, nil
		}
		if st.Expect != nil && string(buf) != *st.Expect {
			return nil, fmt.Errorf("loaded %q, want %q", buf, *st.Expect)
		}
		return nil, nil

	case OpFault:
		addr, err := r.addr(st.Addr)
		if err != nil {
			return nil, err
		}
		at, _ := parseAccess(st.Access)
		return t.HandleFault(addr, at), nil

	case OpExit:
		_, err := t.Syscall(slinux.SYS_EXIT, arch.Args(uintptr(uint32(st.Status))))
		return err, nil

	default:
		panic(fmt.Sprintf("unknown op %q", st.Op))
	}
}

func (r *runner) logMappings(t *kernel.Task) {
	if log.IsLogging(log.Debug) {
		log.Debugf("%s mappings:\n%s", t, t.MemoryManager())
	}
}
