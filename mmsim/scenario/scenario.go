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

// Package scenario loads, checks and runs scripted sequences of process
// and memory operations against an emulated kernel.
//
// A scenario is a YAML document naming the files of the emulated file
// system and the steps to run. Steps bind their results (processes, file
// descriptors and mapping addresses) to names that later steps refer to:
//
//	name: shared-write
//	files:
//	  - name: data
//	    contents: "hello"
//	    expect: "Jello"
//	steps:
//	  - {op: spawn, as: init}
//	  - {op: open, proc: init, path: data, flags: [rdwr], as: fd}
//	  - {op: mmap, proc: init, fd: fd, length: 4096, prot: rw, flags: [shared], as: m}
//	  - {op: store, proc: init, addr: m, data: "J"}
//	  - {op: exit, proc: init}
package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
	"github.com/tkos/mmapsys/pkg/abi/linux"
	"github.com/tkos/mmapsys/pkg/errors"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/log"
	"gopkg.in/yaml.v3"
)

// Step operations.
const (
	OpSpawn  = "spawn"
	OpOpen   = "open"
	OpClose  = "close"
	OpMmap   = "mmap"
	OpMunmap = "munmap"
	OpStore  = "store"
	OpLoad   = "load"
	OpFault  = "fault"
	OpFork   = "fork"
	OpExit   = "exit"
)

// MaxLoadLength is the largest number of bytes a single load step may read.
const MaxLoadLength = 1 << 20

// Scenario is a named sequence of steps run against a fresh kernel.
type Scenario struct {
	// Name identifies the scenario in logs.
	Name string `yaml:"name"`

	// Files populate the file system before the first step.
	Files []File `yaml:"files,omitempty"`

	// Steps are run in order.
	Steps []Step `yaml:"steps"`

	// dir is the directory relative host file paths are resolved against.
	dir string
}

// File is a file of the emulated file system.
type File struct {
	// Name is the path processes open the file by.
	Name string `yaml:"name"`

	// Contents is the initial contents of an in-memory file.
	Contents string `yaml:"contents,omitempty"`

	// Host, if set, binds the file to a host file instead of holding
	// Contents in memory.
	Host string `yaml:"host,omitempty"`

	// Expect, if set, is the contents the file must have once every
	// process has exited.
	Expect *string `yaml:"expect,omitempty"`
}

// Step is a single operation on behalf of a process.
type Step struct {
	// Op is one of the Op constants.
	Op string `yaml:"op"`

	// Proc names the process performing the step. Unused by spawn.
	Proc string `yaml:"proc,omitempty"`

	// As binds the result of spawn, fork, open or mmap to a name.
	As string `yaml:"as,omitempty"`

	// Path is the file opened by open.
	Path string `yaml:"path,omitempty"`

	// FD is a name bound by open, or a literal descriptor number.
	FD string `yaml:"fd,omitempty"`

	// Flags are open(2) flags (rdonly, wronly, rdwr, creat, trunc, cloexec)
	// or mmap(2) flags (shared, private, fixed, anonymous).
	Flags []string `yaml:"flags,omitempty"`

	// Prot is the protection of a mapping as any of the letters "rwx", or
	// "none".
	Prot string `yaml:"prot,omitempty"`

	// Access is the access type of a fault, as for Prot. An empty access
	// requests a lazy fill.
	Access string `yaml:"access,omitempty"`

	// Addr is an address expression: a name bound by mmap or a number,
	// optionally followed by "+offset" or "-offset".
	Addr string `yaml:"addr,omitempty"`

	// Length is the length of mmap, munmap and load.
	Length uint64 `yaml:"length,omitempty"`

	// Offset is the file offset of mmap.
	Offset uint64 `yaml:"offset,omitempty"`

	// Data is written by store.
	Data string `yaml:"data,omitempty"`

	// Expect, if set, is the data load must read.
	Expect *string `yaml:"expect,omitempty"`

	// Status is the exit status of exit.
	Status int32 `yaml:"status,omitempty"`

	// Error, if set, is the name of the errno the step must fail with.
	Error string `yaml:"error,omitempty"`

	// Killed requires the step to kill its process.
	Killed bool `yaml:"killed,omitempty"`
}

// String implements fmt.Stringer.
func (s *Step) String() string {
	if s.Proc == "" {
		return s.Op
	}
	return fmt.Sprintf("%s(%s)", s.Op, s.Proc)
}

// Load reads a scenario from r. Unknown fields are rejected.
func Load(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s Scenario
	if err := dec.Decode(&s); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty scenario")
		}
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	return &s, nil
}

// LoadFile reads the scenario in the file at path. Relative host file paths
// are resolved against the directory of path.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// hostPath returns the host path of f.
func (s *Scenario) hostPath(f *File) string {
	if filepath.IsAbs(f.Host) || s.dir == "" {
		return f.Host
	}
	return filepath.Join(s.dir, f.Host)
}

// Validate checks that s is well formed: every operation is known, carries
// the fields it needs, and refers only to names bound by earlier steps.
func (s *Scenario) Validate() error {
	files := make(map[string]struct{})
	for i := range s.Files {
		f := &s.Files[i]
		if f.Name == "" {
			return fmt.Errorf("file %d: missing name", i)
		}
		if _, ok := files[f.Name]; ok {
			return fmt.Errorf("file %q: duplicate name", f.Name)
		}
		if f.Host != "" && f.Contents != "" {
			return fmt.Errorf("file %q: both host and contents set", f.Name)
		}
		files[f.Name] = struct{}{}
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("no steps")
	}

	v := validator{
		procs: make(map[string]struct{}),
		names: make(map[string]struct{}),
		addrs: make(map[string]struct{}),
	}
	for i := range s.Steps {
		if err := v.step(&s.Steps[i]); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, &s.Steps[i], err)
		}
	}
	return nil
}

// validator tracks the names bound by the steps validated so far.
type validator struct {
	procs map[string]struct{}
	names map[string]struct{}
	addrs map[string]struct{}
}

func (v *validator) bind(st *Step) error {
	if st.As == "" {
		return nil
	}
	if _, ok := v.names[st.As]; ok {
		return fmt.Errorf("name %q bound twice", st.As)
	}
	v.names[st.As] = struct{}{}
	return nil
}

func (v *validator) step(st *Step) error {
	if st.Op == "" {
		return fmt.Errorf("missing op")
	}
	if st.Error != "" {
		if _, ok := linuxerr.Lookup(st.Error); !ok {
			return fmt.Errorf("unknown error %q", st.Error)
		}
	}
	if st.Op != OpSpawn {
		if st.Proc == "" {
			return fmt.Errorf("missing proc")
		}
		if _, ok := v.procs[st.Proc]; !ok {
			return fmt.Errorf("unknown proc %q", st.Proc)
		}
	}
	if st.Killed && st.Op != OpStore && st.Op != OpLoad && st.Op != OpFault {
		return fmt.Errorf("only store, load and fault can kill")
	}

	switch st.Op {
	case OpSpawn, OpFork:
		if st.As == "" {
			return fmt.Errorf("missing as")
		}
		if err := v.bind(st); err != nil {
			return err
		}
		v.procs[st.As] = struct{}{}
	case OpOpen:
		if _, err := openFlags(st.Flags); err != nil {
			return err
		}
		if err := v.bind(st); err != nil {
			return err
		}
	case OpClose:
		if err := v.fd(st.FD); err != nil {
			return err
		}
	case OpMmap:
		if err := v.fd(st.FD); err != nil {
			return err
		}
		if _, err := mmapFlags(st.Flags); err != nil {
			return err
		}
		if _, err := parseAccess(st.Prot); err != nil {
			return err
		}
		if err := v.bind(st); err != nil {
			return err
		}
		if st.As != "" {
			v.addrs[st.As] = struct{}{}
		}
	case OpMunmap:
		if err := v.addr(st.Addr); err != nil {
			return err
		}
	case OpStore:
		if err := v.addr(st.Addr); err != nil {
			return err
		}
		if st.Data == "" {
			return fmt.Errorf("missing data")
		}
	case OpLoad:
		if err := v.addr(st.Addr); err != nil {
			return err
		}
		if st.Length == 0 && st.Expect == nil {
			return fmt.Errorf("missing length")
		}
		if st.Length > MaxLoadLength {
			return fmt.Errorf("length %d exceeds %d", st.Length, MaxLoadLength)
		}
		if st.Expect != nil && st.Length != 0 && st.Length != uint64(len(*st.Expect)) {
			return fmt.Errorf("length %d does not match expect", st.Length)
		}
	case OpFault:
		if err := v.addr(st.Addr); err != nil {
			return err
		}
		if _, err := parseAccess(st.Access); err != nil {
			return err
		}
	case OpExit:
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

func (v *validator) fd(fd string) error {
	if fd == "" {
		return fmt.Errorf("missing fd")
	}
	if _, ok := v.names[fd]; ok {
		return nil
	}
	if _, err := strconv.ParseInt(fd, 10, 32); err != nil {
		return fmt.Errorf("fd %q is neither bound nor a number", fd)
	}
	return nil
}

func (v *validator) addr(expr string) error {
	if expr == "" {
		return fmt.Errorf("missing addr")
	}
	_, err := evalAddr(expr, func(name string) (hostarch.Addr, bool) {
		_, ok := v.addrs[name]
		return 0, ok
	})
	return err
}

// evalAddr evaluates an address expression, resolving names with lookup.
func evalAddr(expr string, lookup func(string) (hostarch.Addr, bool)) (hostarch.Addr, error) {
	expr = strings.TrimSpace(expr)
	if a, ok := lookup(expr); ok {
		return a, nil
	}
	base, off, neg := expr, "", false
	i := strings.LastIndexAny(expr, "+-")
	if i > 0 {
		base, off, neg = strings.TrimSpace(expr[:i]), strings.TrimSpace(expr[i+1:]), expr[i] == '-'
	}

	var addr hostarch.Addr
	if v, err := strconv.ParseUint(base, 0, 64); err == nil {
		addr = hostarch.Addr(v)
	} else if a, ok := lookup(base); ok {
		addr = a
	} else {
		return 0, fmt.Errorf("address %q: unknown name %q", expr, base)
	}
	if i <= 0 {
		return addr, nil
	}
	delta, err := strconv.ParseUint(off, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: bad offset %q", expr, off)
	}
	if neg {
		return addr - hostarch.Addr(delta), nil
	}
	return addr + hostarch.Addr(delta), nil
}

// parseAccess parses a protection such as "rw" or "none".
func parseAccess(s string) (hostarch.AccessType, error) {
	var at hostarch.AccessType
	if s == "none" {
		return at, nil
	}
	for _, c := range s {
		switch c {
		case 'r':
			at.Read = true
		case 'w':
			at.Write = true
		case 'x':
			at.Execute = true
		default:
			return at, fmt.Errorf("bad access %q", s)
		}
	}
	return at, nil
}

func protBits(at hostarch.AccessType) uintptr {
	var prot uintptr
	if at.Read {
		prot |= linux.PROT_READ
	}
	if at.Write {
		prot |= linux.PROT_WRITE
	}
	if at.Execute {
		prot |= linux.PROT_EXEC
	}
	return prot
}

func openFlags(flags []string) (uint32, error) {
	var v uint32
	for _, f := range flags {
		switch f {
		case "rdonly":
			v |= linux.O_RDONLY
		case "wronly":
			v |= linux.O_WRONLY
		case "rdwr":
			v |= linux.O_RDWR
		case "creat":
			v |= linux.O_CREAT
		case "trunc":
			v |= linux.O_TRUNC
		case "cloexec":
			v |= linux.O_CLOEXEC
		default:
			return 0, fmt.Errorf("unknown open flag %q", f)
		}
	}
	return v, nil
}

func mmapFlags(flags []string) (uintptr, error) {
	var v uintptr
	for _, f := range flags {
		switch f {
		case "shared":
			v |= linux.MAP_SHARED
		case "private":
			v |= linux.MAP_PRIVATE
		case "fixed":
			v |= linux.MAP_FIXED
		case "anonymous":
			v |= linux.MAP_ANONYMOUS
		default:
			return 0, fmt.Errorf("unknown mmap flag %q", f)
		}
	}
	return v, nil
}

// expectedError returns the errno named by st.Error, or nil.
func (st *Step) expectedError() *errors.Error {
	if st.Error == "" {
		return nil
	}
	e, _ := linuxerr.Lookup(st.Error)
	return e
}

// maxLoggedContents bounds file contents in logged scenarios.
const maxLoggedContents = 32

// Log logs s at debug level, with long file contents elided.
func (s *Scenario) Log() {
	if !log.IsLogging(log.Debug) {
		return
	}
	// Copy to avoid mutating the original scenario.
	cp := deepcopy.Copy(s).(*Scenario)
	for i := range cp.Files {
		f := &cp.Files[i]
		if len(f.Contents) > maxLoggedContents {
			f.Contents = fmt.Sprintf("%s... (%d bytes)", f.Contents[:maxLoggedContents], len(f.Contents))
		}
	}
	out, err := yaml.Marshal(cp)
	if err != nil {
		log.Debugf("Failed to marshal scenario %q: %v", s.Name, err)
		return
	}
	log.Debugf("Scenario %q:\n%s", s.Name, out)
}
