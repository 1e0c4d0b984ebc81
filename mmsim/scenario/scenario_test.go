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
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/log"
)

func strPtr(s string) *string {
	return &s
}

func TestLoad(t *testing.T) {
	s, err := Load(strings.NewReader(`
name: small
files:
  - name: f
    contents: "abc"
    expect: "xbc"
steps:
  - {op: spawn, as: p}
  - {op: open, proc: p, path: f, flags: [rdwr, cloexec], as: fd}
  - {op: mmap, proc: p, fd: fd, length: 4096, prot: rw, flags: [shared], as: m}
  - {op: store, proc: p, addr: m, data: x}
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := &Scenario{
		Name: "small",
		Files: []File{
			{Name: "f", Contents: "abc", Expect: strPtr("xbc")},
		},
		Steps: []Step{
			{Op: OpSpawn, As: "p"},
			{Op: OpOpen, Proc: "p", Path: "f", Flags: []string{"rdwr", "cloexec"}, As: "fd"},
			{Op: OpMmap, Proc: "p", FD: "fd", Length: 4096, Prot: "rw", Flags: []string{"shared"}, As: "m"},
			{Op: OpStore, Proc: "p", Addr: "m", Data: "x"},
		},
	}
	if diff := cmp.Diff(want, s, cmpopts.IgnoreUnexported(Scenario{})); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
		want string
	}{
		{name: "empty", doc: "", want: "empty scenario"},
		{name: "unknown field", doc: "name: x\npages: 3\n", want: "pages"},
		{name: "unknown step field", doc: "steps:\n  - {op: spawn, as: p, pid: 1}\n", want: "pid"},
		{name: "bad type", doc: "steps:\n  - {op: mmap, length: lots}\n", want: "decoding scenario"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Load() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("testdata/shared_write.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if s.Name != "shared-write" {
		t.Errorf("Name = %q, want shared-write", s.Name)
	}
	if got, want := s.hostPath(&File{Host: "data.bin"}), "testdata/data.bin"; got != want {
		t.Errorf("hostPath = %q, want %q", got, want)
	}
	if got, want := s.hostPath(&File{Host: "/tmp/data.bin"}), "/tmp/data.bin"; got != want {
		t.Errorf("hostPath = %q, want %q", got, want)
	}
	if _, err := LoadFile("testdata/missing.yaml"); err == nil {
		t.Errorf("LoadFile of a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	spawn := Step{Op: OpSpawn, As: "p"}
	open := Step{Op: OpOpen, Proc: "p", Path: "f", As: "fd"}
	mmap := Step{Op: OpMmap, Proc: "p", FD: "fd", Length: 4096, Prot: "r", Flags: []string{"private"}, As: "m"}

	for _, tc := range []struct {
		name  string
		files []File
		steps []Step
		want  string
	}{
		{name: "no steps", want: "no steps"},
		{name: "unnamed file", files: []File{{Contents: "x"}}, steps: []Step{spawn}, want: "missing name"},
		{name: "duplicate file", files: []File{{Name: "f"}, {Name: "f"}}, steps: []Step{spawn}, want: "duplicate"},
		{name: "host and contents", files: []File{{Name: "f", Host: "h", Contents: "x"}}, steps: []Step{spawn}, want: "both host and contents"},
		{name: "missing op", steps: []Step{{}}, want: "missing op"},
		{name: "unknown op", steps: []Step{spawn, {Op: "mprotect", Proc: "p"}}, want: "unknown op"},
		{name: "spawn without name", steps: []Step{{Op: OpSpawn}}, want: "missing as"},
		{name: "unknown proc", steps: []Step{{Op: OpExit, Proc: "q"}}, want: `unknown proc "q"`},
		{name: "missing proc", steps: []Step{spawn, {Op: OpExit}}, want: "missing proc"},
		{name: "rebound name", steps: []Step{spawn, {Op: OpFork, Proc: "p", As: "p"}}, want: "bound twice"},
		{name: "unknown error", steps: []Step{{Op: OpSpawn, As: "p", Error: "EWHATEVER"}}, want: "unknown error"},
		{name: "open flag", steps: []Step{spawn, {Op: OpOpen, Proc: "p", Path: "f", Flags: []string{"append"}}}, want: "unknown open flag"},
		{name: "unbound fd", steps: []Step{spawn, {Op: OpClose, Proc: "p", FD: "fd"}}, want: "neither bound nor a number"},
		{name: "mmap flag", steps: []Step{spawn, open, {Op: OpMmap, Proc: "p", FD: "fd", Flags: []string{"huge"}}}, want: "unknown mmap flag"},
		{name: "prot", steps: []Step{spawn, open, {Op: OpMmap, Proc: "p", FD: "fd", Prot: "rq"}}, want: "bad access"},
		{name: "unbound addr", steps: []Step{spawn, {Op: OpMunmap, Proc: "p", Addr: "m", Length: 1}}, want: "unknown name"},
		{name: "bad offset", steps: []Step{spawn, open, mmap, {Op: OpStore, Proc: "p", Addr: "m+z", Data: "x"}}, want: "bad offset"},
		{name: "store without data", steps: []Step{spawn, open, mmap, {Op: OpStore, Proc: "p", Addr: "m"}}, want: "missing data"},
		{name: "load without length", steps: []Step{spawn, open, mmap, {Op: OpLoad, Proc: "p", Addr: "m"}}, want: "missing length"},
		{name: "load too long", steps: []Step{spawn, open, mmap, {Op: OpLoad, Proc: "p", Addr: "m", Length: MaxLoadLength + 1}}, want: "exceeds"},
		{name: "load length mismatch", steps: []Step{spawn, open, mmap, {Op: OpLoad, Proc: "p", Addr: "m", Length: 2, Expect: strPtr("abc")}}, want: "does not match"},
		{name: "fault access", steps: []Step{spawn, open, mmap, {Op: OpFault, Proc: "p", Addr: "m", Access: "q"}}, want: "bad access"},
		{name: "exit kills", steps: []Step{spawn, {Op: OpExit, Proc: "p", Killed: true}}, want: "can kill"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scenario{Files: tc.files, Steps: tc.steps}
			err := s.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestEvalAddr(t *testing.T) {
	names := map[string]hostarch.Addr{
		"m":        0x10000,
		"with-sep": 0x20000,
	}
	lookup := func(name string) (hostarch.Addr, bool) {
		a, ok := names[name]
		return a, ok
	}
	for _, tc := range []struct {
		expr    string
		want    hostarch.Addr
		wantErr bool
	}{
		{expr: "m", want: 0x10000},
		{expr: "m+4096", want: 0x11000},
		{expr: "m + 0x10", want: 0x10010},
		{expr: "m-0x1000", want: 0xf000},
		{expr: "with-sep", want: 0x20000},
		{expr: "0x5000", want: 0x5000},
		{expr: "4096+1", want: 0x1001},
		{expr: "n", wantErr: true},
		{expr: "m+", wantErr: true},
		{expr: "m+x", wantErr: true},
	} {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := evalAddr(tc.expr, lookup)
			if tc.wantErr {
				if err == nil {
					t.Errorf("evalAddr(%q) = %#x, want error", tc.expr, got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Errorf("evalAddr(%q) = %#x, %v; want %#x", tc.expr, got, err, tc.want)
			}
		})
	}
}

func TestParseAccess(t *testing.T) {
	for _, tc := range []struct {
		s    string
		want hostarch.AccessType
	}{
		{s: "", want: hostarch.NoAccess},
		{s: "none", want: hostarch.NoAccess},
		{s: "r", want: hostarch.Read},
		{s: "rw", want: hostarch.ReadWrite},
		{s: "wr", want: hostarch.ReadWrite},
		{s: "rwx", want: hostarch.AnyAccess},
	} {
		got, err := parseAccess(tc.s)
		if err != nil || got != tc.want {
			t.Errorf("parseAccess(%q) = %v, %v; want %v", tc.s, got, err, tc.want)
		}
	}
}

func TestLogElidesContents(t *testing.T) {
	prev := log.Log()
	var buf bytes.Buffer
	log.SetTarget(log.GoogleEmitter{Writer: &log.Writer{Next: &buf}})
	log.SetLevel(log.Debug)
	t.Cleanup(func() {
		log.SetTarget(prev.Emitter)
		log.SetLevel(prev.Level)
	})

	long := strings.Repeat("z", 100)
	s := &Scenario{
		Name:  "log",
		Files: []File{{Name: "big", Contents: long}},
		Steps: []Step{{Op: OpSpawn, As: "p"}},
	}
	s.Log()

	if s.Files[0].Contents != long {
		t.Errorf("Log modified the scenario")
	}
	out := buf.String()
	if !strings.Contains(out, "(100 bytes)") {
		t.Errorf("log output does not elide contents:\n%s", out)
	}
	if strings.Contains(out, long) {
		t.Errorf("log output contains the full contents:\n%s", out)
	}
}
