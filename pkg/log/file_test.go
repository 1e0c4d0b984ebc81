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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileOptsBuild(t *testing.T) {
	opts := FileOpts{Command: "run", Now: time.Date(2026, 3, 4, 5, 6, 7, 8000, time.UTC)}
	for _, tc := range []struct {
		pattern string
		want    string
	}{
		{pattern: "/tmp/mmsim.log", want: "/tmp/mmsim.log"},
		{pattern: "/tmp/%COMMAND%.log", want: "/tmp/run.log"},
		{pattern: "/tmp/%COMMAND%.%PID%.log", want: fmt.Sprintf("/tmp/run.%d.log", os.Getpid())},
		{pattern: "/tmp/logs/", want: "/tmp/logs/mmsim.log.20260304-050607.000008.run.txt"},
	} {
		if got := opts.Build(tc.pattern); got != tc.want {
			t.Errorf("Build(%q) = %q, want %q", tc.pattern, got, tc.want)
		}
	}
}

func TestOpenFileAppends(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "logs", "%COMMAND%.log")
	opts := FileOpts{Command: "check"}
	for _, msg := range []string{"first\n", "second\n"} {
		f, err := OpenFile(pattern, opts)
		if err != nil {
			t.Fatalf("OpenFile(%q) failed: %v", pattern, err)
		}
		if _, err := f.WriteString(msg); err != nil {
			t.Fatalf("WriteString failed: %v", err)
		}
		f.Close()
	}
	got, err := os.ReadFile(filepath.Join(dir, "logs", "check.log"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "first\nsecond\n" {
		t.Errorf("log contents = %q, want both messages", got)
	}
}

func TestOpenFileEmptyPattern(t *testing.T) {
	f, err := OpenFile("", FileOpts{})
	if f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v, want nil, nil", f, err)
	}
}

func TestOpenFileError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	_, err := OpenFile(filepath.Join(blocker, "sub", "x.log"), FileOpts{})
	if err == nil || !strings.Contains(err.Error(), "error creating dir") {
		t.Errorf("OpenFile under a regular file got err %v", err)
	}
}
