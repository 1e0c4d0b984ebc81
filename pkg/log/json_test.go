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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestLevelMarshal(t *testing.T) {
	for _, lv := range []Level{Warning, Info, Debug} {
		bs, err := lv.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%v) failed: %v", lv, err)
		}
		var got Level
		if err := got.UnmarshalJSON(bs); err != nil {
			t.Fatalf("UnmarshalJSON(%s) failed: %v", bs, err)
		}
		if got != lv {
			t.Errorf("level %v came back as %v", lv, got)
		}
	}
	var lv Level
	if err := lv.UnmarshalJSON([]byte("1")); err != nil || lv != Info {
		t.Errorf("UnmarshalJSON(1) = %v, %v, want Info", lv, err)
	}
	if err := lv.UnmarshalJSON([]byte(`"trace"`)); err == nil {
		t.Errorf("UnmarshalJSON(trace) succeeded")
	}
}

func TestSplitTask(t *testing.T) {
	for _, tc := range []struct {
		msg     string
		wantTID int32
		wantMsg string
	}{
		{msg: TaskPrefix(1) + "mmap 0x1000", wantTID: 1, wantMsg: "mmap 0x1000"},
		{msg: TaskPrefix(123456) + "exit", wantTID: 123456, wantMsg: "exit"},
		{msg: "Scenario passed", wantMsg: "Scenario passed"},
		{msg: "[scenarios] run", wantMsg: "[scenarios] run"},
		{msg: "[    0] idle", wantMsg: "[    0] idle"},
		{msg: "[ 7", wantMsg: "[ 7"},
	} {
		tid, msg := splitTask(tc.msg)
		if tid != tc.wantTID || msg != tc.wantMsg {
			t.Errorf("splitTask(%q) = %d, %q, want %d, %q", tc.msg, tid, msg, tc.wantTID, tc.wantMsg)
		}
	}
}

func TestJSONEmitterTaskFields(t *testing.T) {
	ts := time.Date(2026, time.May, 4, 13, 5, 9, 0, time.UTC)
	tw := &testWriter{}
	e := JSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Debug, ts, "%sfault at %#x killed the process", TaskPrefix(2), 0x4000)
	e.Emit(0, Info, ts, "Scenario %q passed", "faults")

	if len(tw.lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(tw.lines))
	}
	var got []jsonLog
	for _, line := range tw.lines {
		var j jsonLog
		if err := json.Unmarshal([]byte(line), &j); err != nil {
			t.Fatalf("Unmarshal(%q) failed: %v", line, err)
		}
		if !strings.HasPrefix(j.Caller, "json_test.go:") {
			t.Errorf("caller = %q, want json_test.go", j.Caller)
		}
		got = append(got, j)
	}
	want := []jsonLog{
		{Msg: "fault at 0x4000 killed the process", Level: Debug, Time: ts, TID: 2},
		{Msg: `Scenario "faults" passed`, Level: Info, Time: ts},
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(jsonLog{}, "Caller")); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(tw.lines[1], `"tid"`) {
		t.Errorf("message without a task has a tid: %s", tw.lines[1])
	}
}

func TestK8sJSONEmitter(t *testing.T) {
	ts := time.Date(2026, time.May, 4, 13, 5, 9, 0, time.UTC)
	tw := &testWriter{}
	e := K8sJSONEmitter{&Writer{Next: tw}}
	e.Emit(0, Warning, ts, "%smunmap of a partial mapping", TaskPrefix(3))

	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(tw.lines))
	}
	var got k8sJSONLog
	if err := json.Unmarshal([]byte(tw.lines[0]), &got); err != nil {
		t.Fatalf("Unmarshal(%q) failed: %v", tw.lines[0], err)
	}
	want := k8sJSONLog{Log: "munmap of a partial mapping", Level: Warning, Time: ts, TID: 3}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(k8sJSONLog{}, "Caller")); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	if got.Caller == "" {
		t.Errorf("missing caller in %s", tw.lines[0])
	}
}
