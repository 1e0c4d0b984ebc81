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

package linux

import "testing"

func TestFlagStrings(t *testing.T) {
	for _, tc := range []struct {
		got, want string
	}{
		{ProtString(PROT_NONE), "PROT_NONE"},
		{ProtString(PROT_READ | PROT_WRITE), "PROT_READ|PROT_WRITE"},
		{MmapFlagsString(MAP_PRIVATE), "MAP_PRIVATE"},
		{MmapFlagsString(MAP_SHARED | 0x100), "MAP_SHARED|0x100"},
		{MmapFlagsString(0), "0"},
	} {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestAccessMode(t *testing.T) {
	for _, tc := range []struct {
		flags uint32
		r, w  bool
	}{
		{O_RDONLY, true, false},
		{O_WRONLY, false, true},
		{O_RDWR, true, true},
		{O_RDWR | O_CREAT | O_TRUNC, true, true},
	} {
		if got := Readable(tc.flags); got != tc.r {
			t.Errorf("Readable(%#o) = %t, want %t", tc.flags, got, tc.r)
		}
		if got := Writable(tc.flags); got != tc.w {
			t.Errorf("Writable(%#o) = %t, want %t", tc.flags, got, tc.w)
		}
	}
}
