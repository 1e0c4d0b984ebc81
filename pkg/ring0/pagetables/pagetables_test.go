// Copyright 2019 The gVisor Authors.
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


package pagetables

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/pgalloc"
)

func TestPTEEncoding(t *testing.T) {
	pte := MakePTE(42, User|PermBits(hostarch.ReadWrite))
	if !pte.Valid() || !pte.User() || pte.Dirty() {
		t.Errorf("flags of %v wrong", pte)
	}
	if got := pte.Frame(); got != 42 {
		t.Errorf("Frame() = %v, want 42", got)
	}
	if got := pte.AccessType(); got != hostarch.ReadWrite {
		t.Errorf("AccessType() = %v, want %v", got, hostarch.ReadWrite)
	}
	if got, want := pte.String(), "frame#42[vrw-u---]"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestMapLookupUnmap(t *testing.T) {
	pt := New()
	addr := hostarch.Addr(0x3000)
	pt.Map(addr, MakePTE(7, User|Read))

	if pte, ok := pt.Lookup(addr + 0x123); !ok || pte.Frame() != 7 {
		t.Errorf("Lookup(%v) = %v, %t", addr+0x123, pte, ok)
	}
	if _, ok := pt.Lookup(addr + hostarch.PageSize); ok {
		t.Errorf("Lookup of neighbouring page succeeded")
	}

	if !pt.SetFlags(addr, Dirty) {
		t.Fatalf("SetFlags failed")
	}
	if pte, _ := pt.Lookup(addr); !pte.Dirty() {
		t.Errorf("entry not dirty after SetFlags")
	}
	if pt.SetFlags(addr+hostarch.PageSize, Dirty) {
		t.Errorf("SetFlags on missing entry succeeded")
	}

	pte, ok := pt.Unmap(addr)
	if !ok || pte.Frame() != 7 || !pte.Dirty() {
		t.Errorf("Unmap = %v, %t", pte, ok)
	}
	if pt.Len() != 0 {
		t.Errorf("Len() = %d after Unmap", pt.Len())
	}
}

func TestRemapPanics(t *testing.T) {
	pt := New()
	pt.Map(0x1000, MakePTE(1, User))
	defer func() {
		if recover() == nil {
			t.Errorf("remap did not panic")
		}
	}()
	pt.Map(0x1000, MakePTE(2, User))
}

func TestVisitRange(t *testing.T) {
	pt := New()
	for i, addr := range []hostarch.Addr{0x1000, 0x2000, 0x5000, 0x9000} {
		pt.Map(addr, MakePTE(pgalloc.FrameNumber(i), User))
	}
	var got []hostarch.Addr
	pt.VisitRange(hostarch.AddrRange{Start: 0x1800, End: 0x5001}, func(addr hostarch.Addr, _ PTE) bool {
		got = append(got, addr)
		return true
	})
	if diff := cmp.Diff([]hostarch.Addr{0x1000, 0x2000, 0x5000}, got); diff != "" {
		t.Errorf("VisitRange mismatch (-want +got):\n%s", diff)
	}

	got = nil
	pt.VisitRange(hostarch.AddrRange{Start: 0, End: 0x10000}, func(addr hostarch.Addr, _ PTE) bool {
		got = append(got, addr)
		return len(got) < 2
	})
	if len(got) != 2 {
		t.Errorf("VisitRange did not stop early: %v", got)
	}
}
