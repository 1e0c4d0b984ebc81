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


package pgalloc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"github.com/tkos/mmapsys/pkg/hostarch"
)

func TestAllocateLowestFirst(t *testing.T) {
	fa := New(4)
	var got []FrameNumber
	for i := 0; i < 4; i++ {
		f, err := fa.Allocate()
		if err != nil {
			t.Fatalf("Allocate #%d failed: %v", i, err)
		}
		got = append(got, f)
	}
	if diff := cmp.Diff([]FrameNumber{0, 1, 2, 3}, got); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
	if _, err := fa.Allocate(); err != linuxerr.ENOMEM {
		t.Errorf("Allocate on exhausted allocator = %v, want ENOMEM", err)
	}

	fa.Free(2)
	f, err := fa.Allocate()
	if err != nil || f != 2 {
		t.Errorf("Allocate after Free(2) = %v, %v; want 2, nil", f, err)
	}
}

func TestFrameContents(t *testing.T) {
	fa := New(2)
	f, err := fa.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	b := fa.Bytes(f)
	if len(b) != hostarch.PageSize {
		t.Fatalf("len(Bytes) = %d, want %d", len(b), hostarch.PageSize)
	}
	if b[0] != allocJunk || b[hostarch.PageSize-1] != allocJunk {
		t.Errorf("fresh frame not filled with junk")
	}
	fa.Zero(f)
	for i, c := range b {
		if c != 0 {
			t.Fatalf("byte %d = %#x after Zero", i, c)
		}
	}
	b[10] = 'x'
	if other := fa.Bytes(f + 1); other[0] == 'x' {
		t.Errorf("frames alias each other")
	}
}

func TestAccounting(t *testing.T) {
	fa := New(8)
	a, _ := fa.Allocate()
	b, _ := fa.Allocate()
	c, _ := fa.Allocate()
	if got := fa.Allocated(); got != 3 {
		t.Errorf("Allocated() = %d, want 3", got)
	}
	fa.Free(a)
	fa.Free(b)
	if got := fa.Allocated(); got != 1 {
		t.Errorf("Allocated() = %d, want 1", got)
	}
	if got := fa.Peak(); got != 3 {
		t.Errorf("Peak() = %d, want 3", got)
	}
	if !fa.IsAllocated(c) || fa.IsAllocated(a) {
		t.Errorf("IsAllocated mismatch: c=%t a=%t", fa.IsAllocated(c), fa.IsAllocated(a))
	}
}

func TestDoubleFreePanics(t *testing.T) {
	fa := New(1)
	f, _ := fa.Allocate()
	fa.Free(f)
	defer func() {
		if recover() == nil {
			t.Errorf("double free did not panic")
		}
	}()
	fa.Free(f)
}
