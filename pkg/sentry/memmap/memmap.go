// Copyright 2018 The gVisor Authors.
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


// Package memmap defines semantics for memory mappings.
package memmap

import (
	"github.com/tkos/mmapsys/pkg/hostarch"
	"github.com/tkos/mmapsys/pkg/sentry/context"
)

// Mappable represents a file that may be mapped into a MemoryManager.
//
// A reference is held on the Mappable for every memory mapping of it.
type Mappable interface {
	// IncRef takes a reference on the Mappable.
	IncRef()

	// DecRef drops a reference on the Mappable.
	DecRef(ctx context.Context)

	// Name returns the name shown for mappings of the Mappable.
	Name() string

	// Readable returns true if the Mappable's contents may be read.
	Readable() bool

	// Writable returns true if the Mappable's contents may be modified.
	Writable() bool

	// PRead reads into dst from the Mappable at offset. Reading past the end
	// of the Mappable is a short read, not an error.
	PRead(ctx context.Context, dst []byte, offset int64) (int, error)

	// WriteBack writes src to the Mappable at offset without growing it:
	// bytes that would land past the current end are dropped.
	WriteBack(ctx context.Context, src []byte, offset int64) (int, error)
}

// MMapOpts specifies a request to create a memory mapping.
type MMapOpts struct {
	// Length is the length of the mapping.
	Length uint64

	// Mappable is the Mappable to be mapped. A reference is taken on the
	// Mappable if the mapping is created. Anonymous mappings (a nil
	// Mappable) are not supported.
	Mappable Mappable

	// Offset is the offset into Mappable to map.
	Offset uint64

	// Addr is the suggested address for the mapping. The address is
	// advisory and is currently always ignored.
	Addr hostarch.Addr

	// Fixed specifies whether this is a fixed mapping (it must be located at
	// Addr). Fixed mappings are not supported.
	Fixed bool

	// Perms is the set of permissions to the applied to this mapping.
	Perms hostarch.AccessType

	// Private is true if writes to the mapping should be propagated to a copy
	// that is exclusive to the MemoryManager, and never written back.
	Private bool
}
