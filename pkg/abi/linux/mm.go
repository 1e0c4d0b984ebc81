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

// Package linux contains the constants and types needed to interface with a
// Linux kernel.
package linux

import (
	"fmt"
	"strings"
)

// Protections for mmap(2).
const (
	PROT_NONE  = 0
	PROT_READ  = 1 << 0
	PROT_WRITE = 1 << 1
	PROT_EXEC  = 1 << 2
)

// Flags for mmap(2).
const (
	MAP_SHARED    = 1 << 0
	MAP_PRIVATE   = 1 << 1
	MAP_FIXED     = 1 << 4
	MAP_ANONYMOUS = 1 << 5
)

// MAP_TYPE is the mask of the mapping type bits in the mmap(2) flags.
const MAP_TYPE = MAP_SHARED | MAP_PRIVATE

type flag struct {
	value uint64
	name  string
}

var protFlags = []flag{
	{PROT_READ, "PROT_READ"},
	{PROT_WRITE, "PROT_WRITE"},
	{PROT_EXEC, "PROT_EXEC"},
}

var mmapFlags = []flag{
	{MAP_SHARED, "MAP_SHARED"},
	{MAP_PRIVATE, "MAP_PRIVATE"},
	{MAP_FIXED, "MAP_FIXED"},
	{MAP_ANONYMOUS, "MAP_ANONYMOUS"},
}

func parseFlags(fs []flag, none string, val uint64) string {
	if val == 0 {
		return none
	}
	var names []string
	for _, f := range fs {
		if val&f.value != 0 {
			names = append(names, f.name)
			val &^= f.value
		}
	}
	if val != 0 {
		names = append(names, fmt.Sprintf("%#x", val))
	}
	return strings.Join(names, "|")
}

// ProtString formats mmap(2) protection bits for logs, e.g.
// "PROT_READ|PROT_WRITE".
func ProtString(prot uint64) string {
	return parseFlags(protFlags, "PROT_NONE", prot)
}

// MmapFlagsString formats mmap(2) flags for logs.
func MmapFlagsString(flags uint64) string {
	return parseFlags(mmapFlags, "0", flags)
}
