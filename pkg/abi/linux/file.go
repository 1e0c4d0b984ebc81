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

// Constants for open(2).
const (
	O_ACCMODE  = 00000003
	O_RDONLY   = 00000000
	O_WRONLY   = 00000001
	O_RDWR     = 00000002
	O_CREAT    = 00000100
	O_TRUNC    = 00001000
	O_NONBLOCK = 00004000
	O_CLOEXEC  = 02000000
)

// Readable returns true if the access mode in flags allows reading.
func Readable(flags uint32) bool {
	acc := flags & O_ACCMODE
	return acc == O_RDONLY || acc == O_RDWR
}

// Writable returns true if the access mode in flags allows writing.
func Writable(flags uint32) bool {
	acc := flags & O_ACCMODE
	return acc == O_WRONLY || acc == O_RDWR
}

// Filesystem path limits, from uapi/linux/limits.h.
const (
	NAME_MAX = 255
	PATH_MAX = 4096
)
