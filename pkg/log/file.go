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
	"time"
)

// defaultFileName is appended to log patterns that name a directory.
const defaultFileName = "mmsim.log.%TIMESTAMP%.%COMMAND%.txt"

// FileOpts contains the values substituted into a log file pattern.
type FileOpts struct {
	// Command replaces %COMMAND%.
	Command string

	// Now replaces %TIMESTAMP%. The current time is used if it is zero.
	Now time.Time
}

// Build constructs the log file path for pattern. A pattern ending in "/"
// names a directory and gets a default file name. %TIMESTAMP%, %COMMAND%
// and %PID% are replaced.
func (o FileOpts) Build(pattern string) string {
	if strings.HasSuffix(pattern, "/") {
		pattern += defaultFileName
	}
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	return strings.NewReplacer(
		"%TIMESTAMP%", now.Format("20060102-150405.000000"),
		"%COMMAND%", o.Command,
		"%PID%", fmt.Sprint(os.Getpid()),
	).Replace(pattern)
}

// OpenFile opens the log file named by pattern for appending, creating it
// and its parent directories if needed. It returns a nil file for an empty
// pattern.
func OpenFile(pattern string, opts FileOpts) (*os.File, error) {
	if len(pattern) == 0 {
		return nil, nil
	}
	path := opts.Build(pattern)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", path, err)
	}
	return f, nil
}
