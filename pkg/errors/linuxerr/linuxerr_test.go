// Copyright 2021 The gVisor Authors.
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

package linuxerr_test

import (
	"fmt"
	"testing"

	"github.com/tkos/mmapsys/pkg/errors/linuxerr"
	"golang.org/x/sys/unix"
)

func TestErrorFromUnix(t *testing.T) {
	for _, tc := range []struct {
		errno unix.Errno
		want  error
	}{
		{errno: 0, want: nil},
		{errno: unix.EINVAL, want: linuxerr.EINVAL},
		{errno: unix.ENOMEM, want: linuxerr.ENOMEM},
		{errno: unix.EOPNOTSUPP, want: linuxerr.EOPNOTSUPP},
	} {
		t.Run(fmt.Sprintf("%d", tc.errno), func(t *testing.T) {
			if got := linuxerr.ErrorFromUnix(tc.errno); got != tc.want {
				t.Errorf("ErrorFromUnix(%d) = %v, want %v", tc.errno, got, tc.want)
			}
		})
	}
}

func TestEquals(t *testing.T) {
	if !linuxerr.Equals(linuxerr.EACCES, linuxerr.EACCES) {
		t.Errorf("EACCES != EACCES")
	}
	if !linuxerr.Equals(linuxerr.EACCES, unix.EACCES) {
		t.Errorf("EACCES != unix.EACCES")
	}
	if linuxerr.Equals(linuxerr.EACCES, linuxerr.EINVAL) {
		t.Errorf("EACCES == EINVAL")
	}
	if linuxerr.Equals(linuxerr.EACCES, nil) {
		t.Errorf("EACCES == nil")
	}
	if !linuxerr.Equals(nil, nil) {
		t.Errorf("nil != nil")
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"EINVAL", "ENOMEM", "EOPNOTSUPP", "EACCES", "EFAULT", "EBADF", "EIO"} {
		e, ok := linuxerr.Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) failed", name)
		}
		if e.Name() != name {
			t.Errorf("Lookup(%q).Name() = %q", name, e.Name())
		}
	}
	if _, ok := linuxerr.Lookup("EWHATEVER"); ok {
		t.Errorf("Lookup(EWHATEVER) succeeded")
	}
	if e, _ := linuxerr.Lookup("ENOTSUP"); e != linuxerr.EOPNOTSUPP {
		t.Errorf("Lookup(ENOTSUP) = %v, want EOPNOTSUPP", e)
	}
}

func TestTranslateWrapped(t *testing.T) {
	wrapped := fmt.Errorf("reading page: %w", linuxerr.EIO)
	if e, ok := linuxerr.TranslateError(wrapped); !ok || e != linuxerr.EIO {
		t.Errorf("TranslateError(%v) = %v, %t", wrapped, e, ok)
	}
	host := fmt.Errorf("pread: %w", unix.ENOSPC)
	if e, ok := linuxerr.TranslateError(host); !ok || e != linuxerr.ENOSPC {
		t.Errorf("TranslateError(%v) = %v, %t", host, e, ok)
	}
	if _, ok := linuxerr.TranslateError(fmt.Errorf("opaque")); ok {
		t.Errorf("TranslateError(opaque) succeeded")
	}
}
