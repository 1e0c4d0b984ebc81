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

// Package linuxerr contains syscall error codes exported as an error interface
// pointers. This allows for fast comparison and return operations comperable
// to unix.Errno constants.
package linuxerr

import (
	"fmt"

	"github.com/tkos/mmapsys/pkg/errors"
	"golang.org/x/sys/unix"
)

// The following errors are semantically identical to Errno of type
// unix.Errno. However, since the types are distinct (these are
// *errors.Error), they are not directly comperable. The Errno method returns
// an Errno number such that the error can be compared to unix.Errno (e.g.
// EPERM.Errno() == unix.EPERM is true). Converting unix.Errno to the errors
// should be done via the lookup methods provided.
var (
	noError    *errors.Error = nil
	EPERM                    = errors.New(unix.EPERM, "EPERM", "operation not permitted")
	ENOENT                   = errors.New(unix.ENOENT, "ENOENT", "no such file or directory")
	ESRCH                    = errors.New(unix.ESRCH, "ESRCH", "no such process")
	EINTR                    = errors.New(unix.EINTR, "EINTR", "interrupted system call")
	EIO                      = errors.New(unix.EIO, "EIO", "I/O error")
	EBADF                    = errors.New(unix.EBADF, "EBADF", "bad file number")
	ECHILD                   = errors.New(unix.ECHILD, "ECHILD", "no child processes")
	EAGAIN                   = errors.New(unix.EAGAIN, "EAGAIN", "try again")
	ENOMEM                   = errors.New(unix.ENOMEM, "ENOMEM", "out of memory")
	EACCES                   = errors.New(unix.EACCES, "EACCES", "permission denied")
	EFAULT                   = errors.New(unix.EFAULT, "EFAULT", "bad address")
	EBUSY                    = errors.New(unix.EBUSY, "EBUSY", "device or resource busy")
	EEXIST                   = errors.New(unix.EEXIST, "EEXIST", "file exists")
	ENODEV                   = errors.New(unix.ENODEV, "ENODEV", "no such device")
	EISDIR                   = errors.New(unix.EISDIR, "EISDIR", "is a directory")
	EINVAL                   = errors.New(unix.EINVAL, "EINVAL", "invalid argument")
	ENFILE                   = errors.New(unix.ENFILE, "ENFILE", "file table overflow")
	EMFILE                   = errors.New(unix.EMFILE, "EMFILE", "too many open files")
	EFBIG                    = errors.New(unix.EFBIG, "EFBIG", "file too large")
	ENOSPC                   = errors.New(unix.ENOSPC, "ENOSPC", "no space left on device")
	EROFS                    = errors.New(unix.EROFS, "EROFS", "read-only file system")
	ERANGE                   = errors.New(unix.ERANGE, "ERANGE", "math result not representable")
	ENAMETOOLONG             = errors.New(unix.ENAMETOOLONG, "ENAMETOOLONG", "file name too long")
	ENOSYS                   = errors.New(unix.ENOSYS, "ENOSYS", "invalid system call number")
	EOVERFLOW                = errors.New(unix.EOVERFLOW, "EOVERFLOW", "value too large for defined data type")
	EOPNOTSUPP               = errors.New(unix.EOPNOTSUPP, "EOPNOTSUPP", "operation not supported on transport endpoint")
	ECANCELED                = errors.New(unix.ECANCELED, "ECANCELED", "operation Canceled")

	// Errors equivalent to other errors.
	EWOULDBLOCK = EAGAIN
	ENOTSUP     = EOPNOTSUPP
)

// errorSlice holds errors by errno for fast translation between errnos and
// *errors.Error. Unset indices are nil and are rejected by ErrorFromUnix.
var errorSlice = func() []*errors.Error {
	all := []*errors.Error{
		EPERM, ENOENT, ESRCH, EINTR, EIO, EBADF, ECHILD, EAGAIN, ENOMEM,
		EACCES, EFAULT, EBUSY, EEXIST, ENODEV, EISDIR, EINVAL, ENFILE,
		EMFILE, EFBIG, ENOSPC, EROFS, ERANGE, ENAMETOOLONG, ENOSYS, EOVERFLOW, EOPNOTSUPP,
		ECANCELED,
	}
	var max unix.Errno
	for _, e := range all {
		if e.Errno() > max {
			max = e.Errno()
		}
	}
	s := make([]*errors.Error, max+1)
	for _, e := range all {
		s[e.Errno()] = e
	}
	return s
}()

// errorsByName maps symbolic names to errors, for callers that spell errors
// out in text (scripts, configuration).
var errorsByName = func() map[string]*errors.Error {
	m := make(map[string]*errors.Error, len(errorSlice))
	for _, e := range errorSlice {
		if e != nil {
			m[e.Name()] = e
		}
	}
	m["EWOULDBLOCK"] = EWOULDBLOCK
	m["ENOTSUP"] = ENOTSUP
	return m
}()

// ErrorFromUnix returns a linuxerr from a unix.Errno.
func ErrorFromUnix(err unix.Errno) error {
	if err == unix.Errno(0) {
		return nil
	}
	if int(err) >= len(errorSlice) || errorSlice[err] == nil {
		panic(fmt.Sprintf("invalid error requested with errno: %d", err))
	}
	return errorSlice[err]
}

// Lookup returns the error with the given symbolic name.
func Lookup(name string) (*errors.Error, bool) {
	e, ok := errorsByName[name]
	return e, ok
}

// ToError converts a linuxerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToUnix converts a linuxerr to a unix.Errno.
func ToUnix(e *errors.Error) unix.Errno {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	return unixErr
}

// Equals compars a linuxerr to a given error.
func Equals(e *errors.Error, err error) bool {
	var unixErr unix.Errno
	if e != noError {
		unixErr = e.Errno()
	}
	if err == nil {
		err = noError
	}
	return e == err || unixErr == err
}
