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

package kernel

import (
	"fmt"

	"github.com/tkos/mmapsys/pkg/log"
	"github.com/tkos/mmapsys/pkg/sentry/context"
)

// contextID is the kernel package's type for context.Context.Value keys.
type contextID int

const (
	// CtxKernel is a Context.Value key for a Kernel.
	CtxKernel contextID = iota

	// CtxTask is a Context.Value key for a Task.
	CtxTask
)

// KernelFromContext returns the Kernel in which ctx is executing, or nil if
// there is no such Kernel.
func KernelFromContext(ctx context.Context) *Kernel {
	if v := ctx.Value(CtxKernel); v != nil {
		return v.(*Kernel)
	}
	return nil
}

// TaskFromContext returns the Task associated with ctx, or nil if there is no
// such Task.
func TaskFromContext(ctx context.Context) *Task {
	if v := ctx.Value(CtxTask); v != nil {
		return v.(*Task)
	}
	return nil
}

// Value implements context.Context.Value.
func (t *Task) Value(key any) any {
	switch key {
	case CtxKernel:
		return t.k
	case CtxTask:
		return t
	case context.CtxProcessID:
		return int32(t.tid)
	default:
		return t.k.ctx.Value(key)
	}
}

// logPrefix returns the prefix of t's log messages.
func (t *Task) logPrefix() string {
	return log.TaskPrefix(int32(t.tid))
}

// Debugf implements log.Logger.Debugf.
func (t *Task) Debugf(format string, v ...any) {
	if t.k.ctx.IsLogging(log.Debug) {
		t.k.ctx.Debugf("%s%s", t.logPrefix(), fmt.Sprintf(format, v...))
	}
}

// Infof implements log.Logger.Infof.
func (t *Task) Infof(format string, v ...any) {
	if t.k.ctx.IsLogging(log.Info) {
		t.k.ctx.Infof("%s%s", t.logPrefix(), fmt.Sprintf(format, v...))
	}
}

// Warningf implements log.Logger.Warningf.
func (t *Task) Warningf(format string, v ...any) {
	if t.k.ctx.IsLogging(log.Warning) {
		t.k.ctx.Warningf("%s%s", t.logPrefix(), fmt.Sprintf(format, v...))
	}
}

// IsLogging implements log.Logger.IsLogging.
func (t *Task) IsLogging(level log.Level) bool {
	return t.k.ctx.IsLogging(level)
}

var _ context.Context = (*Task)(nil)
