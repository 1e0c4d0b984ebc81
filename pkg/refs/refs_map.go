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

package refs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tkos/mmapsys/pkg/log"
	"github.com/tkos/mmapsys/pkg/sync"
)

// liveObject is the leak checker's record of a registered object.
type liveObject struct {
	// stack is where the object was registered. It is only recorded in
	// LeaksLogTraces mode.
	stack []uintptr
}

var (
	// liveObjects holds every registered object that has not been destroyed.
	// Objects are only registered while leak checking is enabled. It is
	// protected by liveObjectsMu.
	liveObjects   = make(map[CheckedObject]liveObject)
	liveObjectsMu sync.Mutex
)

// CheckedObject represents a reference-counted object with an informative
// leak detection message.
type CheckedObject interface {
	// RefType is the type of the reference-counted object.
	RefType() string

	// LeakMessage supplies a warning to be printed upon leak detection.
	LeakMessage() string

	// LogRefs indicates whether reference-related events should be logged.
	LogRefs() bool
}

// LeakCheckEnabled returns whether leak checking is enabled.
func LeakCheckEnabled() bool {
	mode := GetLeakMode()
	return mode != NoLeakChecking && mode != UninitializedLeakChecking
}

// Register adds obj to the live object map. In LeaksLogTraces mode the
// caller's stack is kept for the leak report.
func Register(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	var rec liveObject
	if GetLeakMode() == LeaksLogTraces {
		rec.stack = RecordStack()
	}
	liveObjectsMu.Lock()
	if _, ok := liveObjects[obj]; ok {
		liveObjectsMu.Unlock()
		panic(fmt.Sprintf("%s %p registered twice with the leak checker", obj.RefType(), obj))
	}
	liveObjects[obj] = rec
	liveObjectsMu.Unlock()
	if obj.LogRefs() {
		logEvent(obj, "registered")
	}
}

// Unregister removes obj from the live object map. Objects registered before
// leak checking was enabled are ignored.
func Unregister(obj CheckedObject) {
	if !LeakCheckEnabled() {
		return
	}
	liveObjectsMu.Lock()
	_, ok := liveObjects[obj]
	delete(liveObjects, obj)
	liveObjectsMu.Unlock()
	if ok && obj.LogRefs() {
		logEvent(obj, "unregistered")
	}
}

// LogIncRef logs a reference increment.
func LogIncRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("IncRef to %d", refs))
	}
}

// LogDecRef logs a reference decrement.
func LogDecRef(obj CheckedObject, refs int64) {
	if LeakCheckEnabled() && obj.LogRefs() {
		logEvent(obj, fmt.Sprintf("DecRef to %d", refs))
	}
}

// logEvent logs a message for the given reference-counted object.
//
// obj.LogRefs() should be checked before calling logEvent, in order to avoid
// calling any text processing needed to evaluate msg.
func logEvent(obj CheckedObject, msg string) {
	log.Infof("[%s %p] %s:\n%s", obj.RefType(), obj, msg, FormatStack(RecordStack()))
}

// Leaks returns the leak message of every registered object that is still
// alive, sorted. With LeaksLogTraces each message is followed by the stack
// that registered the object. Leaks returns nil when leak checking is
// disabled.
func Leaks() []string {
	liveObjectsMu.Lock()
	defer liveObjectsMu.Unlock()
	var msgs []string
	for obj, rec := range liveObjects {
		msg := obj.LeakMessage()
		if rec.stack != nil {
			msg += ", registered at:\n" + FormatStack(rec.stack)
		}
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return msgs
}

// checkOnce makes sure that leak checking is only done once.
var checkOnce sync.Once

// DoLeakCheck reports every object that is still alive as a leak, by logging
// a warning or, in LeaksPanic mode, panicking. It should be called once no
// reference-counted objects are reachable anymore. Only the first call
// performs the check.
func DoLeakCheck() {
	if LeakCheckEnabled() {
		checkOnce.Do(doLeakCheck)
	}
}

func doLeakCheck() {
	leaks := Leaks()
	if len(leaks) == 0 {
		return
	}
	msg := fmt.Sprintf("Leak checking detected %d leaked objects:\n%s", len(leaks), strings.Join(leaks, "\n"))
	if GetLeakMode() == LeaksPanic {
		panic(msg)
	}
	log.Warningf("%s", msg)
}
