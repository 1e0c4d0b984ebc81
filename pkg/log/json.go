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
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// TaskPrefix returns the prefix of messages logged on behalf of the task
// with the given thread ID. The JSON emitters move it into a field of its
// own.
func TaskPrefix(tid int32) string {
	return fmt.Sprintf("[%5d] ", tid)
}

// splitTask splits a message that starts with a TaskPrefix into the thread
// ID and the remaining message. tid is zero if msg has no task prefix.
func splitTask(msg string) (tid int32, rest string) {
	if !strings.HasPrefix(msg, "[") {
		return 0, msg
	}
	end := strings.Index(msg, "] ")
	if end < 0 {
		return 0, msg
	}
	n, err := strconv.ParseInt(strings.TrimSpace(msg[1:end]), 10, 32)
	if err != nil || n <= 0 {
		return 0, msg
	}
	return int32(n), msg[end+2:]
}

// callerAt returns "file:line" for the caller depth frames above its own
// caller, or "" if it is unknown.
func callerAt(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		return ""
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

type jsonLog struct {
	Msg    string    `json:"msg"`
	Level  Level     `json:"level"`
	Time   time.Time `json:"time"`
	Caller string    `json:"caller,omitempty"`
	TID    int32     `json:"tid,omitempty"`
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	switch l {
	case Warning:
		return []byte(`"warning"`), nil
	case Info:
		return []byte(`"info"`), nil
	case Debug:
		return []byte(`"debug"`), nil
	default:
		return nil, fmt.Errorf("unknown level %v", l)
	}
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts both
// level names and their integer values.
func (l *Level) UnmarshalJSON(b []byte) error {
	switch s := string(b); s {
	case "0", `"warning"`:
		*l = Warning
	case "1", `"info"`:
		*l = Info
	case "2", `"debug"`:
		*l = Debug
	default:
		return fmt.Errorf("unknown level %q", s)
	}
	return nil
}

// JSONEmitter logs one JSON object per message. Messages logged by a task
// carry its thread ID in the "tid" field.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	tid, msg := splitTask(fmt.Sprintf(format, v...))
	e.writeJSON(jsonLog{
		Msg:    msg,
		Level:  level,
		Time:   timestamp,
		Caller: callerAt(depth),
		TID:    tid,
	})
}

// writeJSON writes j as a single line.
func (e JSONEmitter) writeJSON(j any) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	e.Writer.Write(append(b, '\n'))
}
