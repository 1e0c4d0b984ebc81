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

// Package config provides basic infrastructure to set configuration settings
// for mmsim. Each setting that can be changed from the command line must
// have its own flag; settings may also be read from a TOML file.
package config

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tkos/mmapsys/pkg/log"
	"github.com/tkos/mmapsys/pkg/refs"
	"github.com/tkos/mmapsys/pkg/sentry/kernel"
)

// maxFrames bounds the emulated physical memory to 4GiB.
const maxFrames = 1 << 20

// logFormats are the accepted values of --log-format.
var logFormats = []string{"text", "json", "json-k8s"}

// Config holds configuration that is not part of a scenario.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and its TOML key.
//  3. Register a new flag in flags.go, with the same name and add a
//     description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the TOML file the remaining settings were read from.
	ConfigFile string `flag:"config" toml:"-"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug" toml:"debug"`

	// KillLogInterval is the minimum interval between logged process kills.
	KillLogInterval time.Duration `flag:"kill-log-interval" toml:"kill_log_interval"`

	// ReferenceLeak sets reference leak check mode.
	ReferenceLeak refs.LeakMode `flag:"ref-leak-mode" toml:"ref_leak_mode"`

	// CheckInvariants enables address space consistency checks.
	CheckInvariants bool `flag:"check-invariants" toml:"check_invariants"`

	// Metrics prints metrics after each run.
	Metrics bool `flag:"metrics" toml:"metrics"`

	// Frames is the number of physical page frames.
	Frames uint `flag:"frames" toml:"frames"`

	// MaxFSOps is the number of concurrent file system operations.
	MaxFSOps int `flag:"max-fs-ops" toml:"max_fs_ops"`

	// MaxFDs is the size of each process's file descriptor table.
	MaxFDs int `flag:"max-fds" toml:"max_fds"`

	// MaxProcesses is the maximum number of live processes.
	MaxProcesses int `flag:"max-processes" toml:"max_processes"`
}

// loadFile overwrites c with the settings present in the TOML file at path.
// Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("loading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config file %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) validate() error {
	if !slices.Contains(logFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format %q, must be one of %s", c.LogFormat, strings.Join(logFormats, ", "))
	}
	if c.Frames == 0 || c.Frames > maxFrames {
		return fmt.Errorf("frames must be between 1 and %d, got %d", maxFrames, c.Frames)
	}
	if c.MaxFSOps < 0 {
		return fmt.Errorf("max-fs-ops must be non-negative, got %d", c.MaxFSOps)
	}
	if c.MaxFDs <= 0 {
		return fmt.Errorf("max-fds must be positive, got %d", c.MaxFDs)
	}
	if c.MaxProcesses <= 0 {
		return fmt.Errorf("max-processes must be positive, got %d", c.MaxProcesses)
	}
	if c.KillLogInterval < 0 {
		return fmt.Errorf("kill-log-interval must be non-negative, got %v", c.KillLogInterval)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config:")
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		log.Infof("  %s: %v", st.Field(i).Name, obj.Field(i).Interface())
	}
}

// KernelOptions returns the kernel options described by c, using the given
// system call table.
func (c *Config) KernelOptions(syscalls *kernel.SyscallTable) kernel.Options {
	return kernel.Options{
		Frames:          uint32(c.Frames),
		MaxFSOps:        int64(c.MaxFSOps),
		MaxFDs:          int32(c.MaxFDs),
		MaxProcesses:    c.MaxProcesses,
		CheckInvariants: c.CheckInvariants,
		Syscalls:        syscalls,
		KillLogInterval: c.KillLogInterval,
	}
}
