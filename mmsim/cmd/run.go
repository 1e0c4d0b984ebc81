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

package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/subcommands"
	"github.com/tkos/mmapsys/mmsim/config"
	"github.com/tkos/mmapsys/mmsim/scenario"
	"github.com/tkos/mmapsys/pkg/metric"
	scontext "github.com/tkos/mmapsys/pkg/sentry/context"
	slinux "github.com/tkos/mmapsys/pkg/sentry/syscalls/linux"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	output      string
	stopOnError bool
}

// Report is the outcome of one scenario, as printed by the "run" command.
type Report struct {
	File       string   `json:"file"`
	Name       string   `json:"name,omitempty"`
	Passed     bool     `json:"passed"`
	Error      string   `json:"error,omitempty"`
	Steps      int      `json:"steps"`
	Killed     []string `json:"killed,omitempty"`
	PeakFrames uint64   `json:"peak_frames"`
	FileReads  uint64   `json:"file_reads"`
	FileWrites uint64   `json:"file_writes"`
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run scenarios against a fresh kernel each"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <scenario.yaml>... - run each scenario and report whether it passed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.output, "o", "text", "Output format (text, json).")
	f.BoolVar(&r.stopOnError, "stop-on-error", false, "Stop after the first failed scenario.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if r.output != "text" && r.output != "json" {
		return Errorf("Unsupported output format %q", r.output)
	}
	conf := args[0].(*config.Config)

	var reports []Report
	failed := 0
	for _, path := range f.Args() {
		rep := runFile(conf, path)
		reports = append(reports, rep)
		if !rep.Passed {
			failed++
			if r.stopOnError {
				break
			}
		}
	}

	if err := writeReports(stdout, r.output, reports); err != nil {
		return Errorf("Error writing output: %v", err)
	}
	if conf.Metrics {
		if err := metric.WriteText(stdout); err != nil {
			return Errorf("Error writing metrics: %v", err)
		}
	}
	if failed > 0 {
		return Errorf("%d of %d scenarios failed", failed, len(reports))
	}
	return subcommands.ExitSuccess
}

// runFile loads and runs the scenario at path.
func runFile(conf *config.Config, path string) Report {
	rep := Report{File: path}
	s, err := scenario.LoadFile(path)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Name = s.Name

	res, err := scenario.Run(scontext.Background(), conf.KernelOptions(slinux.AMD64), s)
	if res != nil {
		rep.Steps = res.Steps
		rep.Killed = res.Killed
		rep.PeakFrames = res.PeakFrames
		rep.FileReads = res.FileReads
		rep.FileWrites = res.FileWrites
	}
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Passed = true
	return rep
}

func writeReports(w io.Writer, format string, reports []Report) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	for _, rep := range reports {
		if !rep.Passed {
			if _, err := fmt.Fprintf(w, "FAIL %s: %s\n", rep.File, rep.Error); err != nil {
				return err
			}
			continue
		}
		killed := ""
		if len(rep.Killed) > 0 {
			killed = fmt.Sprintf(", killed %s", strings.Join(rep.Killed, ","))
		}
		if _, err := fmt.Fprintf(w, "PASS %s (%s): %d steps, peak %d frames, %d reads, %d writes%s\n",
			rep.File, rep.Name, rep.Steps, rep.PeakFrames, rep.FileReads, rep.FileWrites, killed); err != nil {
			return err
		}
	}
	return nil
}
