// Copyright 2025 The crun Authors. All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"github.com/crunlab/crun"
)

const usage = `usage: crun [--eval CODE | --repl | SOURCE.c [ARGS...]] [-- RUNTIME-ARGS...]
compiler flags: -I <path>  -L <path>  -l <name>
runtime flags (before the mode): -trace, -trace-events FILE
`

// defaultBackend names the code generator this binary asks the backend
// registry for. Backends register themselves from their package init;
// this package imports none, so unless one is linked in, NewBackend fails
// and the binary reports that no embedded code generator is available.
const defaultBackend = "tcc"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := crun.LoadConfig()

	// Runtime flags precede the mode selection and never reach the
	// driver's textual mode rules.
	for len(args) > 0 {
		switch {
		case args[0] == "-trace":
			cfg.Trace = true
			args = args[1:]
		case args[0] == "-trace-events" && len(args) > 1:
			f, err := os.Create(args[1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "crun: %v\n", err)
				return 1
			}
			crun.TraceEventStart(f)
			defer crun.TraceEventStop()
			args = args[2:]
		case args[0] == "-h" || args[0] == "--help":
			fmt.Fprint(os.Stderr, usage)
			return 0
		default:
			return runDriver(cfg, args)
		}
	}
	return runDriver(cfg, args)
}

func runDriver(cfg crun.Config, args []string) int {
	backend, err := crun.NewBackend(defaultBackend)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crun: no embedded code generator: %v\n", err)
		return 1
	}
	return crun.NewDriver(backend, cfg).Main(args)
}
