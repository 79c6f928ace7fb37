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

package crun

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Mode is the driver's operating mode, selected textually from the
// argument list.
type Mode int

const (
	ModeREPL Mode = iota
	ModeInline
	ModeDirect
	ModeCompileRun
)

// Invocation is a parsed command line.
type Invocation struct {
	Mode Mode
	// Source is inline code (ModeInline) or a path (other modes).
	Source string
	// IncludePaths, LibraryPaths, Libraries come from -I, -L, -l.
	IncludePaths []string
	LibraryPaths []string
	Libraries    []string
	// ProgArgs is the user program's argv tail (slot 0 added later).
	ProgArgs []string
}

// ParseArgs selects the mode from args (the command line after the
// program name). Selection is textually strict:
// no args or a lone --repl flag is REPL; a leading --eval reads the next
// argument as source; a first argument without a dash is a direct
// import; anything else is compile-and-run with compiler flags.
func ParseArgs(args []string) (*Invocation, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "--repl") {
		return &Invocation{Mode: ModeREPL}, nil
	}
	if args[0] == "--eval" || args[0] == "-e" {
		if len(args) < 2 {
			return nil, loadErrorf(InvalidArgument, "%s needs code", args[0])
		}
		return &Invocation{
			Mode:     ModeInline,
			Source:   args[1],
			ProgArgs: runtimeArgs(args, 1),
		}, nil
	}
	if !strings.HasPrefix(args[0], "-") {
		return &Invocation{
			Mode:     ModeDirect,
			Source:   args[0],
			ProgArgs: runtimeArgs(args, 0),
		}, nil
	}
	inv := &Invocation{Mode: ModeCompileRun}
	srcIdx := -1
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			i = len(args)
		case a == "-I" || a == "-L" || a == "-l":
			if i+1 >= len(args) {
				return nil, loadErrorf(InvalidArgument, "%s needs a value", a)
			}
			i++
			switch a {
			case "-I":
				inv.IncludePaths = append(inv.IncludePaths, args[i])
			case "-L":
				inv.LibraryPaths = append(inv.LibraryPaths, args[i])
			case "-l":
				inv.Libraries = append(inv.Libraries, args[i])
			}
		case strings.HasPrefix(a, "-I"):
			inv.IncludePaths = append(inv.IncludePaths, a[2:])
		case strings.HasPrefix(a, "-L"):
			inv.LibraryPaths = append(inv.LibraryPaths, a[2:])
		case strings.HasPrefix(a, "-l"):
			inv.Libraries = append(inv.Libraries, a[2:])
		case strings.HasPrefix(a, "-"):
			return nil, loadErrorf(InvalidArgument, "unknown flag %s", a)
		default:
			// The first input file ends flag parsing; the rest of
			// the line belongs to the user program.
			inv.Source = a
			srcIdx = i
			i = len(args)
		}
	}
	if inv.Source == "" {
		return nil, loadErrorf(InvalidArgument, "no input file")
	}
	inv.ProgArgs = runtimeArgs(args, srcIdx)
	return inv, nil
}

// runtimeArgs builds the user program's argv tail. With a -- separator
// everything after it is the argv; otherwise everything after the
// source index. Literal -- tokens are elided.
func runtimeArgs(args []string, srcIdx int) []string {
	tail := args[srcIdx+1:]
	for i, a := range args {
		if a == "--" {
			tail = args[i+1:]
			break
		}
	}
	var out []string
	for _, a := range tail {
		if a == "--" {
			continue
		}
		out = append(out, a)
	}
	return out
}

// callEntry invokes a compiled entry point with integer arguments.
// Package-level so a scripted backend can intercept it under test.
var callEntry = func(addr uintptr, args ...uintptr) uintptr {
	r1, _, _ := purego.SyscallN(addr, args...)
	return r1
}

// cArgv lays out a NUL-terminated C string vector. The cArgv value must
// stay reachable for as long as the callee may use the pointers.
type cArgv struct {
	ptrs []uintptr
	strs [][]byte
}

func newCArgv(args []string) *cArgv {
	v := &cArgv{}
	for _, a := range args {
		b := append([]byte(a), 0)
		v.strs = append(v.strs, b)
		v.ptrs = append(v.ptrs, uintptr(unsafe.Pointer(&b[0])))
	}
	v.ptrs = append(v.ptrs, 0)
	return v
}

func (v *cArgv) argc() uintptr { return uintptr(len(v.ptrs) - 1) }

func (v *cArgv) argv() uintptr { return uintptr(unsafe.Pointer(&v.ptrs[0])) }

// Driver selects a mode and executes it.
type Driver struct {
	backend Backend
	cfg     Config
	out     io.Writer
	errw    io.Writer
	in      io.Reader
}

// NewDriver builds a driver around a code generator and base config.
func NewDriver(backend Backend, cfg Config) *Driver {
	return &Driver{
		backend: backend,
		cfg:     cfg,
		out:     os.Stdout,
		errw:    os.Stderr,
		in:      os.Stdin,
	}
}

// SetStreams redirects the driver's stdio, mainly for tests.
func (d *Driver) SetStreams(in io.Reader, out, errw io.Writer) {
	d.in, d.out, d.errw = in, out, errw
}

// Main runs one invocation and returns the process exit code: the user
// program's own code, 1 on compile or load failure, 0 on clean REPL
// termination.
func (d *Driver) Main(args []string) int {
	inv, err := ParseArgs(args)
	if err != nil {
		fmt.Fprintf(d.errw, "%v\n", err)
		return 1
	}
	cfg := d.cfg
	cfg.IncludePaths = append(cfg.IncludePaths, inv.IncludePaths...)
	cfg.LibraryPaths = append(cfg.LibraryPaths, inv.LibraryPaths...)
	cfg.Libraries = append(cfg.Libraries, inv.Libraries...)

	rt, err := NewRuntime(d.backend, cfg)
	if err != nil {
		fmt.Fprintf(d.errw, "%v\n", err)
		return 1
	}
	defer rt.Close()
	if cfg.Trace {
		// Raise glog verbosity so the V(1) diagnostics reach stderr.
		flag.Set("v", "1")
		flag.Set("alsologtostderr", "true")
		defer rt.stats.Dump(d.errw)
	}

	switch inv.Mode {
	case ModeREPL:
		if err := NewSession(rt).Run(d.in, d.out, d.errw); err != nil {
			fmt.Fprintf(d.errw, "%v\n", err)
			return 1
		}
		return 0
	case ModeInline:
		m, err := rt.CompileString("(inline)", inv.Source)
		if err != nil {
			fmt.Fprintf(d.errw, "%v\n", err)
			return 1
		}
		defer m.Close()
		return d.execMain(rt, m, "(inline)", inv.ProgArgs, false)
	case ModeDirect:
		m, err := rt.Load(inv.Source)
		if err != nil {
			fmt.Fprintf(d.errw, "%v\n", err)
			return 1
		}
		defer m.Close()
		return d.execMain(rt, m, inv.Source, inv.ProgArgs, true)
	default:
		m, err := rt.Load(inv.Source)
		if err != nil {
			fmt.Fprintf(d.errw, "%v\n", err)
			return 1
		}
		defer m.Close()
		return d.execMain(rt, m, inv.Source, inv.ProgArgs, false)
	}
}

// execMain resolves main in m and calls it under the crash guard with a
// marshalled argv. Slot 0 carries the program name. Direct-import mode
// additionally passes the environment vector.
func (d *Driver) execMain(rt *Runtime, m *Module, progName string, args []string, withEnv bool) int {
	entry, ok := m.Lookup("main")
	if !ok {
		fmt.Fprintf(d.errw, "%v\n", pathError(SymbolNotFound, m.Path(), fmt.Errorf("no main")))
		return 1
	}
	argv := newCArgv(append([]string{progName}, args...))
	var envp *cArgv
	callArgs := []uintptr{argv.argc(), argv.argv()}
	if withEnv {
		envp = newCArgv(os.Environ())
		callArgs = append(callArgs, envp.argv())
	}

	crashState.SetLocation(m.Path(), "main", 0)
	code, _, crashed := runGuarded(rt.stats, d.errw, func() int {
		return int(int32(callEntry(entry, callArgs...)))
	})
	crashState.clearLocation()
	runtime.KeepAlive(argv)
	runtime.KeepAlive(envp)
	if crashed {
		fmt.Fprintln(d.errw, "crun: program crashed but recovered")
		return 1
	}
	return code
}
