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
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"
)

// The scripted backend stands in for the embedded code generator. A
// test describes programs by a source substring; compiling source that
// contains the substring binds the program's entry to a fake address
// the swapped-in callEntry dispatches on.

var fakeCalls = struct {
	sync.Mutex
	next uintptr
	fns  map[uintptr]func(args []uintptr) uintptr
}{next: 0x1000_0000, fns: map[uintptr]func(args []uintptr) uintptr{}}

func registerFakeFn(fn func(args []uintptr) uintptr) uintptr {
	fakeCalls.Lock()
	defer fakeCalls.Unlock()
	addr := fakeCalls.next
	fakeCalls.next += 16
	fakeCalls.fns[addr] = fn
	return addr
}

// swapCallEntry reroutes compiled-entry calls to the fake registry for
// the duration of one test.
func swapCallEntry() func() {
	orig := callEntry
	callEntry = func(addr uintptr, args ...uintptr) uintptr {
		fakeCalls.Lock()
		fn := fakeCalls.fns[addr]
		fakeCalls.Unlock()
		if fn == nil {
			return ^uintptr(0)
		}
		return fn(args)
	}
	return func() { callEntry = orig }
}

// readCArgv walks a marshalled argv vector back into Go strings.
func readCArgv(argc, argv uintptr) []string {
	var out []string
	for i := uintptr(0); i < argc; i++ {
		p := *(*uintptr)(unsafe.Pointer(argv + i*unsafe.Sizeof(uintptr(0))))
		out = append(out, goString(p))
	}
	return out
}

// fakeProg is one compilable behavior. match selects it by substring of
// the submitted source; needs are symbols resolved at relocation; entry
// names the symbol the program exports; main runs when that symbol is
// called.
type fakeProg struct {
	name  string
	match string
	entry string
	needs []string
	main  func(out io.Writer, args []string) int
}

type fakeBackend struct {
	progs []fakeProg
	out   io.Writer

	mu        sync.Mutex
	compiles  int
	objLoads  int
	states    int32
	liveState int32
	lastUnit  string
}

func (b *fakeBackend) NewState() (State, error) {
	atomic.AddInt32(&b.states, 1)
	atomic.AddInt32(&b.liveState, 1)
	return &fakeState{b: b, symbols: map[string]uintptr{}}, nil
}

type fakeState struct {
	b       *fakeBackend
	prog    *fakeProg
	errFn   func(string)
	symbols map[string]uintptr
	reloc   bool
	closed  bool
}

func (s *fakeState) SetErrorFunc(fn func(string)) { s.errFn = fn }
func (s *fakeState) SetOutputType(OutputType) error {
	return nil
}
func (s *fakeState) SetOptions(string)           {}
func (s *fakeState) AddIncludePath(string) error { return nil }
func (s *fakeState) AddLibraryPath(string) error { return nil }
func (s *fakeState) AddLibrary(string) error     { return nil }
func (s *fakeState) Define(string, string)       {}
func (s *fakeState) RegisterSymbol(name string, addr uintptr) error {
	s.symbols[name] = addr
	return nil
}

func (s *fakeState) pick(src string) error {
	s.b.mu.Lock()
	s.b.compiles++
	s.b.lastUnit = src
	s.b.mu.Unlock()
	if strings.Contains(src, "@syntax-error@") {
		if s.errFn != nil {
			s.errFn("(unit):1: parse error")
		}
		return fmt.Errorf("compile failed")
	}
	for i := range s.b.progs {
		if strings.Contains(src, s.b.progs[i].match) {
			s.prog = &s.b.progs[i]
			return nil
		}
	}
	// Units with no scripted behavior compile to a no-op entry.
	s.prog = &fakeProg{entry: "__repl_main", main: func(io.Writer, []string) int { return 0 }}
	return nil
}

func (s *fakeState) CompileString(src string) error { return s.pick(src) }

func (s *fakeState) AddFile(path string) error {
	// Cache artifacts store the program name they were compiled from.
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(string(data))
	for i := range s.b.progs {
		if s.b.progs[i].name == name {
			s.prog = &s.b.progs[i]
			s.b.mu.Lock()
			s.b.objLoads++
			s.b.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("bad object %s", path)
}

func (s *fakeState) OutputFile(path string) error {
	name := ""
	if s.prog != nil {
		name = s.prog.name
	}
	return os.WriteFile(path, []byte(name+"\n"), 0644)
}

func (s *fakeState) Relocate(resolve ResolveFunc) error {
	if s.prog == nil {
		return fmt.Errorf("nothing compiled")
	}
	var missing []string
	for _, need := range s.prog.needs {
		if _, ok := s.symbols[need]; ok {
			continue
		}
		if _, ok := resolve(need); !ok {
			missing = append(missing, need)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("undefined: %s", strings.Join(missing, ","))
	}
	prog := s.prog
	b := s.b
	entry := prog.entry
	if entry == "" {
		entry = "main"
	}
	s.symbols[entry] = registerFakeFn(func(args []uintptr) uintptr {
		var argv []string
		if len(args) >= 2 {
			argv = readCArgv(args[0], args[1])
		}
		return uintptr(prog.main(b.out, argv))
	})
	s.reloc = true
	return nil
}

func (s *fakeState) Symbol(name string) (uintptr, bool) {
	if !s.reloc || s.closed {
		return 0, false
	}
	addr, ok := s.symbols[name]
	return addr, ok
}

func (s *fakeState) Close() error {
	s.closed = true
	atomic.AddInt32(&s.b.liveState, -1)
	return nil
}

// Common scripted programs.

func progPrintArgc() fakeProg {
	return fakeProg{
		name:  "print-argc",
		match: `printf("n=%d\n",a)`,
		main: func(out io.Writer, args []string) int {
			fmt.Fprintf(out, "n=%d\n", len(args))
			return 0
		},
	}
}

func progSum() fakeProg {
	return fakeProg{
		name:  "sum",
		match: "s+=atoi(v[i])",
		main: func(out io.Writer, args []string) int {
			s := 0
			for _, a := range args[1:] {
				n, _ := strconv.Atoi(a)
				s += n
			}
			fmt.Fprintf(out, "%d\n", s)
			return 0
		},
	}
}

func progCrash() fakeProg {
	return fakeProg{
		name:  "crash",
		match: "*p=1",
		main: func(io.Writer, []string) int {
			var p *int
			*p = 1 //nolint:govet
			return 0
		},
	}
}

func progNeedsMissing() fakeProg {
	return fakeProg{
		name:  "needs-missing",
		match: "nonexistent_xyz()",
		needs: []string{"nonexistent_xyz"},
		main:  func(io.Writer, []string) int { return 0 },
	}
}
