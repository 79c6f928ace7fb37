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
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
)

// maxUnitSize bounds prologue + user source handed to one compile.
const maxUnitSize = 96 << 10

// apiPrologue is prepended to every compiled unit so user code can call
// the import API without declarations of its own.
const apiPrologue = "extern void *__import(const char *path);\n" +
	"extern void *__sym(void *module, const char *name);\n" +
	"extern void __import_free(void *module);\n" +
	"#line 1\n"

// Module is one compiled unit: its generated code, private symbol table,
// and relocation metadata. Close invalidates every address obtained
// from it.
type Module struct {
	rt     *Runtime
	path   string
	state  State
	plt    *pltTable
	sc     *scope
	closed bool
}

// Path returns the source the module was loaded from.
func (m *Module) Path() string { return m.path }

// Lookup returns the relocated address of name within the module.
func (m *Module) Lookup(name string) (uintptr, bool) {
	if m.closed {
		return 0, false
	}
	return m.state.Symbol(name)
}

// Close releases the module. Idempotent.
func (m *Module) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.sc.Exit()
}

// Load turns path into a relocated module. Objects previously written by
// the cache load directly; sources consult the cache first and compile
// on a miss. Either a fully-relocated module or an error comes back;
// partial modules never escape.
func (rt *Runtime) Load(path string) (*Module, error) {
	ev := traceEvent.begin("load " + path)
	defer traceEvent.end(ev)
	if rt.cache.IsArtifact(path) {
		if !exists(path) {
			return nil, pathError(FileNotFound, path, fmt.Errorf("no such object"))
		}
		return rt.loadUnit(path, unitObject, "")
	}
	if !exists(path) {
		return nil, pathError(FileNotFound, path, fmt.Errorf("no such file"))
	}
	if art, ok := rt.cache.Lookup(path); ok {
		glog.V(1).Infof("cache hit %s", art)
		return rt.loadUnit(art, unitObject, "")
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, pathError(FileNotFound, path, err)
	}
	return rt.loadUnit(path, unitSource, string(src))
}

// CompileString compiles in-memory source under the given display name.
// The object cache is not involved.
func (rt *Runtime) CompileString(name, src string) (*Module, error) {
	ev := traceEvent.begin("compile " + name)
	defer traceEvent.end(ev)
	return rt.loadUnit(name, unitInline, src)
}

type unitKind int

const (
	unitSource unitKind = iota
	unitInline
	unitObject
)

// loadUnit drives one code-generator state from configuration through
// relocation. On any failure the state and its scope unwind; no global
// state is left behind beyond diagnostic counters.
func (rt *Runtime) loadUnit(path string, kind unitKind, src string) (m *Module, err error) {
	sc := newScope()
	ok := false
	defer func() {
		if !ok {
			sc.Exit()
		}
	}()

	s, err := rt.backend.NewState()
	if err != nil {
		return nil, pathError(CodegenInit, path, err)
	}
	sc.onExit(func() { s.Close() })

	var diags []string
	s.SetErrorFunc(func(msg string) {
		diags = append(diags, msg)
		glog.V(1).Infof("codegen: %s", msg)
	})
	if err := s.SetOutputType(OutputMemory); err != nil {
		return nil, pathError(CodegenInit, path, err)
	}
	if err := rt.configureState(s); err != nil {
		return nil, pathError(CodegenInit, path, err)
	}

	plt := newPLTTable(rt.symtab, rt.stats)
	sc.onExit(plt.close)

	start := time.Now()
	rt.stats.add(&rt.stats.Compiles)
	switch kind {
	case unitObject:
		if err := s.AddFile(path); err != nil {
			rt.stats.add(&rt.stats.CompileErrors)
			return nil, pathError(CodegenCompile, path, compileError(err, diags))
		}
	default:
		unit := apiPrologue + src
		if len(unit) > maxUnitSize {
			return nil, pathError(InvalidArgument, path,
				fmt.Errorf("source too large: %d bytes over the %d limit", len(unit)-maxUnitSize, maxUnitSize))
		}
		if err := s.CompileString(unit); err != nil {
			rt.stats.add(&rt.stats.CompileErrors)
			return nil, pathError(CodegenCompile, path, compileError(err, diags))
		}
	}
	rt.stats.addCompileTime(time.Since(start))

	// The cache artifact is written strictly before relocation so a
	// crash during relocation cannot leave a cache pointing at a dead
	// image.
	if kind == unitSource {
		rt.cache.Store(s, path)
	}

	var missing []string
	resolve := func(name string) (uintptr, bool) {
		if addr, found := rt.symtab.Resolve(name); found {
			return addr, true
		}
		if rt.cfg.LazyBind {
			if i, aerr := plt.Add(name); aerr == nil {
				if stub := plt.Jump(i); stub != 0 {
					return stub, true
				}
			}
		}
		missing = append(missing, name)
		return 0, false
	}
	if err := s.Relocate(resolve); err != nil {
		if len(missing) > 0 {
			return nil, pathError(SymbolNotFound, path,
				fmt.Errorf("undefined symbol %s", strings.Join(missing, ", ")))
		}
		return nil, pathError(CodegenCompile, path, compileError(err, diags))
	}
	if !lazyPLTSupported() {
		plt.bindAll()
	}
	plt.seal()

	ok = true
	return &Module{rt: rt, path: path, state: s, plt: plt, sc: sc}, nil
}

func (rt *Runtime) configureState(s State) error {
	// Host headers and startup files stay out; resolution happens
	// against the runtime's own table. Undeclared references are
	// accepted and resolved at load time, so user code can call host
	// library entries without declarations.
	s.SetOptions("-nostdinc -nostdlib -w")
	s.Define("__CRUN__", "1")
	switch DetectOS() {
	case Linux:
		s.Define("__CRUN_LINUX__", "1")
	case Darwin:
		s.Define("__CRUN_MACOS__", "1")
	case Windows:
		s.Define("__CRUN_WINDOWS__", "1")
	default:
		s.Define("__CRUN_OTHER__", "1")
	}
	for _, p := range rt.cfg.IncludePaths {
		if err := s.AddIncludePath(p); err != nil {
			return err
		}
	}
	for _, p := range rt.cfg.LibraryPaths {
		if err := s.AddLibraryPath(p); err != nil {
			return err
		}
	}
	for _, l := range rt.cfg.Libraries {
		if err := s.AddLibrary(l); err != nil {
			return err
		}
	}
	for _, b := range rt.symtab.Builtins() {
		if err := s.RegisterSymbol(b.Name, b.Addr); err != nil {
			return err
		}
	}
	return nil
}

func compileError(err error, diags []string) error {
	if len(diags) == 0 {
		return err
	}
	return fmt.Errorf("%v\n%s", err, strings.Join(diags, "\n"))
}
