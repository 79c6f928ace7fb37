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
	"github.com/golang/glog"
)

// abiBridgeSymbol names the cross-ABI helper the trampoline stubs tail
// into on Windows. It must be exported by the host process.
const abiBridgeSymbol = "__crun_abi_bridge"

// Runtime owns the resolution pipeline and the loader. One runtime
// serves one driver; everything hanging off it is released by Close.
type Runtime struct {
	backend Backend
	cfg     Config
	stats   *Stats
	tramps  *trampolineRegistry
	symtab  *SymbolTable
	cache   *objCache
	imports *importTable
	sc      *scope
}

// NewRuntime wires a runtime around the given code generator. The host
// library set is seeded with the process handle and any configured
// pre-opened libraries; crash handlers are installed once.
func NewRuntime(backend Backend, cfg Config) (*Runtime, error) {
	if backend == nil {
		return nil, loadErrorf(InvalidArgument, "nil backend")
	}
	rt := &Runtime{
		backend: backend,
		cfg:     cfg,
		stats:   &Stats{},
		sc:      newScope(),
	}
	rt.tramps = newTrampolineRegistry(rt.stats)
	rt.sc.onExit(rt.tramps.close)
	rt.symtab = newSymbolTable(rt.tramps, rt.stats)

	self := selfLibrary()
	if err := rt.symtab.AddHostLibrary(self); err != nil {
		return nil, err
	}
	if DetectOS() == Windows {
		if addr, ok := self.Lookup(abiBridgeSymbol); ok {
			rt.tramps.setBridge(addr)
		} else {
			glog.Warningf("%s not exported; cross-ABI trampolines disabled", abiBridgeSymbol)
		}
	}
	for _, name := range cfg.HostLibs {
		path, _ := searchLibrary(name, cfg.LibraryPaths, DetectOS())
		lib, err := openLibrary(path)
		if err != nil {
			glog.Warningf("host lib %s: %v", name, err)
			continue
		}
		if err := rt.symtab.AddHostLibrary(lib); err != nil {
			lib.Close()
			continue
		}
		rt.sc.onExit(func() { lib.Close() })
	}

	rt.cache = newObjCache(rt.stats)
	rt.imports = newImportTable(rt)
	rt.registerBuiltins()
	InstallCrashHandlers()
	return rt, nil
}

// Stats returns the runtime's counters.
func (rt *Runtime) Stats() *Stats { return rt.stats }

// Symbols returns the runtime's symbol table.
func (rt *Runtime) Symbols() *SymbolTable { return rt.symtab }

// Close releases every module, trampoline region, and host library the
// runtime still owns. Idempotent.
func (rt *Runtime) Close() {
	rt.imports.closeAll()
	rt.sc.Exit()
}
