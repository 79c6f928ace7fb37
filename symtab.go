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
	"sync"

	"github.com/golang/glog"
)

// SymbolSource records where a resolved address came from.
type SymbolSource int

const (
	SourceBuiltin SymbolSource = iota
	SourceHostLib
	SourceModule
	SourceTrampoline
)

func (s SymbolSource) String() string {
	switch s {
	case SourceBuiltin:
		return "builtin"
	case SourceHostLib:
		return "host-library"
	case SourceModule:
		return "generated-module"
	case SourceTrampoline:
		return "trampoline"
	}
	return "unknown"
}

// SymbolEntry is one resolved name. Entries are append-only within a
// session; they are dropped only at teardown.
type SymbolEntry struct {
	Name   string
	Addr   uintptr
	Source SymbolSource
	hash   uint32
}

// maxHostLibs bounds the host-library handle set. Once admitted a handle
// stays open until teardown.
const maxHostLibs = 16

// SymbolTable implements layered name resolution: built-in rows first,
// then host libraries in registration order, then the caller hook.
// One table exists per runtime; compiler states share it through the
// built-in rows registered on each state (State.RegisterSymbol) and the
// relocation resolve callback.
type SymbolTable struct {
	mu       sync.Mutex
	builtins []SymbolEntry
	cache    map[string]*SymbolEntry
	libs     []*Library
	hook     ResolveFunc
	tramps   *trampolineRegistry
	stats    *Stats
}

func newSymbolTable(tramps *trampolineRegistry, stats *Stats) *SymbolTable {
	return &SymbolTable{
		cache:  make(map[string]*SymbolEntry),
		tramps: tramps,
		stats:  stats,
	}
}

func strhash(s string) uint32 {
	// FNV-1a
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// AddBuiltin appends a built-in row. Built-in rows always win over host
// libraries and PLT entries carrying the same name.
func (st *SymbolTable) AddBuiltin(name string, addr uintptr) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.builtins = append(st.builtins, SymbolEntry{
		Name:   name,
		Addr:   addr,
		Source: SourceBuiltin,
		hash:   strhash(name),
	})
}

// Builtins returns a snapshot of the built-in rows, in registration order.
func (st *SymbolTable) Builtins() []SymbolEntry {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]SymbolEntry, len(st.builtins))
	copy(out, st.builtins)
	return out
}

// AddHostLibrary admits lib to the handle set. The set is bounded; on
// overflow the handle is dropped and the condition is surfaced.
func (st *SymbolTable) AddHostLibrary(lib *Library) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.libs) >= maxHostLibs {
		glog.Warningf("host library set full (%d), dropping %s", maxHostLibs, lib.Path())
		st.stats.add(&st.stats.HostLibOverflow)
		return loadErrorf(ConfigErr, "host library set full, cannot admit %s", lib.Path())
	}
	st.libs = append(st.libs, lib)
	return nil
}

// SetHook installs the in-process resolver of last resort.
func (st *SymbolTable) SetHook(hook ResolveFunc) {
	st.mu.Lock()
	st.hook = hook
	st.mu.Unlock()
}

// Resolve performs the layered search for name. The first hit is cached;
// later lookups return the cached entry.
func (st *SymbolTable) Resolve(name string) (uintptr, bool) {
	e, ok := st.resolveEntry(name)
	if !ok {
		return 0, false
	}
	return e.Addr, true
}

func (st *SymbolTable) resolveEntry(name string) (*SymbolEntry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.cache[name]; ok {
		return e, true
	}
	st.stats.add(&st.stats.Resolves)
	h := strhash(name)
	for i := range st.builtins {
		b := &st.builtins[i]
		if b.hash == h && b.Name == name {
			st.cache[name] = b
			return b, true
		}
	}
	for _, lib := range st.libs {
		addr, ok := lib.Lookup(name)
		if !ok {
			continue
		}
		src := SourceHostLib
		if wrapped := st.tramps.wrap(addr, lib); wrapped != addr {
			addr = wrapped
			src = SourceTrampoline
		}
		e := &SymbolEntry{Name: name, Addr: addr, Source: src, hash: h}
		st.cache[name] = e
		glog.V(1).Infof("resolve %s -> %#x (%s %s)", name, addr, src, lib.Path())
		return e, true
	}
	if st.hook != nil {
		if addr, ok := st.hook(name); ok {
			e := &SymbolEntry{Name: name, Addr: addr, Source: SourceModule, hash: h}
			st.cache[name] = e
			return e, true
		}
	}
	st.stats.add(&st.stats.ResolveMisses)
	glog.V(1).Infof("resolve %s: not found", name)
	return nil, false
}
