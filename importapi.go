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
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/golang/glog"
)

// importTable tracks modules loaded from inside executing code. Handles
// handed to C are opaque non-zero tokens, never raw Go pointers.
type importTable struct {
	mu   sync.Mutex
	next uintptr
	mods map[uintptr]*Module
}

func newImportTable(rt *Runtime) *importTable {
	return &importTable{next: 1, mods: make(map[uintptr]*Module)}
}

func (t *importTable) add(m *Module) uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.mods[h] = m
	return h
}

func (t *importTable) get(h uintptr) *Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mods[h]
}

func (t *importTable) remove(h uintptr) *Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := t.mods[h]
	delete(t.mods, h)
	return m
}

func (t *importTable) closeAll() {
	t.mu.Lock()
	mods := t.mods
	t.mods = make(map[uintptr]*Module)
	t.mu.Unlock()
	for _, m := range mods {
		m.Close()
	}
}

// goString copies a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}

// registerBuiltins fills the built-in symbol table: the import API under
// both underscore and dotted names, plus the runtime's own service
// entries. Built-in rows take precedence over every other source.
func (rt *Runtime) registerBuiltins() {
	importCB := purego.NewCallback(func(path uintptr) uintptr {
		name := goString(path)
		if name == "" {
			return 0
		}
		m, err := rt.Load(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "crun: __import: %v\n", err)
			return 0
		}
		return rt.imports.add(m)
	})
	symCB := purego.NewCallback(func(h, name uintptr) uintptr {
		m := rt.imports.get(h)
		if m == nil {
			return 0
		}
		addr, ok := m.Lookup(goString(name))
		if !ok {
			return 0
		}
		return addr
	})
	freeCB := purego.NewCallback(func(h uintptr) uintptr {
		if m := rt.imports.remove(h); m != nil {
			m.Close()
		}
		return 0
	})
	traceCB := purego.NewCallback(func(msg uintptr) uintptr {
		glog.V(1).Infof("user: %s", goString(msg))
		return 0
	})

	for _, row := range []struct {
		name string
		addr uintptr
	}{
		{"__import", importCB},
		{"__sym", symCB},
		{"__import_free", freeCB},
		{"crun.import", importCB},
		{"crun.sym", symCB},
		{"crun.import_free", freeCB},
		{"__crun_trace", traceCB},
		{"crun.trace", traceCB},
	} {
		rt.symtab.AddBuiltin(row.name, row.addr)
	}
}
