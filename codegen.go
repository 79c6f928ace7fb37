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

import "fmt"

// OutputType selects where a compiler state places its output.
type OutputType int

const (
	// OutputMemory relocates generated code into executable memory.
	OutputMemory OutputType = iota
	// OutputObject emits a relocatable object file.
	OutputObject
)

// ResolveFunc is called during relocation for each unresolved reference.
// It returns the address for name, or false if the name is unknown.
type ResolveFunc func(name string) (uintptr, bool)

// Backend is the embedded code generator. crun drives it but does not
// interpret its output beyond the State operations below.
type Backend interface {
	// NewState returns a fresh, independent compiler state. States must
	// not share mutable data; a module being loaded from inside another
	// module's main uses two live states at once.
	NewState() (State, error)
}

// State is one code-generator instance. All methods are single-threaded.
type State interface {
	// SetErrorFunc registers the sink for compiler diagnostics.
	SetErrorFunc(fn func(msg string))
	// SetOutputType must be called before the first compile.
	SetOutputType(t OutputType) error
	// SetOptions passes a command-line style option string.
	SetOptions(opts string)
	AddIncludePath(dir string) error
	AddLibraryPath(dir string) error
	AddLibrary(name string) error
	// Define adds a preprocessor definition.
	Define(name, value string)
	// RegisterSymbol publishes a host address under name before relocation.
	RegisterSymbol(name string, addr uintptr) error
	// CompileString compiles C source text into the state.
	CompileString(src string) error
	// AddFile compiles a source file or loads a relocatable object.
	AddFile(path string) error
	// Relocate lays the generated code into executable memory. resolve is
	// consulted once per remaining unresolved reference.
	Relocate(resolve ResolveFunc) error
	// Symbol returns the relocated address of name.
	Symbol(name string) (uintptr, bool)
	// OutputFile writes the relocatable object to path. Valid only for
	// states created with OutputObject, or before Relocate.
	OutputFile(path string) error
	// Close releases the state. Addresses obtained from Symbol are
	// invalid afterwards.
	Close() error
}

// backends is the registry of embedded code generators, keyed by name.
// Registration happens from init functions of backend packages.
var backends = map[string]func() Backend{}

// RegisterBackend makes a code generator available under name.
func RegisterBackend(name string, f func() Backend) {
	if _, ok := backends[name]; ok {
		panic(fmt.Sprintf("backend %q registered twice", name))
	}
	backends[name] = f
}

// NewBackend instantiates a registered code generator.
func NewBackend(name string) (Backend, error) {
	f, ok := backends[name]
	if !ok {
		return nil, loadErrorf(ConfigErr, "unknown backend %q", name)
	}
	return f(), nil
}
