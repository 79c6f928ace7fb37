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
	"errors"
	"fmt"
)

// ErrKind classifies runtime failures.
type ErrKind int

const (
	// InvalidArgument is a null or malformed input at an API boundary.
	InvalidArgument ErrKind = iota
	// MemoryErr is an allocation failure.
	MemoryErr
	// CodegenInit is a failure creating or configuring a compiler state.
	CodegenInit
	// CodegenCompile is a failure reported by the code generator.
	CodegenCompile
	// SymbolNotFound means the resolver exhausted all sources.
	SymbolNotFound
	// FileNotFound means a required source or cache file is absent.
	FileNotFound
	// PlatformErr is a host OS call failure.
	PlatformErr
	// ConfigErr is a configuration inconsistency at initialization.
	ConfigErr
)

var errKindNames = [...]string{
	InvalidArgument: "invalid argument",
	MemoryErr:       "out of memory",
	CodegenInit:     "codegen init",
	CodegenCompile:  "compile error",
	SymbolNotFound:  "symbol not found",
	FileNotFound:    "file not found",
	PlatformErr:     "platform error",
	ConfigErr:       "config error",
}

func (k ErrKind) String() string {
	if int(k) < len(errKindNames) {
		return errKindNames[k]
	}
	return fmt.Sprintf("ErrKind(%d)", int(k))
}

// LoadError is an error in crun loading or execution.
type LoadError struct {
	Kind ErrKind
	Path string
	Err  error
}

func (e LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("crun: %s: %s: %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("crun: %s: %v", e.Kind, e.Err)
}

func (e LoadError) Unwrap() error { return e.Err }

func loadErrorf(kind ErrKind, f string, args ...interface{}) error {
	return LoadError{Kind: kind, Err: fmt.Errorf(f, args...)}
}

func pathError(kind ErrKind, path string, err error) error {
	if le := (LoadError{}); errors.As(err, &le) {
		if le.Path == "" {
			le.Path = path
		}
		return le
	}
	return LoadError{Kind: kind, Path: path, Err: err}
}

// ErrorKind extracts the classification from err, or ok=false if err is
// not a LoadError.
func ErrorKind(err error) (ErrKind, bool) {
	var le LoadError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return 0, false
}
