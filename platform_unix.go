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

//go:build linux || darwin || freebsd

package crun

import (
	"github.com/ebitengine/purego"
)

// openLibrary opens one host library, trying each candidate name in order.
func openLibrary(name string) (*Library, error) {
	var lastErr error
	for _, cand := range LibraryCandidates(name, DetectOS()) {
		h, err := purego.Dlopen(cand, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return &Library{handle: h, path: cand}, nil
		}
		lastErr = err
	}
	return nil, LoadError{Kind: PlatformErr, Path: name, Err: lastErr}
}

// selfLibrary returns the distinguished handle for the process itself.
func selfLibrary() *Library {
	return &Library{handle: purego.RTLD_DEFAULT, self: true}
}

// Lookup resolves name within the library, or false if it is not exported.
func (l *Library) Lookup(name string) (uintptr, bool) {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}

// Close releases the library handle. The handle set never closes admitted
// handles before teardown; this exists for the set's own teardown path.
func (l *Library) Close() error {
	if l.self {
		return nil
	}
	return purego.Dlclose(l.handle)
}
