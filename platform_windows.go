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

//go:build windows

package crun

import (
	"golang.org/x/sys/windows"
)

func openLibrary(name string) (*Library, error) {
	var lastErr error
	for _, cand := range LibraryCandidates(name, Windows) {
		h, err := windows.LoadLibrary(cand)
		if err == nil {
			return &Library{handle: uintptr(h), path: cand}, nil
		}
		lastErr = err
	}
	return nil, LoadError{Kind: PlatformErr, Path: name, Err: lastErr}
}

func selfLibrary() *Library {
	h, _ := windows.GetModuleHandle(nil)
	return &Library{handle: uintptr(h), self: true}
}

func (l *Library) Lookup(name string) (uintptr, bool) {
	addr, err := windows.GetProcAddress(windows.Handle(l.handle), name)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}

func (l *Library) Close() error {
	if l.self {
		return nil
	}
	return windows.FreeLibrary(windows.Handle(l.handle))
}
