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
	"runtime"
	"strings"
)

// OS is the detected host operating system family.
type OS int

const (
	Linux OS = iota
	Darwin
	Windows
	OtherOS
)

func (o OS) String() string {
	switch o {
	case Linux:
		return "linux"
	case Darwin:
		return "macos"
	case Windows:
		return "windows"
	}
	return "other"
}

// DetectOS maps the Go runtime identifier to the OS family.
func DetectOS() OS {
	switch runtime.GOOS {
	case "linux", "android":
		return Linux
	case "darwin", "ios":
		return Darwin
	case "windows":
		return Windows
	}
	return OtherOS
}

// MachineTag returns the running machine identifier used in object cache
// file names: x86_64, aarch64, armv7l, i686, or the Go arch name
// verbatim for any other architecture.
func MachineTag() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "arm":
		return "armv7l"
	case "386":
		return "i686"
	}
	return runtime.GOARCH
}

// PathListSeparator returns the separator used in *_PATHS environment
// variables on the detected OS.
func PathListSeparator(os OS) byte {
	if os == Windows {
		return ';'
	}
	return ':'
}

// libExt returns the canonical shared-library extension for os.
func libExt(os OS) string {
	switch os {
	case Darwin:
		return ".dylib"
	case Windows:
		return ".dll"
	}
	return ".so"
}

// LibraryCandidates returns the ordered list of file names tried when
// opening a host library called name on os. The first entry is always
// name itself. When name carries none of the known library extensions
// (.so, .dylib, .dll, including versioned forms such as .so.6), name is
// appended with each extension, the platform's own first, and each of
// those again with a lib prefix when absent. A name that already carries
// any of those extensions, even another platform's, gets no retries. The
// list is finite and deterministic so the retry policy can be tested
// without a filesystem.
func LibraryCandidates(name string, os OS) []string {
	cands := []string{name}
	if hasLibExt(name) {
		return cands
	}
	exts := []string{libExt(os)}
	for _, e := range []string{".so", ".dylib", ".dll"} {
		if e != exts[0] {
			exts = append(exts, e)
		}
	}
	for _, e := range exts {
		cands = append(cands, name+e)
	}
	if !strings.HasPrefix(baseName(name), "lib") {
		for _, e := range exts {
			cands = append(cands, addLibPrefix(name)+e)
		}
	}
	return cands
}

func hasLibExt(name string) bool {
	for _, e := range []string{".so", ".dylib", ".dll"} {
		if strings.HasSuffix(name, e) {
			return true
		}
		// versioned .so names like libfoo.so.6
		if strings.Contains(name, e+".") {
			return true
		}
	}
	return false
}

func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

func addLibPrefix(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[:i+1] + "lib" + name[i+1:]
	}
	return "lib" + name
}

// Library is an opened host library.
type Library struct {
	handle uintptr
	path   string
	// self marks the distinguished handle representing the process
	// itself. Symbols from it never receive an ABI trampoline.
	self bool
}

// Path returns the name the library was opened under, or "(self)" for
// the process handle.
func (l *Library) Path() string {
	if l.self {
		return "(self)"
	}
	return l.path
}
