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

//go:build linux || freebsd

package crun

import (
	"golang.org/x/sys/unix"
)

func mmapExec(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

func protectRX(mem []byte) error {
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func munmap(mem []byte) error {
	return unix.Munmap(mem)
}

func jitWriteProtect(bool) {}

// isExecAddr reports whether addr lies in executable memory of the host
// process. The trampoline fabric is a no-op off Windows, so a cheap
// affirmative answer is fine here.
func isExecAddr(addr uintptr) bool { return addr != 0 }
