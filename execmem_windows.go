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
	"unsafe"

	"golang.org/x/sys/windows"
)

func mmapExec(size int) ([]byte, error) {
	// Execute permission from creation, matching the unix mappings;
	// stubs are callable as soon as they are emitted.
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func protectRX(mem []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&mem[0])),
		uintptr(len(mem)), windows.PAGE_EXECUTE_READ, &old)
}

func munmap(mem []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, windows.MEM_RELEASE)
}

func jitWriteProtect(bool) {}

// isExecAddr reports whether addr lies in committed executable memory.
// Data addresses must never be wrapped by a trampoline.
func isExecAddr(addr uintptr) bool {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		return false
	}
	if mbi.State != windows.MEM_COMMIT {
		return false
	}
	const executable = windows.PAGE_EXECUTE | windows.PAGE_EXECUTE_READ |
		windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY
	return mbi.Protect&executable != 0
}
