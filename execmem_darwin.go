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

//go:build darwin

package crun

import (
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

func mmapExec(size int) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if runtime.GOARCH == "arm64" {
		flags |= unix.MAP_JIT
	}
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, flags)
}

func protectRX(mem []byte) error {
	// MAP_JIT pages stay RWX; the write-protect toggle guards them.
	if runtime.GOARCH == "arm64" {
		return nil
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC)
}

func munmap(mem []byte) error {
	return unix.Munmap(mem)
}

var jitToggle struct {
	once sync.Once
	fn   func(int)
}

// jitWriteProtect flips the per-thread JIT write protection on ARM64
// macOS. Writes to MAP_JIT pages must happen with protection off.
func jitWriteProtect(protect bool) {
	if runtime.GOARCH != "arm64" {
		return
	}
	jitToggle.once.Do(func() {
		purego.RegisterLibFunc(&jitToggle.fn, purego.RTLD_DEFAULT, "pthread_jit_write_protect_np")
	})
	v := 0
	if protect {
		v = 1
	}
	jitToggle.fn(v)
}

func isExecAddr(addr uintptr) bool { return addr != 0 }
