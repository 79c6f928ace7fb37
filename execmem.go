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
	"unsafe"
)

// Region is a block of memory that holds generated stubs. Pages carry
// execute permission from creation so emitted code is callable at once;
// Seal drops the write bit when a region stops growing. On ARM64 macOS
// every write is bracketed by the JIT write-protect toggle.
type Region struct {
	mem    []byte
	off    int
	sealed bool
}

const regionSize = 1 << 16

func newRegion(size int) (*Region, error) {
	mem, err := mmapExec(size)
	if err != nil {
		return nil, LoadError{Kind: MemoryErr, Err: err}
	}
	return &Region{mem: mem}, nil
}

// Emit copies code into the region and returns its address. Emission is
// 16-byte aligned.
func (r *Region) Emit(code []byte) (uintptr, error) {
	if r.sealed {
		return 0, loadErrorf(MemoryErr, "emit into sealed region")
	}
	off := (r.off + 15) &^ 15
	if off+len(code) > len(r.mem) {
		return 0, loadErrorf(MemoryErr, "code region full (%d bytes)", len(r.mem))
	}
	jitWriteProtect(false)
	copy(r.mem[off:], code)
	jitWriteProtect(true)
	r.off = off + len(code)
	return uintptr(unsafe.Pointer(&r.mem[off])), nil
}

// Seal drops the write bit, leaving the region read-execute. Further
// Emit calls fail.
func (r *Region) Seal() error {
	if r.sealed {
		return nil
	}
	if err := protectRX(r.mem); err != nil {
		return LoadError{Kind: PlatformErr, Err: err}
	}
	r.sealed = true
	return nil
}

// Close unmaps the region. Every address emitted from it is invalid
// afterwards.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := munmap(r.mem)
	r.mem = nil
	return err
}

// Contains reports whether addr points into the region.
func (r *Region) Contains(addr uintptr) bool {
	if len(r.mem) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&r.mem[0]))
	return addr >= base && addr < base+uintptr(len(r.mem))
}
