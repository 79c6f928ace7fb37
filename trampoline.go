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
	"encoding/binary"
	"runtime"
	"sync/atomic"

	"github.com/golang/glog"
)

// maxTrampolines bounds the registry. At capacity new wraps degrade to
// the original address; calls needing ABI translation may then corrupt
// state, so the condition is logged and counted.
const maxTrampolines = 256

// spinLock is a test-and-set lock with a cooperative yield. It is held
// only long enough to search the registry and optionally append.
type spinLock struct {
	v int32
}

func (l *spinLock) lock() {
	for !atomic.CompareAndSwapInt32(&l.v, 0, 1) {
		runtime.Gosched()
	}
}

func (l *spinLock) unlock() {
	atomic.StoreInt32(&l.v, 0)
}

// trampolineRegistry maps original addresses to ABI-adapting stubs.
// Wrapping happens only on Windows for symbols obtained from host
// libraries other than the process handle; everywhere else wrap is a
// pass-through.
type trampolineRegistry struct {
	lk      spinLock
	entries map[uintptr]uintptr
	region  *Region
	bridge  uintptr
	stats   *Stats
	// osFn supplies the OS the wrap policy keys on. Overridable so the
	// registry's build and capacity paths can be tested anywhere, the
	// same way LibraryCandidates takes its OS as a parameter.
	osFn func() OS
}

func newTrampolineRegistry(stats *Stats) *trampolineRegistry {
	return &trampolineRegistry{
		entries: make(map[uintptr]uintptr),
		stats:   stats,
		osFn:    DetectOS,
	}
}

// setBridge installs the ABI-bridge helper the stubs tail into. Without
// a bridge the fabric stays pass-through.
func (t *trampolineRegistry) setBridge(addr uintptr) {
	t.lk.lock()
	t.bridge = addr
	t.lk.unlock()
}

func (t *trampolineRegistry) active() bool {
	return t.osFn() == Windows && t.bridge != 0
}

// wrap returns the trampoline for addr, building one on first sight.
// Repeated wraps of the same address return the same stub.
func (t *trampolineRegistry) wrap(addr uintptr, lib *Library) uintptr {
	if !t.active() || lib == nil || lib.self {
		return addr
	}
	if !isExecAddr(addr) {
		// Data exports must pass through untouched.
		return addr
	}
	t.lk.lock()
	defer t.lk.unlock()
	if tr, ok := t.entries[addr]; ok {
		return tr
	}
	if len(t.entries) >= maxTrampolines {
		glog.Warningf("trampoline registry full (%d); %#x used unwrapped, cross-ABI calls may corrupt state", maxTrampolines, addr)
		t.stats.add(&t.stats.TrampolineOverflow)
		return addr
	}
	if t.region == nil {
		// The registry grows for the life of the process, so its
		// region stays writable; pages carry execute permission from
		// creation.
		r, err := newRegion(regionSize)
		if err != nil {
			glog.Errorf("trampoline region: %v", err)
			return addr
		}
		t.region = r
	}
	stub := encodeTrampoline(addr, t.bridge)
	if stub == nil {
		return addr
	}
	tr, err := t.region.Emit(stub)
	if err != nil {
		glog.Warningf("trampoline emit: %v; %#x used unwrapped", err, addr)
		t.stats.add(&t.stats.TrampolineOverflow)
		return addr
	}
	t.entries[addr] = tr
	t.stats.add(&t.stats.TrampolinesBuilt)
	glog.V(1).Infof("trampoline %#x -> %#x", addr, tr)
	return tr
}

func (t *trampolineRegistry) close() {
	t.lk.lock()
	defer t.lk.unlock()
	if t.region != nil {
		t.region.Close()
		t.region = nil
	}
	t.entries = make(map[uintptr]uintptr)
}

// encodeTrampoline builds the machine stub: load the true target into
// one scratch register, the bridge into another, jump to the bridge.
func encodeTrampoline(target, bridge uintptr) []byte {
	switch runtime.GOARCH {
	case "amd64":
		code := make([]byte, 0, 24)
		code = append(code, 0x49, 0xBA) // movabs r10, target
		code = appendUint64(code, uint64(target))
		code = append(code, 0x49, 0xBB) // movabs r11, bridge
		code = appendUint64(code, uint64(bridge))
		code = append(code, 0x41, 0xFF, 0xE3) // jmp r11
		return code
	case "arm64":
		code := make([]byte, 0, 32)
		code = appendUint32(code, 0x58000090) // ldr x16, target literal
		code = appendUint32(code, 0x580000B1) // ldr x17, bridge literal
		code = appendUint32(code, 0xD61F0220) // br x17
		code = appendUint32(code, 0xD503201F) // nop (literal alignment)
		code = appendUint64(code, uint64(target))
		code = appendUint64(code, uint64(bridge))
		return code
	}
	return nil
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
