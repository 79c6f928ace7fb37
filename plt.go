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
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/golang/glog"
)

// maxPLTEntries bounds the per-table entry sequence. Exhaustion fails at
// add time; no partial entry is appended.
const maxPLTEntries = 512

const (
	pltUnresolved uint32 = iota
	pltResolving
	pltResolved
)

// pltEntry is one lazily-bound jump slot. The state word moves forward
// only: unresolved -> resolving -> resolved, except that a failed
// resolution attempt returns the entry to unresolved.
type pltEntry struct {
	name  string
	state atomic.Uint32
	addr  atomic.Uintptr
	calls atomic.Uint32
	fails atomic.Uint32
	// jump is the address generated code calls through.
	jump uintptr
}

// pltTable is the ordered sequence of PLT entries for one compiler state.
type pltTable struct {
	mu      sync.Mutex
	entries []*pltEntry
	byName  map[string]int
	st      *SymbolTable
	stats   *Stats
	region  *Region
	// slots holds the per-entry jump targets the stubs load through.
	// A fixed array keeps slot addresses stable for emitted code.
	slots *[maxPLTEntries]uintptr
	// resolverCB is the C-callable entry into resolveIndex.
	resolverCB uintptr
	cbOnce     sync.Once
}

func newPLTTable(st *SymbolTable, stats *Stats) *pltTable {
	return &pltTable{
		byName: make(map[string]int),
		st:     st,
		stats:  stats,
		slots:  new([maxPLTEntries]uintptr),
	}
}

// lazyPLTSupported reports whether first-call binding stubs exist for
// the running architecture. Elsewhere entries are bound eagerly at
// relocation.
func lazyPLTSupported() bool {
	return runtime.GOARCH == "amd64"
}

// Add appends an entry for name and returns its index. Adding the same
// name twice returns the existing index.
func (p *pltTable) Add(name string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.byName[name]; ok {
		return i, nil
	}
	if len(p.entries) >= maxPLTEntries {
		return 0, loadErrorf(MemoryErr, "plt full (%d entries), cannot add %s", maxPLTEntries, name)
	}
	e := &pltEntry{name: name}
	i := len(p.entries)
	if lazyPLTSupported() {
		if err := p.emitStub(e, i); err != nil {
			return 0, err
		}
	}
	p.entries = append(p.entries, e)
	p.byName[name] = i
	return i, nil
}

// Entry returns the entry at index i.
func (p *pltTable) Entry(i int) *pltEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.entries) {
		return nil
	}
	return p.entries[i]
}

// Jump returns the address generated code should call for entry i. With
// lazy binding unsupported this is zero until bindAll runs.
func (p *pltTable) Jump(i int) uintptr {
	e := p.Entry(i)
	if e == nil {
		return 0
	}
	if e.jump != 0 {
		return e.jump
	}
	return e.addr.Load()
}

// resolveIndex is the one-time binding path. First callers racing on the
// same entry serialize on the resolving state; the loser reuses the
// winner's address. On failure the entry returns to unresolved, the
// failure counter increments, and a zero function pointer is returned so
// the caller's null-guard path fires.
func (p *pltTable) resolveIndex(i int) uintptr {
	e := p.Entry(i)
	if e == nil {
		return 0
	}
	e.calls.Add(1)
	for {
		switch e.state.Load() {
		case pltResolved:
			return e.addr.Load()
		case pltResolving:
			runtime.Gosched()
		case pltUnresolved:
			if !e.state.CompareAndSwap(pltUnresolved, pltResolving) {
				continue
			}
			addr, ok := p.st.Resolve(e.name)
			if !ok || addr == 0 {
				e.fails.Add(1)
				p.stats.add(&p.stats.PLTFailures)
				e.state.Store(pltUnresolved)
				glog.V(1).Infof("plt %s: unresolved after %d failures", e.name, e.fails.Load())
				return 0
			}
			e.addr.Store(addr)
			p.slots[i] = addr
			e.state.Store(pltResolved)
			p.stats.add(&p.stats.PLTResolves)
			return addr
		}
	}
}

// bindAll resolves every entry eagerly. Used where lazy stubs are not
// available; failures leave entries unresolved for the relocation-time
// resolver to report.
func (p *pltTable) bindAll() {
	p.mu.Lock()
	n := len(p.entries)
	p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.resolveIndex(i)
	}
}

// emitStub builds the per-entry call stub and the first-call resolver
// thunk, and points the jump slot at the thunk. Caller holds p.mu.
func (p *pltTable) emitStub(e *pltEntry, i int) error {
	if p.region == nil {
		r, err := newRegion(regionSize)
		if err != nil {
			return err
		}
		p.region = r
	}
	p.cbOnce.Do(func() {
		p.resolverCB = purego.NewCallback(func(idx uintptr) uintptr {
			return p.resolveIndex(int(idx))
		})
	})
	thunk, err := p.region.Emit(encodePLTResolverThunk(i, p.resolverCB))
	if err != nil {
		return err
	}
	p.slots[i] = thunk
	slotAddr := uintptr(unsafe.Pointer(&p.slots[i]))
	jump, err := p.region.Emit(encodePLTJumpStub(slotAddr))
	if err != nil {
		return err
	}
	e.jump = jump
	return nil
}

// seal write-protects the stub region once relocation has bound every
// entry the unit needs. No stubs are emitted afterwards; the jump slots
// the stubs load through live outside the region and stay patchable.
func (p *pltTable) seal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return
	}
	if err := p.region.Seal(); err != nil {
		glog.Warningf("plt seal: %v", err)
	}
}

func (p *pltTable) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region != nil {
		p.region.Close()
		p.region = nil
	}
}

// encodePLTJumpStub emits: load the jump slot, jump through it. The slot
// initially holds the resolver thunk and is patched to the resolved
// address on first call.
func encodePLTJumpStub(slot uintptr) []byte {
	// movabs r11, slot; jmp [r11]
	code := make([]byte, 0, 16)
	code = append(code, 0x49, 0xBB)
	code = appendUint64(code, uint64(slot))
	code = append(code, 0x41, 0xFF, 0x23)
	return code
}

// encodePLTResolverThunk emits the first-call path: save the integer
// argument registers, call the resolver with the entry index, restore,
// and tail into the resolved address. Floating-point argument registers
// are not preserved across the resolver; lazy binding is applied to
// integer-signature entries.
func encodePLTResolverThunk(idx int, cb uintptr) []byte {
	code := make([]byte, 0, 64)
	code = append(code,
		0x57,       // push rdi
		0x56,       // push rsi
		0x52,       // push rdx
		0x51,       // push rcx
		0x41, 0x50, // push r8
		0x41, 0x51, // push r9
		0x50, // push rax
	)
	code = append(code, 0x48, 0xBF) // movabs rdi, idx
	code = appendUint64(code, uint64(idx))
	code = append(code, 0x48, 0xB8) // movabs rax, cb
	code = appendUint64(code, uint64(cb))
	code = append(code,
		0xFF, 0xD0, // call rax
		0x49, 0x89, 0xC3, // mov r11, rax
		0x58,       // pop rax
		0x41, 0x59, // pop r9
		0x41, 0x58, // pop r8
		0x59,             // pop rcx
		0x5A,             // pop rdx
		0x5E,             // pop rsi
		0x5F,             // pop rdi
		0x4D, 0x85, 0xDB, // test r11, r11
		0x74, 0x03, // jz over the jump
		0x41, 0xFF, 0xE3, // jmp r11
		0x31, 0xC0, // xor eax, eax
		0xC3, // ret with zero in rax
	)
	return code
}
