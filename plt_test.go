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
	"fmt"
	"sync"
	"testing"
)

func newTestPLT(st *SymbolTable) *pltTable {
	return newPLTTable(st, st.stats)
}

func TestPLTResolveOnce(t *testing.T) {
	st := newTestSymtab()
	st.AddBuiltin("f", 0x1000)
	p := newTestPLT(st)
	defer p.close()

	i, err := p.Add("f")
	if err != nil {
		t.Fatal(err)
	}
	if got := p.resolveIndex(i); got != 0x1000 {
		t.Fatalf(`resolveIndex=%#x, want 0x1000`, got)
	}
	e := p.Entry(i)
	if e.state.Load() != pltResolved {
		t.Errorf(`state=%d, want resolved`, e.state.Load())
	}
	// Once resolved the address never changes.
	if got := p.resolveIndex(i); got != 0x1000 {
		t.Errorf(`second resolveIndex=%#x, want 0x1000`, got)
	}
	if e.calls.Load() != 2 {
		t.Errorf(`calls=%d, want 2`, e.calls.Load())
	}
}

func TestPLTResolveFailure(t *testing.T) {
	st := newTestSymtab()
	p := newTestPLT(st)
	defer p.close()

	i, err := p.Add("nonexistent_xyz")
	if err != nil {
		t.Fatal(err)
	}
	if got := p.resolveIndex(i); got != 0 {
		t.Fatalf(`resolveIndex=%#x, want 0`, got)
	}
	e := p.Entry(i)
	// Failed resolution returns the entry to unresolved.
	if e.state.Load() != pltUnresolved {
		t.Errorf(`state=%d, want unresolved`, e.state.Load())
	}
	if e.fails.Load() != 1 {
		t.Errorf(`fails=%d, want 1`, e.fails.Load())
	}
}

func TestPLTAddDedup(t *testing.T) {
	st := newTestSymtab()
	p := newTestPLT(st)
	defer p.close()

	a, err := p.Add("dup")
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Add("dup")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf(`Add("dup") twice: %d and %d`, a, b)
	}
}

func TestPLTConcurrentFirstCallers(t *testing.T) {
	st := newTestSymtab()
	st.AddBuiltin("g", 0x2000)
	p := newTestPLT(st)
	defer p.close()

	i, err := p.Add("g")
	if err != nil {
		t.Fatal(err)
	}
	const n = 16
	got := make([]uintptr, n)
	var wg sync.WaitGroup
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			got[k] = p.resolveIndex(i)
		}(k)
	}
	wg.Wait()
	for k := 0; k < n; k++ {
		if got[k] != 0x2000 {
			t.Errorf(`caller %d got %#x, want 0x2000`, k, got[k])
		}
	}
}

func TestPLTCapacity(t *testing.T) {
	if testing.Short() {
		t.Skip("fills the plt")
	}
	st := newTestSymtab()
	p := newTestPLT(st)
	defer p.close()

	for k := 0; k < maxPLTEntries; k++ {
		if _, err := p.Add(fmt.Sprintf("sym%d", k)); err != nil {
			t.Fatalf(`Add(%d): %v`, k, err)
		}
	}
	if _, err := p.Add("one_too_many"); err == nil {
		t.Fatal("Add over capacity succeeded")
	}
	// No partial entry was appended.
	if p.Entry(maxPLTEntries) != nil {
		t.Error("partial entry appended at capacity")
	}
}
