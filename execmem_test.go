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
	"testing"
)

func TestRegionEmitAndSeal(t *testing.T) {
	r, err := newRegion(regionSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	a, err := r.Emit([]byte{0xC3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Emit([]byte{0x90, 0xC3})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("emits share an address")
	}
	if a%16 != 0 || b%16 != 0 {
		t.Errorf(`emits not 16-byte aligned: %#x %#x`, a, b)
	}
	if !r.Contains(a) || !r.Contains(b) {
		t.Error("region does not contain its own emits")
	}
	if r.Contains(0x1) {
		t.Error("region claims a foreign address")
	}

	if err := r.Seal(); err != nil {
		t.Fatal(err)
	}
	// Sealing is idempotent; emitting into a sealed region fails.
	if err := r.Seal(); err != nil {
		t.Errorf(`second Seal: %v`, err)
	}
	if _, err := r.Emit([]byte{0xC3}); err == nil {
		t.Error("emit into sealed region succeeded")
	}
}

func TestRegionFull(t *testing.T) {
	r, err := newRegion(regionSize)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Emit(make([]byte, regionSize+1)); err == nil {
		t.Error("oversized emit succeeded")
	}
}
