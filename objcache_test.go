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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArtifactPath(t *testing.T) {
	c := &objCache{tag: "x86_64"}
	for _, tc := range []struct {
		src  string
		want string
	}{
		{src: "sum.c", want: "sum.x86_64.o"},
		{src: "/tmp/a/sum.c", want: "/tmp/a/sum.x86_64.o"},
		{src: "noext", want: "noext.x86_64.o"},
		{src: "dir.v2/noext", want: "dir.v2/noext.x86_64.o"},
	} {
		if got := c.ArtifactPath(tc.src); got != filepath.FromSlash(tc.want) && got != tc.want {
			t.Errorf(`ArtifactPath(%q)=%q, want %q`, tc.src, got, tc.want)
		}
	}
}

func TestIsArtifact(t *testing.T) {
	c := &objCache{tag: "x86_64"}
	if !c.IsArtifact("sum.x86_64.o") {
		t.Error(`IsArtifact("sum.x86_64.o")=false`)
	}
	// Another machine's artifact never matches.
	if c.IsArtifact("sum.aarch64.o") {
		t.Error(`IsArtifact("sum.aarch64.o")=true`)
	}
	if c.IsArtifact("sum.c") {
		t.Error(`IsArtifact("sum.c")=true`)
	}
}

func TestCacheLookup(t *testing.T) {
	dir := t.TempDir()
	c := &objCache{tag: "x86_64", stats: &Stats{}}
	src := filepath.Join(dir, "prog.c")
	art := filepath.Join(dir, "prog.x86_64.o")

	// Artifact absent: miss.
	if err := os.WriteFile(src, []byte("int main(){}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(src); ok {
		t.Error("lookup hit with no artifact")
	}

	// Artifact newer than source: hit.
	if err := os.WriteFile(art, []byte("obj"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(src, old, old); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Lookup(src); !ok || got != art {
		t.Errorf(`Lookup=%q,%v, want %q,true`, got, ok, art)
	}

	// Source newer than artifact: stale, miss.
	oldArt := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(art, oldArt, oldArt); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := os.Chtimes(src, now, now); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup(src); ok {
		t.Error("lookup hit with stale artifact")
	}

	// Source gone, artifact present: release-mode hit.
	if err := os.Remove(src); err != nil {
		t.Fatal(err)
	}
	if got, ok := c.Lookup(src); !ok || got != art {
		t.Errorf(`release-mode Lookup=%q,%v, want %q,true`, got, ok, art)
	}
}
