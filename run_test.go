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
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type normalization struct {
	regexp  *regexp.Regexp
	replace string
}

var normalizeREPL = []normalization{
	{regexp.MustCompile(`crun> `), ""},
	{regexp.MustCompile(`crun interactive[^\n]*\n`), ""},
}

func normalize(s string, ns []normalization) string {
	for _, n := range ns {
		s = n.regexp.ReplaceAllString(s, n.replace)
	}
	return s
}

func diffIfNeeded(t *testing.T, what, got, want string) {
	t.Helper()
	if got == want {
		return
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(want, got, false)
	t.Errorf("%s differs:\n%s", what, dmp.DiffPrettyText(diffs))
}

// Scenario: inline code printing its argc, with three runtime args.
func TestRunInlineArgc(t *testing.T) {
	defer swapCallEntry()()
	var progOut, out, errw bytes.Buffer
	b := &fakeBackend{progs: []fakeProg{progPrintArgc()}, out: &progOut}
	d := NewDriver(b, Config{})
	d.SetStreams(strings.NewReader(""), &out, &errw)

	code := d.Main([]string{"--eval", `int main(int a,char**v){printf("n=%d\n",a);return 0;}`, "x", "y", "z"})
	if code != 0 {
		t.Fatalf(`exit=%d, stderr=%q`, code, errw.String())
	}
	diffIfNeeded(t, "stdout", progOut.String(), "n=4\n")
}

// Scenario: sum.c over its args, twice; the second run uses the cache.
func TestRunSumWithCache(t *testing.T) {
	defer swapCallEntry()()
	dir := t.TempDir()
	src := filepath.Join(dir, "sum.c")
	code := "int main(int c,char**v){int s=0;for(int i=1;i<c;i++)s+=atoi(v[i]);printf(\"%d\\n\",s);return 0;}"
	if err := os.WriteFile(src, []byte(code), 0644); err != nil {
		t.Fatal(err)
	}

	run := func(b *fakeBackend) (int, string) {
		var progOut, out, errw bytes.Buffer
		b.out = &progOut
		d := NewDriver(b, Config{})
		d.SetStreams(strings.NewReader(""), &out, &errw)
		rc := d.Main([]string{src, "2", "3", "4"})
		return rc, progOut.String()
	}

	b := &fakeBackend{progs: []fakeProg{progSum()}}
	rc, got := run(b)
	if rc != 0 {
		t.Fatalf(`first run exit=%d`, rc)
	}
	diffIfNeeded(t, "first run stdout", got, "9\n")

	art := filepath.Join(dir, "sum."+MachineTag()+".o")
	if !exists(art) {
		t.Fatalf("cache artifact %s missing", art)
	}

	b2 := &fakeBackend{progs: []fakeProg{progSum()}}
	rc, got = run(b2)
	if rc != 0 {
		t.Fatalf(`second run exit=%d`, rc)
	}
	diffIfNeeded(t, "second run stdout", got, "9\n")
	if b2.compiles != 0 || b2.objLoads != 1 {
		t.Errorf(`second run compiles=%d objLoads=%d, want 0,1`, b2.compiles, b2.objLoads)
	}
}

// Scenario: a REPL transcript mixing a statement, a definition, and a
// printing statement.
func TestRunREPLTranscript(t *testing.T) {
	defer swapCallEntry()()
	var progOut, out, errw bytes.Buffer
	prog := fakeProg{
		name:  "repl-add",
		match: "add(x,3)",
		entry: "__repl_main",
		main: func(w io.Writer, _ []string) int {
			io.WriteString(w, "10\n")
			return 0
		},
	}
	b := &fakeBackend{progs: []fakeProg{prog}, out: &progOut}
	d := NewDriver(b, Config{})
	transcript := "int x = 7;\n" +
		"int add(int a,int b){return a+b;}\n" +
		`printf("%d\n", add(x,3));` + "\n" +
		":quit\n"
	d.SetStreams(strings.NewReader(transcript), &out, &errw)

	if code := d.Main(nil); code != 0 {
		t.Fatalf(`repl exit=%d, stderr=%q`, code, errw.String())
	}
	diffIfNeeded(t, "program output", progOut.String(), "10\n")
	wantUI := "added to global scope\n"
	diffIfNeeded(t, "repl ui", normalize(out.String(), normalizeREPL), wantUI)
}

// Scenario: a deliberate null dereference is reported and recovered.
func TestRunInlineCrashRecovered(t *testing.T) {
	defer swapCallEntry()()
	var progOut, out, errw bytes.Buffer
	b := &fakeBackend{progs: []fakeProg{progCrash()}, out: &progOut}
	d := NewDriver(b, Config{})
	d.SetStreams(strings.NewReader(""), &out, &errw)

	code := d.Main([]string{"--eval", "int main(){int*p=0;*p=1;return 0;}"})
	if code != 1 {
		t.Fatalf(`exit=%d, want 1`, code)
	}
	if !strings.Contains(errw.String(), "SIGSEGV") {
		t.Errorf("crash report does not name the signal: %q", errw.String())
	}
	if !strings.Contains(errw.String(), "crashed but recovered") {
		t.Errorf("recovery note missing: %q", errw.String())
	}
}

// Scenario: an unknown symbol fails the load with a diagnostic naming
// it, and produces no cache artifact.
func TestRunInlineUnknownSymbol(t *testing.T) {
	defer swapCallEntry()()
	var progOut, out, errw bytes.Buffer
	b := &fakeBackend{progs: []fakeProg{progNeedsMissing()}, out: &progOut}
	d := NewDriver(b, Config{})
	d.SetStreams(strings.NewReader(""), &out, &errw)

	code := d.Main([]string{"--eval", "int main(){nonexistent_xyz();return 0;}"})
	if code != 1 {
		t.Fatalf(`exit=%d, want 1`, code)
	}
	if !strings.Contains(errw.String(), "nonexistent_xyz") {
		t.Errorf("diagnostic does not name the symbol: %q", errw.String())
	}
	if progOut.Len() != 0 {
		t.Errorf("program ran despite load failure: %q", progOut.String())
	}
}
