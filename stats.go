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
	"io"
	"os"
	"sync"
	"time"
)

// Stats counts runtime events. All fields are cumulative for the life of
// the runtime; Dump prints the non-zero ones.
type Stats struct {
	mu sync.Mutex

	Resolves           int
	ResolveMisses      int
	CacheHits          int
	CacheMisses        int
	Compiles           int
	CompileErrors      int
	TrampolinesBuilt   int
	TrampolineOverflow int
	HostLibOverflow    int
	PLTResolves        int
	PLTFailures        int
	CrashesRecovered   int

	compileTime time.Duration
}

func (s *Stats) add(field *int) {
	if s == nil {
		return
	}
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

func (s *Stats) addCompileTime(d time.Duration) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.compileTime += d
	s.mu.Unlock()
}

// Dump writes a summary of the counters to w.
func (s *Stats) Dump(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := []struct {
		name string
		n    int
	}{
		{"resolves", s.Resolves},
		{"resolve misses", s.ResolveMisses},
		{"cache hits", s.CacheHits},
		{"cache misses", s.CacheMisses},
		{"compiles", s.Compiles},
		{"compile errors", s.CompileErrors},
		{"trampolines built", s.TrampolinesBuilt},
		{"trampoline overflow", s.TrampolineOverflow},
		{"host-lib overflow", s.HostLibOverflow},
		{"plt resolves", s.PLTResolves},
		{"plt failures", s.PLTFailures},
		{"crashes recovered", s.CrashesRecovered},
	}
	for _, r := range rows {
		if r.n != 0 {
			fmt.Fprintf(w, "*crun* %-20s %d\n", r.name, r.n)
		}
	}
	if s.compileTime != 0 {
		fmt.Fprintf(w, "*crun* %-20s %v\n", "compile time", s.compileTime)
	}
}

// traceEventT writes Chrome trace-event JSON for runtime phases when
// tracing to a file is requested.
type traceEventT struct {
	mu  sync.Mutex
	f   io.WriteCloser
	t0  time.Time
	pid int
}

var traceEvent traceEventT

// TraceEventStart starts trace event output.
func TraceEventStart(f io.WriteCloser) {
	traceEvent.start(f)
}

// TraceEventStop stops trace event output.
func TraceEventStop() {
	traceEvent.stop()
}

func (t *traceEventT) start(f io.WriteCloser) {
	t.f = f
	t.t0 = time.Now()
	fmt.Fprint(t.f, "[ ")
}

func (t *traceEventT) enabled() bool {
	return t.f != nil
}

func (t *traceEventT) stop() {
	if t.f == nil {
		return
	}
	fmt.Fprint(t.f, "\n]\n")
	t.f.Close()
	t.f = nil
}

type event struct {
	name string
	t    time.Time
}

func (t *traceEventT) begin(name string) event {
	e := event{name: name, t: time.Now()}
	if t.f != nil {
		t.emit("B", e, e.t.Sub(t.t0))
	}
	return e
}

func (t *traceEventT) end(e event) {
	if t.f != nil {
		t.emit("E", e, time.Since(t.t0))
	}
}

func (t *traceEventT) emit(ph string, e event, ts time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pid == 0 {
		t.pid = os.Getpid()
	} else {
		fmt.Fprintf(t.f, ",\n")
	}
	fmt.Fprintf(t.f, `{"pid":%d,"tid":1,"ts":%d,"ph":%q,"cat":"crun","name":%q,"args":{}}`,
		t.pid,
		ts.Nanoseconds()/1e3,
		ph,
		e.name,
	)
}
