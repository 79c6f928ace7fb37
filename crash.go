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
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
)

// CrashContext is the process-wide crash state. Signal handlers cannot
// take parameters, so this one singleton exists; only the execution
// driver and the fault path touch it. The resume point is armed by the
// driver immediately before entering compiled code and disarmed
// immediately after; nothing else arms it.
type CrashContext struct {
	mu       sync.Mutex
	File     string
	Function string
	Line     int
	armed    bool
}

var crashState = &CrashContext{}

// CrashState returns the singleton crash context.
func CrashState() *CrashContext { return crashState }

// SetLocation records where execution is about to enter compiled code.
func (c *CrashContext) SetLocation(file, function string, line int) {
	c.mu.Lock()
	c.File, c.Function, c.Line = file, function, line
	c.mu.Unlock()
}

func (c *CrashContext) clearLocation() {
	c.SetLocation("", "", 0)
}

func (c *CrashContext) arm() {
	c.mu.Lock()
	c.armed = true
	c.mu.Unlock()
}

func (c *CrashContext) disarm() {
	c.mu.Lock()
	c.armed = false
	c.mu.Unlock()
}

func (c *CrashContext) isArmed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

func (c *CrashContext) location() (string, string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.File, c.Function, c.Line
}

var faultNames = map[syscall.Signal][2]string{
	syscall.SIGSEGV: {"SIGSEGV", "segmentation fault"},
	syscall.SIGFPE:  {"SIGFPE", "floating-point exception"},
	syscall.SIGILL:  {"SIGILL", "illegal instruction"},
	syscall.SIGABRT: {"SIGABRT", "abort"},
	syscall.SIGBUS:  {"SIGBUS", "bus error"},
}

// reportCrash prints the structured diagnostic: signal, description,
// crash location if set, and a stack back-trace.
func reportCrash(w io.Writer, sig syscall.Signal) {
	n, ok := faultNames[sig]
	name, desc := fmt.Sprintf("signal %d", int(sig)), "fault"
	if ok {
		name, desc = n[0], n[1]
	}
	fmt.Fprintf(w, "crun: caught %s (%s)\n", name, desc)
	if file, fn, line := crashState.location(); file != "" || fn != "" {
		fmt.Fprintf(w, "crun:   at %s:%d in %s\n", file, line, fn)
	}
	fmt.Fprintf(w, "%s", debug.Stack())
}

var installOnce sync.Once

// InstallCrashHandlers routes the standard fault signals through the
// diagnostic path. Synchronous faults inside compiled code surface as
// runtime faults handled by runGuarded; asynchronously delivered fault
// signals terminate with 128+signum after reporting. Installation is
// skipped on hosts where intercepting faults is unsafe.
func InstallCrashHandlers() {
	if DetectOS() == OtherOS {
		return
	}
	installOnce.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGSEGV, syscall.SIGILL, syscall.SIGABRT, syscall.SIGBUS, syscall.SIGFPE)
		go func() {
			for s := range ch {
				sig, _ := s.(syscall.Signal)
				reportCrash(os.Stderr, sig)
				os.Exit(128 + int(sig))
			}
		}()
	})
}

// classifyFault maps a recovered runtime fault to the signal it stands
// for, or 0 when the panic is not a fault.
func classifyFault(r interface{}) syscall.Signal {
	re, ok := r.(runtime.Error)
	if !ok {
		return 0
	}
	msg := re.Error()
	switch {
	case strings.Contains(msg, "invalid memory address"),
		strings.Contains(msg, "unexpected fault address"):
		return syscall.SIGSEGV
	case strings.Contains(msg, "divide by zero"):
		return syscall.SIGFPE
	case strings.Contains(msg, "misaligned"):
		return syscall.SIGBUS
	}
	return 0
}

// runGuarded executes fn with the resume point armed. A fault inside fn
// transfers control back here: the diagnostic is printed, the signal
// number returned, and normal operation resumes. On normal return the
// resume point is disarmed before the result is handed back. Faults
// while unarmed are not intercepted and take the process down with
// 128+signum.
func runGuarded(stats *Stats, w io.Writer, fn func() int) (code int, sig syscall.Signal, crashed bool) {
	prev := debug.SetPanicOnFault(true)
	crashState.arm()
	defer func() {
		crashState.disarm()
		debug.SetPanicOnFault(prev)
		if r := recover(); r != nil {
			s := classifyFault(r)
			if s == 0 {
				panic(r)
			}
			reportCrash(w, s)
			stats.add(&stats.CrashesRecovered)
			code, sig, crashed = 1, s, true
		}
	}()
	code = fn()
	return code, 0, false
}
