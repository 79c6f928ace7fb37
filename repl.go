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
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	maxGlobalBuf = 64 << 10
	maxStmtBuf   = 32 << 10
)

// buffer is an append-only byte accumulator with a bounded capacity.
type buffer struct {
	buf       []byte
	bound     int
	bootstrap [64]byte // memory to hold first slice
}

func (b *buffer) WriteString(s string) error {
	if b.buf == nil {
		b.buf = b.bootstrap[:0]
	}
	if len(b.buf)+len(s) > b.bound {
		return loadErrorf(InvalidArgument, "buffer full: %d bytes over the %d limit", len(b.buf)+len(s)-b.bound, b.bound)
	}
	b.buf = append(b.buf, s...)
	return nil
}

func (b *buffer) Len() int       { return len(b.buf) }
func (b *buffer) String() string { return string(b.buf) }

func (b *buffer) truncate(n int) { b.buf = b.buf[:n] }

func (b *buffer) Reset() {
	if b.buf == nil {
		b.buf = b.bootstrap[:0]
	}
	b.buf = b.buf[:0]
}

// errQuit ends the REPL loop cleanly.
var errQuit = errors.New("quit")

// Session is one interactive run: accumulated top-level declarations,
// an accumulated statement body, and the module produced by the most
// recent statement turn. Pointers produced by earlier statements stay
// valid until the next statement turn or a reset.
type Session struct {
	rt        *Runtime
	globals   buffer
	stmts     buffer
	execCount int
	cur       *Module
	out       io.Writer
	errw      io.Writer
}

// NewSession creates an empty session on rt.
func NewSession(rt *Runtime) *Session {
	s := &Session{rt: rt}
	s.globals.bound = maxGlobalBuf
	s.stmts.bound = maxStmtBuf
	return s
}

// ExecCount returns the number of accepted lines.
func (s *Session) ExecCount() int { return s.execCount }

// Run drives the loop on in until :quit or EOF.
func (s *Session) Run(in io.Reader, out, errw io.Writer) error {
	s.out, s.errw = out, errw
	defer s.reset()
	fmt.Fprintln(out, "crun interactive; :help for commands")
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "crun> ")
		if !sc.Scan() {
			return sc.Err()
		}
		if err := s.Turn(sc.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(errw, "%v\n", err)
		}
	}
}

// Turn processes one input line. Meta-commands start with a colon. A
// line containing "(", ")" and "{" is taken as a function definition
// and goes to the global scope; everything else is a statement. The
// statement body is recompiled and executed as a whole each statement
// turn. A failed compile leaves both accumulators unchanged.
func (s *Session) Turn(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, ":") {
		return s.meta(trimmed)
	}
	if strings.Contains(trimmed, "(") && strings.Contains(trimmed, ")") && strings.Contains(trimmed, "{") {
		if err := s.globals.WriteString(line + "\n"); err != nil {
			return err
		}
		s.execCount++
		fmt.Fprintln(s.output(), "added to global scope")
		return nil
	}
	stmt := "    " + line
	if !endsWithSemi(stmt) {
		stmt += ";"
	}
	stmt += "\n"
	prev := s.stmts.Len()
	if err := s.stmts.WriteString(stmt); err != nil {
		return err
	}
	m, err := s.compileTurn()
	if err != nil {
		s.stmts.truncate(prev)
		return err
	}
	s.execCount++
	if s.cur != nil {
		s.cur.Close()
	}
	s.cur = m
	return s.execTurn(m)
}

// compileTurn builds the per-turn unit: global declarations, then the
// whole statement body wrapped in __repl_main.
func (s *Session) compileTurn() (*Module, error) {
	var unit strings.Builder
	unit.WriteString(s.globals.String())
	unit.WriteString("int __repl_main(void) {\n")
	unit.WriteString(s.stmts.String())
	unit.WriteString("    return 0;\n}\n")
	return s.rt.CompileString("(repl)", unit.String())
}

func (s *Session) execTurn(m *Module) error {
	entry, ok := m.Lookup("__repl_main")
	if !ok {
		return pathError(SymbolNotFound, "(repl)", fmt.Errorf("no __repl_main"))
	}
	crashState.SetLocation("(repl)", "__repl_main", 0)
	_, _, crashed := runGuarded(s.rt.stats, s.errout(), func() int {
		return int(int32(callEntry(entry)))
	})
	crashState.clearLocation()
	if crashed {
		fmt.Fprintln(s.errout(), "crun: program crashed but recovered")
	}
	return nil
}

func (s *Session) meta(line string) error {
	cmd, arg := line, ""
	if i := strings.IndexByte(line, ' '); i >= 0 {
		cmd, arg = line[:i], strings.TrimSpace(line[i+1:])
	}
	switch cmd {
	case ":quit", ":q":
		return errQuit
	case ":reset":
		s.reset()
		return nil
	case ":show":
		fmt.Fprint(s.output(), s.globals.String())
		fmt.Fprint(s.output(), s.stmts.String())
		return nil
	case ":help":
		fmt.Fprintln(s.output(), ":quit  :reset  :show  :save FILE  :load FILE  :help")
		return nil
	case ":save":
		if arg == "" {
			return loadErrorf(InvalidArgument, ":save needs a file")
		}
		return saverFor(arg).Save(arg, s.snapshot())
	case ":load":
		if arg == "" {
			return loadErrorf(InvalidArgument, ":load needs a file")
		}
		st, err := saverFor(arg).Load(arg)
		if err != nil {
			return err
		}
		return s.restore(st)
	}
	return loadErrorf(InvalidArgument, "unknown command %s", cmd)
}

// reset returns the session to its initial state; subsequent turns
// behave as in a fresh session.
func (s *Session) reset() {
	s.globals.Reset()
	s.stmts.Reset()
	if s.cur != nil {
		s.cur.Close()
		s.cur = nil
	}
}

func (s *Session) output() io.Writer {
	if s.out != nil {
		return s.out
	}
	return io.Discard
}

func (s *Session) errout() io.Writer {
	if s.errw != nil {
		return s.errw
	}
	return io.Discard
}
