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
	"encoding/gob"
	"encoding/json"
	"os"
	"strings"
)

// SessionState is the serializable part of a REPL session.
type SessionState struct {
	Globals   string
	Stmts     string
	ExecCount int
}

// LoadSaver persists session state.
type LoadSaver interface {
	Save(path string, st *SessionState) error
	Load(path string) (*SessionState, error)
}

// JSON is a json loader/saver.
var JSON LoadSaver

// GOB is a gob loader/saver.
var GOB LoadSaver

func init() {
	JSON = jsonLoadSaver{}
	GOB = gobLoadSaver{}
}

type jsonLoadSaver struct{}
type gobLoadSaver struct{}

func (jsonLoadSaver) Save(path string, st *SessionState) error {
	f, err := os.Create(path)
	if err != nil {
		return pathError(PlatformErr, path, err)
	}
	defer f.Close()
	e := json.NewEncoder(f)
	e.SetIndent("", "  ")
	if err := e.Encode(st); err != nil {
		return pathError(PlatformErr, path, err)
	}
	return nil
}

func (jsonLoadSaver) Load(path string) (*SessionState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pathError(FileNotFound, path, err)
	}
	defer f.Close()
	st := &SessionState{}
	if err := json.NewDecoder(f).Decode(st); err != nil {
		return nil, pathError(InvalidArgument, path, err)
	}
	return st, nil
}

func (gobLoadSaver) Save(path string, st *SessionState) error {
	f, err := os.Create(path)
	if err != nil {
		return pathError(PlatformErr, path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(st); err != nil {
		return pathError(PlatformErr, path, err)
	}
	return nil
}

func (gobLoadSaver) Load(path string) (*SessionState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pathError(FileNotFound, path, err)
	}
	defer f.Close()
	st := &SessionState{}
	if err := gob.NewDecoder(f).Decode(st); err != nil {
		return nil, pathError(InvalidArgument, path, err)
	}
	return st, nil
}

func saverFor(path string) LoadSaver {
	if strings.HasSuffix(path, ".json") {
		return JSON
	}
	return GOB
}

func (s *Session) snapshot() *SessionState {
	return &SessionState{
		Globals:   s.globals.String(),
		Stmts:     s.stmts.String(),
		ExecCount: s.execCount,
	}
}

// restore replaces the session accumulators with st. The buffers are
// bound-checked the same way live input is; an oversized state is
// rejected and the session is left unchanged.
func (s *Session) restore(st *SessionState) error {
	if len(st.Globals) > maxGlobalBuf || len(st.Stmts) > maxStmtBuf {
		return loadErrorf(InvalidArgument, "saved session exceeds buffer bounds")
	}
	s.reset()
	if err := s.globals.WriteString(st.Globals); err != nil {
		return err
	}
	if err := s.stmts.WriteString(st.Stmts); err != nil {
		return err
	}
	s.execCount = st.ExecCount
	return nil
}
