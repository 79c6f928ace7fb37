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
	"github.com/ebitengine/purego"
)

// ABI tags the calling convention of a foreign entry point. Only the
// default system ABI is supported.
type ABI int

const ABISysV ABI = iota

// TypeCode describes one FFI argument or return slot.
type TypeCode int

const (
	TypeVoid TypeCode = iota
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypePointer
	TypeFloat
	TypeDouble
)

func (t TypeCode) isInteger() bool {
	return t >= TypeInt8 && t <= TypePointer
}

func (t TypeCode) isFloat() bool {
	return t == TypeFloat || t == TypeDouble
}

// CIF is a prepared call descriptor. Immutable once prepared.
type CIF struct {
	abi      ABI
	ret      TypeCode
	args     []TypeCode
	prepared bool
}

// PrepareCIF validates a call signature against the platform budget:
// integer arguments only, at most ffiMaxIntArgs of them, no aggregates,
// no floats (callers convert). Exceeding a limit fails here; the
// returned CIF never fails structurally at call time.
func PrepareCIF(abi ABI, ret TypeCode, args []TypeCode) (*CIF, error) {
	if abi != ABISysV {
		return nil, loadErrorf(InvalidArgument, "unsupported abi %d", int(abi))
	}
	if ret != TypeVoid && !ret.isInteger() {
		return nil, loadErrorf(InvalidArgument, "unsupported return type %d", int(ret))
	}
	if len(args) > ffiMaxIntArgs {
		return nil, loadErrorf(InvalidArgument, "%d integer arguments exceed the register budget of %d", len(args), ffiMaxIntArgs)
	}
	for i, a := range args {
		if a.isFloat() {
			return nil, loadErrorf(InvalidArgument, "argument %d: floating-point arguments are not supported", i)
		}
		if !a.isInteger() {
			return nil, loadErrorf(InvalidArgument, "argument %d: unsupported type %d", i, int(a))
		}
	}
	cif := &CIF{abi: abi, ret: ret, prepared: true}
	cif.args = append(cif.args, args...)
	return cif, nil
}

// Call invokes entry with the argument words, placing the sign- or
// zero-extended result in ret according to the prepared return type.
// Calls with a nil or unprepared CIF, a zero entry, or a mismatched
// argument count are no-ops.
func (c *CIF) Call(entry uintptr, ret *uint64, args []uintptr) {
	if c == nil || !c.prepared || entry == 0 || len(args) != len(c.args) {
		return
	}
	r1, _, _ := purego.SyscallN(entry, args...)
	if ret == nil || c.ret == TypeVoid {
		return
	}
	*ret = extendReturn(c.ret, uint64(r1))
}

func extendReturn(t TypeCode, v uint64) uint64 {
	switch t {
	case TypeInt8:
		return uint64(int64(int8(v)))
	case TypeUint8:
		return uint64(uint8(v))
	case TypeInt16:
		return uint64(int64(int16(v)))
	case TypeUint16:
		return uint64(uint16(v))
	case TypeInt32:
		return uint64(int64(int32(v)))
	case TypeUint32:
		return uint64(uint32(v))
	}
	return v
}
