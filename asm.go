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
	"strings"
)

// AsmOperand is one output or input in an extended-asm block.
type AsmOperand struct {
	// Name is the optional [symbolic] name.
	Name string
	// Constraint is the quoted constraint string, e.g. "=r" or "m".
	Constraint string
	// Expr is the parenthesized C expression, verbatim.
	Expr string
}

// AsmStatement is a parsed extended-asm block:
// "template" : outputs : inputs : clobbers. The helper is pure tooling
// and takes no part in code generation.
type AsmStatement struct {
	Template string
	Outputs  []AsmOperand
	Inputs   []AsmOperand
	Clobbers []string
}

// ParseExtendedAsm splits an extended-asm body into its sections and
// parses each operand list. The input is the text between the asm
// parentheses.
func ParseExtendedAsm(s string) (*AsmStatement, error) {
	parts, err := splitAsmSections(s)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 || len(parts) > 4 {
		return nil, loadErrorf(InvalidArgument, "asm: %d sections", len(parts))
	}
	st := &AsmStatement{}
	st.Template, err = unquoteAsm(parts[0])
	if err != nil {
		return nil, err
	}
	if len(parts) > 1 {
		if st.Outputs, err = parseOperands(parts[1]); err != nil {
			return nil, err
		}
	}
	if len(parts) > 2 {
		if st.Inputs, err = parseOperands(parts[2]); err != nil {
			return nil, err
		}
	}
	if len(parts) > 3 {
		for _, c := range splitTopLevel(parts[3], ',') {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			name, err := unquoteAsm(c)
			if err != nil {
				return nil, err
			}
			st.Clobbers = append(st.Clobbers, name)
		}
	}
	for _, op := range st.Outputs {
		if !strings.HasPrefix(op.Constraint, "=") && !strings.HasPrefix(op.Constraint, "+") {
			return nil, loadErrorf(InvalidArgument, "asm: output constraint %q lacks = or +", op.Constraint)
		}
	}
	return st, nil
}

// Validate checks every constraint and clobber against the given
// architecture tag (a MachineTag value).
func (st *AsmStatement) Validate(arch string) error {
	for _, op := range append(append([]AsmOperand{}, st.Outputs...), st.Inputs...) {
		if err := ValidateConstraint(op.Constraint, arch); err != nil {
			return err
		}
	}
	for _, c := range st.Clobbers {
		if c == "memory" || c == "cc" {
			continue
		}
		if !ValidRegister(c, arch) {
			return loadErrorf(InvalidArgument, "asm: unknown clobber %q for %s", c, arch)
		}
	}
	return nil
}

// splitAsmSections splits on top-level colons, honoring string quotes
// and parentheses. "::" produces an empty middle section.
func splitAsmSections(s string) ([]string, error) {
	var parts []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case inStr:
			if c == '\\' {
				i++
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == ':' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if inStr || depth != 0 {
		return nil, loadErrorf(InvalidArgument, "asm: unbalanced block")
	}
	parts = append(parts, s[start:])
	return parts, nil
}

func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	inStr := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case inStr:
			if c == '\\' {
				i++
			} else if c == '"' {
				inStr = false
			}
		case c == '"':
			inStr = true
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func unquoteAsm(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", loadErrorf(InvalidArgument, "asm: missing string")
	}
	// Adjacent string literals concatenate.
	var out strings.Builder
	for len(s) > 0 {
		if s[0] != '"' {
			return "", loadErrorf(InvalidArgument, "asm: expected string at %q", s)
		}
		end := -1
		for i := 1; i < len(s); i++ {
			if s[i] == '\\' {
				i++
				continue
			}
			if s[i] == '"' {
				end = i
				break
			}
		}
		if end < 0 {
			return "", loadErrorf(InvalidArgument, "asm: unterminated string")
		}
		out.WriteString(s[1:end])
		s = strings.TrimSpace(s[end+1:])
	}
	return out.String(), nil
}

func parseOperands(s string) ([]AsmOperand, error) {
	var ops []AsmOperand
	for _, item := range splitTopLevel(s, ',') {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		var op AsmOperand
		if strings.HasPrefix(item, "[") {
			close := strings.IndexByte(item, ']')
			if close < 0 {
				return nil, loadErrorf(InvalidArgument, "asm: unterminated operand name in %q", item)
			}
			op.Name = strings.TrimSpace(item[1:close])
			item = strings.TrimSpace(item[close+1:])
		}
		open := strings.IndexByte(item, '(')
		if open < 0 || !strings.HasSuffix(item, ")") {
			return nil, loadErrorf(InvalidArgument, "asm: operand %q lacks (expr)", item)
		}
		cons, err := unquoteAsm(item[:open])
		if err != nil {
			return nil, err
		}
		op.Constraint = cons
		op.Expr = strings.TrimSpace(item[open+1 : len(item)-1])
		ops = append(ops, op)
	}
	return ops, nil
}

// constraint letters accepted per architecture, beyond the
// machine-independent set.
var (
	commonConstraints = "rmigonpX"
	x86Constraints    = "abcdSDqQRxtu"
	arm64Constraints  = "wxy"
)

// ValidateConstraint checks one constraint string: optional modifiers
// then one or more letters or digit references.
func ValidateConstraint(c string, arch string) error {
	if c == "" {
		return loadErrorf(InvalidArgument, "asm: empty constraint")
	}
	body := strings.TrimLeft(c, "=+&%")
	if body == "" {
		return loadErrorf(InvalidArgument, "asm: constraint %q has no body", c)
	}
	extra := ""
	switch arch {
	case "x86_64", "i686":
		extra = x86Constraints
	case "aarch64", "armv7l":
		extra = arm64Constraints
	}
	for _, r := range body {
		switch {
		case r >= '0' && r <= '9':
		case strings.ContainsRune(commonConstraints, r):
		case strings.ContainsRune(extra, r):
		case r >= 'I' && r <= 'P':
			// constant-range letters
		case r == ',':
			// alternative separator
		default:
			return loadErrorf(InvalidArgument, "asm: constraint %q: unknown letter %q for %s", c, r, arch)
		}
	}
	return nil
}

var x86Registers = buildRegisterSet(
	"rax rbx rcx rdx rsi rdi rbp rsp r8 r9 r10 r11 r12 r13 r14 r15 "+
		"eax ebx ecx edx esi edi ebp esp "+
		"ax bx cx dx si di al bl cl dl ah bh ch dh ",
	"xmm", 16, "ymm", 16, "st", 8)

var arm64Registers = buildRegisterSet("sp xzr wzr lr fp ", "x", 31, "w", 31, "v", 32, "q", 32, "d", 32, "s", 32)

func buildRegisterSet(fixed string, families ...interface{}) map[string]bool {
	set := make(map[string]bool)
	for _, r := range splitSpaces(fixed) {
		set[r] = true
	}
	for i := 0; i+1 < len(families); i += 2 {
		prefix := families[i].(string)
		n := families[i+1].(int)
		for k := 0; k < n; k++ {
			set[fmt.Sprintf("%s%d", prefix, k)] = true
		}
	}
	return set
}

// ValidRegister reports whether name is a register on arch.
func ValidRegister(name, arch string) bool {
	name = strings.TrimPrefix(strings.ToLower(name), "%")
	switch arch {
	case "x86_64", "i686":
		return x86Registers[name]
	case "aarch64", "armv7l":
		return arm64Registers[name]
	}
	return false
}

// Back-architecture helper sequences, exposed as data for tooling.

// CpuidCode returns the instruction bytes of cpuid on x86 (x86_64 or
// i686), or nil elsewhere.
func CpuidCode(arch string) []byte {
	if arch == "x86_64" || arch == "i686" {
		return []byte{0x0F, 0xA2}
	}
	return nil
}

// RdtscCode returns the instruction bytes of rdtsc on x86 (x86_64 or
// i686), or the cntvct_el0 read on aarch64.
func RdtscCode(arch string) []byte {
	switch arch {
	case "x86_64", "i686":
		return []byte{0x0F, 0x31}
	case "aarch64":
		// mrs x0, cntvct_el0
		return []byte{0x40, 0xE0, 0x3B, 0xD5}
	}
	return nil
}

// FenceCode returns a full memory fence for arch.
func FenceCode(arch string) []byte {
	switch arch {
	case "x86_64":
		return []byte{0x0F, 0xAE, 0xF0} // mfence
	case "aarch64":
		return []byte{0xBF, 0x3B, 0x03, 0xD5} // dmb ish
	}
	return nil
}
