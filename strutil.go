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
	"strings"
)

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// splitSpaces splits s on runs of ASCII whitespace. No tokens yields
// nil, not an empty slice.
func splitSpaces(s string) []string {
	var r []string
	i := 0
	for i < len(s) {
		for i < len(s) && isSpaceByte(s[i]) {
			i++
		}
		start := i
		for i < len(s) && !isSpaceByte(s[i]) {
			i++
		}
		if start < i {
			r = append(r, s[start:i])
		}
	}
	return r
}

// splitPathList splits a *_PATHS environment value on the platform
// separator, dropping empty elements.
func splitPathList(s string, sep byte) []string {
	var r []string
	for _, p := range strings.Split(s, string(sep)) {
		if p != "" {
			r = append(r, p)
		}
	}
	return r
}

// endsWithSemi reports whether the line already carries a statement
// terminator once trailing whitespace is ignored.
func endsWithSemi(s string) bool {
	t := strings.TrimRight(s, " \t\r\n")
	return strings.HasSuffix(t, ";") || strings.HasSuffix(t, "}")
}
