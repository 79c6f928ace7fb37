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
	"reflect"
	"testing"
)

func TestLibraryCandidates(t *testing.T) {
	for _, tc := range []struct {
		name string
		os   OS
		want []string
	}{
		{
			name: "libm.so",
			os:   Linux,
			want: []string{"libm.so"},
		},
		{
			name: "libm.so.6",
			os:   Linux,
			want: []string{"libm.so.6"},
		},
		{
			name: "m",
			os:   Linux,
			want: []string{"m", "m.so", "m.dylib", "m.dll", "libm.so", "libm.dylib", "libm.dll"},
		},
		{
			name: "m",
			os:   Darwin,
			want: []string{"m", "m.dylib", "m.so", "m.dll", "libm.dylib", "libm.so", "libm.dll"},
		},
		{
			name: "kernel32",
			os:   Windows,
			want: []string{"kernel32", "kernel32.dll", "kernel32.so", "kernel32.dylib", "libkernel32.dll", "libkernel32.so", "libkernel32.dylib"},
		},
		{
			name: "libssl",
			os:   Linux,
			want: []string{"libssl", "libssl.so", "libssl.dylib", "libssl.dll"},
		},
		{
			name: "/opt/cur/m",
			os:   Linux,
			want: []string{"/opt/cur/m", "/opt/cur/m.so", "/opt/cur/m.dylib", "/opt/cur/m.dll", "/opt/cur/libm.so", "/opt/cur/libm.dylib", "/opt/cur/libm.dll"},
		},
	} {
		got := LibraryCandidates(tc.name, tc.os)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf(`LibraryCandidates(%q, %v)=%q, want %q`, tc.name, tc.os, got, tc.want)
		}
	}
}

func TestLibraryCandidatesDeterministic(t *testing.T) {
	a := LibraryCandidates("z", Linux)
	b := LibraryCandidates("z", Linux)
	if !reflect.DeepEqual(a, b) {
		t.Errorf(`LibraryCandidates not deterministic: %q vs %q`, a, b)
	}
}

func TestPathListSeparator(t *testing.T) {
	if got := PathListSeparator(Windows); got != ';' {
		t.Errorf(`PathListSeparator(Windows)=%q, want ';'`, got)
	}
	if got := PathListSeparator(Linux); got != ':' {
		t.Errorf(`PathListSeparator(Linux)=%q, want ':'`, got)
	}
}

func TestMachineTag(t *testing.T) {
	tag := MachineTag()
	if tag == "" {
		t.Fatal("MachineTag()=\"\"")
	}
	for _, bad := range []string{"amd64", "arm64"} {
		if tag == bad {
			t.Errorf(`MachineTag()=%q, want machine identifier spelling`, tag)
		}
	}
}
