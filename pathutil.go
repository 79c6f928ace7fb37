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

	"github.com/golang/glog"
)

func exists(filename string) bool {
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return false
	}
	return true
}

// searchFile looks for target in dirs, in order. A target containing a
// path separator is probed as-is only.
func searchFile(target string, dirs []string) (string, bool) {
	if target != filepath.Base(target) {
		return target, exists(target)
	}
	if exists(target) {
		return target, true
	}
	for _, dir := range dirs {
		cand := filepath.Join(dir, target)
		if exists(cand) {
			glog.V(1).Infof("found %s in %s", target, dir)
			return cand, true
		}
	}
	return target, false
}

// searchLibrary probes dirs for any candidate spelling of a host library
// name and returns the first path that exists. Misses fall back to the
// bare name so the loader's own retry policy still runs.
func searchLibrary(name string, dirs []string, os OS) (string, bool) {
	for _, cand := range LibraryCandidates(name, os) {
		if p, ok := searchFile(cand, dirs); ok {
			return p, true
		}
	}
	return name, false
}
