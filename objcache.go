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
	"strings"

	"github.com/golang/glog"
)

// objCache persists arch-tagged relocatable objects next to their
// sources. The artifact format belongs to the code generator; the cache
// checks only existence and mtime.
type objCache struct {
	tag   string
	stats *Stats
}

func newObjCache(stats *Stats) *objCache {
	return &objCache{tag: MachineTag(), stats: stats}
}

// ArtifactPath derives the cache file name for src: <stem>.<tag>.o.
func (c *objCache) ArtifactPath(src string) string {
	stem := src
	if i := strings.LastIndexByte(stem, '.'); i > strings.LastIndexAny(stem, `/\`) {
		stem = stem[:i]
	}
	return stem + "." + c.tag + ".o"
}

// IsArtifact reports whether path names an object this cache could have
// written for the running machine.
func (c *objCache) IsArtifact(path string) bool {
	return strings.HasSuffix(path, "."+c.tag+".o")
}

// Lookup applies the staleness rule. Hit when the artifact exists and
// either the source is gone (release-mode distribution) or the artifact
// is at least as new as the source. Artifacts for other machine tags
// never hit because their names differ.
func (c *objCache) Lookup(src string) (string, bool) {
	art := c.ArtifactPath(src)
	ai, err := os.Stat(art)
	if err != nil {
		c.stats.add(&c.stats.CacheMisses)
		return "", false
	}
	si, err := os.Stat(src)
	if err != nil {
		// Source absent: ship-the-object distribution.
		c.stats.add(&c.stats.CacheHits)
		return art, true
	}
	if ai.ModTime().Before(si.ModTime()) {
		glog.V(1).Infof("cache %s stale (source newer)", art)
		c.stats.add(&c.stats.CacheMisses)
		return "", false
	}
	c.stats.add(&c.stats.CacheHits)
	return art, true
}

// Store writes the compiled object for src through the state. Failures
// are logged and swallowed; the cache is best-effort.
func (c *objCache) Store(s State, src string) {
	art := c.ArtifactPath(src)
	if err := s.OutputFile(art); err != nil {
		glog.Warningf("cache write %s: %v", art, err)
		return
	}
	glog.V(1).Infof("cache wrote %s", art)
}
