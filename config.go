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

	"github.com/BurntSushi/toml"
	"github.com/golang/glog"
)

// Config carries runtime settings. Values come from an optional config
// file, then the environment, then command-line flags. List fields
// accumulate: later sources append to what earlier ones set. Trace is
// switched on by any source and never switched off by a later one.
type Config struct {
	// IncludePaths and LibraryPaths are handed to every compiler state.
	IncludePaths []string `toml:"include_paths"`
	LibraryPaths []string `toml:"library_paths"`
	// Libraries are -l names passed to the code generator.
	Libraries []string `toml:"libraries"`
	// HostLibs are host libraries pre-opened into the handle set.
	HostLibs []string `toml:"host_libs"`
	// LazyBind defers symbol binding to first call through a PLT stub.
	LazyBind bool `toml:"lazy_bind"`
	// Trace enables verbose diagnostics and the stats dump.
	Trace bool `toml:"trace"`
}

// configFile returns the user config path, or "" when the location
// cannot be determined.
func configFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "crun", "crun.toml")
}

// LoadConfig builds the effective configuration: config file first, then
// CRUN_* environment variables on top.
func LoadConfig() Config {
	var c Config
	if path := configFile(); path != "" && exists(path) {
		if _, err := toml.DecodeFile(path, &c); err != nil {
			glog.Warningf("config %s: %v", path, err)
		}
	}
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	sep := PathListSeparator(DetectOS())
	if v := os.Getenv("CRUN_INCLUDE_PATHS"); v != "" {
		c.IncludePaths = append(c.IncludePaths, splitPathList(v, sep)...)
	}
	if v := os.Getenv("CRUN_LIBRARY_PATHS"); v != "" {
		c.LibraryPaths = append(c.LibraryPaths, splitPathList(v, sep)...)
	}
	if v := os.Getenv("CRUN_HOST_LIBS"); v != "" {
		c.HostLibs = append(c.HostLibs, splitPathList(v, sep)...)
	}
	if v := os.Getenv("CRUN_TRACE"); v != "" && v != "0" {
		c.Trace = true
	}
}
