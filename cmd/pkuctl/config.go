// Copyright 2026 The pkugate Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"github.com/BurntSushi/toml"
)

// config is the pkuctl configuration.
type config struct {
	// Backend selects the host-call strategy: "native" issues OS
	// syscalls directly. ("guest" exists for restricted runtimes and
	// requires embedding; pkuctl itself always runs native.)
	Backend string `toml:"backend"`

	// LazyFree defers the underlying domain free when a key is freed.
	LazyFree bool `toml:"lazy_free"`

	// Debug enables debug logging.
	Debug bool `toml:"debug"`
}

func defaultConfig() *config {
	return &config{Backend: "native"}
}

// loadConfig loads the pkuctl config from a TOML file.
func loadConfig(path string) (*config, error) {
	c := defaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	return c, nil
}
