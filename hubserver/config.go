// Copyright (c) 2016-2019 Uber Technologies, Inc.
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
package hubserver

// Config controls a hub's listen address and local storage policy. Mirrors
// the shape of the teacher's per-component Config + applyDefaults()
// structs (origin/blobclient.Config, lib/store.CAStoreConfig).
type Config struct {
	Addr string `yaml:"addr" mapstructure:"addr"`

	// StorageDir is where fragment blobs are durably written.
	StorageDir string `yaml:"storage_dir" mapstructure:"storage_dir"`

	// ReserveMB is the minimum free disk space, in megabytes, this hub
	// always leaves untouched (original_source/storage_4.py's
	// MINIMUM_FREE_MB).
	ReserveMB int64 `yaml:"reserve_mb" mapstructure:"reserve_mb"`

	// ReserveRatio is the fraction of total disk capacity this hub never
	// reports as available, regardless of how little is actually stored
	// (original_source/storage_4.py's MINIMUM_FREE_RATIO).
	ReserveRatio float64 `yaml:"reserve_ratio" mapstructure:"reserve_ratio"`
}

func (c Config) applyDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":4280"
	}
	if c.StorageDir == "" {
		c.StorageDir = "cache/storage"
	}
	if c.ReserveMB == 0 {
		c.ReserveMB = 128
	}
	if c.ReserveRatio == 0 {
		c.ReserveRatio = 0.01
	}
	return c
}
