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
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "cache/objects", cfg.CacheDir)
	require.Equal(t, 30*time.Minute, cfg.Repair.Interval)
	require.Equal(t, 0.01, cfg.Verify.Fraction)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cumulus.yaml")
	contents := `
cache_dir: /var/lib/cumulus/cache
hub:
  addr: ":4280"
  storage_dir: /var/lib/cumulus/blobs
  reserve_mb: 256
repair:
  interval: 10m
  lock_path: /tmp/custom.lock
verify:
  fraction: 0.25
broker:
  addr: ":4290"
hubs:
  - id: hub-a
    reference: hub-a-ref
    addr: "10.0.0.1:4280"
    available_bytes: 1099511627776
  - id: hub-b
    reference: hub-b-ref
    addr: "10.0.0.2:4280"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/cumulus/cache", cfg.CacheDir)
	require.Equal(t, ":4280", cfg.Hub.Addr)
	require.Equal(t, "/var/lib/cumulus/blobs", cfg.Hub.StorageDir)
	require.Equal(t, int64(256), cfg.Hub.ReserveMB)
	require.Equal(t, 10*time.Minute, cfg.Repair.Interval)
	require.Equal(t, "/tmp/custom.lock", cfg.Repair.LockPath)
	require.Equal(t, 0.25, cfg.Verify.Fraction)
	require.Equal(t, ":4290", cfg.Broker.Addr)
	require.Len(t, cfg.Hubs, 2)
	require.Equal(t, "hub-a", cfg.Hubs[0].ID)
	require.Equal(t, "10.0.0.1:4280", cfg.Hubs[0].Addr)
	require.Equal(t, int64(1099511627776), cfg.Hubs[0].AvailableBytes)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
