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

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/cumulus-storage/cumulus/core"
)

// blobStore is the hub's durable, flat fragment store: one file per
// fragment ID under config.StorageDir, plus the capacity accounting of
// original_source/storage_4.py's get_available_bytes().
type blobStore struct {
	dir          string
	reserveBytes int64
	reserveRatio float64
}

func newBlobStore(config Config) (*blobStore, error) {
	if err := os.MkdirAll(config.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %s", err)
	}
	return &blobStore{
		dir:          config.StorageDir,
		reserveBytes: config.ReserveMB * 1024 * 1024,
		reserveRatio: config.ReserveRatio,
	}, nil
}

func (b *blobStore) path(fragID string) string {
	return filepath.Join(b.dir, fragID)
}

// storedBytes sums the size of every fragment currently on disk, the way
// get_stored_bytes() walks STORAGE_DIR.
func (b *blobStore) storedBytes() (int64, error) {
	var total int64
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

// availableBytes implements get_available_bytes(): the lesser of "how much
// disk is free, minus the reserve" and "how much of total disk capacity is
// left under the reserve ratio, minus what's already stored". Both clamped
// to zero.
func (b *blobStore) availableBytes() (int64, error) {
	stored, err := b.storedBytes()
	if err != nil {
		return 0, err
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(b.dir, &fs); err != nil {
		return 0, fmt.Errorf("statfs %s: %s", b.dir, err)
	}
	blockSize := int64(fs.Bsize)
	free := int64(fs.Bfree) * blockSize
	total := int64(fs.Blocks) * blockSize

	byFreeDisk := free - b.reserveBytes
	if byFreeDisk < 0 {
		byFreeDisk = 0
	}
	byTotalRatio := int64(float64(total)*(1-b.reserveRatio)) - stored
	if byTotalRatio < 0 {
		byTotalRatio = 0
	}
	if byFreeDisk < byTotalRatio {
		return byFreeDisk, nil
	}
	return byTotalRatio, nil
}

// put writes content under fragID if the hub currently has capacity for
// it, mirroring create_file()'s available_bytes > len(content) check.
// Returns the hub's available_bytes after the attempt either way.
func (b *blobStore) put(fragID string, content []byte) (available int64, accepted bool, err error) {
	available, err = b.availableBytes()
	if err != nil {
		return 0, false, err
	}
	if available <= int64(len(content)) {
		return available, false, nil
	}
	if err := os.WriteFile(b.path(fragID), content, 0644); err != nil {
		return available, false, err
	}
	available -= int64(len(content))
	return available, true, nil
}

func (b *blobStore) get(fragID string) ([]byte, error) {
	content, err := os.ReadFile(b.path(fragID))
	if os.IsNotExist(err) {
		return nil, os.ErrNotExist
	}
	return content, err
}

func (b *blobStore) hash(fragID string) (core.Digest, error) {
	content, err := b.get(fragID)
	if err != nil {
		return core.Digest{}, err
	}
	return core.DigestBytes(content), nil
}

// delete removes fragID's blob. Idempotent: a missing file is not an
// error, matching delete_file()'s swallowed FileNotFoundError.
func (b *blobStore) delete(fragID string) error {
	if err := os.Remove(b.path(fragID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
