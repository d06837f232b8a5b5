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
package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/placement"
)

func newTestStoreWithPlanner(t *testing.T, cluster *fakeCluster) (*Store, *fakeOrphanAdder, func()) {
	t.Helper()
	dbStore, cleanup := newTestStore(t, cluster)
	planner := placement.New(NewHubSource(dbStore.db))
	orphans := dbStore.orphans.(*fakeOrphanAdder)
	store := NewStore(dbStore.db, dbStore.cacheDir, cluster, cluster.dial, planner, orphans)
	return store, orphans, cleanup
}

func mustCreateHub(t *testing.T, s *Store, id string, available int64) {
	t.Helper()
	require.NoError(t, s.CreateHub(Hub{ID: id, Reference: id, AvailableBytes: available}))
}

// newDataHubs creates a dedicated "client" hub (the File.Source, excluded
// from placement like any uploading caller's own hub) plus n ample-capacity
// data hubs named hub-a, hub-b, hub-c, ... registered in both the fake
// cluster and the catalog's hub table.
func newDataHubs(t *testing.T, store *Store, cluster *fakeCluster, n int) {
	t.Helper()
	mustCreateHub(t, store, "client", 0)
	names := []string{"hub-a", "hub-b", "hub-c", "hub-d", "hub-e"}
	for i := 0; i < n; i++ {
		cluster.add(names[i], newFakeHub(1<<20))
		mustCreateHub(t, store, names[i], 1<<20)
	}
}

func TestOpenFileRejectsReentry(t *testing.T) {
	cluster := newFakeCluster()
	store, _, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	newDataHubs(t, store, cluster, 3)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	defer fsess.Close()

	_, err = store.OpenFile(file)
	assert.ErrorIs(t, err, errkind.ErrSessionActive)
}

func TestFileUploadDownloadRoundTrip(t *testing.T) {
	cluster := newFakeCluster()
	store, orphans, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	newDataHubs(t, store, cluster, 3)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	require.NoError(t, store.CreateFile(*file))

	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("hello, distributed world")))
	require.NoError(t, fsess.Close())
	assert.Len(t, file.Fragments, 3)
	assert.Empty(t, orphans.fragIDs())

	// A fresh session over the same (now-populated) File reconstructs the
	// original plaintext from its fragments.
	file2 := &File{ID: file.ID, Source: file.Source, Hash: file.Hash, Encoding: file.Encoding, Fragments: file.Fragments}
	fsess2, err := store.OpenFile(file2)
	require.NoError(t, err)
	content, err := fsess2.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "hello, distributed world", string(content))
	require.NoError(t, fsess2.Close())
}

func TestFileDownloadToleratesOneBadFragment(t *testing.T) {
	cluster := newFakeCluster()
	store, _, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	newDataHubs(t, store, cluster, 3)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	require.NoError(t, store.CreateFile(*file))

	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("survive one fragment loss please")))
	require.NoError(t, fsess.Close())
	require.Len(t, file.Fragments, 3)

	// Break exactly one fragment's remote hub: its GETs now fail.
	broken := file.Fragments[0].Remote
	cluster.hubs[broken].getErr = errkind.ErrConnectionTimeout

	file2 := &File{ID: file.ID, Source: file.Source, Hash: file.Hash, Encoding: file.Encoding, Fragments: file.Fragments}
	fsess2, err := store.OpenFile(file2)
	require.NoError(t, err)
	content, err := fsess2.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "survive one fragment loss please", string(content))
	require.NoError(t, fsess2.Close())

	var sawDirty bool
	for _, f := range file2.Fragments {
		if f.Remote == broken {
			sawDirty = !f.IsClean
		}
	}
	assert.True(t, sawDirty)
}

func TestFileDownloadFailsBelowK(t *testing.T) {
	cluster := newFakeCluster()
	store, _, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	newDataHubs(t, store, cluster, 3)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	require.NoError(t, store.CreateFile(*file))

	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("only one shard will be left standing")))
	require.NoError(t, fsess.Close())
	require.Len(t, file.Fragments, 3)

	// Break two of the three fragments: fewer than k=2 remain readable.
	cluster.hubs[file.Fragments[0].Remote].getErr = errkind.ErrConnectionTimeout
	cluster.hubs[file.Fragments[1].Remote].getErr = errkind.ErrConnectionTimeout

	file2 := &File{ID: file.ID, Source: file.Source, Hash: file.Hash, Encoding: file.Encoding, Fragments: file.Fragments}
	fsess2, err := store.OpenFile(file2)
	require.NoError(t, err)
	_, err = fsess2.ReadAll()
	require.Error(t, err)
	var rerr *errkind.ReconstructionError
	assert.ErrorAs(t, err, &rerr)
	_ = fsess2.Close()
}

func TestFileUploadFailurePartwayOrphansPlacedFragments(t *testing.T) {
	cluster := newFakeCluster()
	// Exactly two hubs, each with capacity for a single shard write: the
	// third shard of a k=2,m=1 encoding can never find a hub, regardless of
	// which of the two gets picked first for shards 0 and 1.
	cluster.add("hub-a", newFakeHub(12))
	cluster.add("hub-b", newFakeHub(12))
	store, orphans, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	mustCreateHub(t, store, "client", 0)
	mustCreateHub(t, store, "hub-a", 12)
	mustCreateHub(t, store, "hub-b", 12)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	require.NoError(t, store.CreateFile(*file))

	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("ten bytes!"))) // 10 bytes

	err = fsess.Close()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrNoRemoteStorageLocationFound))

	// The File must be left exactly as it was before the attempt: no
	// fragments, zero hash.
	assert.Empty(t, file.Fragments)
	assert.True(t, file.Hash.IsZero())

	// But the two fragments successfully placed before the third shard's
	// placement failed must appear as orphans, not be left dangling.
	assert.Len(t, orphans.fragIDs(), 2)
}

func TestReconstructRepairsDirtyFragmentFromSurvivors(t *testing.T) {
	cluster := newFakeCluster()
	store, _, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	newDataHubs(t, store, cluster, 3)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	require.NoError(t, store.CreateFile(*file))

	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("repair me from two good shards")))
	require.NoError(t, fsess.Close())
	require.Len(t, file.Fragments, 3)

	// Corrupt one fragment's remote blob directly, as bit rot would, and
	// mark it dirty the way a verify pass does.
	victim := &file.Fragments[0]
	cluster.hubs[victim.Remote].blobs[victim.ID] = []byte("garbage-bytes")
	victim.IsClean = false

	require.NoError(t, store.Reconstruct(file))

	for _, f := range file.Fragments {
		assert.True(t, f.IsClean)
	}

	file2 := &File{ID: file.ID, Source: file.Source, Hash: file.Hash, Encoding: file.Encoding, Fragments: file.Fragments}
	fsess2, err := store.OpenFile(file2)
	require.NoError(t, err)
	content, err := fsess2.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "repair me from two good shards", string(content))
	require.NoError(t, fsess2.Close())
}

func TestRemoveFileIsIdempotentlyNotFoundOnSecondCall(t *testing.T) {
	cluster := newFakeCluster()
	store, orphans, cleanup := newTestStoreWithPlanner(t, cluster)
	defer cleanup()
	newDataHubs(t, store, cluster, 3)

	file := &File{ID: "file-1", Source: "client", Encoding: core.Encoding{Name: core.RSVandermonde, K: 2, M: 1}}
	require.NoError(t, store.CreateFile(*file))

	fsess, err := store.OpenFile(file)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("remove me twice")))
	require.NoError(t, fsess.Close())
	require.Len(t, file.Fragments, 3)

	require.NoError(t, store.RemoveFile(file))
	assert.Len(t, orphans.fragIDs(), 3)

	err = store.RemoveFile(file)
	assert.ErrorIs(t, err, errkind.ErrObjectDoesNotExist)
}
