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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/hubclient"
)

// fakeHub is an in-memory hubclient.Client backing a single simulated hub.
type fakeHub struct {
	mu             sync.Mutex
	blobs          map[string][]byte
	availableBytes int64
	putErr         error
	getErr         error
	getHashErr     error
	deleteErr      error
}

func newFakeHub(availableBytes int64) *fakeHub {
	return &fakeHub{blobs: map[string][]byte{}, availableBytes: availableBytes}
}

func (h *fakeHub) Addr() string { return "fake" }

func (h *fakeHub) GetContent(fragID string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.getErr != nil {
		return nil, h.getErr
	}
	b, ok := h.blobs[fragID]
	if !ok {
		return nil, errkind.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (h *fakeHub) GetHash(fragID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.getHashErr != nil {
		return "", h.getHashErr
	}
	b, ok := h.blobs[fragID]
	if !ok {
		return "", errkind.ErrNotFound
	}
	return core.DigestBytes(b).String(), nil
}

func (h *fakeHub) PutContent(fragID string, content []byte) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.putErr != nil {
		return h.availableBytes, h.putErr
	}
	if int64(len(content)) >= h.availableBytes {
		return h.availableBytes, &errkind.RemoteStorageError{
			Kind: errkind.InsufficientStorageSpace, AvailableBytes: h.availableBytes, HasAvailable: true,
		}
	}
	h.blobs[fragID] = append([]byte(nil), content...)
	h.availableBytes -= int64(len(content))
	return h.availableBytes, nil
}

func (h *fakeHub) Delete(fragID string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleteErr != nil {
		return h.availableBytes, h.deleteErr
	}
	if b, ok := h.blobs[fragID]; ok {
		h.availableBytes += int64(len(b))
		delete(h.blobs, fragID)
	}
	return h.availableBytes, nil
}

func (h *fakeHub) Stats() (int64, int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.availableBytes, 0, nil
}

var _ hubclient.Client = (*fakeHub)(nil)

// fakeCluster maps hub ids to addresses (identity) and addresses to
// fakeHub instances, serving as both a HubResolver and a HubDialer source.
type fakeCluster struct {
	hubs map[string]*fakeHub
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{hubs: map[string]*fakeHub{}}
}

func (c *fakeCluster) add(hubID string, h *fakeHub) {
	c.hubs[hubID] = h
}

func (c *fakeCluster) Addr(hubID string) (string, error) {
	return hubID, nil
}

func (c *fakeCluster) dial(addr string) hubclient.Client {
	return c.hubs[addr]
}

func newTestStore(t *testing.T, cluster *fakeCluster) (*Store, func()) {
	t.Helper()
	db, cleanup := catalogdb.Fixture()
	dir := t.TempDir()
	orphans := &fakeOrphanAdder{}
	store := NewStore(db, dir, cluster, cluster.dial, nil, orphans)
	return store, cleanup
}

type fakeOrphanAdder struct {
	mu      sync.Mutex
	orphans []catalogdb.OrphanRow
}

func (o *fakeOrphanAdder) Add(row catalogdb.OrphanRow) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orphans = append(o.orphans, row)
	return nil
}

func (o *fakeOrphanAdder) fragIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, len(o.orphans))
	for i, r := range o.orphans {
		ids[i] = r.FragID
	}
	return ids
}

func TestOpenFragmentUploadThenDownloadRoundTrips(t *testing.T) {
	cluster := newFakeCluster()
	cluster.add("hub-1", newFakeHub(1<<20))
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", IsClean: true}

	fsess, err := store.openFragment(frag)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("shard-payload")))
	require.NoError(t, fsess.Close())
	assert.True(t, frag.Hash.Equal(core.DigestBytes([]byte("shard-payload"))))

	fsess2, err := store.openFragment(frag)
	require.NoError(t, err)
	content, err := fsess2.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "shard-payload", string(content))
	require.NoError(t, fsess2.Close())
}

func TestFragmentSessionCloseNoOpWhenUnchanged(t *testing.T) {
	cluster := newFakeCluster()
	hub := newFakeHub(1 << 20)
	cluster.add("hub-1", hub)
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", IsClean: true}
	fsess, err := store.openFragment(frag)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("payload")))
	require.NoError(t, fsess.Close())
	originalHash := frag.Hash

	// Re-open, read, write back the exact same bytes, close: the hash
	// must not change and no new upload should occur (Changed() false).
	fsess2, err := store.openFragment(frag)
	require.NoError(t, err)
	content, err := fsess2.ReadAll()
	require.NoError(t, err)
	require.NoError(t, fsess2.Write(content))
	require.NoError(t, fsess2.Close())

	assert.True(t, frag.Hash.Equal(originalHash))
}

func TestOpenFragmentUploadWritesBackAvailableBytesOnCapacityRefusal(t *testing.T) {
	cluster := newFakeCluster()
	hub := newFakeHub(10) // too small for the payload below
	cluster.add("hub-1", hub)
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	require.NoError(t, store.CreateHub(Hub{ID: "hub-1", AvailableBytes: 10}))

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", IsClean: true}
	fsess, err := store.openFragment(frag)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("this payload is too large for the hub")))

	err = fsess.Close()
	require.Error(t, err)
	var rse *errkind.RemoteStorageError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, errkind.InsufficientStorageSpace, rse.Kind)

	got, gerr := store.GetHub("hub-1")
	require.NoError(t, gerr)
	assert.Equal(t, hub.availableBytes, got.AvailableBytes)
}

func TestVerifyFragmentFullFlipsDirtyOnHashMismatch(t *testing.T) {
	cluster := newFakeCluster()
	hub := newFakeHub(1 << 20)
	cluster.add("hub-1", hub)
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", IsClean: true}
	fsess, err := store.openFragment(frag)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("original")))
	require.NoError(t, fsess.Close())

	// Corrupt the remote blob directly, bypassing the catalog's hash
	// bookkeeping, simulating bit rot at the hub.
	hub.blobs["frag-1"] = []byte("corrupted")

	clean, err := store.VerifyFragmentFull(frag)
	require.NoError(t, err)
	assert.False(t, clean)
	assert.False(t, frag.IsClean)
}

func TestVerifyFragmentFullStaysCleanWhenUnchanged(t *testing.T) {
	cluster := newFakeCluster()
	hub := newFakeHub(1 << 20)
	cluster.add("hub-1", hub)
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", IsClean: false}
	fsess, err := store.openFragment(frag)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("steady")))
	require.NoError(t, fsess.Close())

	clean, err := store.VerifyFragmentFull(frag)
	require.NoError(t, err)
	assert.True(t, clean)
	assert.True(t, frag.IsClean)
}

func TestVerifyFragmentHashMatchesWithoutDownload(t *testing.T) {
	cluster := newFakeCluster()
	hub := newFakeHub(1 << 20)
	cluster.add("hub-1", hub)
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", IsClean: false}
	fsess, err := store.openFragment(frag)
	require.NoError(t, err)
	require.NoError(t, fsess.Write([]byte("content")))
	require.NoError(t, fsess.Close())

	clean, err := store.VerifyFragmentHash(frag)
	require.NoError(t, err)
	assert.True(t, clean)
}

func TestVerifyFragmentHashFlipsDirtyOnConnectionTimeout(t *testing.T) {
	cluster := newFakeCluster()
	hub := newFakeHub(1 << 20)
	cluster.add("hub-1", hub)
	store, cleanup := newTestStore(t, cluster)
	defer cleanup()

	frag := &Fragment{ID: "frag-1", Remote: "hub-1", Hash: core.DigestBytes([]byte("x")), IsClean: true}
	hub.getHashErr = errkind.ErrConnectionTimeout

	clean, err := store.VerifyFragmentHash(frag)
	require.NoError(t, err)
	assert.False(t, clean)
	assert.False(t, frag.IsClean)
}
