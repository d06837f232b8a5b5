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
package repair

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/andres-erbsen/clock"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/cumulus-storage/cumulus/catalog"
)

type fakeStore struct {
	dirty         []catalog.File
	reconstructed []string
	failFor       string
}

func (s *fakeStore) ListDirtyFiles() ([]catalog.File, error) {
	return s.dirty, nil
}

func (s *fakeStore) Reconstruct(f *catalog.File) error {
	if f.ID == s.failFor {
		return errors.New("reconstruct failed")
	}
	s.reconstructed = append(s.reconstructed, f.ID)
	return nil
}

func TestRunOnceReconstructsEveryDirtyFile(t *testing.T) {
	store := &fakeStore{dirty: []catalog.File{{ID: "file-1"}, {ID: "file-2"}}}
	e := New(Config{LockPath: filepath.Join(t.TempDir(), "reconstruct.lock")}, store, clock.NewMock(), tally.NoopScope)

	count, err := e.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"file-1", "file-2"}, store.reconstructed)
}

func TestRunOnceSkipsFailuresButReconstructsTheRest(t *testing.T) {
	store := &fakeStore{dirty: []catalog.File{{ID: "file-1"}, {ID: "file-2"}}, failFor: "file-1"}
	e := New(Config{LockPath: filepath.Join(t.TempDir(), "reconstruct.lock")}, store, clock.NewMock(), tally.NoopScope)

	count, err := e.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, []string{"file-2"}, store.reconstructed)
}

func TestRunOnceAbortsWhenLockAlreadyHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "reconstruct.lock")
	held := flock.New(lockPath)
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	store := &fakeStore{dirty: []catalog.File{{ID: "file-1"}}}
	e := New(Config{LockPath: lockPath}, store, clock.NewMock(), tally.NoopScope)

	count, err := e.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Empty(t, store.reconstructed)
}
