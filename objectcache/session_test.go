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
package objectcache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/errkind"
)

func TestNoOpCloseDoesNotUpload(t *testing.T) {
	dir := t.TempDir()
	uploaded := false
	s, err := Open(dir, Strategy{
		Upload: func([]byte) error { uploaded = true; return nil },
	}, core.Digest{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	assert.False(t, uploaded)
}

func TestWriteThenCloseUploads(t *testing.T) {
	dir := t.TempDir()
	var uploadedContent []byte
	s, err := Open(dir, Strategy{
		Upload: func(b []byte) error { uploadedContent = b; return nil },
	}, core.Digest{})
	require.NoError(t, err)

	require.NoError(t, s.Write([]byte("hello")))
	require.NoError(t, s.Close())
	assert.Equal(t, "hello", string(uploadedContent))
}

func TestLazyDownloadOnFirstRead(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	s, err := Open(dir, Strategy{
		Download: func() ([]byte, error) { calls++; return []byte("remote"), nil },
	}, core.Digest{})
	require.NoError(t, err)

	content, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "remote", string(content))

	_, err = s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDownloadNotFoundLeavesEmptyStaging(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Strategy{
		Download: func() ([]byte, error) { return nil, errkind.ErrNotFound },
	}, core.Digest{})
	require.NoError(t, err)

	content, err := s.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestExpectedHashMismatchReturnsHashError(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Strategy{
		Download: func() ([]byte, error) { return []byte("actual"), nil },
	}, core.DigestBytes([]byte("expected")))
	require.NoError(t, err)

	_, err = s.ReadAll()
	var hashErr *errkind.HashError
	require.ErrorAs(t, err, &hashErr)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	s, err := Open(dir, Strategy{
		Upload: func([]byte) error { calls++; return nil },
	}, core.Digest{})
	require.NoError(t, err)

	require.NoError(t, s.Write([]byte("x")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)
}

func TestCloseStillPurgesOnUploadFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Strategy{
		Upload: func([]byte) error { return &errkind.RemoteStorageError{Kind: errkind.UploadFailed} },
	}, core.Digest{})
	require.NoError(t, err)

	require.NoError(t, s.Write([]byte("x")))
	err = s.Close()
	require.Error(t, err)

	_, statErr := os.Stat(s.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestNoUploadWhenDigestUnchangedAfterWrite(t *testing.T) {
	dir := t.TempDir()
	uploaded := false
	s, err := Open(dir, Strategy{
		Download: func() ([]byte, error) { return []byte("same"), nil },
		Upload:   func([]byte) error { uploaded = true; return nil },
	}, core.Digest{})
	require.NoError(t, err)

	_, err = s.ReadAll()
	require.NoError(t, err)
	require.NoError(t, s.Write([]byte("same")))
	require.NoError(t, s.Close())
	assert.False(t, uploaded)
}

func TestChangedReflectsDigestNotJustDirtyFlag(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Strategy{
		Download: func() ([]byte, error) { return []byte("same"), nil },
	}, core.Digest{})
	require.NoError(t, err)

	changed, err := s.Changed()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.Write([]byte("same")))
	changed, err = s.Changed()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, s.Write([]byte("different")))
	changed, err = s.Changed()
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, Strategy{
		Download: func() ([]byte, error) { return []byte("foo"), nil },
	}, core.Digest{})
	require.NoError(t, err)

	require.NoError(t, s.Append([]byte("bar")))
	content, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "foobar", string(content))
	assert.True(t, s.Dirty())
}
