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
package erasure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulus-storage/cumulus/core"
)

func newTestCoder(t *testing.T) Coder {
	t.Helper()
	c, err := New(core.Encoding{Name: core.RSVandermonde, K: 2, M: 3})
	require.NoError(t, err)
	return c
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := newTestCoder(t)
	plaintext := []byte("the quick brown fox jumps over the lazy dog")

	shards, err := c.Encode(plaintext)
	require.NoError(t, err)
	require.Len(t, shards, 5)

	present := map[int][]byte{0: shards[0], 1: shards[1]}
	out, err := c.Decode(present)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestEncodeDecodeEmptyPlaintext(t *testing.T) {
	c := newTestCoder(t)

	shards, err := c.Encode(nil)
	require.NoError(t, err)

	out, err := c.Decode(map[int][]byte{2: shards[2], 3: shards[3]})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeInsufficientShards(t *testing.T) {
	c := newTestCoder(t)
	shards, err := c.Encode([]byte("hello"))
	require.NoError(t, err)

	_, err = c.Decode(map[int][]byte{0: shards[0]})
	assert.ErrorIs(t, err, ErrInsufficientShards)
}

func TestReconstructRecoversMissingShards(t *testing.T) {
	c := newTestCoder(t)
	plaintext := []byte("reconstruct me please, this is long enough to span shards")
	shards, err := c.Encode(plaintext)
	require.NoError(t, err)

	present := map[int][]byte{0: shards[0], 1: shards[1], 2: shards[2]}
	recovered, err := c.Reconstruct(present, []int{3, 4})
	require.NoError(t, err)
	assert.Equal(t, shards[3], recovered[3])
	assert.Equal(t, shards[4], recovered[4])
}

func TestReconstructInsufficientShards(t *testing.T) {
	c := newTestCoder(t)
	shards, err := c.Encode([]byte("hello world"))
	require.NoError(t, err)

	_, err = c.Reconstruct(map[int][]byte{0: shards[0]}, []int{4})
	assert.ErrorIs(t, err, ErrInsufficientShards)
}

func TestNewUnknownEncoding(t *testing.T) {
	_, err := New(core.Encoding{Name: "unknown-code", K: 2, M: 1})
	assert.Error(t, err)
}

func TestNewInvalidEncoding(t *testing.T) {
	_, err := New(core.Encoding{Name: core.RSVandermonde, K: 0, M: 1})
	assert.Error(t, err)
}
