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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cumulus-storage/cumulus/core"
	"github.com/klauspost/reedsolomon"
)

// lengthHeaderSize is the width of the original-plaintext-length prefix
// framed into the data before splitting into shards. reedsolomon.Split
// pads its input up to a multiple of k, so Join alone cannot recover the
// exact original length; framing it in lets Decode recover it without the
// catalog needing a separate size field.
const lengthHeaderSize = 8

func init() {
	Register(core.RSVandermonde, newRSVandermonde)
}

// rsVandermonde implements Coder using a Reed-Solomon Vandermonde matrix
// (the liberasurecode rs_vand algorithm named in the original
// implementation's Encoding.name field).
type rsVandermonde struct {
	k, m int
	enc  reedsolomon.Encoder
}

func newRSVandermonde(encoding core.Encoding) (Coder, error) {
	enc, err := reedsolomon.New(encoding.K, encoding.M)
	if err != nil {
		return nil, fmt.Errorf("reedsolomon.New: %s", err)
	}
	return &rsVandermonde{k: encoding.K, m: encoding.M, enc: enc}, nil
}

func (c *rsVandermonde) Encode(plaintext []byte) ([][]byte, error) {
	framed := make([]byte, lengthHeaderSize+len(plaintext))
	binary.BigEndian.PutUint64(framed[:lengthHeaderSize], uint64(len(plaintext)))
	copy(framed[lengthHeaderSize:], plaintext)

	shards, err := c.enc.Split(framed)
	if err != nil {
		return nil, fmt.Errorf("split: %s", err)
	}
	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode: %s", err)
	}
	return shards, nil
}

func (c *rsVandermonde) Decode(shards map[int][]byte) ([]byte, error) {
	if len(shards) < c.k {
		return nil, ErrInsufficientShards
	}
	all := c.toShardSlice(shards)
	if err := c.enc.Reconstruct(all); err != nil {
		return nil, fmt.Errorf("reconstruct: %s", err)
	}

	shardSize := 0
	for _, s := range all[:c.k] {
		if s != nil {
			shardSize = len(s)
			break
		}
	}
	var buf bytes.Buffer
	if err := c.enc.Join(&buf, all, shardSize*c.k); err != nil {
		return nil, fmt.Errorf("join: %s", err)
	}
	framed := buf.Bytes()
	if len(framed) < lengthHeaderSize {
		return nil, fmt.Errorf("decode: framed payload shorter than length header")
	}
	plaintextLen := binary.BigEndian.Uint64(framed[:lengthHeaderSize])
	framed = framed[lengthHeaderSize:]
	if plaintextLen > uint64(len(framed)) {
		return nil, fmt.Errorf("decode: recorded length %d exceeds recovered payload %d", plaintextLen, len(framed))
	}
	return framed[:plaintextLen], nil
}

func (c *rsVandermonde) Reconstruct(present map[int][]byte, missing []int) (map[int][]byte, error) {
	if len(present) < c.k {
		return nil, ErrInsufficientShards
	}
	all := c.toShardSlice(present)
	if err := c.enc.Reconstruct(all); err != nil {
		return nil, fmt.Errorf("reconstruct: %s", err)
	}
	out := make(map[int][]byte, len(missing))
	for _, idx := range missing {
		if idx < 0 || idx >= len(all) || all[idx] == nil {
			return nil, fmt.Errorf("reconstruct: shard %d not recovered", idx)
		}
		out[idx] = all[idx]
	}
	return out, nil
}

func (c *rsVandermonde) toShardSlice(shards map[int][]byte) [][]byte {
	all := make([][]byte, c.k+c.m)
	for idx, data := range shards {
		all[idx] = data
	}
	return all
}
