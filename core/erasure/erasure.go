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

// Package erasure defines the oracle contract the rest of this module
// treats the erasure code as (spec §1: "the erasure code itself is
// external... treats it as an oracle with a fixed algebraic contract"),
// plus a Reed-Solomon Vandermonde implementation of it.
package erasure

import (
	"errors"
	"fmt"

	"github.com/cumulus-storage/cumulus/core"
)

// ErrInsufficientShards is returned by Decode/Reconstruct when fewer than k
// shards are available to do the requested work.
var ErrInsufficientShards = errors.New("erasure: insufficient shards to reconstruct")

// Coder is the algebraic oracle an Encoding resolves to. Implementations
// must return shards in index order from Encode, matching spec §9 open
// question (c).
type Coder interface {
	// Encode splits plaintext into k data shards and computes m parity
	// shards, returning all k+m in index order.
	Encode(plaintext []byte) ([][]byte, error)

	// Decode reconstructs the original plaintext from shards, keyed by
	// index. At least k entries must be present for the given encoding.
	// Returns ErrInsufficientShards otherwise. Implementations are
	// responsible for recovering the exact original length themselves
	// (the catalog tracks no separate size field), typically by framing
	// it into the encoded shards at Encode time.
	Decode(shards map[int][]byte) ([]byte, error)

	// Reconstruct re-derives exactly the shards at the given missing
	// indices from the shards present in the map, returning a map from
	// missing index to its recovered bytes. Returns ErrInsufficientShards
	// if there are not enough present shards to do so.
	Reconstruct(present map[int][]byte, missing []int) (map[int][]byte, error)
}

// Factory builds a Coder for a given Encoding. Registered implementations
// are looked up by Encoding.Name.
type Factory func(encoding core.Encoding) (Coder, error)

var registry = map[string]Factory{}

// Register associates an erasure code name with a Factory. Called from
// implementation packages' init().
func Register(name string, f Factory) {
	registry[name] = f
}

// New returns a Coder for encoding, using the Factory registered under
// encoding.Name.
func New(encoding core.Encoding) (Coder, error) {
	if err := encoding.Validate(); err != nil {
		return nil, err
	}
	f, ok := registry[encoding.Name]
	if !ok {
		return nil, fmt.Errorf("erasure: unknown code %q", encoding.Name)
	}
	return f(encoding)
}
