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
package core

import "fmt"

// RSVandermonde is the erasure code name for a Reed-Solomon
// Vandermonde-matrix encoding, Cumulus's default.
const RSVandermonde = "rs_vand"

// Encoding describes the erasure code a File was written with: k data
// shards and m parity shards, any k of which suffice to reconstruct the
// original content.
type Encoding struct {
	Name string `db:"encoding_name" json:"name"`
	K    int    `db:"encoding_k" json:"k"`
	M    int    `db:"encoding_m" json:"m"`
}

// Shards returns k+m, the total number of fragments a File written with
// this Encoding must carry once fully stored.
func (e Encoding) Shards() int {
	return e.K + e.M
}

// Validate returns an error if the encoding's shard counts are nonsensical.
func (e Encoding) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("encoding name must not be empty")
	}
	if e.K < 1 {
		return fmt.Errorf("encoding k must be >= 1, got %d", e.K)
	}
	if e.M < 0 {
		return fmt.Errorf("encoding m must be >= 0, got %d", e.M)
	}
	return nil
}

// DefaultEncoding is used when a client creates a File without specifying
// one explicitly, mirroring the broker's DEFAULT_ENCODING.
var DefaultEncoding = Encoding{Name: RSVandermonde, K: 2, M: 3}
