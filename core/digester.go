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

import (
	"encoding/hex"
	"hash"
	"io"

	"golang.org/x/crypto/sha3"
)

// chunkSize is the read size used when digesting a stream, per spec: 1 MiB.
const chunkSize = 1024 * 1024

// Digester calculates the SHA3-256 digest of a byte stream, chunk by chunk.
// It never returns a partial digest: FromReader/FromBytes consume their
// entire input before producing a Digest.
type Digester struct {
	hash hash.Hash
}

// NewDigester instantiates a new Digester.
func NewDigester() *Digester {
	return &Digester{hash: sha3.New256()}
}

// Digest returns the digest of all bytes written so far.
func (d *Digester) Digest() Digest {
	digest, err := NewSHA3DigestFromHex(hex.EncodeToString(d.hash.Sum(nil)))
	if err != nil {
		// hash.Sum always produces a valid-length digest.
		panic(err)
	}
	return digest
}

// FromReader digests all of rd's content in chunkSize reads and returns the
// resulting Digest.
func (d *Digester) FromReader(rd io.Reader) (Digest, error) {
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(d.hash, rd, buf); err != nil {
		return Digest{}, err
	}
	return d.Digest(), nil
}

// FromBytes digests p and returns the resulting Digest.
func (d *Digester) FromBytes(p []byte) (Digest, error) {
	if _, err := d.hash.Write(p); err != nil {
		return Digest{}, err
	}
	return d.Digest(), nil
}

// Tee allows d to accumulate the digest of r as the caller reads from the
// returned reader.
func (d *Digester) Tee(r io.Reader) io.Reader {
	return io.TeeReader(r, d.hash)
}

// DigestBytes is a convenience one-shot digest of p.
func DigestBytes(p []byte) Digest {
	d := NewDigester()
	digest, err := d.FromBytes(p)
	if err != nil {
		// Writing to an in-memory hash.Hash never fails.
		panic(err)
	}
	return digest
}
