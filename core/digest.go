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
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SHA3256 is the only digest algorithm Cumulus supports.
const SHA3256 = "sha3"

// Digest can be represented in a string like "<algorithm>:<hex_digest_string>".
// Example:
//
//	sha3:a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a
type Digest struct {
	algo string
	hex  string
	raw  string
}

// NewSHA3DigestFromHex constructs a Digest from a sha3-256 hex string.
// Returns error if hex is not a valid sha3-256 digest.
func NewSHA3DigestFromHex(hex string) (Digest, error) {
	if err := ValidateSHA3(hex); err != nil {
		return Digest{}, fmt.Errorf("invalid sha3: %s", err)
	}
	return Digest{
		algo: SHA3256,
		hex:  hex,
		raw:  fmt.Sprintf("%s:%s", SHA3256, hex),
	}, nil
}

// ParseDigest parses a raw "<algo>:<hex>" digest. Returns error if the algo
// is not sha3 or the hex is not a valid sha3-256 digest.
func ParseDigest(raw string) (Digest, error) {
	if raw == "" {
		return Digest{}, errors.New("invalid digest: empty")
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return Digest{}, errors.New("invalid digest: expected '<algo>:<hex>'")
	}
	algo, hex := parts[0], parts[1]
	if algo != SHA3256 {
		return Digest{}, fmt.Errorf("invalid digest algo: expected %s", SHA3256)
	}
	if err := ValidateSHA3(hex); err != nil {
		return Digest{}, fmt.Errorf("invalid sha3: %s", err)
	}
	return Digest{algo: algo, hex: hex, raw: raw}, nil
}

// IsZero returns true for the zero-value Digest (no content hashed yet).
func (d Digest) IsZero() bool {
	return d.raw == ""
}

// Value marshals a digest and returns []byte as driver.Value.
func (d Digest) Value() (driver.Value, error) {
	return driver.Value(d.raw), nil
}

// Scan unmarshals a database column into Digest.
func (d *Digest) Scan(src interface{}) error {
	if src == nil {
		*d = Digest{}
		return nil
	}
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported digest scan type %T", src)
	}
	if s == "" {
		*d = Digest{}
		return nil
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON unmarshals "<algorithm>:<hex_digest_string>" to Digest.
func (d *Digest) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*d = Digest{}
		return nil
	}
	digest, err := ParseDigest(raw)
	if err != nil {
		return err
	}
	*d = digest
	return nil
}

// MarshalJSON marshals a Digest to its "<algorithm>:<hex_digest_string>" form.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.raw)
}

// String returns the digest in "<algorithm>:<hex_digest_string>" form.
func (d Digest) String() string {
	return d.raw
}

// Algo returns the algorithm part of the digest.
func (d Digest) Algo() string {
	return d.algo
}

// Hex returns the hex part of the digest.
func (d Digest) Hex() string {
	return d.hex
}

// Equal reports whether d and other represent the same digest.
func (d Digest) Equal(other Digest) bool {
	return d.raw == other.raw
}

// ValidateSHA3 returns an error if s is not a valid SHA3-256 hex digest.
func ValidateSHA3(s string) error {
	if len(s) != 64 {
		return fmt.Errorf("expected 64 characters, got %d from %q", len(s), s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return fmt.Errorf("hex: %s", err)
	}
	return nil
}
