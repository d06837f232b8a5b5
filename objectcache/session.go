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

// Package objectcache implements the scoped on-disk staging area of
// SPEC_FULL.md §4.3: a Session stages exactly one logical object (a File or
// a Fragment) at a freshly generated local path, lazily downloads on first
// read, tracks whether the content changed, and uploads on close.
//
// The teacher's equivalent (lib/store/base.FileReadWriter + FileOp) spreads
// this behavior across an inheritance-shaped pair of specializations
// (upload vs download read/writers backed by a shared FileMap). SPEC_FULL.md
// §9 calls that out explicitly and asks for a single type parameterized by
// a two-method capability struct instead — Strategy below.
package objectcache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/internal/log"
)

// Strategy supplies the two operations that distinguish a File-level
// staging session from a Fragment-level one. Download and Upload are both
// optional: a nil Download means "no stored content yet" (download is a
// no-op); a nil Upload means the object is never written back (used by
// read-only verification flows).
type Strategy struct {
	// Download fetches the object's current durable bytes, or returns
	// errkind.ErrNotFound if nothing has been stored yet.
	Download func() ([]byte, error)
	// Upload writes local bytes back to durable storage.
	Upload func(local []byte) error
}

// Session is a scoped staging area for one object. The zero value is not
// usable; construct with Open.
type Session struct {
	strategy     Strategy
	expectedHash core.Digest
	hasExpected  bool

	path          string
	downloaded    bool
	dirty         bool
	digest        core.Digest
	hasDigest     bool
	initialDigest core.Digest
	closed        bool
}

// Open prepares a staging path and remembers an optional expected hash
// against which the first download will be checked. dir is the staging
// directory; it must already exist.
func Open(dir string, strategy Strategy, expectedHash core.Digest) (*Session, error) {
	f, err := os.CreateTemp(dir, "cumulus-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %s", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close staging file: %s", err)
	}

	return &Session{
		strategy:     strategy,
		expectedHash: expectedHash,
		hasExpected:  !expectedHash.IsZero(),
		path:         path,
	}, nil
}

// ensureDownloaded triggers the lazy download on the first read-like
// operation. A nil Download, or ErrNotFound, both mean "no stored content
// yet" and leave the staging file empty.
func (s *Session) ensureDownloaded() error {
	if s.downloaded {
		return nil
	}
	s.downloaded = true

	if s.strategy.Download == nil {
		return nil
	}
	content, err := s.strategy.Download()
	if err != nil {
		if err == errkind.ErrNotFound {
			return nil
		}
		return err
	}
	if err := os.WriteFile(s.path, content, 0644); err != nil {
		return fmt.Errorf("write staging file: %s", err)
	}

	digest := core.DigestBytes(content)
	if s.hasExpected && !digest.Equal(s.expectedHash) {
		os.Remove(s.path)
		return &errkind.HashError{Expected: s.expectedHash, Actual: digest}
	}
	s.digest = digest
	s.hasDigest = true
	s.initialDigest = digest
	return nil
}

// ReadAll triggers a download if needed and returns the full staged
// content.
func (s *Session) ReadAll() ([]byte, error) {
	if err := s.ensureDownloaded(); err != nil {
		return nil, err
	}
	return os.ReadFile(s.path)
}

// ReadChunks triggers a download if needed and streams the staged content
// to fn in chunks of size, stopping at the first error fn returns.
func (s *Session) ReadChunks(size int, fn func([]byte) error) error {
	if err := s.ensureDownloaded(); err != nil {
		return err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, size)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if ferr := fn(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Size triggers a download if needed and returns the staged content's
// length in bytes.
func (s *Session) Size() (int64, error) {
	if err := s.ensureDownloaded(); err != nil {
		return 0, err
	}
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Hash triggers a download if needed and returns the digest of the staged
// content, computing and caching it if necessary.
func (s *Session) Hash() (core.Digest, error) {
	if err := s.ensureDownloaded(); err != nil {
		return core.Digest{}, err
	}
	if s.hasDigest {
		return s.digest, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		return core.Digest{}, err
	}
	defer f.Close()

	digest, err := core.NewDigester().FromReader(f)
	if err != nil {
		return core.Digest{}, err
	}
	s.digest = digest
	s.hasDigest = true
	return digest, nil
}

// Write overwrites the staged content, marking the session dirty.
func (s *Session) Write(content []byte) error {
	s.downloaded = true
	if err := os.WriteFile(s.path, content, 0644); err != nil {
		return err
	}
	s.dirty = true
	s.hasDigest = false
	return nil
}

// Append appends to the staged content, marking the session dirty. It
// triggers a download first so the append lands after any existing bytes.
func (s *Session) Append(content []byte) error {
	if err := s.ensureDownloaded(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(content); err != nil {
		return err
	}
	s.dirty = true
	s.hasDigest = false
	return nil
}

// Dirty reports whether the session's content has been written since
// download (or since open, if nothing was ever downloaded).
func (s *Session) Dirty() bool {
	return s.dirty
}

// Changed reports whether the staged content's digest differs from the
// digest observed right after download (or the zero digest, if nothing was
// ever downloaded). Unlike Dirty, which only tracks whether Write/Append
// was called, Changed reflects whether the bytes actually differ — a
// caller that writes back identical content is dirty but unchanged. Must
// be called before Close, which purges the staging file.
func (s *Session) Changed() (bool, error) {
	if !s.dirty {
		return false, nil
	}
	digest, err := s.Hash()
	if err != nil {
		return false, err
	}
	return !s.initialDigest.Equal(digest), nil
}

// Close uploads the staged content if it changed, then purges the local
// file unconditionally. Idempotent: a second Close is a no-op. If upload
// fails, the local file is still purged and the error propagates.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer func() {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			log.Errorf("objectcache: remove staging file %s: %s", s.path, err)
		}
	}()

	if !s.dirty {
		return nil
	}

	digest, err := s.Hash()
	if err != nil {
		return err
	}
	if s.initialDigest.Equal(digest) {
		return nil
	}
	if s.strategy.Upload == nil {
		return nil
	}

	content, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if err := s.strategy.Upload(content); err != nil {
		return err
	}
	return nil
}

// Path returns the session's current staging path, primarily for tests.
func (s *Session) Path() string {
	return filepath.Clean(s.path)
}
