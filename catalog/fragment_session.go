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
	"errors"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/internal/log"
	"github.com/cumulus-storage/cumulus/objectcache"
)

// FragmentSession is a scoped staging session over one Fragment's remote
// blob (spec.md §4.4). Its Strategy is backed by a hub client: Download
// calls get_content, Upload calls put_content.
type FragmentSession struct {
	store   *Store
	frag    *Fragment
	session *objectcache.Session
}

// openFragment opens a staging session for frag, whose expected hash is
// the fragment's own last-known catalog hash.
func (s *Store) openFragment(frag *Fragment) (*FragmentSession, error) {
	client, err := s.client(frag.Remote)
	if err != nil {
		return nil, err
	}

	strategy := objectcache.Strategy{
		Download: func() ([]byte, error) {
			return client.GetContent(frag.ID)
		},
		Upload: func(content []byte) error {
			availableBytes, err := client.PutContent(frag.ID, content)
			// Every response that carries available_bytes — success or a
			// capacity refusal — is written back before returning, per
			// spec.md §4.2. Other failures (transport errors) carry no
			// meaningful available_bytes and must not zero out the record.
			if err == nil || hasAvailableBytes(err) {
				if uerr := s.UpdateHubAvailableBytes(frag.Remote, availableBytes); uerr != nil {
					log.Errorf("catalog: update hub %s available_bytes: %s", frag.Remote, uerr)
				}
			}
			return err
		},
	}

	session, err := objectcache.Open(s.cacheDir, strategy, frag.Hash)
	if err != nil {
		return nil, err
	}
	return &FragmentSession{store: s, frag: frag, session: session}, nil
}

// hasAvailableBytes reports whether err is a capacity-refusal carrying a
// genuine available_bytes reading from the hub, as opposed to a transport
// failure with no such reading.
func hasAvailableBytes(err error) bool {
	var rse *errkind.RemoteStorageError
	return errors.As(err, &rse) && rse.HasAvailable
}

// ReadAll returns the fragment's full content, downloading it first if
// needed.
func (fs *FragmentSession) ReadAll() ([]byte, error) {
	return fs.session.ReadAll()
}

// Write overwrites the fragment's staged content.
func (fs *FragmentSession) Write(content []byte) error {
	return fs.session.Write(content)
}

// Close uploads the fragment if its content changed and purges local
// staging either way (spec.md §4.3). Per §4.4: the fragment's Hash is
// updated if and only if the digest changed, and only on successful
// upload — the catalog must never get ahead of durable storage.
func (fs *FragmentSession) Close() error {
	changed, err := fs.session.Changed()
	if err != nil {
		_ = fs.session.Close()
		return err
	}

	var newHash core.Digest
	if changed {
		newHash, err = fs.session.Hash()
		if err != nil {
			_ = fs.session.Close()
			return err
		}
	}

	if err := fs.session.Close(); err != nil {
		return err
	}
	if changed {
		fs.frag.Hash = newHash
	}
	return nil
}

// VerifyFragmentFull implements Fragment.verify_full() (spec.md §4.4): a
// full read through a fresh session. HashError and ConnectionTimeout mark
// the fragment dirty; any other error propagates. is_clean is persisted on
// return (Open Question (b)).
func (s *Store) VerifyFragmentFull(frag *Fragment) (bool, error) {
	fsess, err := s.openFragment(frag)
	if err != nil {
		return false, err
	}
	_, readErr := fsess.ReadAll()
	if closeErr := fsess.session.Close(); closeErr != nil && readErr == nil {
		readErr = closeErr
	}

	if readErr != nil {
		if isDirtyingError(readErr) {
			frag.IsClean = false
			if err := catalogdb.UpdateFragmentClean(s.db, frag.ID, false); err != nil {
				return false, err
			}
			return false, nil
		}
		return false, readErr
	}

	frag.IsClean = true
	if err := catalogdb.UpdateFragmentClean(s.db, frag.ID, true); err != nil {
		return false, err
	}
	return true, nil
}

// VerifyFragmentHash implements Fragment.verify_hash() (spec.md §4.4): a
// remote hash check only, no content transfer.
func (s *Store) VerifyFragmentHash(frag *Fragment) (bool, error) {
	client, err := s.client(frag.Remote)
	if err != nil {
		return false, err
	}

	hashHex, err := client.GetHash(frag.ID)
	if err != nil {
		if isDirtyingError(err) {
			frag.IsClean = false
			if uerr := catalogdb.UpdateFragmentClean(s.db, frag.ID, false); uerr != nil {
				return false, uerr
			}
			return false, nil
		}
		return false, err
	}

	remoteHash, err := core.ParseDigest(hashHex)
	if err != nil {
		return false, err
	}
	clean := frag.Hash.Equal(remoteHash)
	frag.IsClean = clean
	if err := catalogdb.UpdateFragmentClean(s.db, frag.ID, clean); err != nil {
		return false, err
	}
	return clean, nil
}
