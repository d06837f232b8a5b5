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
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/docker/distribution/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/core"
	"github.com/cumulus-storage/cumulus/core/erasure"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/internal/log"
	"github.com/cumulus-storage/cumulus/objectcache"
)

// uploadSlack is the over-provisioning factor applied to a shard's share
// of the file size when asking the planner for a hub, matching spec.md
// §4.6's "⌈(total_size / k) · 1.10⌉".
const uploadSlack = 1.10

// FileSession is a scoped staging session over a File's whole plaintext
// content (spec.md §4.6). Its Strategy.Download reconstructs the file from
// fragments; its Strategy.Upload encodes and places a fresh fragment set.
type FileSession struct {
	store   *Store
	file    *File
	session *objectcache.Session

	// placedDuringUpload tracks fragments successfully placed by the
	// current upload() call, so Close can orphan them immediately if the
	// upload fails partway (testable property 6 / S6).
	placedDuringUpload []Fragment
}

// OpenFile begins a scoped session over file, per spec.md §5's
// single-writer-per-File rule. Returns errkind.ErrSessionActive if a
// session over the same file id is already open.
func (s *Store) OpenFile(file *File) (*FileSession, error) {
	if err := s.lock(file.ID); err != nil {
		return nil, err
	}

	fsess := &FileSession{store: s, file: file}
	strategy := objectcache.Strategy{
		Download: fsess.download,
		Upload:   fsess.upload,
	}
	session, err := objectcache.Open(s.cacheDir, strategy, file.Hash)
	if err != nil {
		s.unlock(file.ID)
		return nil, err
	}
	fsess.session = session
	return fsess, nil
}

// ReadAll returns the file's full plaintext, reconstructing it from
// fragments on first read.
func (fsess *FileSession) ReadAll() ([]byte, error) {
	return fsess.session.ReadAll()
}

// Write overwrites the file's staged plaintext.
func (fsess *FileSession) Write(content []byte) error {
	return fsess.session.Write(content)
}

// download implements File.download (spec.md §4.6): a no-op if the file
// has no fragments yet; otherwise a parallel fan-out (Open Question (a),
// resolved) across fragments, stopping once k verified payloads are in
// hand, then a single decode call.
func (fsess *FileSession) download() ([]byte, error) {
	file := fsess.file
	if len(file.Fragments) == 0 {
		return nil, errkind.ErrNotFound
	}

	coder, err := erasure.New(file.Encoding)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	payloads := make(map[int][]byte)

	for i := range file.Fragments {
		frag := &file.Fragments[i]
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			fsFrag, err := fsess.store.openFragment(frag)
			if err != nil {
				log.Errorf("catalog: open fragment %s for read: %s", frag.ID, err)
				return nil
			}
			content, readErr := fsFrag.ReadAll()
			if closeErr := fsFrag.session.Close(); closeErr != nil {
				log.Errorf("catalog: close fragment %s staging: %s", frag.ID, closeErr)
			}

			if readErr != nil {
				frag.IsClean = false
				if err := catalogdb.UpdateFragmentClean(fsess.store.db, frag.ID, false); err != nil {
					log.Errorf("catalog: mark fragment %s dirty: %s", frag.ID, err)
				}
				return nil
			}

			mu.Lock()
			payloads[frag.Index] = content
			reachedK := len(payloads) >= file.Encoding.K
			mu.Unlock()
			if reachedK {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(payloads) < file.Encoding.K {
		return nil, &errkind.ReconstructionError{Need: file.Encoding.K, Have: len(payloads)}
	}
	return coder.Decode(payloads)
}

// upload implements File.upload (spec.md §4.6): encode the plaintext and
// place exactly k+m fragments, retrying each shard against a new hub on
// any remote failure. local_excluded accumulates across the whole upload,
// not per shard (a hub that fails once is not retried for later shards).
func (fsess *FileSession) upload(content []byte) error {
	file := fsess.file
	store := fsess.store
	fsess.placedDuringUpload = nil

	file.Hash = core.DigestBytes(content)

	coder, err := erasure.New(file.Encoding)
	if err != nil {
		return err
	}
	shards, err := coder.Encode(content)
	if err != nil {
		return err
	}
	if len(shards) != file.Encoding.Shards() {
		return fmt.Errorf("catalog: encoder returned %d shards, want %d", len(shards), file.Encoding.Shards())
	}

	requiredBytes := int64(math.Ceil(float64(len(content)) / float64(file.Encoding.K) * uploadSlack))

	localExcluded := map[string]struct{}{}
	var placed []Fragment

	for index, shard := range shards {
		placedRemotes := remotesOf(placed)
		for {
			excluded := make([]string, 0, len(localExcluded))
			for h := range localExcluded {
				excluded = append(excluded, h)
			}

			hub, err := store.planner.SelectHub(file.Source, placedRemotes, excluded, requiredBytes)
			if err != nil {
				return err
			}

			frag := &Fragment{ID: uuid.Generate().String(), CreatedAt: time.Now(), Index: index, Remote: hub.ID, IsClean: true}
			fragSess, err := store.openFragment(frag)
			if err != nil {
				localExcluded[hub.ID] = struct{}{}
				continue
			}
			if err := fragSess.Write(shard); err != nil {
				_ = fragSess.session.Close()
				return err
			}
			if err := fragSess.Close(); err != nil {
				if errkind.IsRemoteStorageOrTimeout(err) {
					localExcluded[hub.ID] = struct{}{}
					continue
				}
				return err
			}

			placed = append(placed, *frag)
			fsess.placedDuringUpload = placed
			break
		}
	}

	file.Fragments = placed
	return nil
}

// Close ends the scoped session (spec.md §4.6's state machine):
//   - no write: cache closes with nothing to do, catalog untouched.
//   - upload succeeds: the old fragment set is persisted as orphans and
//     the new one replaces it in the catalog, atomically.
//   - upload fails: the fragments placed during this attempt are orphaned
//     immediately (testable property 6); the catalog keeps the old,
//     complete fragment set untouched.
func (fsess *FileSession) Close() error {
	store := fsess.store
	defer store.unlock(fsess.file.ID)

	oldFragments := append([]Fragment(nil), fsess.file.Fragments...)
	oldHash := fsess.file.Hash

	if err := fsess.session.Close(); err != nil {
		now := time.Now()
		for _, f := range fsess.placedDuringUpload {
			if orphanErr := store.orphans.Add(partialOrphan(f, fsess.file.ID, now)); orphanErr != nil {
				log.Errorf("catalog: orphan partial-upload fragment %s: %s", f.ID, orphanErr)
			}
		}
		fsess.file.Fragments = oldFragments
		fsess.file.Hash = oldHash
		return err
	}

	if sameFragmentSet(oldFragments, fsess.file.Fragments) {
		return nil
	}

	if err := catalogdb.ReplaceFragments(store.db, fsess.file.ID, fsess.file.Hash.String(), fragRows(fsess.file.ID, fsess.file.Fragments)); err != nil {
		return err
	}

	now := time.Now()
	for _, f := range oldFragments {
		if err := store.orphans.Add(partialOrphan(f, fsess.file.ID, now)); err != nil {
			log.Errorf("catalog: orphan replaced fragment %s: %s", f.ID, err)
		}
	}
	return nil
}

func partialOrphan(f Fragment, fileID string, orphanedAt time.Time) catalogdb.OrphanRow {
	return catalogdb.OrphanRow{
		FragID: f.ID, FileID: fileID, CreatedAt: f.CreatedAt, OrphanedAt: orphanedAt,
		FragIndex: f.Index, Remote: f.Remote, Hash: f.Hash.String(),
	}
}

// Reconstruct implements File.reconstruct() (spec.md §4.6): derive every
// dirty fragment's bytes from the clean survivors via the erasure coder,
// write each back, and mark it clean. Disallowed concurrently with any
// other session on the same file, like every operation in this file.
func (s *Store) Reconstruct(file *File) error {
	if err := s.lock(file.ID); err != nil {
		return err
	}
	defer s.unlock(file.ID)

	coder, err := erasure.New(file.Encoding)
	if err != nil {
		return err
	}

	for attempt := 0; attempt <= len(file.Fragments); attempt++ {
		dirty := dirtyIndices(file.Fragments)
		if len(dirty) == 0 {
			return nil
		}

		present := s.gatherCleanPayloads(file, dirty)
		if len(present) < file.Encoding.K {
			return &errkind.ReconstructionError{Need: file.Encoding.K, Have: len(present)}
		}

		recovered, err := coder.Reconstruct(present, dirty)
		if err != nil {
			return &errkind.ReconstructionError{Need: file.Encoding.K, Have: len(present)}
		}

		if err := s.writeRecoveredShards(file, recovered); err != nil {
			return err
		}
	}
	return &errkind.ReconstructionError{Need: file.Encoding.K, Have: 0}
}

// gatherCleanPayloads reads every non-dirty fragment's content, marking
// (and persisting) any that fail as dirty in place rather than failing the
// whole reconstruction.
func (s *Store) gatherCleanPayloads(file *File, dirty []int) map[int][]byte {
	present := make(map[int][]byte)
	for i := range file.Fragments {
		frag := &file.Fragments[i]
		if containsInt(dirty, frag.Index) {
			continue
		}
		fsFrag, err := s.openFragment(frag)
		if err != nil {
			continue
		}
		content, readErr := fsFrag.ReadAll()
		if closeErr := fsFrag.session.Close(); closeErr != nil {
			log.Errorf("catalog: close fragment %s staging: %s", frag.ID, closeErr)
		}
		if readErr != nil {
			frag.IsClean = false
			if err := catalogdb.UpdateFragmentClean(s.db, frag.ID, false); err != nil {
				log.Errorf("catalog: mark fragment %s dirty: %s", frag.ID, err)
			}
			continue
		}
		present[frag.Index] = content
	}
	return present
}

func (s *Store) writeRecoveredShards(file *File, recovered map[int][]byte) error {
	for i := range file.Fragments {
		frag := &file.Fragments[i]
		shard, ok := recovered[frag.Index]
		if !ok {
			continue
		}
		fsFrag, err := s.openFragment(frag)
		if err != nil {
			return err
		}
		if err := fsFrag.Write(shard); err != nil {
			_ = fsFrag.session.Close()
			return err
		}
		if err := fsFrag.Close(); err != nil {
			return err
		}
		frag.IsClean = true
		if err := catalogdb.UpdateFragmentClean(s.db, frag.ID, true); err != nil {
			return err
		}
		if err := catalogdb.UpdateFragmentHash(s.db, frag.ID, frag.Hash.String()); err != nil {
			return err
		}
	}
	return nil
}

// VerifyFileFull implements File.verify_full(): AND across every
// fragment's VerifyFull, persisting each fragment's flip.
func (s *Store) VerifyFileFull(file *File) (bool, error) {
	if err := s.lock(file.ID); err != nil {
		return false, err
	}
	defer s.unlock(file.ID)

	allClean := true
	for i := range file.Fragments {
		clean, err := s.VerifyFragmentFull(&file.Fragments[i])
		if err != nil {
			return false, err
		}
		if !clean {
			allClean = false
		}
	}
	return allClean, nil
}

// VerifyFileHash implements File.verify_hash(): AND across every
// fragment's VerifyHash.
func (s *Store) VerifyFileHash(file *File) (bool, error) {
	if err := s.lock(file.ID); err != nil {
		return false, err
	}
	defer s.unlock(file.ID)

	allClean := true
	for i := range file.Fragments {
		clean, err := s.VerifyFragmentHash(&file.Fragments[i])
		if err != nil {
			return false, err
		}
		if !clean {
			allClean = false
		}
	}
	return allClean, nil
}

// RemoveFile implements File.remove(): demote every fragment to an orphan,
// then delete the catalog record. A second call finds no fragments left to
// orphan and a missing row, surfacing errkind.ErrObjectDoesNotExist
// (testable property 8).
func (s *Store) RemoveFile(file *File) error {
	if err := s.lock(file.ID); err != nil {
		return err
	}
	defer s.unlock(file.ID)

	now := time.Now()
	for _, f := range file.Fragments {
		if err := s.orphans.Add(partialOrphan(f, file.ID, now)); err != nil {
			return err
		}
	}

	// Drop the fragment rows first: they reference the file row.
	if err := catalogdb.ReplaceFragments(s.db, file.ID, file.Hash.String(), nil); err != nil {
		return err
	}
	if err := catalogdb.DeleteFile(s.db, file.ID); err != nil {
		if errors.Is(err, catalogdb.ErrFileNotFound) {
			return errkind.ErrObjectDoesNotExist
		}
		return err
	}
	file.Fragments = nil
	return nil
}
