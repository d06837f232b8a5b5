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
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/errkind"
	"github.com/cumulus-storage/cumulus/hubclient"
	"github.com/cumulus-storage/cumulus/placement"
)

// HubDialer constructs a request-scoped blob-client handle for a hub's
// network address.
type HubDialer func(addr string) hubclient.Client

// HubResolver maps a hub_id to its dialable address.
type HubResolver interface {
	Addr(hubID string) (string, error)
}

// Store is the catalog's single entry point: it owns the sqlite handle,
// knows how to dial a hub by id, and enforces the single-writer-per-File
// rule of SPEC_FULL.md §5 via an in-process session registry. Global
// per-process state (the teacher's singleton blob-client/config pattern)
// is deliberately confined here, constructed once at startup per spec.md
// §9's "re-architect as explicit configuration" note.
type Store struct {
	db       *sqlx.DB
	cacheDir string
	resolver HubResolver
	dial     HubDialer
	planner  *placement.Planner
	orphans  OrphanAdder

	sessions sync.Map // file ID -> struct{}
}

// OrphanAdder is the subset of orphanstore.Manager's API the catalog needs:
// synchronously persisting a fragment as orphaned. A narrow interface
// (rather than importing *orphanstore.Manager directly) keeps catalog
// testable without a real background sweep.
type OrphanAdder interface {
	Add(o catalogdb.OrphanRow) error
}

// NewStore builds a Store. planner and orphans are typically
// placement.New(catalog.NewHubSource(db)) and an *orphanstore.Manager
// sharing the same db.
func NewStore(db *sqlx.DB, cacheDir string, resolver HubResolver, dial HubDialer, planner *placement.Planner, orphans OrphanAdder) *Store {
	return &Store{db: db, cacheDir: cacheDir, resolver: resolver, dial: dial, planner: planner, orphans: orphans}
}

func (s *Store) client(hubID string) (hubclient.Client, error) {
	addr, err := s.resolver.Addr(hubID)
	if err != nil {
		return nil, err
	}
	return s.dial(addr), nil
}

func (s *Store) lock(fileID string) error {
	if _, loaded := s.sessions.LoadOrStore(fileID, struct{}{}); loaded {
		return errkind.ErrSessionActive
	}
	return nil
}

func (s *Store) unlock(fileID string) {
	s.sessions.Delete(fileID)
}

// isDirtyingError reports whether err is one of the two kinds spec.md §4.4
// treats as "flip is_clean to false": a hash mismatch or a connection
// timeout. Other remote errors also degrade a fragment on the read path
// per §7's propagation policy, but only these two carry fragment-specific
// meaning on Fragment.VerifyFull/VerifyHash.
func isDirtyingError(err error) bool {
	var hashErr *errkind.HashError
	if errors.As(err, &hashErr) {
		return true
	}
	return errors.Is(err, errkind.ErrConnectionTimeout)
}

// --- Hub CRUD ---

// CreateHub inserts a new hub.
func (s *Store) CreateHub(h Hub) error {
	return catalogdb.CreateHub(s.db, h.row())
}

// GetHub returns the hub with the given id.
func (s *Store) GetHub(id string) (Hub, error) {
	r, err := catalogdb.GetHub(s.db, id)
	if err != nil {
		return Hub{}, err
	}
	return hubFromRow(r), nil
}

// ListHubs returns every known hub.
func (s *Store) ListHubs() ([]Hub, error) {
	rows, err := catalogdb.ListHubs(s.db)
	if err != nil {
		return nil, err
	}
	hubs := make([]Hub, len(rows))
	for i, r := range rows {
		hubs[i] = hubFromRow(r)
	}
	return hubs, nil
}

// UpdateHubAvailableBytes writes back a hub's last-known available_bytes,
// as returned by any blob-client call that carries one (spec §4.2).
func (s *Store) UpdateHubAvailableBytes(hubID string, availableBytes int64) error {
	return catalogdb.UpdateHubAvailableBytes(s.db, hubID, availableBytes)
}

// FindHubByReference returns the unique hub whose external reference
// matches ref. Surfaces errkind.ErrObjectDoesNotExist /
// errkind.ErrMultipleObjectsFound for the broker's POST/GET-by-source
// lookups (original_source/app/views.py's Hub.objects(cumulus_id=...)).
func (s *Store) FindHubByReference(ref string) (Hub, error) {
	r, err := catalogdb.FindHubByReference(s.db, ref)
	if errors.Is(err, catalogdb.ErrHubNotFound) {
		return Hub{}, errkind.ErrObjectDoesNotExist
	}
	if errors.Is(err, catalogdb.ErrMultipleHubsFound) {
		return Hub{}, errkind.ErrMultipleObjectsFound
	}
	if err != nil {
		return Hub{}, err
	}
	return hubFromRow(r), nil
}

// hubSource adapts catalogdb's hub table to placement.HubSource, without
// placement importing catalog (it defines its own minimal Hub view).
type hubSource struct {
	db *sqlx.DB
}

// NewHubSource returns a placement.HubSource backed by the catalog's hub
// table.
func NewHubSource(db *sqlx.DB) placement.HubSource {
	return hubSource{db: db}
}

func (h hubSource) ListHubs() ([]placement.Hub, error) {
	rows, err := catalogdb.ListHubs(h.db)
	if err != nil {
		return nil, err
	}
	hubs := make([]placement.Hub, len(rows))
	for i, r := range rows {
		hubs[i] = placement.Hub{ID: r.HubID, AvailableBytes: r.AvailableBytes}
	}
	return hubs, nil
}

// --- File CRUD ---

// CreateFile inserts a new file, along with its fragments if it already
// has any (the broker always creates with zero fragments and then opens a
// session to write content).
func (s *Store) CreateFile(f File) error {
	if err := catalogdb.CreateFile(s.db, f.row()); err != nil {
		return err
	}
	if len(f.Fragments) == 0 {
		return nil
	}
	return catalogdb.ReplaceFragments(s.db, f.ID, f.Hash.String(), fragRows(f.ID, f.Fragments))
}

// GetFile returns a file with its fragments loaded in index order.
func (s *Store) GetFile(fileID string) (File, error) {
	r, err := catalogdb.GetFile(s.db, fileID)
	if err != nil {
		return File{}, err
	}
	frags, err := catalogdb.ListFragments(s.db, fileID)
	if err != nil {
		return File{}, err
	}
	return fileFromRow(r, frags)
}

// FindFile returns the unique file matching (source, collection, filename).
// Surfaces errkind.ErrObjectDoesNotExist when no file matches (testable
// property 8 / spec.md §7's ObjectDoesNotExist kind).
func (s *Store) FindFile(source, collection, filename string) (File, error) {
	r, err := catalogdb.FindFile(s.db, source, collection, filename)
	if errors.Is(err, catalogdb.ErrFileNotFound) {
		return File{}, errkind.ErrObjectDoesNotExist
	}
	if err != nil {
		return File{}, err
	}
	frags, err := catalogdb.ListFragments(s.db, r.FileID)
	if err != nil {
		return File{}, err
	}
	return fileFromRow(r, frags)
}

// ListFiles returns every file, optionally filtered by source hub.
func (s *Store) ListFiles(source string) ([]File, error) {
	rows, err := catalogdb.ListFiles(s.db, source)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(rows))
	for _, r := range rows {
		frags, err := catalogdb.ListFragments(s.db, r.FileID)
		if err != nil {
			return nil, err
		}
		f, err := fileFromRow(r, frags)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// ListDirtyFiles returns every file with at least one dirty fragment, the
// repair engine's sweep query (spec §4.8).
func (s *Store) ListDirtyFiles() ([]File, error) {
	rows, err := catalogdb.ListDirtyFiles(s.db)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(rows))
	for _, r := range rows {
		frags, err := catalogdb.ListFragments(s.db, r.FileID)
		if err != nil {
			return nil, err
		}
		f, err := fileFromRow(r, frags)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// SampleRandomFiles returns a uniformly random sample of n files, the
// verifier's "random" mode sampler (spec §4.9).
func (s *Store) SampleRandomFiles(n int) ([]File, error) {
	rows, err := catalogdb.SampleRandomFiles(s.db, n)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(rows))
	for _, r := range rows {
		frags, err := catalogdb.ListFragments(s.db, r.FileID)
		if err != nil {
			return nil, err
		}
		f, err := fileFromRow(r, frags)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// CountFiles returns the total number of files in the catalog.
func (s *Store) CountFiles() (int, error) {
	return catalogdb.CountFiles(s.db)
}
