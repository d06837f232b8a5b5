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

// Package catalog implements the Hub/File/Fragment domain model of
// SPEC_FULL.md §3-4 on top of catalogdb's row-oriented storage, plus the
// File/Fragment scoped sessions of §4.4/§4.6 that drive placement, upload,
// download, reconstruction, verification, and removal.
package catalog

import (
	"time"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/core"
)

// Hub is a storage node exposing the blob-server protocol.
type Hub struct {
	ID             string
	Reference      string
	AvailableBytes int64
}

func hubFromRow(r catalogdb.HubRow) Hub {
	return Hub{ID: r.HubID, Reference: r.Reference, AvailableBytes: r.AvailableBytes}
}

func (h Hub) row() catalogdb.HubRow {
	return catalogdb.HubRow{HubID: h.ID, Reference: h.Reference, AvailableBytes: h.AvailableBytes}
}

// Fragment is one erasure-coded shard of a File, stored at a hub.
type Fragment struct {
	ID        string
	CreatedAt time.Time
	Index     int
	Remote    string
	Hash      core.Digest
	IsClean   bool
}

func fragmentFromRow(r catalogdb.FragmentRow) (Fragment, error) {
	f := Fragment{ID: r.FragID, CreatedAt: r.CreatedAt, Index: r.FragIndex, Remote: r.Remote, IsClean: r.IsClean}
	if r.Hash != "" {
		hash, err := core.ParseDigest(r.Hash)
		if err != nil {
			return Fragment{}, err
		}
		f.Hash = hash
	}
	return f, nil
}

func (f Fragment) row(fileID string) catalogdb.FragmentRow {
	return catalogdb.FragmentRow{
		FragID:    f.ID,
		FileID:    fileID,
		CreatedAt: f.CreatedAt,
		FragIndex: f.Index,
		Remote:    f.Remote,
		Hash:      f.Hash.String(),
		IsClean:   f.IsClean,
	}
}

// File is the catalog's file entity: identity, encoding, and the ordered
// set of Fragments it decodes to, when stored.
type File struct {
	ID         string
	CreatedAt  time.Time
	Source     string
	Collection string
	Filename   string
	Hash       core.Digest
	Encoding   core.Encoding
	Fragments  []Fragment
}

func fileFromRow(r catalogdb.FileRow, fragRows []catalogdb.FragmentRow) (File, error) {
	f := File{
		ID:         r.FileID,
		CreatedAt:  r.CreatedAt,
		Source:     r.Source,
		Collection: r.Collection,
		Filename:   r.Filename,
		Encoding:   core.Encoding{Name: r.EncodingName, K: r.EncodingK, M: r.EncodingM},
	}
	if r.Hash != "" {
		hash, err := core.ParseDigest(r.Hash)
		if err != nil {
			return File{}, err
		}
		f.Hash = hash
	}
	frags := make([]Fragment, 0, len(fragRows))
	for _, fr := range fragRows {
		frag, err := fragmentFromRow(fr)
		if err != nil {
			return File{}, err
		}
		frags = append(frags, frag)
	}
	f.Fragments = frags
	return f, nil
}

func (f File) row() catalogdb.FileRow {
	return catalogdb.FileRow{
		FileID:       f.ID,
		CreatedAt:    f.CreatedAt,
		Source:       f.Source,
		Collection:   f.Collection,
		Filename:     f.Filename,
		Hash:         f.Hash.String(),
		EncodingName: f.Encoding.Name,
		EncodingK:    f.Encoding.K,
		EncodingM:    f.Encoding.M,
	}
}

func fragRows(fileID string, frags []Fragment) []catalogdb.FragmentRow {
	rows := make([]catalogdb.FragmentRow, len(frags))
	for i, f := range frags {
		rows[i] = f.row(fileID)
	}
	return rows
}

func remotesOf(frags []Fragment) []string {
	remotes := make([]string, len(frags))
	for i, f := range frags {
		remotes[i] = f.Remote
	}
	return remotes
}

func dirtyIndices(frags []Fragment) []int {
	var out []int
	for _, f := range frags {
		if !f.IsClean {
			out = append(out, f.Index)
		}
	}
	return out
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func sameFragmentSet(a, b []Fragment) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]struct{}, len(a))
	for _, f := range a {
		ids[f.ID] = struct{}{}
	}
	for _, f := range b {
		if _, ok := ids[f.ID]; !ok {
			return false
		}
	}
	return true
}
