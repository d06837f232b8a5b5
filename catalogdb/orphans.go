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
package catalogdb

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrOrphanNotFound is returned when a frag_id has no matching orphan row.
var ErrOrphanNotFound = errors.New("catalogdb: orphan not found")

// OrphanRow is a tombstone for a fragment that was detached from its file
// (by Remove, by a successful overwrite replacing the old fragment set, or
// by a failed upload leaving partial fragments behind) but may still be
// physically present on its hub, pending deletion (spec §4.7).
type OrphanRow struct {
	FragID     string    `db:"frag_id"`
	FileID     string    `db:"file_id"`
	CreatedAt  time.Time `db:"created_at"`
	OrphanedAt time.Time `db:"orphaned_at"`
	FragIndex  int       `db:"frag_index"`
	Remote     string    `db:"remote"`
	Hash       string    `db:"hash"`
}

// CreateOrphan records a fragment as orphaned.
func CreateOrphan(db *sqlx.DB, o OrphanRow) error {
	_, err := db.NamedExec(`
		INSERT INTO orphan (frag_id, file_id, created_at, orphaned_at, frag_index, remote, hash)
		VALUES (:frag_id, :file_id, :created_at, :orphaned_at, :frag_index, :remote, :hash)
	`, o)
	return err
}

// GetOrphan returns the orphan row for a fragment id.
func GetOrphan(db *sqlx.DB, fragID string) (OrphanRow, error) {
	var o OrphanRow
	err := db.Get(&o, `
		SELECT frag_id, file_id, created_at, orphaned_at, frag_index, remote, hash
		FROM orphan WHERE frag_id = ?
	`, fragID)
	if errors.Is(err, sql.ErrNoRows) {
		return OrphanRow{}, ErrOrphanNotFound
	}
	return o, err
}

// ListOrphans returns every orphan awaiting deletion, oldest first so the
// background sweep retries long-stuck orphans before newer ones.
func ListOrphans(db *sqlx.DB) ([]OrphanRow, error) {
	var orphans []OrphanRow
	err := db.Select(&orphans, `
		SELECT frag_id, file_id, created_at, orphaned_at, frag_index, remote, hash
		FROM orphan ORDER BY orphaned_at ASC
	`)
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// DeleteOrphan removes the tombstone once the remote copy has been
// successfully deleted (or is confirmed already gone).
func DeleteOrphan(db *sqlx.DB, fragID string) error {
	res, err := db.Exec(`DELETE FROM orphan WHERE frag_id = ?`, fragID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrOrphanNotFound
	}
	return nil
}
