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
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrFileNotFound is returned when a file_id, or a (source, collection,
// filename) tuple, has no matching row.
var ErrFileNotFound = errors.New("catalogdb: file not found")

// FileRow is the catalog's persisted representation of a File, without its
// Fragments (see FragmentRow / ListFragments).
type FileRow struct {
	FileID       string    `db:"file_id"`
	CreatedAt    time.Time `db:"created_at"`
	Source       string    `db:"source"`
	Collection   string    `db:"collection"`
	Filename     string    `db:"filename"`
	Hash         string    `db:"hash"`
	EncodingName string    `db:"encoding_name"`
	EncodingK    int       `db:"encoding_k"`
	EncodingM    int       `db:"encoding_m"`
}

// FragmentRow is the catalog's persisted representation of a Fragment.
type FragmentRow struct {
	FragID    string    `db:"frag_id"`
	FileID    string    `db:"file_id"`
	CreatedAt time.Time `db:"created_at"`
	FragIndex int       `db:"frag_index"`
	Remote    string    `db:"remote"`
	Hash      string    `db:"hash"`
	IsClean   bool      `db:"is_clean"`
}

// CreateFile inserts a new file row with no fragments.
func CreateFile(db *sqlx.DB, f FileRow) error {
	_, err := db.NamedExec(`
		INSERT INTO file (file_id, created_at, source, collection, filename, hash,
		                   encoding_name, encoding_k, encoding_m)
		VALUES (:file_id, :created_at, :source, :collection, :filename, :hash,
		        :encoding_name, :encoding_k, :encoding_m)
	`, f)
	return err
}

// GetFile returns the file row for id.
func GetFile(db *sqlx.DB, fileID string) (FileRow, error) {
	var f FileRow
	err := db.Get(&f, `
		SELECT file_id, created_at, source, collection, filename, hash,
		       encoding_name, encoding_k, encoding_m
		FROM file WHERE file_id = ?
	`, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrFileNotFound
	}
	return f, err
}

// FindFile returns the unique file matching (source, collection, filename).
func FindFile(db *sqlx.DB, source, collection, filename string) (FileRow, error) {
	var f FileRow
	err := db.Get(&f, `
		SELECT file_id, created_at, source, collection, filename, hash,
		       encoding_name, encoding_k, encoding_m
		FROM file WHERE source = ? AND collection = ? AND filename = ?
	`, source, collection, filename)
	if errors.Is(err, sql.ErrNoRows) {
		return FileRow{}, ErrFileNotFound
	}
	return f, err
}

// ListFiles returns every file, optionally filtered by source hub.
func ListFiles(db *sqlx.DB, source string) ([]FileRow, error) {
	var files []FileRow
	var err error
	if source == "" {
		err = db.Select(&files, `
			SELECT file_id, created_at, source, collection, filename, hash,
			       encoding_name, encoding_k, encoding_m
			FROM file
		`)
	} else {
		err = db.Select(&files, `
			SELECT file_id, created_at, source, collection, filename, hash,
			       encoding_name, encoding_k, encoding_m
			FROM file WHERE source = ?
		`, source)
	}
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ListDirtyFiles returns every file that has at least one fragment with
// is_clean = false.
func ListDirtyFiles(db *sqlx.DB) ([]FileRow, error) {
	var files []FileRow
	err := db.Select(&files, `
		SELECT DISTINCT f.file_id, f.created_at, f.source, f.collection, f.filename, f.hash,
		                f.encoding_name, f.encoding_k, f.encoding_m
		FROM file f JOIN fragment fr ON fr.file_id = f.file_id
		WHERE fr.is_clean = 0
	`)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SampleRandomFiles returns a uniformly random sample of n files, using
// sqlite's RANDOM() ordering as the catalog engine's uniform sampler
// (spec §4.9).
func SampleRandomFiles(db *sqlx.DB, n int) ([]FileRow, error) {
	var files []FileRow
	err := db.Select(&files, `
		SELECT file_id, created_at, source, collection, filename, hash,
		       encoding_name, encoding_k, encoding_m
		FROM file ORDER BY RANDOM() LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	return files, nil
}

// CountFiles returns the total number of files in the catalog.
func CountFiles(db *sqlx.DB) (int, error) {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM file`); err != nil {
		return 0, err
	}
	return n, nil
}

// ListFragments returns a file's fragments in index order.
func ListFragments(db *sqlx.DB, fileID string) ([]FragmentRow, error) {
	var frags []FragmentRow
	err := db.Select(&frags, `
		SELECT frag_id, file_id, created_at, frag_index, remote, hash, is_clean
		FROM fragment WHERE file_id = ? ORDER BY frag_index ASC
	`, fileID)
	if err != nil {
		return nil, err
	}
	return frags, nil
}

// ReplaceFragments atomically updates a file's hash and replaces its
// fragment set, within a single transaction. Used on File close after a
// successful upload (spec §4.6), so readers never observe a half-written
// fragment list.
func ReplaceFragments(db *sqlx.DB, fileID string, hash string, frags []FragmentRow) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE file SET hash = ? WHERE file_id = ?`, hash, fileID); err != nil {
		return fmt.Errorf("update file hash: %s", err)
	}
	if _, err := tx.Exec(`DELETE FROM fragment WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("clear fragments: %s", err)
	}
	for _, fr := range frags {
		if _, err := tx.NamedExec(`
			INSERT INTO fragment (frag_id, file_id, created_at, frag_index, remote, hash, is_clean)
			VALUES (:frag_id, :file_id, :created_at, :frag_index, :remote, :hash, :is_clean)
		`, fr); err != nil {
			return fmt.Errorf("insert fragment: %s", err)
		}
	}
	return tx.Commit()
}

// UpdateFragmentClean sets a single fragment's is_clean flag.
func UpdateFragmentClean(db *sqlx.DB, fragID string, isClean bool) error {
	_, err := db.Exec(`UPDATE fragment SET is_clean = ? WHERE frag_id = ?`, isClean, fragID)
	return err
}

// UpdateFragmentHash sets a single fragment's hash (after a successful
// upload or reconstruction repair).
func UpdateFragmentHash(db *sqlx.DB, fragID string, hash string) error {
	_, err := db.Exec(`UPDATE fragment SET hash = ? WHERE frag_id = ?`, hash, fragID)
	return err
}

// DeleteFile removes a file row. Callers must first detach its fragments
// (spec §4.6 Remove()).
func DeleteFile(db *sqlx.DB, fileID string) error {
	res, err := db.Exec(`DELETE FROM file WHERE file_id = ?`, fileID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFileNotFound
	}
	return nil
}
