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
package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(up00001, down00001)
}

func up00001(tx *sql.Tx) error {
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS hub (
			hub_id          text    PRIMARY KEY,
			reference       text    NOT NULL,
			available_bytes integer NOT NULL
		);
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS file (
			file_id      text      PRIMARY KEY,
			created_at   timestamp NOT NULL,
			source       text      NOT NULL REFERENCES hub(hub_id),
			collection   text      NOT NULL,
			filename     text      NOT NULL,
			hash         text      NOT NULL,
			encoding_name text     NOT NULL,
			encoding_k   integer   NOT NULL,
			encoding_m   integer   NOT NULL,
			UNIQUE(source, collection, filename)
		);
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS fragment (
			frag_id    text      PRIMARY KEY,
			file_id    text      NOT NULL REFERENCES file(file_id),
			created_at timestamp NOT NULL,
			frag_index integer   NOT NULL,
			remote     text      NOT NULL REFERENCES hub(hub_id),
			hash       text      NOT NULL,
			is_clean   boolean   NOT NULL,
			UNIQUE(file_id, frag_index)
		);
	`); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS orphan (
			frag_id      text      PRIMARY KEY,
			file_id      text      NOT NULL,
			created_at   timestamp NOT NULL,
			orphaned_at  timestamp NOT NULL,
			frag_index   integer   NOT NULL,
			remote       text      NOT NULL,
			hash         text      NOT NULL
		);
	`); err != nil {
		return err
	}

	return nil
}

func down00001(tx *sql.Tx) error {
	for _, stmt := range []string{
		`DROP TABLE orphan;`,
		`DROP TABLE fragment;`,
		`DROP TABLE file;`,
		`DROP TABLE hub;`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
