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

// Package catalogdb embeds a SQLite database recording which hubs exist,
// which files and fragments they hold, and which fragments are orphaned.
// It is the "catalog" named throughout spec.md.
package catalogdb

import (
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/cumulus-storage/cumulus/catalogdb/migrations" // Registers migrations.

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQL driver.
	"github.com/pressly/goose"
)

// New creates (or opens) the catalog's embedded SQLite database and brings
// it up to the latest migration.
func New(config Config) (*sqlx.DB, error) {
	config = config.applyDefaults()

	if err := ensureFilePresent(config.Source); err != nil {
		return nil, fmt.Errorf("ensure db source present: %s", err)
	}

	db, err := sqlx.Open("sqlite3", config.Source+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %s", err)
	}
	// SQLite serializes writers; a single connection avoids "database is
	// locked" errors under concurrent access from this process.
	db.SetMaxOpenConns(1)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("set dialect as sqlite3: %s", err)
	}
	if err := goose.Up(db.DB, "."); err != nil {
		return nil, fmt.Errorf("perform db migration: %s", err)
	}
	return db, nil
}

func ensureFilePresent(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0775); err != nil && !os.IsExist(err) {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0664)
	if err != nil {
		return err
	}
	return f.Close()
}
