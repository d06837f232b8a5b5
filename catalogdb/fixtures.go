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
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
)

// Fixture returns a temporary test database and a cleanup function.
func Fixture() (*sqlx.DB, func()) {
	tmpdir, err := os.MkdirTemp("", "cumulus-catalog-test-")
	if err != nil {
		panic(err)
	}
	cleanup := func() { os.RemoveAll(tmpdir) }

	db, err := New(Config{Source: filepath.Join(tmpdir, "test.db")})
	if err != nil {
		cleanup()
		panic(err)
	}
	return db, func() {
		db.Close()
		cleanup()
	}
}
