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

	"github.com/jmoiron/sqlx"
)

// ErrHubNotFound is returned when a hub_id has no matching row.
var ErrHubNotFound = errors.New("catalogdb: hub not found")

// HubRow is the catalog's persisted representation of a Hub.
type HubRow struct {
	HubID          string `db:"hub_id"`
	Reference      string `db:"reference"`
	AvailableBytes int64  `db:"available_bytes"`
}

// CreateHub inserts a new hub row.
func CreateHub(db *sqlx.DB, h HubRow) error {
	_, err := db.NamedExec(`
		INSERT INTO hub (hub_id, reference, available_bytes)
		VALUES (:hub_id, :reference, :available_bytes)
	`, h)
	return err
}

// GetHub returns the hub with the given id.
func GetHub(db *sqlx.DB, hubID string) (HubRow, error) {
	var h HubRow
	err := db.Get(&h, `SELECT hub_id, reference, available_bytes FROM hub WHERE hub_id = ?`, hubID)
	if errors.Is(err, sql.ErrNoRows) {
		return HubRow{}, ErrHubNotFound
	}
	return h, err
}

// ErrMultipleHubsFound is returned when a reference matches more than one
// hub row.
var ErrMultipleHubsFound = errors.New("catalogdb: multiple hubs found")

// FindHubByReference returns the unique hub whose external reference
// matches ref (the "cumulus_id" the broker's clients address a source
// hub by).
func FindHubByReference(db *sqlx.DB, ref string) (HubRow, error) {
	var hubs []HubRow
	if err := db.Select(&hubs, `SELECT hub_id, reference, available_bytes FROM hub WHERE reference = ?`, ref); err != nil {
		return HubRow{}, err
	}
	switch len(hubs) {
	case 0:
		return HubRow{}, ErrHubNotFound
	case 1:
		return hubs[0], nil
	default:
		return HubRow{}, ErrMultipleHubsFound
	}
}

// ListHubs returns every hub in the catalog.
func ListHubs(db *sqlx.DB) ([]HubRow, error) {
	var hubs []HubRow
	if err := db.Select(&hubs, `SELECT hub_id, reference, available_bytes FROM hub`); err != nil {
		return nil, err
	}
	return hubs, nil
}

// UpdateHubAvailableBytes writes back the last-known available_bytes for a
// hub, as returned by any blob-client call that carries it (spec §4.2).
func UpdateHubAvailableBytes(db *sqlx.DB, hubID string, availableBytes int64) error {
	res, err := db.Exec(`UPDATE hub SET available_bytes = ? WHERE hub_id = ?`, availableBytes, hubID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %s", err)
	}
	if n == 0 {
		return ErrHubNotFound
	}
	return nil
}
