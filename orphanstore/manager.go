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

// Package orphanstore tracks fragments detached from their owning File but
// not yet confirmed deleted at their remote hub (SPEC_FULL.md §4.7).
//
// Orphans are exactly the teacher's persistedretry write-back Tasks
// re-modeled: "pending/failed" becomes "not yet deleted remotely", and a
// ticker-driven Manager retries deletion with exponential backoff
// (cenkalti/backoff) the same way persistedretry.manager's retry loop does,
// tracked with go.uber.org/atomic and reported via uber-go/tally. The
// channel/worker-pool plumbing of the teacher's Manager is not needed here
// — Add() persists synchronously and a single ticker loop sweeps the
// catalog's orphan table — so this is a ticker-loop adaptation of that
// shape, not the full manager.
package orphanstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/cenkalti/backoff"
	"github.com/jmoiron/sqlx"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/hubclient"
	"github.com/cumulus-storage/cumulus/internal/log"
)

// HubDialer constructs a blob-client handle for a hub address.
type HubDialer func(addr string) hubclient.Client

// HubResolver maps a hub_id to its network address, so the manager can
// dial it.
type HubResolver interface {
	Addr(hubID string) (string, error)
}

// Config controls the orphan deletion sweep.
type Config struct {
	SweepInterval  time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

func (c Config) applyDefaults() Config {
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 10 * time.Minute
	}
	return c
}

// Manager persists orphans and periodically retries their remote deletion.
type Manager struct {
	config   Config
	db       *sqlx.DB
	resolver HubResolver
	dial     HubDialer
	clock    clock.Clock
	stats    tally.Scope

	mu        sync.Mutex
	backoffs  map[string]*backoff.ExponentialBackOff
	nextTry   map[string]time.Time
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager constructs a Manager and starts its background sweep.
func NewManager(config Config, db *sqlx.DB, resolver HubResolver, dial HubDialer, clk clock.Clock, stats tally.Scope) *Manager {
	config = config.applyDefaults()
	m := &Manager{
		config:   config,
		db:       db,
		resolver: resolver,
		dial:     dial,
		clock:    clk,
		stats:    stats.Tagged(map[string]string{"module": "orphanstore"}),
		backoffs: make(map[string]*backoff.ExponentialBackOff),
		nextTry:  make(map[string]time.Time),
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Add records a fragment as orphaned. Called by File/Fragment close paths
// whenever a fragment is detached (spec §4.6, §4.7).
func (m *Manager) Add(o catalogdb.OrphanRow) error {
	return catalogdb.CreateOrphan(m.db, o)
}

// Close stops the background sweep. Idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
	})
}

func (m *Manager) sweepLoop() {
	ticker := m.clock.Ticker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.done:
			return
		}
	}
}

// sweepOnce attempts deletion of every orphan whose backoff has elapsed.
// Errors for individual orphans are logged and retried on a later sweep;
// they never stop the sweep.
func (m *Manager) sweepOnce() {
	orphans, err := catalogdb.ListOrphans(m.db)
	if err != nil {
		log.Errorf("orphanstore: list orphans: %s", err)
		return
	}

	deleted := 0
	for _, o := range orphans {
		if !m.ready(o.FragID) {
			continue
		}
		if err := m.remove(o); err != nil {
			log.Errorf("orphanstore: remove orphan %s: %s", o.FragID, err)
			m.recordFailure(o.FragID)
			continue
		}
		m.forget(o.FragID)
		deleted++
	}
	m.stats.Counter("orphans_deleted").Inc(int64(deleted))
	m.stats.Gauge("orphans_pending").Update(float64(len(orphans) - deleted))
}

// remove implements Orphan.remove() per spec §4.7: delete the remote blob,
// then delete the catalog record. Never the reverse — a delete failure
// must leave the orphan record so it can be retried.
func (m *Manager) remove(o catalogdb.OrphanRow) error {
	addr, err := m.resolver.Addr(o.Remote)
	if err != nil {
		return fmt.Errorf("resolve hub %s: %s", o.Remote, err)
	}
	client := m.dial(addr)
	availableBytes, err := client.Delete(o.FragID)
	if err != nil {
		return err
	}
	// The delete response carries the hub's post-delete available_bytes,
	// which must be written back per SPEC_FULL.md §4.2 the same as a PUT
	// response. A failure here is logged, not fatal: the orphan record
	// still gets deleted, and the next blob-client call will refresh it.
	if err := catalogdb.UpdateHubAvailableBytes(m.db, o.Remote, availableBytes); err != nil {
		log.Errorf("orphanstore: update hub %s available_bytes: %s", o.Remote, err)
	}
	return catalogdb.DeleteOrphan(m.db, o.FragID)
}

func (m *Manager) ready(fragID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.nextTry[fragID]
	if !ok {
		return true
	}
	return !m.clock.Now().Before(next)
}

func (m *Manager) recordFailure(fragID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backoffs[fragID]
	if !ok {
		b = backoff.NewExponentialBackOff()
		b.InitialInterval = m.config.InitialBackoff
		b.MaxInterval = m.config.MaxBackoff
		b.MaxElapsedTime = 0
		m.backoffs[fragID] = b
	}
	m.nextTry[fragID] = m.clock.Now().Add(b.NextBackOff())
}

func (m *Manager) forget(fragID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.backoffs, fragID)
	delete(m.nextTry, fragID)
}
