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

// Package cmd wires cumulus-broker's root command: the catalog-owning
// process that serves the client-facing /files API, runs the orphan
// deletion sweep, the repair engine, and the periodic verification
// sweeps. Modeled on tracker/cmd/root.go's cobra rootCmd + Execute()
// shape.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/spf13/cobra"
	"github.com/uber-go/tally"

	"github.com/cumulus-storage/cumulus/catalog"
	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/config"
	"github.com/cumulus-storage/cumulus/cumulusclient"
	"github.com/cumulus-storage/cumulus/hubclient"
	"github.com/cumulus-storage/cumulus/internal/log"
	"github.com/cumulus-storage/cumulus/internal/metrics"
	"github.com/cumulus-storage/cumulus/orphanstore"
	"github.com/cumulus-storage/cumulus/placement"
	"github.com/cumulus-storage/cumulus/repair"
	"github.com/cumulus-storage/cumulus/verify"
)

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configFile, "config", "", "", "configuration file path")
}

var rootCmd = &cobra.Command{
	Use:   "cumulus-broker",
	Short: "cumulus-broker owns the catalog and serves the client-facing files API.",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// staticResolver dials hubs by the address topology the broker's config
// declares (catalogdb's hub table carries no network address — see
// DESIGN.md).
type staticResolver map[string]string

func (r staticResolver) Addr(hubID string) (string, error) {
	addr, ok := r[hubID]
	if !ok {
		return "", fmt.Errorf("no configured address for hub %s", hubID)
	}
	return addr, nil
}

// syncHubs creates a catalog hub row for every configured hub that has
// none yet, so placement/lookups see every hub the broker can dial.
// Existing rows are left as they are; their reference and capacity are
// not updated from the config.
func syncHubs(store *catalog.Store, hubs []config.HubEntry) error {
	for _, h := range hubs {
		_, err := store.GetHub(h.ID)
		if errors.Is(err, catalogdb.ErrHubNotFound) {
			if err := store.CreateHub(catalog.Hub{
				ID:             h.ID,
				Reference:      h.Reference,
				AvailableBytes: h.AvailableBytes,
			}); err != nil {
				return fmt.Errorf("create hub %s: %s", h.ID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("get hub %s: %s", h.ID, err)
		}
	}
	return nil
}

func run() {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Errorf("load config: %s", err)
		os.Exit(1)
	}
	if err := config.Configure(cfg); err != nil {
		log.Errorf("configure logging: %s", err)
		os.Exit(1)
	}

	stats, closer, err := metrics.New(cfg.Metrics, "broker")
	if err != nil {
		log.Errorf("init metrics: %s", err)
		os.Exit(1)
	}
	defer closer.Close()

	db, err := catalogdb.New(cfg.Catalog)
	if err != nil {
		log.Errorf("open catalog: %s", err)
		os.Exit(1)
	}

	resolver := make(staticResolver, len(cfg.Hubs))
	for _, h := range cfg.Hubs {
		resolver[h.ID] = h.Addr
	}
	dial := func(addr string) hubclient.Client { return hubclient.New(addr) }

	planner := placement.New(catalog.NewHubSource(db))
	orphans := orphanstore.NewManager(cfg.Orphanstore, db, resolver, dial, clock.New(), stats)
	defer orphans.Close()

	store := catalog.NewStore(db, cfg.CacheDir, resolver, dial, planner, orphans)

	if err := syncHubs(store, cfg.Hubs); err != nil {
		log.Errorf("sync hub topology: %s", err)
		os.Exit(1)
	}

	repairEngine := repair.New(cfg.Repair, store, clock.New(), stats)
	go repairEngine.Run()
	defer repairEngine.Stop()

	go runVerifyLoop(store, cfg.Verify, stats)

	srv := cumulusclient.New(store)
	httpSrv := &http.Server{Addr: cfg.Broker.Addr, Handler: srv.Handler()}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		log.Info("cumulus-broker: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	log.Infof("cumulus-broker: listening on %s", cfg.Broker.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("cumulus-broker: serve: %s", err)
		os.Exit(1)
	}
}

// runVerifyLoop schedules the "random/hash" and "all/full" sweeps on
// separate cadences, the Go rendering of the original's two distinct
// celery-beat schedules for v_random and v_all (original_source/app/
// tasks/verify/__init__.py): random+hash runs frequently and cheaply,
// full+all runs rarely since it reads every fragment's entire content.
// Unlike repair.Engine, verify.Sweeper has no built-in ticker loop (its
// Run is a single deterministic sweep), so the two cadences are
// scheduled here rather than inside the package.
func runVerifyLoop(store verify.Store, cfg verify.Config, stats tally.Scope) {
	randomHash := verify.New(verify.Config{Scope: verify.Random, Mode: verify.Hash, Fraction: cfg.Fraction}, store, stats)
	fullAll := verify.New(verify.Config{Scope: verify.All, Mode: verify.Full}, store, stats)

	randomTicker := time.NewTicker(5 * time.Minute)
	defer randomTicker.Stop()
	fullTicker := time.NewTicker(24 * time.Hour)
	defer fullTicker.Stop()

	for {
		select {
		case <-randomTicker.C:
			if _, err := randomHash.Run(); err != nil {
				log.Errorf("verify: random/hash sweep: %s", err)
			}
		case <-fullTicker.C:
			if _, err := fullAll.Run(); err != nil {
				log.Errorf("verify: all/full sweep: %s", err)
			}
		}
	}
}
