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

// Package cmd wires cumulus-hub's root command, the hub process that
// stores fragment blobs and answers hubclient.Client's PUT/GET/DELETE/
// hash/stats requests. Modeled on tracker/cmd/root.go's cobra rootCmd +
// Execute() shape.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cumulus-storage/cumulus/config"
	"github.com/cumulus-storage/cumulus/hubserver"
	"github.com/cumulus-storage/cumulus/internal/log"
	"github.com/cumulus-storage/cumulus/internal/metrics"
)

var configFile string

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configFile, "config", "", "", "configuration file path")
}

var rootCmd = &cobra.Command{
	Use:   "cumulus-hub",
	Short: "cumulus-hub stores fragment blobs for a Cumulus cluster.",
	Run: func(cmd *cobra.Command, args []string) {
		run()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
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

	stats, closer, err := metrics.New(cfg.Metrics, "hub")
	if err != nil {
		log.Errorf("init metrics: %s", err)
		os.Exit(1)
	}
	defer closer.Close()

	srv, err := hubserver.New(cfg.Hub, stats)
	if err != nil {
		log.Errorf("init hub server: %s", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		log.Info("cumulus-hub: shutting down")
		cancel()
	}()

	log.Infof("cumulus-hub: listening on %s, storing blobs in %s", cfg.Hub.Addr, cfg.Hub.StorageDir)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Errorf("cumulus-hub: serve: %s", err)
		os.Exit(1)
	}
}
