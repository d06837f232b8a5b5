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

// Package config aggregates every component's Config into the single
// document cmd/cumulus-hub and cmd/cumulus-broker load at startup,
// following origin/config's "one YAML-backed struct per process" idiom
// while loading it with spf13/viper instead of the teacher's internal
// xconfig package (never retrieved into this module's reach — see
// DESIGN.md).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cumulus-storage/cumulus/catalogdb"
	"github.com/cumulus-storage/cumulus/hubserver"
	"github.com/cumulus-storage/cumulus/internal/log"
	"github.com/cumulus-storage/cumulus/internal/metrics"
	"github.com/cumulus-storage/cumulus/orphanstore"
	"github.com/cumulus-storage/cumulus/repair"
	"github.com/cumulus-storage/cumulus/verify"
)

// Logging configures the package-level logger every process installs at
// startup via Configure.
type Logging struct {
	Development bool `yaml:"development" mapstructure:"development"`
}

// HubEntry describes one statically-configured hub the broker can dial.
// The catalog's hub table (grounded on original_source's Hub model) never
// carries a network address, only a reference and a capacity — matching
// the original schema exactly — so the broker's topology is supplied here
// instead, the same way lib/upstream's host lists are static config
// entries rather than catalog data.
type HubEntry struct {
	ID             string `yaml:"id" mapstructure:"id"`
	Reference      string `yaml:"reference" mapstructure:"reference"`
	Addr           string `yaml:"addr" mapstructure:"addr"`
	AvailableBytes int64  `yaml:"available_bytes" mapstructure:"available_bytes"`
}

// BrokerAddr is the broker's own client-facing HTTP listen address.
type BrokerAddr struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Config is the full configuration document for either the hub process or
// the broker process; each only reads the sections it needs. mapstructure
// tags mirror the yaml ones so viper.Unmarshal (which decodes through
// mapstructure, not encoding/yaml) maps the same snake_case keys a
// hand-edited YAML file would use.
type Config struct {
	Logging Logging        `yaml:"logging" mapstructure:"logging"`
	Metrics metrics.Config `yaml:"metrics" mapstructure:"metrics"`

	// CacheDir is where catalog.Store stages fragment/file reconstruction
	// buffers (objectcache's strategy-driven sessions).
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`

	Catalog     catalogdb.Config   `yaml:"catalog" mapstructure:"catalog"`
	Hub         hubserver.Config   `yaml:"hub" mapstructure:"hub"`
	Orphanstore orphanstore.Config `yaml:"orphanstore" mapstructure:"orphanstore"`
	Repair      repair.Config      `yaml:"repair" mapstructure:"repair"`
	Verify      verify.Config      `yaml:"verify" mapstructure:"verify"`

	// Broker is only read by cmd/cumulus-broker.
	Broker BrokerAddr `yaml:"broker" mapstructure:"broker"`
	// Hubs is only read by cmd/cumulus-broker: the static topology of data
	// hubs it dials and keeps the catalog's hub table in sync with.
	Hubs []HubEntry `yaml:"hubs" mapstructure:"hubs"`
}

func (c Config) applyDefaults() Config {
	if c.CacheDir == "" {
		c.CacheDir = "cache/objects"
	}
	if c.Broker.Addr == "" {
		c.Broker.Addr = ":4290"
	}
	if c.Repair.Interval == 0 {
		c.Repair.Interval = 30 * time.Minute
	}
	if c.Verify.Fraction == 0 {
		c.Verify.Fraction = 0.01
	}
	return c
}

// Load reads a YAML configuration file from path, with CUMULUS_-prefixed
// environment variables (e.g. CUMULUS_HUB_ADDR for hub.addr) overriding any
// value present in the file. viper.Unmarshal only applies environment
// variables to keys it already knows from the file, so a key absent from
// the file is not read from the environment; an empty path yields the
// defaults alone, with no environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("cumulus")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %s", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %s", err)
	}
	return cfg.applyDefaults(), nil
}

// Configure installs the package-level logger this config's Logging
// section describes. Call once at process startup before any component
// logs.
func Configure(cfg Config) error {
	var l *zap.Logger
	var err error
	if cfg.Logging.Development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return fmt.Errorf("build logger: %s", err)
	}
	log.SetGlobalLogger(l.Sugar())
	return nil
}
