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

// Package metrics builds the root uber-go/tally scope every long-running
// process reports through, picking a backend by name the way the teacher's
// own metrics package registers scope factories. Only the "statsd" and
// "disabled" backends are carried over; the teacher's "m3" backend depends
// on an internal-only client never retrieved into this module's reach.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	"github.com/uber-go/tally"
	tallystatsd "github.com/uber-go/tally/statsd"
)

const (
	flushInterval = 100 * time.Millisecond
	flushBytes    = 512
	sampleRate    = 1.0
)

// Config selects and configures a metrics backend.
type Config struct {
	Backend string       `yaml:"backend" mapstructure:"backend"`
	Statsd  StatsdConfig `yaml:"statsd" mapstructure:"statsd"`
}

// StatsdConfig configures the statsd backend.
type StatsdConfig struct {
	HostPort string `yaml:"host_port" mapstructure:"host_port"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

type scopeFactory func(config Config, tags map[string]string) (tally.Scope, io.Closer, error)

var scopeFactories = map[string]scopeFactory{
	"statsd":   newStatsdScope,
	"disabled": newDisabledScope,
}

// New builds a root metrics scope tagged with module (e.g. "hub" or
// "broker"). An empty or unrecognized backend disables reporting rather
// than failing startup.
func New(config Config, module string) (tally.Scope, io.Closer, error) {
	f, ok := scopeFactories[config.Backend]
	if !ok {
		f = newDisabledScope
	}
	return f(config, map[string]string{"module": module})
}

func newStatsdScope(config Config, tags map[string]string) (tally.Scope, io.Closer, error) {
	statter, err := statsd.NewBufferedClient(
		config.Statsd.HostPort, config.Statsd.Prefix, flushInterval, flushBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("new statsd client: %s", err)
	}
	r := tallystatsd.NewReporter(statter, tallystatsd.Options{SampleRate: sampleRate})
	s, c := tally.NewRootScope(tally.ScopeOptions{Tags: tags, Reporter: r}, time.Second)
	return s, c, nil
}

func newDisabledScope(_ Config, tags map[string]string) (tally.Scope, io.Closer, error) {
	s, c := tally.NewRootScope(tally.ScopeOptions{Tags: tags, Reporter: disabledReporter{}}, time.Second)
	return s, c, nil
}

type disabledReporter struct{}

func (disabledReporter) ReportCounter(string, map[string]string, int64)       {}
func (disabledReporter) ReportGauge(string, map[string]string, float64)       {}
func (disabledReporter) ReportTimer(string, map[string]string, time.Duration) {}
func (disabledReporter) ReportHistogramValueSamples(
	string, map[string]string, tally.Buckets, float64, float64, int64) {
}
func (disabledReporter) ReportHistogramDurationSamples(
	string, map[string]string, tally.Buckets, time.Duration, time.Duration, int64) {
}
func (r disabledReporter) Capabilities() tally.Capabilities { return r }
func (disabledReporter) Reporting() bool                    { return true }
func (disabledReporter) Tagging() bool                      { return false }
func (disabledReporter) Flush()                             {}
