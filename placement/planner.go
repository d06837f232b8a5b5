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

// Package placement selects a storage hub for a new fragment subject to
// disjointness, capacity, and source-exclusion rules (SPEC_FULL.md §4.5).
// Structurally grounded on lib/hashring.Ring (interface + HubSource
// collaborator + functional Option), but the selection rule itself is not
// rendezvous hashing: Cumulus fragments must be capacity- and
// disjointness-filtered, not digest-sharded, so the algorithm comes
// straight from the specification instead.
package placement

import (
	"math/rand"
	"sync"

	"github.com/cumulus-storage/cumulus/errkind"
)

// Hub is the planner's view of a candidate storage hub.
type Hub struct {
	ID             string
	AvailableBytes int64
}

// HubSource lists every hub known to the catalog. Implemented by
// catalogdb-backed adapters in production, and by a fixed slice in tests.
type HubSource interface {
	ListHubs() ([]Hub, error)
}

// Planner implements SelectHub per SPEC_FULL.md §4.5.
type Planner struct {
	hubs HubSource
	mu   sync.Mutex
	rand *rand.Rand
}

// Option configures a Planner.
type Option func(*Planner)

// WithRand overrides the planner's random source. Primarily for
// deterministic tests.
func WithRand(r *rand.Rand) Option {
	return func(p *Planner) { p.rand = r }
}

// New returns a Planner that selects among the hubs returned by hubs.
func New(hubs HubSource, opts ...Option) *Planner {
	p := &Planner{hubs: hubs, rand: rand.New(rand.NewSource(1))}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SelectHub implements the algorithm of spec §4.5:
//
//  1. base_exclude = {source} ∪ excluded
//  2. exclude = base_exclude ∪ placedRemotes (disjointness over fragments
//     already placed for this file)
//  3. candidates = hubs not in exclude with available_bytes > requiredBytes;
//     if non-empty, return one uniformly at random
//  4. if candidates empty and exclude == base_exclude, fail
//  5. otherwise relax to exclude := base_exclude and retry step 3; fail if
//     still empty
//
// SelectHub is safe for concurrent use; the mutex only serializes access to
// the planner's random source, not to the caller's own excluded set.
func (p *Planner) SelectHub(source string, placedRemotes []string, excluded []string, requiredBytes int64) (Hub, error) {
	hubs, err := p.hubs.ListHubs()
	if err != nil {
		return Hub{}, err
	}

	baseExclude := toSet(source, excluded)

	exclude := copySet(baseExclude)
	for _, r := range placedRemotes {
		exclude[r] = struct{}{}
	}

	if hub, ok := p.pickRandom(candidates(hubs, exclude, requiredBytes)); ok {
		return hub, nil
	}

	if setsEqual(exclude, baseExclude) {
		return Hub{}, errkind.ErrNoRemoteStorageLocationFound
	}

	if hub, ok := p.pickRandom(candidates(hubs, baseExclude, requiredBytes)); ok {
		return hub, nil
	}
	return Hub{}, errkind.ErrNoRemoteStorageLocationFound
}

func candidates(hubs []Hub, exclude map[string]struct{}, requiredBytes int64) []Hub {
	var out []Hub
	for _, h := range hubs {
		if _, excluded := exclude[h.ID]; excluded {
			continue
		}
		if h.AvailableBytes <= requiredBytes {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (p *Planner) pickRandom(hubs []Hub) (Hub, bool) {
	if len(hubs) == 0 {
		return Hub{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return hubs[p.rand.Intn(len(hubs))], true
}

func toSet(source string, excluded []string) map[string]struct{} {
	s := map[string]struct{}{source: {}}
	for _, e := range excluded {
		s[e] = struct{}{}
	}
	return s
}

func copySet(s map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func setsEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
