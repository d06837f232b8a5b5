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
package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cumulus-storage/cumulus/errkind"
)

type fixedHubSource []Hub

func (f fixedHubSource) ListHubs() ([]Hub, error) {
	return []Hub(f), nil
}

func TestSelectHubExcludesSource(t *testing.T) {
	hubs := fixedHubSource{{ID: "h1", AvailableBytes: 1 << 30}}
	p := New(hubs)

	_, err := p.SelectHub("h1", nil, nil, 100)
	assert.ErrorIs(t, err, errkind.ErrNoRemoteStorageLocationFound)
}

func TestSelectHubHonorsCapacity(t *testing.T) {
	hubs := fixedHubSource{
		{ID: "h2", AvailableBytes: 50},
		{ID: "h3", AvailableBytes: 1 << 30},
	}
	p := New(hubs)

	hub, err := p.SelectHub("h1", nil, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, "h3", hub.ID)
}

func TestSelectHubDisjointness(t *testing.T) {
	hubs := fixedHubSource{
		{ID: "h2", AvailableBytes: 1 << 30},
		{ID: "h3", AvailableBytes: 1 << 30},
	}
	p := New(hubs)

	hub, err := p.SelectHub("h1", []string{"h2"}, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, "h3", hub.ID)
}

func TestSelectHubRelaxesWhenDisjointSetExhausted(t *testing.T) {
	hubs := fixedHubSource{
		{ID: "h2", AvailableBytes: 1 << 30},
	}
	p := New(hubs)

	// h2 already placed; disjoint candidates are empty, but base_exclude
	// (just the source) still allows reusing h2.
	hub, err := p.SelectHub("h1", []string{"h2"}, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, "h2", hub.ID)
}

func TestSelectHubFailsWhenNoFragmentsYetAndExcludeEqualsBase(t *testing.T) {
	hubs := fixedHubSource{
		{ID: "h2", AvailableBytes: 10},
	}
	p := New(hubs)

	_, err := p.SelectHub("h1", nil, nil, 100)
	assert.ErrorIs(t, err, errkind.ErrNoRemoteStorageLocationFound)
}

func TestSelectHubHonorsExplicitExclusionEvenAfterRelaxation(t *testing.T) {
	hubs := fixedHubSource{
		{ID: "h2", AvailableBytes: 1 << 30},
	}
	p := New(hubs)

	_, err := p.SelectHub("h1", []string{"h2"}, []string{"h2"}, 100)
	assert.ErrorIs(t, err, errkind.ErrNoRemoteStorageLocationFound)
}

func TestSelectHubNoHubsAvailable(t *testing.T) {
	p := New(fixedHubSource{})
	_, err := p.SelectHub("h1", nil, nil, 100)
	assert.ErrorIs(t, err, errkind.ErrNoRemoteStorageLocationFound)
}
