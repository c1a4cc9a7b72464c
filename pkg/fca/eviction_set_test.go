// Copyright 2024 Intel Corporation. All Rights Reserved.
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

package fca

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvictionSet(t *testing.T, configJson string) *EvictionSet {
	t.Helper()
	es, err := NewEvictionSet()
	require.NoError(t, err)
	require.NoError(t, es.SetConfigJson(configJson))
	require.NoError(t, es.Open())
	t.Cleanup(func() { es.Close() })
	return es
}

func TestEvictReturnsUnreachableWhenStopNeverTriggers(t *testing.T) {
	es := newTestEvictionSet(t, `{"SizeBytes":65536,"WorkerCount":2,"WorkerPoolEnabled":true,"StepPages":2,"PrefetchBytes":0,"WSAccessAllBytes":0,"SSAccessAllBytes":0}`)

	err := es.Evict(func() bool { return false }, nil, nil)
	assert.ErrorIs(t, err, ErrEvictionUnreachable)
	assert.False(t, es.IsRunning())
}

func TestEvictStopsAsSoonAsStopFnTrue(t *testing.T) {
	es := newTestEvictionSet(t, `{"SizeBytes":65536,"WorkerCount":1,"WorkerPoolEnabled":false,"StepPages":2}`)

	var calls int
	err := es.Evict(func() bool { calls++; return calls > 1 }, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, calls, 1)
}

func TestEvictSingleWorkerWhenPoolDisabled(t *testing.T) {
	es := newTestEvictionSet(t, `{"SizeBytes":65536,"WorkerCount":8,"WorkerPoolEnabled":false,"StepPages":2}`)

	err := es.Evict(func() bool { return true }, nil, nil)
	require.NoError(t, err)
}

func TestEvictWithWorkingAndSuppressSetDoesNotPanic(t *testing.T) {
	es := newTestEvictionSet(t, `{"SizeBytes":65536,"WorkerCount":1,"WorkerPoolEnabled":false,"StepPages":1,"WSAccessAllBytes":4096,"SSAccessAllBytes":4096,"PrefetchBytes":4096}`)

	registry := NewTargetRegistry()
	ws, err := NewWorkingSet(registry, es)
	require.NoError(t, err)
	ss, err := NewSuppressSet(registry)
	require.NoError(t, err)

	// Neither call should panic even though neither WS nor SS is
	// running a background loop; ActivateNow/SuppressNow must be safe
	// to call synchronously from the eviction worker.
	var calls int
	assert.NotPanics(t, func() {
		es.Evict(func() bool { calls++; return calls > 4 }, ws, ss)
	})
}
