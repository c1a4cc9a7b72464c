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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskReadaheadWindowsClearsTargetWindow(t *testing.T) {
	vec := make([]byte, 20)
	for i := range vec {
		vec[i] = pageResidentBit
	}
	tf := &TargetFile{Kind: TargetKindPages, Pages: []TargetPage{{Offset: 10}}}

	maskReadaheadWindows(vec, tf)

	behindStart, aheadEnd := windowAround(10, defaultReadaheadWindowPages, uint64(len(vec)))
	for i := uint64(0); i < uint64(len(vec)); i++ {
		if i >= behindStart && i < aheadEnd {
			assert.Zerof(t, vec[i], "page %d inside the window should be masked", i)
		} else {
			assert.Equalf(t, pageResidentBit, vec[i], "page %d outside the window should be untouched", i)
		}
	}
}

func TestMaskReadaheadWindowsSequenceTarget(t *testing.T) {
	vec := make([]byte, 30)
	for i := range vec {
		vec[i] = pageResidentBit
	}
	tf := &TargetFile{Kind: TargetKindPageSequence, Sequence: PageSequence{StartPage: 20, Length: 2}}

	maskReadaheadWindows(vec, tf)

	assert.NotZero(t, ResidentCount(vec), "pages far from the target should stay resident")
	_, aheadEnd := windowAround(20, defaultReadaheadWindowPages, uint64(len(vec)))
	for i := uint64(20); i < aheadEnd; i++ {
		assert.Zero(t, vec[i])
	}
}

func TestWorkingSetBuildSkipSetSkipsESFileAndWholeFileTargets(t *testing.T) {
	dir := t.TempDir()
	esPath := filepath.Join(dir, "es.bin")
	wholeFilePath := filepath.Join(dir, "whole.bin")
	require.NoError(t, CreateDenseFile(esPath, 4096))
	require.NoError(t, CreateDenseFile(wholeFilePath, 4096))

	es, err := NewEvictionSet()
	require.NoError(t, err)
	require.NoError(t, es.SetConfigJson(`{"FilePath":"`+esPath+`","SizeBytes":4096}`))
	require.NoError(t, es.Open())
	defer es.Close()

	registry := NewTargetRegistry()
	registry.Register(&TargetFile{Path: wholeFilePath, Kind: TargetKindFile})
	registry.Register(&TargetFile{Path: "/tmp/page-target", Kind: TargetKindPages, Pages: []TargetPage{{Offset: 0}}})

	ws, err := NewWorkingSet(registry, es)
	require.NoError(t, err)

	skip := ws.buildSkipSet()
	assert.True(t, skip[esPath])
	assert.True(t, skip[wholeFilePath])
	assert.False(t, skip["/tmp/page-target"])
}

func TestWorkingSetActivateNowNilSafe(t *testing.T) {
	var ws *WorkingSet
	assert.NotPanics(t, func() { ws.ActivateNow() })
}
