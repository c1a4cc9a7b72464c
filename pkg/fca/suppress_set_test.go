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

func TestWindowAroundClampsAtBounds(t *testing.T) {
	behindStart, aheadEnd := windowAround(0, 8, 100)
	assert.Equal(t, uint64(0), behindStart)
	assert.Equal(t, uint64(5), aheadEnd)

	behindStart, aheadEnd = windowAround(99, 8, 100)
	assert.Equal(t, uint64(96), behindStart)
	assert.Equal(t, uint64(100), aheadEnd)
}

func TestSuppressTargetSkipsWholeFileTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whole.bin")
	require.NoError(t, CreateDenseFile(path, 4096))

	registry := NewTargetRegistry()
	ss, err := NewSuppressSet(registry)
	require.NoError(t, err)

	tf := &TargetFile{Path: path, Kind: TargetKindFile}
	registry.Register(tf)

	// Should return without opening/advising over the whole file; the
	// target's mapping stays unopened since suppressTarget bails out
	// before calling t.Mapping() for TargetKindFile.
	ss.suppressTarget(tf, 8)
	assert.Nil(t, tf.mapping)

	ss.mutex.Lock()
	warned := ss.warnedFileTargets[path]
	ss.mutex.Unlock()
	assert.True(t, warned, "first skip should record the warning so it is not repeated")
}

func TestSuppressTargetTouchesWindowForPageTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	require.NoError(t, CreateDenseFile(path, 64*4096))

	registry := NewTargetRegistry()
	ss, err := NewSuppressSet(registry)
	require.NoError(t, err)

	tf := &TargetFile{Path: path, Kind: TargetKindPages, Pages: []TargetPage{{Offset: 30}}}
	registry.Register(tf)

	assert.NotPanics(t, func() { ss.suppressTarget(tf, 8) })
	assert.NotNil(t, tf.mapping, "a page target should open its mapping to advise/touch it")
}

func TestSuppressNowNilSafe(t *testing.T) {
	var ss *SuppressSet
	assert.NotPanics(t, func() { ss.SuppressNow() })
}
