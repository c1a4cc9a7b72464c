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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargetConfigValid(t *testing.T) {
	const doc = "" +
		"/var/lib/data/a\n" +
		"10 false\n" +
		"2a true\n" +
		"\n" +
		"/var/lib/data/b\n" +
		"0 false\n" +
		"\n"

	targets, err := parseTargetConfig(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, targets, 2)

	assert.Equal(t, "/var/lib/data/a", targets[0].Path)
	assert.Equal(t, TargetKindPages, targets[0].Kind)
	assert.Equal(t, []TargetPage{
		{Offset: 0x10, NoEviction: false},
		{Offset: 0x2a, NoEviction: true},
	}, targets[0].Pages)

	assert.Equal(t, "/var/lib/data/b", targets[1].Path)
	assert.Equal(t, []TargetPage{{Offset: 0, NoEviction: false}}, targets[1].Pages)
}

func TestParseTargetConfigNoTrailingBlankLine(t *testing.T) {
	// The format requires every target to be closed by a blank line;
	// a file whose last group never sees one is unterminated at EOF,
	// the same failure as TestParseTargetConfigUnterminatedAtEOF.
	const doc = "/var/lib/data/a\n10 false\n"
	_, err := parseTargetConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated target")
}

func TestParseTargetConfigMalformedLine(t *testing.T) {
	const doc = "/var/lib/data/a\ndeadbeef\n\n"
	_, err := parseTargetConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseTargetConfigInvalidHex(t *testing.T) {
	const doc = "/var/lib/data/a\nzz false\n\n"
	_, err := parseTargetConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hex offset")
}

func TestParseTargetConfigInvalidBool(t *testing.T) {
	const doc = "/var/lib/data/a\n10 maybe\n\n"
	_, err := parseTargetConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid no_eviction flag")
}

func TestParseTargetConfigEmptyTargetRejected(t *testing.T) {
	const doc = "/var/lib/data/a\n\n"
	_, err := parseTargetConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no pages")
}

func TestParseTargetConfigUnterminatedAtEOF(t *testing.T) {
	const doc = "/var/lib/data/a\n10 false\n\n/var/lib/data/b\n10 false"
	_, err := parseTargetConfig(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated target")
}

func TestParseCacheSource(t *testing.T) {
	assert.Equal(t, SourceMincore, ParseCacheSource(""))
	assert.Equal(t, SourceMincore, ParseCacheSource("bogus"))
	assert.Equal(t, SourcePreadv2NoWait, ParseCacheSource("preadv2_nowait"))
	assert.Equal(t, SourcePreadv2NoWait, ParseCacheSource("PREADV2"))
	assert.Equal(t, SourceAccessTiming, ParseCacheSource("access_timing"))
	assert.Equal(t, SourceWindowsWorkingSetQuery, ParseCacheSource("windows_working_set_query"))
}

func TestLoadAttackConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "attack.yaml")
	const doc = `
source: access_timing
checkIntervalPages: 128
maxDurationMs: 5000
evictionSet:
  config: '{"WorkerCount":8,"StepPages":64}'
suppressSet:
  config: '{"ReadaheadWindowPages":32}'
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	config, err := LoadAttackConfig(path)
	require.NoError(t, err)

	assert.Equal(t, SourceAccessTiming, config.Source)
	assert.Equal(t, uint64(128), config.CheckIntervalPages)
	assert.Equal(t, 5*time.Second, config.MaxDuration)
	assert.Equal(t, 8, config.EvictionSet.WorkerCount)
	assert.Equal(t, uint64(64), config.EvictionSet.StepPages)
	assert.Equal(t, uint64(32), config.SuppressSet.ReadaheadWindowPages)
	assert.Equal(t, BlockingSetConfig{}, config.BlockingSet)
}

func TestLoadAttackConfigMissingFile(t *testing.T) {
	_, err := LoadAttackConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAddTargetsFromFileRejectsMalformedWithoutRegistering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.conf")
	require.NoError(t, os.WriteFile(path, []byte("/var/lib/data/a\ndeadbeef\n\n"), 0o644))

	registry := NewTargetRegistry()
	err := AddTargetsFromFile(registry, path)
	require.Error(t, err)
	assert.Equal(t, 0, registry.Len())
}
