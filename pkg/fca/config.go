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

// config holds the two-level configuration plumbing shared by every
// subsystem (an outer YAML document carrying one JSON sub-document per
// subsystem, loaded by the demo binaries' -c option through
// LoadAttackConfig) and the legacy target-configuration-file parser
// (spec.md §6).

package fca

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SubConfig is one named subsystem's configuration, carried as an
// embedded JSON document so each subsystem can keep using its own
// SetConfigJson/GetConfigJson pair untouched by the outer YAML layer.
type SubConfig struct {
	Config string `yaml:"config"`
}

// YAMLConfig is the on-disk shape of an Attack's top-level
// configuration file.
type YAMLConfig struct {
	Source             string    `yaml:"source"`
	EvictionSet        SubConfig `yaml:"evictionSet"`
	BlockingSet        SubConfig `yaml:"blockingSet"`
	WorkingSet         SubConfig `yaml:"workingSet"`
	SuppressSet        SubConfig `yaml:"suppressSet"`
	CheckIntervalPages uint64    `yaml:"checkIntervalPages"`
	MaxDurationMs      uint64    `yaml:"maxDurationMs"`
}

// ParseCacheSource maps the YAML source name onto a CacheSource. Unknown
// or empty names default to mincore, the only source with no
// false-negative surprises on Linux.
func ParseCacheSource(name string) CacheSource {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "preadv2_nowait", "preadv2":
		return SourcePreadv2NoWait
	case "access_timing":
		return SourceAccessTiming
	case "windows_working_set_query":
		return SourceWindowsWorkingSetQuery
	default:
		return SourceMincore
	}
}

// LoadAttackConfig reads and parses an Attack's YAML configuration
// file, unmarshaling each subsystem's embedded JSON document into its
// typed config struct.
func LoadAttackConfig(path string) (AttackConfig, error) {
	var config AttackConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config %q: %w", path, err)
	}
	var y YAMLConfig
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return config, fmt.Errorf("parsing config %q: %w", path, err)
	}

	config.Source = ParseCacheSource(y.Source)
	config.CheckIntervalPages = y.CheckIntervalPages
	if y.MaxDurationMs > 0 {
		config.MaxDuration = time.Duration(y.MaxDurationMs) * time.Millisecond
	}

	if y.EvictionSet.Config != "" {
		if err := json.Unmarshal([]byte(y.EvictionSet.Config), &config.EvictionSet); err != nil {
			return config, fmt.Errorf("parsing evictionSet config: %w", err)
		}
	}
	if y.BlockingSet.Config != "" {
		if err := json.Unmarshal([]byte(y.BlockingSet.Config), &config.BlockingSet); err != nil {
			return config, fmt.Errorf("parsing blockingSet config: %w", err)
		}
	}
	if y.WorkingSet.Config != "" {
		if err := json.Unmarshal([]byte(y.WorkingSet.Config), &config.WorkingSet); err != nil {
			return config, fmt.Errorf("parsing workingSet config: %w", err)
		}
	}
	if y.SuppressSet.Config != "" {
		if err := json.Unmarshal([]byte(y.SuppressSet.Config), &config.SuppressSet); err != nil {
			return config, fmt.Errorf("parsing suppressSet config: %w", err)
		}
	}
	return config, nil
}

// ParseTargetConfigFile reads the legacy target configuration file
// format: a path line, one or more "<offset_hex> <no_eviction>" lines,
// a blank line, repeated for as many targets as the file holds.
// Parsing is all-or-nothing: a malformed line causes the whole file to
// be rejected rather than partially registered.
func ParseTargetConfigFile(path string) ([]*TargetFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseTargetConfig(f)
}

func parseTargetConfig(r io.Reader) ([]*TargetFile, error) {
	scanner := bufio.NewScanner(r)
	var targets []*TargetFile
	var current *TargetFile
	lineNo := 0

	flush := func() error {
		if current == nil {
			return nil
		}
		if len(current.Pages) == 0 {
			return fmt.Errorf("target config line %d: target %q has no pages", lineNo, current.Path)
		}
		targets = append(targets, current)
		current = nil
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}

		if current == nil {
			current = &TargetFile{Path: trimmed, Kind: TargetKindPages}
			continue
		}

		fields := strings.Fields(trimmed)
		if len(fields) != 2 {
			return nil, fmt.Errorf("target config line %d: expected \"<offset_hex> <no_eviction>\", got %q", lineNo, line)
		}
		offset, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil {
			return nil, fmt.Errorf("target config line %d: invalid hex offset %q: %w", lineNo, fields[0], err)
		}
		noEviction, err := strconv.ParseBool(fields[1])
		if err != nil {
			return nil, fmt.Errorf("target config line %d: invalid no_eviction flag %q: %w", lineNo, fields[1], err)
		}
		current.Pages = append(current.Pages, TargetPage{Offset: offset, NoEviction: noEviction})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	// A target is only committed by flush() on its closing blank line;
	// anything still open here was never terminated, which the format
	// requires (spec.md §6: "terminated by an empty line ... EOF after
	// the last blank line is valid", implying EOF anywhere else is not).
	if current != nil {
		return nil, fmt.Errorf("target config: unterminated target %q at EOF", current.Path)
	}
	return targets, nil
}

// AddTargetsFromFile parses path and registers every target it
// describes. Parsing happens entirely before any registration, so a
// malformed file leaves the registry unchanged (spec.md §8, scenario
// 3).
func AddTargetsFromFile(registry *TargetRegistry, path string) error {
	targets, err := ParseTargetConfigFile(path)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if _, err := t.Mapping(); err != nil {
			return fmt.Errorf("target config: %w", err)
		}
	}
	for _, t := range targets {
		if m, err := t.Mapping(); err == nil {
			if err := m.Advise(0, m.SizePages(), AdviceRandom); err != nil {
				log.Debugf("target config: advise RANDOM on %q: %v\n", t.Path, err)
			}
		}
		registry.Register(t)
	}
	return nil
}
