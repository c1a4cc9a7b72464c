// Copyright 2021 Intel Corporation. All Rights Reserved.
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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Stats accumulates counters for the running attack: eviction sweeps,
// blocking-set churn and working-set/suppress-set scan activity.
type Stats struct {
	mutex        sync.Mutex
	evictions       uint64
	evictedBytes    uint64
	evictFailed     uint64
	evictUnreachable uint64
	bsKills         uint64
	bsSpawns        uint64
	scans           map[string]*StatsScan
}

// StatsEviction is stored once per completed ES.Evict call.
type StatsEviction struct {
	BytesAccessed int64
	Failed        bool
	NoProgress    bool
	Unreachable   bool
}

// StatsScan is stored once per WS/SS profiling pass over a named set of
// search paths.
type StatsScan struct {
	Count          uint64
	SumFilesWalked uint64
	SumResident    uint64
	SumNonResident uint64
}

// ScanReport is reported by WS/SS each time they complete a profiling
// pass over their search paths / target files.
type ScanReport struct {
	Name        string
	FilesWalked uint64
	Resident    uint64
	NonResident uint64
}

var stats *Stats = newStats()

func newStats() *Stats {
	return &Stats{
		scans: make(map[string]*StatsScan),
	}
}

func GetStats() *Stats { return stats }

func (s *Stats) Store(entry interface{}) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	switch v := entry.(type) {
	case StatsEviction:
		s.evictions++
		if v.Failed {
			s.evictFailed++
		}
		if v.Unreachable {
			s.evictUnreachable++
		}
		if v.BytesAccessed > 0 {
			s.evictedBytes += uint64(v.BytesAccessed)
		}
	case *ScanReport:
		sc, ok := s.scans[v.Name]
		if !ok {
			sc = &StatsScan{}
			s.scans[v.Name] = sc
		}
		sc.Count++
		sc.SumFilesWalked += v.FilesWalked
		sc.SumResident += v.Resident
		sc.SumNonResident += v.NonResident
	}
}

func (s *Stats) RecordBSKill()  { s.mutex.Lock(); s.bsKills++; s.mutex.Unlock() }
func (s *Stats) RecordBSSpawn() { s.mutex.Lock(); s.bsSpawns++; s.mutex.Unlock() }

func (s *Stats) Summarize() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	lines := []string{
		fmt.Sprintf("eviction sweeps: %d (%d MB accessed, %d failed, %d unreachable)",
			s.evictions, s.evictedBytes/(1024*1024), s.evictFailed, s.evictUnreachable),
		fmt.Sprintf("blocking set: %d children spawned, %d killed", s.bsSpawns, s.bsKills),
	}
	names := make([]string, 0, len(s.scans))
	for name := range s.scans {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sc := s.scans[name]
		lines = append(lines, fmt.Sprintf("scan %q: %d passes, %d files, %d resident, %d non-resident",
			name, sc.Count, sc.SumFilesWalked, sc.SumResident, sc.SumNonResident))
	}
	return strings.Join(lines, "\n")
}
