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

// pcs is the page-cache sampler (spec.md §4.1): two pure functions over
// a FileMapping, polymorphic over a closed set of sampling sources
// chosen once at startup (spec.md §9, "Dynamic dispatch over cache
// sources" — a tagged dispatch, not a plugin interface).

package fca

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// CacheSource selects how page residency is sampled. The set is closed
// and chosen once per Attack at startup.
type CacheSource int

const (
	SourceMincore CacheSource = iota
	SourcePreadv2NoWait
	SourceAccessTiming
	SourceWindowsWorkingSetQuery
)

func (s CacheSource) String() string {
	switch s {
	case SourceMincore:
		return "mincore"
	case SourcePreadv2NoWait:
		return "preadv2_nowait"
	case SourceAccessTiming:
		return "access_timing"
	case SourceWindowsWorkingSetQuery:
		return "windows_working_set_query"
	default:
		return "unknown"
	}
}

// accessTimingThreshold is the latency above which a 1-byte read is
// classified as having come from disk rather than the page cache. It is
// a coarse heuristic source, meant as a last resort when mincore/preadv2
// are unavailable.
var accessTimingThreshold = 200 * time.Microsecond

// StatusRange returns a vector of one byte per page in
// [offsetPages, offsetPages+lengthPages), bit 0 set iff the page is
// currently resident in the OS page cache. A failed source call
// surfaces as an error; callers must tolerate staleness (the sample is
// necessarily a best-effort snapshot).
func StatusRange(m *FileMapping, offsetPages, lengthPages uint64, source CacheSource) ([]byte, error) {
	if offsetPages+lengthPages > m.SizePages() {
		return nil, fmt.Errorf("status range [%d,%d) exceeds mapping size %d pages", offsetPages, offsetPages+lengthPages, m.SizePages())
	}
	switch source {
	case SourceMincore:
		return statusRangeMincore(m, offsetPages, lengthPages)
	case SourcePreadv2NoWait:
		return statusRangePreadv2(m, offsetPages, lengthPages)
	case SourceAccessTiming:
		return statusRangeAccessTiming(m, offsetPages, lengthPages)
	case SourceWindowsWorkingSetQuery:
		return nil, fmt.Errorf("windows working set query sampling is not supported on this platform")
	default:
		return nil, fmt.Errorf("unknown cache source %d", source)
	}
}

// StatusPage is StatusRange specialized to a single page.
func StatusPage(m *FileMapping, offsetPages uint64, source CacheSource) (byte, error) {
	vec, err := StatusRange(m, offsetPages, 1, source)
	if err != nil {
		return 0, err
	}
	return vec[0], nil
}

func statusRangeMincore(m *FileMapping, offsetPages, lengthPages uint64) ([]byte, error) {
	start := offsetPages * constUPagesize
	end := start + lengthPages*constUPagesize
	vec := make([]byte, lengthPages)
	if err := unix.Mincore(m.Data()[start:end], vec); err != nil {
		return nil, fmt.Errorf("mincore: %w", err)
	}
	for i := range vec {
		vec[i] &= pageResidentBit
	}
	return vec, nil
}

// statusRangePreadv2 probes residency by issuing a non-blocking 1-byte
// read at each page: success means the page was already in cache,
// EAGAIN means the kernel would have had to block on I/O.
func statusRangePreadv2(m *FileMapping, offsetPages, lengthPages uint64) ([]byte, error) {
	f := m.File()
	if f == nil {
		return nil, fmt.Errorf("preadv2 sampling requires a file-backed mapping")
	}
	vec := make([]byte, lengthPages)
	buf := make([]byte, 1)
	fd := int(f.Fd())
	for i := uint64(0); i < lengthPages; i++ {
		off := int64((offsetPages + i) * constUPagesize)
		n, err := unix.Preadv2(fd, [][]byte{buf}, off, unix.RWF_NOWAIT)
		switch {
		case err == unix.EAGAIN:
			vec[i] = 0
		case err != nil:
			return nil, fmt.Errorf("preadv2 at page %d: %w", offsetPages+i, err)
		case n == 1:
			vec[i] = pageResidentBit
		default:
			return nil, fmt.Errorf("preadv2 at page %d: short read", offsetPages+i)
		}
	}
	return vec, nil
}

// statusRangeAccessTiming reads one byte per page and classifies
// residency by comparing the read latency against accessTimingThreshold.
// This is the least reliable source (noisy under load) and exists as a
// fallback for platforms without mincore/preadv2 semantics.
func statusRangeAccessTiming(m *FileMapping, offsetPages, lengthPages uint64) ([]byte, error) {
	f := m.File()
	if f == nil {
		return nil, fmt.Errorf("access-timing sampling requires a file-backed mapping")
	}
	vec := make([]byte, lengthPages)
	buf := make([]byte, 1)
	for i := uint64(0); i < lengthPages; i++ {
		off := int64((offsetPages + i) * constUPagesize)
		start := time.Now()
		n, err := f.ReadAt(buf, off)
		elapsed := time.Since(start)
		if err != nil || n != 1 {
			return nil, fmt.Errorf("access timing read at page %d: %w", offsetPages+i, err)
		}
		if elapsed < accessTimingThreshold {
			vec[i] = pageResidentBit
		}
	}
	return vec, nil
}
