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

/*

	Package fca implements the File-Cache Attack engine: a concurrent
	machine that observes and manipulates the operating system's page
	cache to create a measurable side/covert channel on shared,
	memory-mapped files.

	Component types

	1. The page-cache sampler (pcs.go) reports, for a range of pages of
	a mapped file, which pages are currently resident in the OS page
	cache.

	2. The page-sequence profiler (psp.go) turns a residency vector
	into a list of maximal resident runs above a configurable length.

	3. The eviction set (eviction_set.go) owns a memory region sized to
	total system RAM and a worker pool that walks it to apply enough
	memory pressure to push target pages out of the cache, driven by a
	caller-supplied stop condition.

	4. The blocking set (blocking_set.go) keeps MemAvailable inside a
	configured band by forking and killing child processes that each
	hold a fixed, dirtied anonymous memory block.

	5. The working set (working_set.go) walks a configured list of
	search paths, finds resident page sequences in ordinary files, and
	keeps them warm against the kernel's reclaimer with a double
	buffered scan-and-activate cycle.

	6. The suppress set (suppress_set.go) keeps the pages surrounding
	every target page warm, so that the kernel's readahead heuristic
	does not spontaneously refill a target page that eviction just
	cleared.

	Atop these, target.go holds the target registry (TargetFile,
	TargetPage, PageSequence) and attack.go assembles the five sets
	into an Attack, exposing the three public sampling entry points:
	sample-and-evict over target pages, over whole target files, and
	over one target page sequence.

	Supporting modules

	1. filemap.go is the file-mapping abstraction: map/unmap,
	page-granularity advisories, and per-page touch/read helpers.
	2. osal_linux.go is the OS-abstraction layer: kill a process,
	resolve an absolute path, yield, sleep microseconds, fetch a unix
	timestamp, random bytes, and the system page size.
	3. proc.go reads /proc/meminfo for the blocking set.
	4. config.go holds the JSON/YAML configuration plumbing shared by
	every subsystem and the legacy target-configuration-file loader.
*/

package fca
