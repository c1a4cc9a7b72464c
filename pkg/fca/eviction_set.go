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

// eviction_set is the eviction set (spec.md §4.3): a memory region sized
// to push target pages out of the OS page cache, and a worker pool that
// repeatedly walks it until a caller-supplied stop condition is met.

package fca

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// AccessMode selects how an eviction worker touches each ES page: by
// dereferencing the mmap (faulting it in directly) or by a double
// pread(2) through the file descriptor (the "file API" mode, which
// exercises a different kernel code path and, per the original's
// comment, is done twice per page to exercise OS heuristics).
type AccessMode int

const (
	AccessModeMmap AccessMode = iota
	AccessModePread
)

// EvictionSetConfig configures the eviction set's size, concurrency and
// inner-loop behavior.
type EvictionSetConfig struct {
	// FilePath, if non-empty, backs the eviction region with a dense
	// file instead of anonymous memory (spec.md §4.3's file-backed
	// variant, needed on systems that reclaim anonymous and file pages
	// from separate LRU lists).
	FilePath string
	// SizeBytes is the total size of the eviction region. Zero means
	// "use all currently available memory" (queried at Start time).
	SizeBytes uint64
	// WorkerCount is the number of goroutines that walk the region
	// concurrently, each owning a disjoint page-index stripe. Ignored
	// when WorkerPoolEnabled is false.
	WorkerCount int
	// WorkerPoolEnabled toggles the worker pool off: when false, Evict
	// walks the whole region as a single stripe in the calling
	// goroutine instead of fanning out WorkerCount goroutines.
	WorkerPoolEnabled bool
	// StepPages is how many pages a worker touches between stop-flag
	// checks.
	StepPages uint64
	// AccessMode selects how each ES page is touched.
	AccessMode AccessMode
	// PrefetchBytes, if non-zero, makes a worker issue a WILLNEED
	// advisory over the next PrefetchBytes worth of its stripe every
	// time it has accessed that many bytes, to encourage asynchronous
	// readahead of upcoming ES pages.
	PrefetchBytes uint64
	// WSAccessAllBytes, if non-zero, makes a worker opportunistically
	// activate the working set every time it has accessed that many
	// bytes, keeping WS warm during a long eviction sweep.
	WSAccessAllBytes uint64
	// SSAccessAllBytes is the same opportunistic trigger for the
	// suppress set.
	SSAccessAllBytes uint64
}

const evictionSetConfigDefaults string = `{"SizeBytes":0,"WorkerCount":4,"WorkerPoolEnabled":true,"StepPages":256,"AccessMode":0,"PrefetchBytes":4194304,"WSAccessAllBytes":1048576,"SSAccessAllBytes":1048576}`

// ErrEvictionUnreachable is returned by Evict when a worker has walked
// its entire stripe at least once without the stop condition ever
// becoming true: spec.md §7's "eviction unreachable" failure kind,
// surfaced distinctly from a syscall error or a MaxDuration timeout.
var ErrEvictionUnreachable = fmt.Errorf("eviction set: stop condition unreachable, whole region walked with no progress")

// EvictionSet owns the eviction region and its worker pool.
type EvictionSet struct {
	mutex   sync.Mutex
	config  *EvictionSetConfig
	mapping *FileMapping

	running int32  // atomic: eviction_running, mirrors the C flag of the same name
	touched uint64 // atomic: cumulative count of page touches across all Evict calls
}

// TouchedPages returns the cumulative number of page touches performed
// by every Evict call so far, used by callers to measure the work done
// by one particular call via a before/after delta.
func (es *EvictionSet) TouchedPages() uint64 {
	return atomic.LoadUint64(&es.touched)
}

// NewEvictionSet returns an EvictionSet with default configuration.
func NewEvictionSet() (*EvictionSet, error) {
	es := &EvictionSet{}
	if err := es.SetConfigJson(evictionSetConfigDefaults); err != nil {
		return nil, fmt.Errorf("eviction set default configuration: %w", err)
	}
	return es, nil
}

func (es *EvictionSet) SetConfigJson(configJson string) error {
	config := &EvictionSetConfig{}
	if err := json.Unmarshal([]byte(configJson), config); err != nil {
		return err
	}
	es.mutex.Lock()
	defer es.mutex.Unlock()
	es.config = config
	return nil
}

func (es *EvictionSet) GetConfigJson() string {
	es.mutex.Lock()
	defer es.mutex.Unlock()
	if es.config == nil {
		return ""
	}
	if b, err := json.Marshal(es.config); err == nil {
		return string(b)
	}
	return ""
}

// Open allocates the eviction region. Must be called before Evict.
func (es *EvictionSet) Open() error {
	es.mutex.Lock()
	defer es.mutex.Unlock()
	if es.mapping != nil {
		return nil
	}
	size := es.config.SizeBytes
	if size == 0 {
		size = readAvailableMemBytes()
		if size == 0 {
			return fmt.Errorf("eviction set: could not determine available memory and no SizeBytes configured")
		}
	}
	var m *FileMapping
	var err error
	if es.config.FilePath != "" {
		if err = CreateDenseFile(es.config.FilePath, size); err != nil {
			return fmt.Errorf("eviction set: creating backing file: %w", err)
		}
		m, err = OpenFileMapping(es.config.FilePath)
	} else {
		m, err = OpenAnonymousMapping(size)
	}
	if err != nil {
		return fmt.Errorf("eviction set: opening region: %w", err)
	}
	es.mapping = m
	log.WithComponent(TagEvictionSet).Infof("opened %d byte region (%d pages, file=%q)\n", m.SizeBytes(), m.SizePages(), es.config.FilePath)
	return nil
}

// Close releases the eviction region.
func (es *EvictionSet) Close() error {
	es.mutex.Lock()
	defer es.mutex.Unlock()
	if es.mapping == nil {
		return nil
	}
	err := es.mapping.Close()
	es.mapping = nil
	return err
}

// IsRunning reports whether an Evict call is currently in progress.
// Exported so the blocking set manager can avoid contending for memory
// pressure with an eviction already underway (spec.md §4.4's
// cross-subsystem hand-off).
func (es *EvictionSet) IsRunning() bool {
	return atomic.LoadInt32(&es.running) != 0
}

// Evict walks the eviction region with es.config.WorkerCount goroutines
// (or, with WorkerPoolEnabled false, a single stripe in the calling
// goroutine) until stopFn returns true. Each worker touches its stripe
// in order, looping back to the start when it reaches the end: the
// touch is what asks the kernel to keep this page and, by pressure,
// evict some other page instead. After the walk, the whole region is
// advised DONTNEED exactly once (spec.md §8's testable eviction-pass
// postcondition).
//
// stopFn is polled by every worker roughly every StepPages pages; it
// must be safe to call concurrently from multiple goroutines. Evict
// also bounds every worker by its own stop condition: if a worker walks
// its entire stripe without stopFn ever returning true, Evict returns
// ErrEvictionUnreachable instead of hanging forever.
func (es *EvictionSet) Evict(stopFn func() bool, ws *WorkingSet, ss *SuppressSet) error {
	es.mutex.Lock()
	mapping := es.mapping
	config := *es.config
	es.mutex.Unlock()

	if mapping == nil {
		return fmt.Errorf("eviction set: Open was not called")
	}
	workerCount := config.WorkerCount
	if !config.WorkerPoolEnabled {
		workerCount = 1
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	step := config.StepPages
	if step == 0 {
		step = 256
	}

	atomic.StoreInt32(&es.running, 1)
	defer atomic.StoreInt32(&es.running, 0)

	totalPages := mapping.SizePages()
	stripe := totalPages / uint64(workerCount)
	if stripe == 0 {
		stripe = totalPages
		workerCount = 1
	}

	var unreachable int32
	boundedStopFn := func(touchedThisStripe, stripePages uint64) bool {
		if stopFn() {
			return true
		}
		if atomic.LoadInt32(&unreachable) != 0 {
			return true
		}
		if touchedThisStripe >= stripePages {
			atomic.StoreInt32(&unreachable, 1)
			return true
		}
		return false
	}

	if !config.WorkerPoolEnabled {
		es.evictWorker(mapping, 0, totalPages, step, config.AccessMode, &config, ws, ss, boundedStopFn, nil)
	} else {
		var wg sync.WaitGroup
		for w := 0; w < workerCount; w++ {
			start := uint64(w) * stripe
			end := start + stripe
			if w == workerCount-1 {
				end = totalPages
			}
			wg.Add(1)
			go es.evictWorker(mapping, start, end, step, config.AccessMode, &config, ws, ss, boundedStopFn, &wg)
		}
		wg.Wait()
	}

	if err := mapping.Advise(0, totalPages, AdviceDontNeed); err != nil {
		log.WithComponent(TagEvictionSet).Warnf("advise DONTNEED over %d pages failed: %v\n", totalPages, err)
	}

	if atomic.LoadInt32(&unreachable) != 0 {
		return ErrEvictionUnreachable
	}
	return nil
}

// evictWorker is the inner step loop run by each eviction goroutine
// (spec.md §4.3 items (1)-(5)): every iteration it opportunistically
// activates WS and SS every *AccessAllBytes worth of progress, issues a
// WILLNEED prefetch advisory every PrefetchBytes, touches the next ES
// page, and checks the stop condition every StepPages pages. It wraps
// around to the start of its stripe if the sweep finishes first.
// wg may be nil when the worker pool is disabled and this runs inline.
func (es *EvictionSet) evictWorker(mapping *FileMapping, start, end, step uint64, mode AccessMode, config *EvictionSetConfig, ws *WorkingSet, ss *SuppressSet, stopFn func(touched, stripePages uint64) bool, wg *sync.WaitGroup) {
	if wg != nil {
		defer wg.Done()
	}
	if end <= start {
		return
	}
	stripePages := end - start
	pos := start
	var sinceCheck uint64
	var accessedBytes uint64
	for {
		if config.WSAccessAllBytes > 0 && accessedBytes%config.WSAccessAllBytes == 0 && ws != nil {
			ws.ActivateNow()
		}
		if config.SSAccessAllBytes > 0 && accessedBytes%config.SSAccessAllBytes == 0 && ss != nil {
			ss.SuppressNow()
		}
		if config.PrefetchBytes > 0 && accessedBytes%config.PrefetchBytes == 0 {
			prefetchPages := bytesToPages(config.PrefetchBytes)
			aheadStart := pos + 1
			aheadEnd := aheadStart + prefetchPages
			if aheadEnd > end {
				aheadEnd = end
			}
			if aheadEnd > aheadStart {
				if err := mapping.Advise(aheadStart, aheadEnd-aheadStart, AdviceWillNeed); err != nil {
					log.WithComponent(TagWorker).Debugf("prefetch advise failed: %v\n", err)
				}
			}
		}

		switch {
		case mode == AccessModePread && !mapping.IsAnonymous():
			mapping.ReadPageByte(pos)
			mapping.ReadPageByte(pos)
		default:
			mapping.TouchPage(pos)
		}
		atomic.AddUint64(&es.touched, 1)
		accessedBytes += constUPagesize

		pos++
		sinceCheck++
		if pos >= end {
			pos = start
		}
		if sinceCheck >= step {
			sinceCheck = 0
			if stopFn(accessedBytes/constUPagesize, stripePages) {
				return
			}
		}
	}
}
