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

// suppress_set is the suppress set (spec.md §4.6): it keeps the kernel's
// readahead heuristic from spontaneously refilling a target page that
// eviction just cleared, by marking the window of pages around every
// target MADV_RANDOM so a sequential access pattern is never detected
// there.
//
// The window is split ra_window/2-1 pages behind the target and
// ra_window/2 pages ahead, matching the asymmetric split in the
// original C readahead-window computation (the target page itself is
// skipped: it is what PCS/PSP are sampling).

package fca

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// SuppressSetConfig configures the readahead-trigger window and the
// re-arm cadence.
type SuppressSetConfig struct {
	ReadaheadWindowPages uint64
	WorkerCount          int
	IntervalMs           uint64
}

const suppressSetConfigDefaults string = `{"ReadaheadWindowPages":8,"WorkerCount":2,"IntervalMs":1000}`

// SuppressSet runs the periodic re-advisory loop over every registered
// target's surrounding pages.
type SuppressSet struct {
	mutex    sync.Mutex
	config   *SuppressSetConfig
	registry *TargetRegistry

	quit    chan struct{}
	done    chan struct{}
	running bool

	warnedFileTargets map[string]bool
}

// NewSuppressSet returns a SuppressSet with default configuration,
// watching the given target registry.
func NewSuppressSet(registry *TargetRegistry) (*SuppressSet, error) {
	ss := &SuppressSet{registry: registry, warnedFileTargets: make(map[string]bool)}
	if err := ss.SetConfigJson(suppressSetConfigDefaults); err != nil {
		return nil, fmt.Errorf("suppress set default configuration: %w", err)
	}
	return ss, nil
}

func (ss *SuppressSet) SetConfigJson(configJson string) error {
	config := &SuppressSetConfig{}
	if err := json.Unmarshal([]byte(configJson), config); err != nil {
		return err
	}
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	ss.config = config
	return nil
}

func (ss *SuppressSet) GetConfigJson() string {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	if ss.config == nil {
		return ""
	}
	if b, err := json.Marshal(ss.config); err == nil {
		return string(b)
	}
	return ""
}

// windowAround returns the [behind, ahead) bounds, in pages, of the
// readahead-trigger window around page p within a mapping of the given
// size. Clamped at both ends.
func windowAround(p, windowPages, sizePages uint64) (behindStart, aheadEnd uint64) {
	behind := uint64(0)
	if windowPages >= 2 {
		behind = windowPages/2 - 1
	}
	ahead := windowPages / 2

	if p > behind {
		behindStart = p - behind
	} else {
		behindStart = 0
	}
	aheadEnd = p + ahead + 1
	if aheadEnd > sizePages {
		aheadEnd = sizePages
	}
	return behindStart, aheadEnd
}

// Start launches the re-advisory manager goroutine.
func (ss *SuppressSet) Start() error {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()
	if ss.running {
		return fmt.Errorf("suppress set already running")
	}
	ss.quit = make(chan struct{})
	ss.done = make(chan struct{})
	ss.running = true
	go ss.managerLoop(ss.quit, ss.done)
	return nil
}

// Stop signals the manager goroutine to exit.
func (ss *SuppressSet) Stop() {
	ss.mutex.Lock()
	if !ss.running {
		ss.mutex.Unlock()
		return
	}
	close(ss.quit)
	done := ss.done
	ss.running = false
	ss.mutex.Unlock()
	<-done
}

func (ss *SuppressSet) managerLoop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ss.mutex.Lock()
	interval := time.Duration(ss.config.IntervalMs) * time.Millisecond
	ss.mutex.Unlock()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			ss.suppressAll()
		}
	}
}

// suppressAll re-advises the window around every registered target's
// pages, split across WorkerCount goroutines.
func (ss *SuppressSet) suppressAll() {
	ss.mutex.Lock()
	windowPages := ss.config.ReadaheadWindowPages
	workerCount := ss.config.WorkerCount
	ss.mutex.Unlock()
	if workerCount <= 0 {
		workerCount = 1
	}

	targets := ss.registry.List()
	jobs := make(chan *TargetFile, len(targets))
	for _, t := range targets {
		jobs <- t
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				ss.suppressTarget(t, windowPages)
			}
		}()
	}
	wg.Wait()

	GetStats().Store(&ScanReport{
		Name:        "suppress_set",
		FilesWalked: uint64(len(targets)),
	})
}

// SuppressNow runs one suppression pass over every registered target
// immediately, bypassing IntervalMs. Called by the eviction set's inner
// loop to opportunistically re-arm SS during a long sweep (spec.md
// §4.3 item (2)).
func (ss *SuppressSet) SuppressNow() {
	if ss == nil {
		return
	}
	ss.suppressAll()
}

// suppressTarget re-arms the readahead-trigger window around every page
// of t: first an AdviceRandom advisory so the kernel's sequential
// detector never fires there, then an actual touch of every page in the
// window so it stays resident between cycles — matching the original's
// activateSS/suppressThread, which follows every readahead advisory
// with a double pread over the same range (spec.md §4.6).
//
// Whole-file targets (TargetKindFile) are skipped: windowing "around"
// every page of an entire file degenerates to the whole file, which
// spec.md §4.6 calls out as a skip-with-warning case rather than an
// error, logged once per target to avoid spamming every cycle.
func (ss *SuppressSet) suppressTarget(t *TargetFile, windowPages uint64) {
	if t.Kind == TargetKindFile {
		ss.mutex.Lock()
		warned := ss.warnedFileTargets[t.Path]
		if !warned {
			ss.warnedFileTargets[t.Path] = true
		}
		ss.mutex.Unlock()
		if !warned {
			log.WithComponent(TagSuppressSet).Warnf("skipping whole-file target %q, readahead suppression is not meaningful over an entire file\n", t.Path)
		}
		return
	}

	m, err := t.Mapping()
	if err != nil {
		return
	}
	offsets := t.PageOffsets()
	isTarget := make(map[uint64]bool, len(offsets))
	for _, p := range offsets {
		isTarget[p] = true
	}
	for _, p := range offsets {
		behindStart, aheadEnd := windowAround(p, windowPages, m.SizePages())
		if aheadEnd <= behindStart {
			continue
		}
		if err := m.Advise(behindStart, aheadEnd-behindStart, AdviceRandom); err != nil {
			log.WithComponent(TagSuppressSet).Debugf("advise around page %d of %q failed: %v\n", p, t.Path, err)
		}
		for page := behindStart; page < aheadEnd; page++ {
			if isTarget[page] {
				continue
			}
			if m.IsAnonymous() {
				m.TouchPage(page)
				continue
			}
			m.ReadPageByte(page)
			m.ReadPageByte(page)
		}
	}
}
