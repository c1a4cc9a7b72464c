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

// attack assembles the page-cache sampler, eviction set, blocking set,
// working set and suppress set into the Attack container (spec.md §4,
// §4.7) and exposes the three public sampling entry points over it.

package fca

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttackConfig is the top-level configuration, one JSON sub-document
// per subsystem plus the cache source every sampling call uses.
type AttackConfig struct {
	Source      CacheSource
	EvictionSet EvictionSetConfig
	BlockingSet BlockingSetConfig
	WorkingSet  WorkingSetConfig
	SuppressSet SuppressSetConfig

	// CheckIntervalPages is how many pages an eviction worker touches
	// between stop-condition re-checks. It seeds EvictionSet.StepPages
	// when the latter is left unconfigured, so a single knob governs the
	// default check cadence across every Attack-driven eviction pass.
	// Evaluated per worker, not globally: a larger worker count checks
	// more often in wall-clock terms.
	CheckIntervalPages uint64
	// MaxDuration bounds how long a sampling call's eviction sweep may
	// run before giving up and reporting StatsEviction.NoProgress.
	// Defaulted by NewAttack when left at zero, since an eviction whose
	// stop condition never triggers would otherwise only be bounded by
	// ErrEvictionUnreachable's whole-stripe-walked detection.
	MaxDuration time.Duration
}

// Attack is the assembled engine: a target registry plus the five
// component subsystems, started and stopped together.
type Attack struct {
	config   AttackConfig
	registry *TargetRegistry

	// RunID stamps every Attack with a correlation id, logged when Start
	// succeeds, so that overlapping runs can be told apart in a shared
	// log. The trace files do not record it.
	RunID string

	eviction *EvictionSet
	blocking *BlockingSet
	working  *WorkingSet
	suppress *SuppressSet

	started bool
}

// NewAttack builds an Attack from config. The blocking set is wired to
// the eviction set so it defers to an in-progress eviction sweep.
func NewAttack(config AttackConfig) (*Attack, error) {
	registry := NewTargetRegistry()

	if config.CheckIntervalPages == 0 {
		config.CheckIntervalPages = 64
	}
	if config.MaxDuration == 0 {
		config.MaxDuration = 60 * time.Second
	}

	es, err := NewEvictionSet()
	if err != nil {
		return nil, err
	}
	if config.EvictionSet.StepPages == 0 {
		config.EvictionSet.StepPages = config.CheckIntervalPages
	}
	if b, merr := json.Marshal(config.EvictionSet); merr == nil {
		es.SetConfigJson(string(b))
	}

	bs, err := NewBlockingSet(es)
	if err != nil {
		return nil, err
	}
	if b, merr := json.Marshal(config.BlockingSet); merr == nil {
		bs.SetConfigJson(string(b))
	}

	ws, err := NewWorkingSet(registry, es)
	if err != nil {
		return nil, err
	}
	if b, merr := json.Marshal(config.WorkingSet); merr == nil {
		ws.SetConfigJson(string(b))
	}

	ss, err := NewSuppressSet(registry)
	if err != nil {
		return nil, err
	}
	if b, merr := json.Marshal(config.SuppressSet); merr == nil {
		ss.SetConfigJson(string(b))
	}

	return &Attack{
		config:   config,
		registry: registry,
		RunID:    uuid.NewString(),
		eviction: es,
		blocking: bs,
		working:  ws,
		suppress: ss,
	}, nil
}

// Registry exposes the target registry, e.g. for cmd binaries that load
// targets from a configuration file before calling Start.
func (a *Attack) Registry() *TargetRegistry { return a.registry }

// Start opens the eviction region and starts the blocking, working and
// suppress set manager loops, in that order (each later subsystem
// assumes the ones before it are already steering memory pressure).
func (a *Attack) Start() error {
	if a.started {
		return fmt.Errorf("attack already started")
	}
	if err := a.eviction.Open(); err != nil {
		return err
	}
	if err := a.blocking.Start(); err != nil {
		a.eviction.Close()
		return err
	}
	if err := a.working.Start(); err != nil {
		a.blocking.Stop()
		a.eviction.Close()
		return err
	}
	if err := a.suppress.Start(); err != nil {
		a.working.Stop()
		a.blocking.Stop()
		a.eviction.Close()
		return err
	}
	a.started = true
	log.Infof("attack %s started\n", a.RunID)
	return nil
}

// Exit tears down every subsystem in the reverse order Start brought
// them up, then closes every registered target.
func (a *Attack) Exit() {
	if !a.started {
		return
	}
	a.suppress.Stop()
	a.working.Stop()
	a.blocking.Stop()
	a.eviction.Close()
	a.registry.CloseAll()
	a.started = false
}

// RegisterTarget adds t to the attack's target registry. Must be called
// before the corresponding Sample* call, and before Start if the
// suppress set should protect it from the first scan cycle onward.
func (a *Attack) RegisterTarget(t *TargetFile) {
	a.registry.Register(t)
}

// SampleResult is the ternary outcome of a public sampling entry point:
// nothing was cached so no eviction was attempted, or an eviction ran
// (successfully or not).
type SampleResult struct {
	NoEvictionNeeded bool
	Eviction         StatsEviction
}

// targetPageRef pairs a TargetPage with the mapping it belongs to, so
// the stop condition and the eviction summary can both address it
// directly.
type targetPageRef struct {
	mapping *FileMapping
	page    *TargetPage
}

// SampleAndEvictPages samples every TargetPage across every registered
// TargetKindPages target. If any page without NoEviction is cached, it
// runs one eviction pass whose stop condition is "every such page is
// uncached" (spec.md §4.7).
func (a *Attack) SampleAndEvictPages() (SampleResult, error) {
	var refs []targetPageRef
	for _, t := range a.registry.List() {
		if t.Kind != TargetKindPages {
			continue
		}
		m, err := t.Mapping()
		if err != nil {
			log.Warnf("sample_and_evict_pages: %v\n", err)
			continue
		}
		for i := range t.Pages {
			refs = append(refs, targetPageRef{mapping: m, page: &t.Pages[i]})
		}
	}

	anyCached := false
	for _, r := range refs {
		r.page.LastSampleTime = osalUnixTimeNs()
		if r.page.NoEviction {
			continue
		}
		b, err := StatusPage(r.mapping, r.page.Offset, a.config.Source)
		if err == nil && b&pageResidentBit != 0 {
			anyCached = true
		}
	}
	if !anyCached {
		return SampleResult{NoEvictionNeeded: true}, nil
	}

	stopFn := func() bool {
		for _, r := range refs {
			if r.page.NoEviction {
				continue
			}
			b, err := StatusPage(r.mapping, r.page.Offset, a.config.Source)
			if err != nil || b&pageResidentBit != 0 {
				return false
			}
		}
		return true
	}
	result := a.runEviction(stopFn)
	GetStats().Store(result)
	return SampleResult{Eviction: result}, nil
}

// SampleAndEvictFiles samples every registered TargetKindFile target's
// full residency. If any page of any target file is cached, it runs
// one eviction pass whose stop condition is "every target file has zero
// resident pages" (spec.md §4.7).
func (a *Attack) SampleAndEvictFiles() (SampleResult, error) {
	var mappings []*FileMapping
	for _, t := range a.registry.List() {
		if t.Kind != TargetKindFile {
			continue
		}
		m, err := t.Mapping()
		if err != nil {
			log.Warnf("sample_and_evict_files: %v\n", err)
			continue
		}
		mappings = append(mappings, m)
	}

	anyCached := false
	for _, m := range mappings {
		vec, err := StatusRange(m, 0, m.SizePages(), a.config.Source)
		if err == nil && ResidentCount(vec) > 0 {
			anyCached = true
			break
		}
	}
	if !anyCached {
		return SampleResult{NoEvictionNeeded: true}, nil
	}

	stopFn := func() bool {
		for _, m := range mappings {
			vec, err := StatusRange(m, 0, m.SizePages(), a.config.Source)
			if err != nil || ResidentCount(vec) > 0 {
				return false
			}
		}
		return true
	}
	result := a.runEviction(stopFn)
	GetStats().Store(result)
	return SampleResult{Eviction: result}, nil
}

// SampleAndEvictSequence samples one TargetKindPageSequence target. If
// any page inside the sequence is cached, it runs one eviction pass
// whose stop condition is "the sequence is entirely uncached"
// (spec.md §4.7).
func (a *Attack) SampleAndEvictSequence(t *TargetFile) (SampleResult, error) {
	if t.Kind != TargetKindPageSequence {
		return SampleResult{}, fmt.Errorf("sample_and_evict_sequence: target %q is not a page-sequence target", t.Path)
	}
	m, err := t.Mapping()
	if err != nil {
		return SampleResult{}, err
	}

	vec, err := StatusRange(m, t.Sequence.StartPage, t.Sequence.Length, a.config.Source)
	if err != nil {
		return SampleResult{}, err
	}
	if ResidentCount(vec) == 0 {
		return SampleResult{NoEvictionNeeded: true}, nil
	}

	stopFn := func() bool {
		vec, err := StatusRange(m, t.Sequence.StartPage, t.Sequence.Length, a.config.Source)
		return err == nil && ResidentCount(vec) == 0
	}
	result := a.runEviction(stopFn)
	GetStats().Store(result)
	return SampleResult{Eviction: result}, nil
}

// runEviction drives one ES.Evict call bounded by config.MaxDuration
// and returns the StatsEviction summary, sharing the touched-pages
// accounting across every public sampling entry point.
func (a *Attack) runEviction(targetStopFn func() bool) StatsEviction {
	start := time.Now()
	touchedBefore := a.eviction.TouchedPages()

	stopFn := func() bool {
		if a.config.MaxDuration > 0 && time.Since(start) > a.config.MaxDuration {
			return true
		}
		return targetStopFn()
	}

	err := a.eviction.Evict(stopFn, a.working, a.suppress)
	elapsed := time.Since(start)
	touchedPages := a.eviction.TouchedPages() - touchedBefore

	if err == ErrEvictionUnreachable {
		// spec.md §8: unreachable is reported as zero bytes accessed,
		// not as a syscall/OS failure, even though the worker did
		// touch its whole stripe getting there.
		return StatsEviction{Unreachable: true}
	}
	result := StatsEviction{BytesAccessed: int64(touchedPages * constUPagesize)}
	if err != nil {
		result.Failed = true
		return result
	}
	if a.config.MaxDuration > 0 && elapsed > a.config.MaxDuration {
		result.NoProgress = true
	}
	return result
}
