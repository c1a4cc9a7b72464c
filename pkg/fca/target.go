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

// target holds the target data model and registry (spec.md §4.7): the
// set of files/pages/sequences an Attack watches and evicts, keyed by
// TargetFile.Path so that registering the same path again replaces the
// earlier entry rather than duplicating it. The path is used exactly as
// given; it is not resolved to an absolute path, so two spellings of the
// same file are two separate entries.

package fca

import (
	"fmt"
	"sync"
)

// TargetPage is one page offset tracked under TargetKindPages, with the
// no-eviction exemption and the timestamp of its last residency sample.
type TargetPage struct {
	Offset         uint64
	NoEviction     bool
	LastSampleTime int64
}

// TargetFile is one registered file and the subset of its pages the
// attack cares about. Kind determines which of Pages/Sequence/Sequences
// is meaningful; the others are left at their zero value.
type TargetFile struct {
	Path      string
	Kind      TargetKind
	Pages     []TargetPage
	Sequence  PageSequence
	Sequences []PageSequence

	mapping *FileMapping
}

// Mapping returns the target's open FileMapping, opening it on first
// use. Targets are opened lazily because a registry entry may be
// created long before the attack actually starts sampling it.
func (t *TargetFile) Mapping() (*FileMapping, error) {
	if t.mapping == nil {
		m, err := OpenFileMapping(t.Path)
		if err != nil {
			return nil, fmt.Errorf("opening target %q: %w", t.Path, err)
		}
		t.mapping = m
	}
	return t.mapping, nil
}

// Close releases the target's mapping, if it was opened.
func (t *TargetFile) Close() error {
	if t.mapping != nil {
		err := t.mapping.Close()
		t.mapping = nil
		return err
	}
	return nil
}

// PageOffsets returns every individual page offset this target names,
// regardless of Kind (every page of the file for TargetKindFile). Used
// by the suppress set and the working set's readahead-window mask; the
// suppress set skips TargetKindFile targets before calling it.
func (t *TargetFile) PageOffsets() []uint64 {
	switch t.Kind {
	case TargetKindFile:
		m, err := t.Mapping()
		if err != nil {
			return nil
		}
		offsets := make([]uint64, m.SizePages())
		for i := range offsets {
			offsets[i] = uint64(i)
		}
		return offsets
	case TargetKindPages:
		offsets := make([]uint64, len(t.Pages))
		for i, p := range t.Pages {
			offsets[i] = p.Offset
		}
		return offsets
	case TargetKindPageSequence:
		offsets := make([]uint64, t.Sequence.Length)
		for i := range offsets {
			offsets[i] = t.Sequence.StartPage + uint64(i)
		}
		return offsets
	case TargetKindPageSequences:
		var offsets []uint64
		for _, s := range t.Sequences {
			for i := uint64(0); i < s.Length; i++ {
				offsets = append(offsets, s.StartPage+i)
			}
		}
		return offsets
	default:
		return nil
	}
}

// TargetRegistry is the path-keyed collection of registered targets,
// shared by the Attack and by the subsystems (WS, SS) that need to scan
// "everything currently under attack".
type TargetRegistry struct {
	mutex   sync.RWMutex
	targets map[string]*TargetFile
}

// NewTargetRegistry returns an empty registry.
func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{targets: make(map[string]*TargetFile)}
}

// Register adds or replaces the target for t.Path. Replacing an
// existing target closes its old mapping first so file descriptors
// never leak across re-registration.
func (r *TargetRegistry) Register(t *TargetFile) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if old, ok := r.targets[t.Path]; ok {
		old.Close()
	}
	r.targets[t.Path] = t
}

// Unregister removes and closes the target at path, if present.
func (r *TargetRegistry) Unregister(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if t, ok := r.targets[path]; ok {
		t.Close()
		delete(r.targets, path)
	}
}

// Get returns the target registered at path, if any.
func (r *TargetRegistry) Get(path string) (*TargetFile, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	t, ok := r.targets[path]
	return t, ok
}

// List returns a snapshot slice of every registered target. Safe to
// range over while other goroutines mutate the registry: it is a copy,
// not a live view.
func (r *TargetRegistry) List() []*TargetFile {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]*TargetFile, 0, len(r.targets))
	for _, t := range r.targets {
		out = append(out, t)
	}
	return out
}

// Len returns the number of registered targets.
func (r *TargetRegistry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.targets)
}

// CloseAll closes every registered target's mapping and empties the
// registry. Called during Attack teardown.
func (r *TargetRegistry) CloseAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for path, t := range r.targets {
		t.Close()
		delete(r.targets, path)
	}
}
