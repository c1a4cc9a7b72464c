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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetRegistryRegisterGetUnregister(t *testing.T) {
	r := NewTargetRegistry()
	assert.Equal(t, 0, r.Len())

	a := &TargetFile{Path: "/tmp/a", Kind: TargetKindPages}
	r.Register(a)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get("/tmp/a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Get("/tmp/missing")
	assert.False(t, ok)

	r.Unregister("/tmp/a")
	assert.Equal(t, 0, r.Len())
	_, ok = r.Get("/tmp/a")
	assert.False(t, ok)
}

func TestTargetRegistryRegisterReplacesByPath(t *testing.T) {
	r := NewTargetRegistry()
	first := &TargetFile{Path: "/tmp/a", Kind: TargetKindPages}
	second := &TargetFile{Path: "/tmp/a", Kind: TargetKindFile}
	r.Register(first)
	r.Register(second)

	assert.Equal(t, 1, r.Len())
	got, ok := r.Get("/tmp/a")
	assert.True(t, ok)
	assert.Same(t, second, got)
}

func TestTargetRegistryList(t *testing.T) {
	r := NewTargetRegistry()
	r.Register(&TargetFile{Path: "/tmp/a"})
	r.Register(&TargetFile{Path: "/tmp/b"})

	list := r.List()
	assert.Len(t, list, 2)

	paths := map[string]bool{}
	for _, t := range list {
		paths[t.Path] = true
	}
	assert.True(t, paths["/tmp/a"])
	assert.True(t, paths["/tmp/b"])
}

func TestTargetRegistryCloseAll(t *testing.T) {
	r := NewTargetRegistry()
	r.Register(&TargetFile{Path: "/tmp/a"})
	r.Register(&TargetFile{Path: "/tmp/b"})

	r.CloseAll()
	assert.Equal(t, 0, r.Len())
}

func TestTargetFilePageOffsetsPages(t *testing.T) {
	tf := &TargetFile{
		Kind: TargetKindPages,
		Pages: []TargetPage{
			{Offset: 5},
			{Offset: 9, NoEviction: true},
			{Offset: 2},
		},
	}
	assert.Equal(t, []uint64{5, 9, 2}, tf.PageOffsets())
}

func TestTargetFilePageOffsetsSequence(t *testing.T) {
	tf := &TargetFile{
		Kind:     TargetKindPageSequence,
		Sequence: PageSequence{StartPage: 10, Length: 3},
	}
	assert.Equal(t, []uint64{10, 11, 12}, tf.PageOffsets())
}

func TestTargetFilePageOffsetsSequences(t *testing.T) {
	tf := &TargetFile{
		Kind: TargetKindPageSequences,
		Sequences: []PageSequence{
			{StartPage: 0, Length: 2},
			{StartPage: 10, Length: 1},
		},
	}
	assert.Equal(t, []uint64{0, 1, 10}, tf.PageOffsets())
}

func TestTargetFilePageOffsetsUnknownKind(t *testing.T) {
	tf := &TargetFile{Kind: TargetKind(99)}
	assert.Nil(t, tf.PageOffsets())
}
