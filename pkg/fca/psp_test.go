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

func vecOf(bits string) []byte {
	vec := make([]byte, len(bits))
	for i, c := range bits {
		if c == '1' {
			vec[i] = pageResidentBit
		}
	}
	return vec
}

func TestProfile(t *testing.T) {
	type testCase struct {
		name      string
		vec       string
		base      uint64
		minLength uint64
		expect    []PageSequence
	}

	for _, tc := range []testCase{
		{name: "empty", vec: "", expect: nil},
		{name: "all zero", vec: "0000", expect: nil},
		{name: "all resident", vec: "1111", expect: []PageSequence{{StartPage: 0, Length: 4}}},
		{name: "single run in middle", vec: "00110", expect: []PageSequence{{StartPage: 2, Length: 2}}},
		{name: "trailing run", vec: "00011", expect: []PageSequence{{StartPage: 3, Length: 2}}},
		{
			name:   "multiple runs",
			vec:    "1100101110",
			expect: []PageSequence{{StartPage: 0, Length: 2}, {StartPage: 4, Length: 1}, {StartPage: 6, Length: 3}},
		},
		{
			name:      "minLength filters short runs",
			vec:       "1100101110",
			minLength: 2,
			expect:    []PageSequence{{StartPage: 0, Length: 2}, {StartPage: 6, Length: 3}},
		},
		{
			name:   "base offset shifts start pages",
			vec:    "0011",
			base:   100,
			expect: []PageSequence{{StartPage: 102, Length: 2}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Profile(vecOf(tc.vec), tc.base, tc.minLength)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestLongestSequence(t *testing.T) {
	seq, ok := LongestSequence(vecOf("1100101110"), 0)
	assert.True(t, ok)
	assert.Equal(t, PageSequence{StartPage: 6, Length: 3}, seq)

	_, ok = LongestSequence(vecOf("0000"), 0)
	assert.False(t, ok)
}

func TestResidentCount(t *testing.T) {
	assert.Equal(t, uint64(0), ResidentCount(vecOf("0000")))
	assert.Equal(t, uint64(4), ResidentCount(vecOf("1111")))
	assert.Equal(t, uint64(5), ResidentCount(vecOf("1100101110")))
}

func TestPageSequenceEndPage(t *testing.T) {
	s := PageSequence{StartPage: 10, Length: 5}
	assert.Equal(t, uint64(15), s.EndPage())
}
