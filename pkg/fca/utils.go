// Copyright 2022 Intel Corporation. All Rights Reserved.
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
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// parseTimeDuration parses time duration string
func parseTimeDuration(s string) (time.Duration, error) {
	factor := float64(time.Second)
	suffixLen := 0
	switch {
	case strings.HasSuffix(s, "ns"):
		factor = 1
		suffixLen = 2
	case strings.HasSuffix(s, "us"):
		factor = 1000
		suffixLen = 2
	case strings.HasSuffix(s, "ms"):
		factor = 1000 * 1000
		suffixLen = 2
	case strings.HasSuffix(s, "s"):
		factor = 1000 * 1000 * 1000
		suffixLen = 1
	case strings.HasSuffix(s, "m"):
		factor = 1000 * 1000 * 1000 * 60
		suffixLen = 1
	case strings.HasSuffix(s, "h"):
		factor = 1000 * 1000 * 1000 * 60 * 60
		suffixLen = 1
	}
	numpart := s[0 : len(s)-suffixLen]
	f, err := strconv.ParseFloat(strings.TrimSpace(numpart), 64)
	if err != nil {
		return time.Duration(0), fmt.Errorf("syntax error in time duration %s %w, expected [1-9][0-9]*(ns|us|ms|s|m|h)?", s, err)
	}
	if math.IsNaN(f) {
		return time.Duration(0), fmt.Errorf("invalid time duration %s, number or inf expected", s)
	}
	return time.Duration(f * factor), nil
}

func sortedCopyOfInts(orig []int) []int {
	return sortInts(copyInts(orig))
}

func copyInts(orig []int) []int {
	retval := make([]int, len(orig))
	copy(retval, orig)
	return retval
}

func sortInts(orig []int) []int {
	sort.Ints(orig)
	return orig
}

type mapIntUint64 map[int]uint64

func (m mapIntUint64) sortedKeys() []int {
	keys := make([]int, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	return keys
}

// pageAlignDown rounds a byte offset down to the nearest page boundary.
func pageAlignDown(off uint64) uint64 {
	return off - off%constUPagesize
}

// bytesToPages converts a byte length to a page count, rounding up.
func bytesToPages(n uint64) uint64 {
	return (n + constUPagesize - 1) / constUPagesize
}
