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

// psp is the page-sequence profiler (spec.md §4.2): a single pass over
// a residency vector that extracts maximal runs of resident pages at
// least minLength long.

package fca

// PageSequence is a maximal run of consecutive resident pages,
// [StartPage, StartPage+Length), discovered by Profile.
type PageSequence struct {
	StartPage uint64
	Length    uint64
}

// EndPage is the first page past the end of the sequence.
func (s PageSequence) EndPage() uint64 {
	return s.StartPage + s.Length
}

// Profile scans a residency vector (as returned by StatusRange, one byte
// per page starting at baseOffsetPages) and returns every maximal run of
// resident pages whose length is at least minLength. A single pass,
// O(len(vec)): the profiler never re-reads a byte once consumed.
func Profile(vec []byte, baseOffsetPages uint64, minLength uint64) []PageSequence {
	if minLength == 0 {
		minLength = 1
	}
	var sequences []PageSequence
	var runStart uint64
	var runLen uint64
	inRun := false

	flush := func(endIdx uint64) {
		if inRun && runLen >= minLength {
			sequences = append(sequences, PageSequence{
				StartPage: baseOffsetPages + runStart,
				Length:    runLen,
			})
		}
		inRun = false
		runLen = 0
		_ = endIdx
	}

	for i, b := range vec {
		resident := b&pageResidentBit != 0
		if resident {
			if !inRun {
				inRun = true
				runStart = uint64(i)
				runLen = 0
			}
			runLen++
		} else {
			flush(uint64(i))
		}
	}
	flush(uint64(len(vec)))
	return sequences
}

// LongestSequence returns the longest sequence found, and false if vec
// contains no resident run at all.
func LongestSequence(vec []byte, baseOffsetPages uint64) (PageSequence, bool) {
	seqs := Profile(vec, baseOffsetPages, 1)
	if len(seqs) == 0 {
		return PageSequence{}, false
	}
	longest := seqs[0]
	for _, s := range seqs[1:] {
		if s.Length > longest.Length {
			longest = s
		}
	}
	return longest, true
}

// ResidentCount returns the number of resident pages in vec, regardless
// of run length — used by the working set's resident-byte tally and by
// the sampling entry points' "anything still cached" checks.
func ResidentCount(vec []byte) uint64 {
	var n uint64
	for _, b := range vec {
		if b&pageResidentBit != 0 {
			n++
		}
	}
	return n
}
