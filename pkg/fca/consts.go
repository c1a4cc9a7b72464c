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

package fca

import (
	"os"
)

const (
	// residency bit returned by the page-cache sampler, bit 0 of
	// each status byte (mirrors the mincore(2) vector layout)
	pageResidentBit uint8 = 0x1
)

// TargetKind identifies which of the four disjoint target shapes a
// TargetFile carries, mirroring FCA_TARGET_TYPE_* in the C original.
type TargetKind int

const (
	TargetKindFile TargetKind = iota
	TargetKindPages
	TargetKindPageSequence
	TargetKindPageSequences
)

func (k TargetKind) String() string {
	switch k {
	case TargetKindFile:
		return "file"
	case TargetKindPages:
		return "pages"
	case TargetKindPageSequence:
		return "page_sequence"
	case TargetKindPageSequences:
		return "page_sequences"
	default:
		return "unknown"
	}
}

var constPagesize int64 = int64(os.Getpagesize())
var constUPagesize uint64 = uint64(constPagesize)
