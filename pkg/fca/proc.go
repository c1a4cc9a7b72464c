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
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	procMeminfoPath     = "/proc/meminfo"
	procMeminfoAvailTag = "MemAvailable:"
)

func procRead(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func procReadInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("read empty string, expected int from %q", path)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return n, nil
}

// parseAvailableMemKB scans /proc/meminfo for the MemAvailable: line and
// returns its value in kB. It parses the first run of digits after the
// tag and ignores whatever follows it (normally the " kB" unit); a line
// with no digits right after the tag is reported as an error.
func parseAvailableMemKB(meminfo string) (uint64, error) {
	for _, line := range strings.Split(meminfo, "\n") {
		idx := strings.Index(line, procMeminfoAvailTag)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(procMeminfoAvailTag):]
		rest = strings.TrimLeft(rest, " \t")
		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}
		if end == 0 {
			return 0, fmt.Errorf("no digits found after %q", procMeminfoAvailTag)
		}
		return strconv.ParseUint(rest[:end], 10, 64)
	}
	return 0, fmt.Errorf("%q not found in meminfo", procMeminfoAvailTag)
}

// readAvailableMemBytes reads /proc/meminfo and returns MemAvailable in
// bytes. On any read/parse error it logs a warning and returns 0; the
// blocking set then skips that tick, and EvictionSet.Open fails unless
// SizeBytes is configured.
func readAvailableMemBytes() uint64 {
	data, err := procRead(procMeminfoPath)
	if err != nil {
		log.Warnf("blocking set: could not read %s: %s", procMeminfoPath, err)
		return 0
	}
	kb, err := parseAvailableMemKB(data)
	if err != nil {
		log.Warnf("blocking set: could not parse MemAvailable: %s", err)
		return 0
	}
	return kb * 1024
}
