//go:build linux
// +build linux

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

// osal is the in-repo replacement for the out-of-scope "osal"
// collaborator named in the specification: kill a process, resolve an
// absolute path, yield, sleep microseconds, fetch a unix timestamp,
// random bytes, and the system page size.

package fca

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// osalKill force-kills pid, preferring a pidfd-based send so a reused
// pid cannot be signalled by mistake. Falls back to a plain kill(2) if
// pidfd_open is unavailable (older kernels).
func osalKill(pid int) error {
	pidfd, err := pidfdOpen(pid, 0)
	if err != nil {
		return unix.Kill(pid, unix.SIGKILL)
	}
	defer pidfdClose(pidfd)
	return pidfdSendSignal(pidfd, unix.SIGKILL)
}

func osalAbsPath(path string) (string, error) {
	return filepath.Abs(path)
}

func osalYield() {
	runtime.Gosched()
}

func osalSleepUs(us int64) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

func osalUnixTimeNs() int64 {
	return time.Now().UnixNano()
}

func osalPageSize() int {
	return os.Getpagesize()
}

func osalRandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// RandomPayload returns n cryptographically random bytes, used by the
// demo binaries to synthesize test-cycle messages.
func RandomPayload(n int) ([]byte, error) {
	return osalRandomBytes(n)
}
