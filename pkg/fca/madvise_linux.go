//go:build linux
// +build linux

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
	"golang.org/x/sys/unix"
)

// pidfdOpen opens a stable file descriptor for a pid, used by the
// blocking set manager to kill fillup children without racing a reused
// pid (the same concern pidfd_open addresses for process_madvise in the
// memtier NUMA mover this package's killer loop is modeled on).
func pidfdOpen(pid int, flags uint) (int, error) {
	ret, _, en := unix.Syscall(unix.SYS_PIDFD_OPEN, uintptr(pid), uintptr(flags), 0)
	if en != 0 {
		return -1, unix.Errno(en)
	}
	return int(ret), nil
}

func pidfdClose(pidfd int) error {
	return unix.Close(pidfd)
}

// pidfdSendSignal delivers sig to the process referenced by pidfd.
func pidfdSendSignal(pidfd int, sig unix.Signal) error {
	ret, _, en := unix.Syscall6(unix.SYS_PIDFD_SEND_SIGNAL, uintptr(pidfd), uintptr(sig), 0, 0, 0, 0)
	if en != 0 {
		return unix.Errno(en)
	}
	_ = ret
	return nil
}
