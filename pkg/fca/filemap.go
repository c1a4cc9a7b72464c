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

// filemap is the in-repo replacement for the out-of-scope "filemap"
// collaborator named in the specification: a shared-read mapping of a
// file plus page-granularity advisories, single-page touch/read helpers
// and a dense random file creator. The cache-residency query over a
// mapping lives in pcs.go.

package fca

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Advice is a page-granularity usage hint passed to the kernel through
// madvise(2)/posix_fadvise(2).
type Advice int

const (
	AdviceNormal Advice = iota
	AdviceRandom
	AdviceSequential
	AdviceWillNeed
	AdviceDontNeed
)

// FileMapping is a shared-read mmap of a regular file, plus the file
// descriptor kept open for pread-based access (the ES/WS/SS "file API"
// access mode, which avoids dereferencing the mmap so that the access
// itself never faults the virtual mapping in twice).
type FileMapping struct {
	path      string
	file      *os.File
	data      []byte
	sizePages uint64
}

// OpenFileMapping opens path read-only and maps it shared-read. The
// file's size is rounded down to a whole number of pages: spec.md's
// invariant that every offset/length stays inside size_in_pages assumes
// a page-granular view of the file.
func OpenFileMapping(path string) (*FileMapping, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	sizePages := uint64(size) / constUPagesize
	if sizePages == 0 {
		f.Close()
		return nil, fmt.Errorf("file %q is smaller than one page", path)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(sizePages*constUPagesize), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %q: %w", path, err)
	}
	return &FileMapping{path: path, file: f, data: data, sizePages: sizePages}, nil
}

// OpenAnonymousMapping creates a private, anonymous mapping of the given
// size, used by the eviction set when it is configured to use anonymous
// memory instead of a backing file.
func OpenAnonymousMapping(sizeBytes uint64) (*FileMapping, error) {
	sizePages := bytesToPages(sizeBytes)
	data, err := unix.Mmap(-1, 0, int(sizePages*constUPagesize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("anonymous mmap: %w", err)
	}
	return &FileMapping{path: "", file: nil, data: data, sizePages: sizePages}, nil
}

// CreateDenseFile creates (or reuses, if already large enough) a file at
// path containing sizeBytes of random content. The content must be
// random so the OS page cache / filesystem cannot dedup or compress it
// into fewer physical pages than the eviction set needs to touch.
func CreateDenseFile(path string, sizeBytes uint64) error {
	if fi, err := os.Stat(path); err == nil && uint64(fi.Size()) >= sizeBytes {
		log.Debugf("eviction file %q already at least %d bytes, reusing", path, sizeBytes)
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	const chunkSize = 4 * 1024 * 1024
	buf := make([]byte, chunkSize)
	var written uint64
	for written < sizeBytes {
		n := chunkSize
		if remaining := sizeBytes - written; remaining < uint64(n) {
			n = int(remaining)
		}
		if _, err := io.ReadFull(rand.Reader, buf[:n]); err != nil {
			return fmt.Errorf("generating random content: %w", err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return err
		}
		written += uint64(n)
	}
	return nil
}

func (m *FileMapping) Path() string      { return m.path }
func (m *FileMapping) SizePages() uint64 { return m.sizePages }
func (m *FileMapping) SizeBytes() uint64 { return m.sizePages * constUPagesize }
func (m *FileMapping) IsAnonymous() bool { return m.file == nil }

// Close unmaps the mapping and closes the underlying file, if any.
func (m *FileMapping) Close() error {
	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}
	if m.file != nil {
		if cerr := m.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (m *FileMapping) adviceToMadvise(a Advice) int {
	switch a {
	case AdviceRandom:
		return unix.MADV_RANDOM
	case AdviceSequential:
		return unix.MADV_SEQUENTIAL
	case AdviceWillNeed:
		return unix.MADV_WILLNEED
	case AdviceDontNeed:
		return unix.MADV_DONTNEED
	default:
		return unix.MADV_NORMAL
	}
}

// Advise issues a page-granularity usage advisory over
// [offsetPages, offsetPages+lengthPages) of the mapping. Advisory
// failures are non-fatal (spec.md §7's "Syscall advisory" taxonomy):
// callers log a warning and continue.
func (m *FileMapping) Advise(offsetPages, lengthPages uint64, a Advice) error {
	if offsetPages+lengthPages > m.sizePages {
		lengthPages = m.sizePages - offsetPages
	}
	if lengthPages == 0 {
		return nil
	}
	start := offsetPages * constUPagesize
	end := start + lengthPages*constUPagesize
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	return unix.Madvise(m.data[start:end], m.adviceToMadvise(a))
}

// ReadPageByte reads a single byte at the given page offset through
// pread(2), used by the "file API" access mode so that a touch goes
// through the page cache read path instead of a page fault.
func (m *FileMapping) ReadPageByte(offsetPages uint64) (byte, error) {
	if m.file == nil {
		return 0, fmt.Errorf("ReadPageByte: mapping %q is anonymous, has no file descriptor", m.path)
	}
	var buf [1]byte
	off := int64(offsetPages * constUPagesize)
	n, err := m.file.ReadAt(buf[:], off)
	if n == 1 {
		return buf[0], nil
	}
	return 0, err
}

// TouchPage dereferences the mapped byte at the given page offset,
// forcing the page to be faulted in through the mmap path.
func (m *FileMapping) TouchPage(offsetPages uint64) byte {
	return m.data[offsetPages*constUPagesize]
}

// Data exposes the raw mapping, primarily for the page-cache sampler.
func (m *FileMapping) Data() []byte { return m.data }

// File exposes the underlying descriptor, used by preadv2-based
// sampling sources. Returns nil for anonymous mappings.
func (m *FileMapping) File() *os.File { return m.file }
