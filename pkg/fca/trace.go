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

// trace implements the two observable file formats the demo binaries
// produce (spec.md §6): the covert channel's little-endian run trace,
// and evict_and_check's CSV-like hit trace.

package fca

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// CovertChannelTraceWriter writes the covert-channel trace format:
// header {message_size, run_count}, then one {timestamp_ns, payload}
// record per received run. run_count is rewritten on Close once the
// final count is known, so the header never has to be predicted ahead
// of time.
type CovertChannelTraceWriter struct {
	f           *os.File
	messageSize uint64
	runCount    uint64
}

// OpenCovertChannelTrace creates (truncating) a trace file at path for
// runs carrying messageSize bytes of payload each.
func OpenCovertChannelTrace(path string, messageSize uint64) (*CovertChannelTraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &CovertChannelTraceWriter{f: f, messageSize: messageSize}
	if err := w.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *CovertChannelTraceWriter) writeHeader() error {
	var hdr [16]byte
	binary.LittleEndian.PutUint64(hdr[0:8], w.messageSize)
	binary.LittleEndian.PutUint64(hdr[8:16], w.runCount)
	if _, err := w.f.WriteAt(hdr[:], 0); err != nil {
		return fmt.Errorf("writing trace header: %w", err)
	}
	return nil
}

// WriteRun appends one {timestamp_ns, payload} record. payload must be
// exactly messageSize bytes long.
func (w *CovertChannelTraceWriter) WriteRun(timestampNs int64, payload []byte) error {
	if uint64(len(payload)) != w.messageSize {
		return fmt.Errorf("trace run payload is %d bytes, expected %d", len(payload), w.messageSize)
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], uint64(timestampNs))
	if _, err := w.f.Write(ts[:]); err != nil {
		return err
	}
	if _, err := w.f.Write(payload); err != nil {
		return err
	}
	w.runCount++
	return nil
}

// Close rewrites the header with the final run count and closes the
// file.
func (w *CovertChannelTraceWriter) Close() error {
	if err := w.writeHeader(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// HitTraceWriter writes evict_and_check's hit trace: one
// "<last_sample_time>;<file_path>;<page_offset>" line per detected hit.
type HitTraceWriter struct {
	f *os.File
}

// OpenHitTrace creates (truncating) a hit-trace file at path.
func OpenHitTrace(path string) (*HitTraceWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &HitTraceWriter{f: f}, nil
}

// WriteHit appends one hit record.
func (w *HitTraceWriter) WriteHit(lastSampleTime int64, filePath string, pageOffset uint64) error {
	_, err := fmt.Fprintf(w.f, "%d;%s;%d\n", lastSampleTime, filePath, pageOffset)
	return err
}

func (w *HitTraceWriter) Close() error {
	return w.f.Close()
}
