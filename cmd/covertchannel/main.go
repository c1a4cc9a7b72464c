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

// covertchannel is the demo binary that turns FCA's page-cache
// residency channel into a one-bit-per-page covert channel: one party
// sets each bit page resident (1) or evicted (0), the other samples
// and reports what it saw.
package main

import (
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intel/fca/pkg/fca"
)

const (
	ackPageOffset    = 0
	ready0PageOffset = 1
	ready1PageOffset = 2
	controlPages     = 3
)

type channelLayout struct {
	path        string
	messageSize uint64 // bytes per run
	mapping     *fca.FileMapping
}

func openChannel(path string, messageSize uint64) (*channelLayout, error) {
	bitPages := messageSize * 8
	sizeBytes := (bitPages + controlPages) * uint64(os.Getpagesize())
	if err := fca.CreateDenseFile(path, sizeBytes); err != nil {
		return nil, err
	}
	m, err := fca.OpenFileMapping(path)
	if err != nil {
		return nil, err
	}
	return &channelLayout{path: path, messageSize: messageSize, mapping: m}, nil
}

func (c *channelLayout) bitPageOffset(bit uint64) uint64 {
	return controlPages + bit
}

func exitf(format string, a ...interface{}) {
	stdlog.Printf("covertchannel: "+format, a...)
	os.Exit(1)
}

func main() {
	if fca.IsFillupChild() {
		if err := fca.RunFillupChild(); err != nil {
			exitf("fillup child: %v", err)
		}
		return
	}

	fca.SetLogger(stdlog.New(os.Stderr, "", 0))

	var (
		optSend       bool
		optReceive    bool
		optTestCycles int
		optWindows    bool
		optMessageLen int
		optConfig     string
		optTrace      string
	)

	root := &cobra.Command{
		Use:   "covertchannel <transmission-file>",
		Short: "demonstrate a page-cache covert channel built on the file-cache attack engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if optSend == optReceive {
				exitf("exactly one of -s/-r is required")
			}
			if optWindows {
				stdlog.Println("covertchannel: -b is a no-op on this platform")
			}

			path := args[0]
			channel, err := openChannel(path, uint64(optMessageLen))
			if err != nil {
				exitf("opening channel file: %v", err)
			}
			defer channel.mapping.Close()

			config := fca.AttackConfig{Source: fca.SourceMincore}
			if optConfig != "" {
				config, err = fca.LoadAttackConfig(optConfig)
				if err != nil {
					exitf("loading config: %v", err)
				}
			}
			attack, err := fca.NewAttack(config)
			if err != nil {
				exitf("building attack: %v", err)
			}
			if err := attack.Start(); err != nil {
				exitf("starting attack: %v", err)
			}
			defer attack.Exit()

			tracePath := optTrace
			if tracePath == "" {
				tracePath = "tr.csv"
			}
			trace, err := fca.OpenCovertChannelTrace(tracePath, uint64(optMessageLen))
			if err != nil {
				exitf("opening trace file: %v", err)
			}
			defer trace.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGQUIT, syscall.SIGUSR1)
			shutdown := make(chan struct{})
			go func() {
				<-sig
				close(shutdown)
			}()

			cycles := optTestCycles
			if cycles <= 0 {
				cycles = 1
			}
			if optSend {
				return runSender(attack, channel, cycles, shutdown)
			}
			return runReceiver(channel, trace, cycles, shutdown)
		},
	}

	root.Flags().BoolVarP(&optSend, "send", "s", false, "run as the sending party")
	root.Flags().BoolVarP(&optReceive, "receive", "r", false, "run as the receiving party")
	root.Flags().IntVarP(&optTestCycles, "test", "t", 0, "run N send/receive cycles of a random payload, then exit")
	root.Flags().BoolVarP(&optWindows, "windows-child-stub", "b", false, "run as the Windows child stub (unused on this platform)")
	root.Flags().IntVarP(&optMessageLen, "message-size", "m", 8*1024, "message size in bytes")
	root.Flags().StringVarP(&optConfig, "config", "c", "", "attack configuration YAML file")
	root.Flags().StringVar(&optTrace, "trace", "", "receiver trace file path (default tr.csv)")

	if err := root.Execute(); err != nil {
		exitf("%v", err)
	}
}

// waitForPage blocks until StatusPage of offset matches resident, until
// shutdown fires, or until a generous timeout expires to avoid hanging
// the demo forever if the counterpart never shows up.
func waitForPage(m *fca.FileMapping, offset uint64, resident bool, shutdown <-chan struct{}) bool {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if shuttingDown(shutdown) {
			return false
		}
		b, err := fca.StatusPage(m, offset, fca.SourceMincore)
		if err == nil && (b != 0) == resident {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

// shuttingDown reports whether a shutdown signal has arrived, without
// blocking, so the per-cycle loops below can check it cooperatively at
// each iteration boundary (spec.md §5's "every loop exits at its next
// check" cancellation semantics).
func shuttingDown(shutdown <-chan struct{}) bool {
	select {
	case <-shutdown:
		return true
	default:
		return false
	}
}

func runSender(attack *fca.Attack, ch *channelLayout, cycles int, shutdown <-chan struct{}) error {
	m := ch.mapping
	for c := 0; c < cycles; c++ {
		if shuttingDown(shutdown) {
			return nil
		}
		payload, err := fca.RandomPayload(int(ch.messageSize))
		if err != nil {
			return err
		}

		var zeroBits []uint64
		for byteIdx, b := range payload {
			for bit := 0; bit < 8; bit++ {
				pageOffset := ch.bitPageOffset(uint64(byteIdx)*8 + uint64(bit))
				if b&(1<<uint(bit)) != 0 {
					m.TouchPage(pageOffset)
				} else {
					zeroBits = append(zeroBits, pageOffset)
				}
			}
		}
		if len(zeroBits) > 0 {
			pages := make([]fca.TargetPage, len(zeroBits))
			for i, p := range zeroBits {
				pages[i] = fca.TargetPage{Offset: p}
			}
			attack.RegisterTarget(&fca.TargetFile{Path: ch.path, Kind: fca.TargetKindPages, Pages: pages})
			if _, err := attack.SampleAndEvictPages(); err != nil {
				stdlog.Printf("covertchannel: eviction pass failed: %v\n", err)
			}
		}

		m.TouchPage(ready0PageOffset)
		m.TouchPage(ready1PageOffset)
		waitForPage(m, ackPageOffset, true, shutdown)

		m.Advise(ready0PageOffset, 1, fca.AdviceDontNeed)
		m.Advise(ready1PageOffset, 1, fca.AdviceDontNeed)
		m.Advise(ackPageOffset, 1, fca.AdviceDontNeed)
	}
	return nil
}

func runReceiver(ch *channelLayout, trace *fca.CovertChannelTraceWriter, cycles int, shutdown <-chan struct{}) error {
	m := ch.mapping
	for c := 0; c < cycles; c++ {
		if shuttingDown(shutdown) {
			return nil
		}
		if !waitForPage(m, ready0PageOffset, true, shutdown) || !waitForPage(m, ready1PageOffset, true, shutdown) {
			stdlog.Println("covertchannel: timed out waiting for sender")
			continue
		}

		payload := make([]byte, ch.messageSize)
		for byteIdx := range payload {
			var b byte
			for bit := 0; bit < 8; bit++ {
				pageOffset := ch.bitPageOffset(uint64(byteIdx)*8 + uint64(bit))
				status, err := fca.StatusPage(m, pageOffset, fca.SourceMincore)
				if err == nil && status != 0 {
					b |= 1 << uint(bit)
				}
			}
			payload[byteIdx] = b
		}
		timestamp := time.Now().UnixNano()
		if err := trace.WriteRun(timestamp, payload); err != nil {
			return err
		}

		m.TouchPage(ackPageOffset)
		waitForPage(m, ready0PageOffset, false, shutdown)
	}
	return nil
}
