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

// blocking_set is the blocking set (spec.md §4.4): a manager loop that
// keeps /proc/meminfo's MemAvailable inside a configured band by
// spawning and killing child "fillup" processes that each hold a fixed,
// dirtied anonymous memory block.
//
// A child is this same binary, re-executed with an environment marker
// telling it to fault in its block and then sit idle; see IsFillupChild
// and RunFillupChild, which a cmd's main() must check for before doing
// anything else. The parent blocks on a one-byte rendezvous pipe
// (passed via cmd.ExtraFiles) until the child posts its single
// success/failure byte, standing in for the shared anonymous-mmap'd
// semaphore the original C blockRAM synchronizes on right after fork.

package fca

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// EnvFillupChild, when set to "1" in a re-exec'd child's
	// environment, tells that process to run RunFillupChild instead of
	// its normal main().
	EnvFillupChild = "FCA_BS_FILLUP_CHILD"
	// EnvFillupSizeBytes carries the child's target block size.
	EnvFillupSizeBytes = "FCA_BS_FILLUP_SIZE_BYTES"
)

// BlockingSetConfig configures the band the manager steers
// MemAvailable into, and the granularity it blocks memory in.
type BlockingSetConfig struct {
	MinAvailableBytes uint64
	MaxAvailableBytes uint64
	FillupSizeBytes   uint64
	IntervalMs        uint64
}

const blockingSetConfigDefaults string = `{"MinAvailableBytes":268435456,"MaxAvailableBytes":536870912,"FillupSizeBytes":16777216,"IntervalMs":200}`

// fillupChild is one live child process holding FillupSizeBytes of
// dirtied anonymous memory.
type fillupChild struct {
	cmd *exec.Cmd
}

// BlockingSet runs the manager loop. EvictionSet is consulted so the
// manager does not fight an eviction sweep already applying memory
// pressure (spec.md §4.4's "defer to an in-progress eviction").
type BlockingSet struct {
	mutex    sync.Mutex
	config   *BlockingSetConfig
	children []*fillupChild
	eviction *EvictionSet

	quit    chan struct{}
	done    chan struct{}
	running bool

	initOnce    sync.Once
	initialized chan struct{}
}

// NewBlockingSet returns a BlockingSet with default configuration. es
// may be nil if no eviction set is in play.
func NewBlockingSet(es *EvictionSet) (*BlockingSet, error) {
	bs := &BlockingSet{eviction: es, initialized: make(chan struct{})}
	if err := bs.SetConfigJson(blockingSetConfigDefaults); err != nil {
		return nil, fmt.Errorf("blocking set default configuration: %w", err)
	}
	return bs, nil
}

// Initialized returns a channel that closes exactly once MemAvailable
// has been observed inside the configured band for the first time
// (spec.md §3/§4.4 step 5's one-shot "initialized" semaphore). A caller
// that needs the band to be reached before proceeding can select on it.
func (bs *BlockingSet) Initialized() <-chan struct{} {
	return bs.initialized
}

func (bs *BlockingSet) SetConfigJson(configJson string) error {
	config := &BlockingSetConfig{}
	if err := json.Unmarshal([]byte(configJson), config); err != nil {
		return err
	}
	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	bs.config = config
	return nil
}

func (bs *BlockingSet) GetConfigJson() string {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	if bs.config == nil {
		return ""
	}
	if b, err := json.Marshal(bs.config); err == nil {
		return string(b)
	}
	return ""
}

// Start launches the manager goroutine.
func (bs *BlockingSet) Start() error {
	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	if bs.running {
		return fmt.Errorf("blocking set already running")
	}
	bs.quit = make(chan struct{})
	bs.done = make(chan struct{})
	bs.running = true
	go bs.managerLoop(bs.quit, bs.done)
	return nil
}

// Stop signals the manager goroutine to exit and kills every live
// child, in the reverse order it spawned them.
func (bs *BlockingSet) Stop() {
	bs.mutex.Lock()
	if !bs.running {
		bs.mutex.Unlock()
		return
	}
	close(bs.quit)
	done := bs.done
	bs.running = false
	bs.mutex.Unlock()

	<-done

	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	for i := len(bs.children) - 1; i >= 0; i-- {
		bs.killChildLocked(i)
	}
	bs.children = nil
}

func (bs *BlockingSet) managerLoop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	bs.mutex.Lock()
	interval := time.Duration(bs.config.IntervalMs) * time.Millisecond
	bs.mutex.Unlock()
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			bs.tick()
		}
	}
}

// tick re-evaluates MemAvailable against the configured band and
// spawns or kills children to steer toward the midpoint. Mirrors
// fca.c's bsManagerThread convergence arithmetic: goal is the band
// midpoint; below min, release goal-available worth of children; above
// max, block three quarters of available-goal, rounded down to whole
// fillup blocks.
func (bs *BlockingSet) tick() {
	if bs.eviction != nil && bs.eviction.IsRunning() {
		return
	}
	available := readAvailableMemBytes()
	if available == 0 {
		return
	}

	bs.mutex.Lock()
	min := bs.config.MinAvailableBytes
	max := bs.config.MaxAvailableBytes
	fillupSize := bs.config.FillupSizeBytes
	bs.mutex.Unlock()
	if fillupSize == 0 {
		return
	}
	goal := min + (max-min)/2

	switch {
	case available < min:
		toRelease := goal - available
		bs.releaseAtLeast(toRelease, fillupSize)
	case available > max:
		toBlock := (available - goal) * 3 / 4
		toBlock -= toBlock % fillupSize
		bs.blockAtLeast(toBlock, fillupSize)
	default:
		bs.initOnce.Do(func() { close(bs.initialized) })
	}
}

func (bs *BlockingSet) releaseAtLeast(bytesToFree, fillupSize uint64) {
	n := int((bytesToFree + fillupSize - 1) / fillupSize)
	bs.mutex.Lock()
	defer bs.mutex.Unlock()
	for i := 0; i < n && len(bs.children) > 0; i++ {
		last := len(bs.children) - 1
		bs.killChildLocked(last)
		bs.children = bs.children[:last]
		GetStats().RecordBSKill()
	}
}

func (bs *BlockingSet) blockAtLeast(bytesToBlock, fillupSize uint64) {
	if bytesToBlock < fillupSize {
		return
	}
	n := int(bytesToBlock / fillupSize)
	for i := 0; i < n; i++ {
		child, err := spawnFillupChild(fillupSize)
		if err != nil {
			log.WithComponent(TagBlockingSet).Warnf("spawning fillup child: %v\n", err)
			return
		}
		bs.mutex.Lock()
		bs.children = append(bs.children, child)
		bs.mutex.Unlock()
		GetStats().RecordBSSpawn()
	}
}

// killChildLocked kills the child at index i. Caller holds bs.mutex.
func (bs *BlockingSet) killChildLocked(i int) {
	c := bs.children[i]
	if c.cmd.Process == nil {
		return
	}
	if err := osalKill(c.cmd.Process.Pid); err != nil {
		log.WithComponent(TagBlockingSet).Warnf("killing child pid %d: %v\n", c.cmd.Process.Pid, err)
	}
	c.cmd.Wait()
}

// rendezvousFD is the child's file descriptor for the one-byte
// rendezvous pipe passed via cmd.ExtraFiles (fd 3, the first slot past
// stdin/stdout/stderr).
const rendezvousFD = 3

// spawnFillupChild re-execs the current binary with the fillup-child
// marker set, so that the child's own main() routes into
// RunFillupChild instead of its normal entry point. The parent blocks on
// a rendezvous pipe until the child reports it has finished dirtying its
// block (or failed to map it), mirroring fca.c's blockRAM waiting on a
// shared semaphore immediately after fork, posted once by the child
// before it settles into its idle wait.
func spawnFillupChild(sizeBytes uint64) (*fillupChild, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable: %w", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating rendezvous pipe: %w", err)
	}
	defer r.Close()

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=1", EnvFillupChild),
		fmt.Sprintf("%s=%d", EnvFillupSizeBytes, sizeBytes),
	)
	cmd.ExtraFiles = []*os.File{w}
	if err := cmd.Start(); err != nil {
		w.Close()
		return nil, fmt.Errorf("starting fillup child: %w", err)
	}
	w.Close()

	ack := make([]byte, 1)
	n, _ := r.Read(ack)
	if n == 0 {
		cmd.Wait()
		return nil, fmt.Errorf("fillup child exited before completing rendezvous")
	}
	if ack[0] == 0 {
		cmd.Wait()
		return nil, fmt.Errorf("fillup child failed to map its block")
	}
	return &fillupChild{cmd: cmd}, nil
}

// IsFillupChild reports whether the current process was re-exec'd as a
// blocking-set fillup child. A cmd's main() should check this before
// doing anything else and, if true, call RunFillupChild and never
// return.
func IsFillupChild() bool {
	return os.Getenv(EnvFillupChild) == "1"
}

// RunFillupChild dirties EnvFillupSizeBytes worth of anonymous memory,
// one write per page so every page is individually faulted and counted
// against this process's RSS, posts a single byte on the rendezvous pipe
// to unblock the parent's spawnFillupChild (1 on success, 0 on mmap
// failure, exactly once either way), then blocks until killed.
func RunFillupChild() error {
	rendezvous := os.NewFile(uintptr(rendezvousFD), "rendezvous")

	var sizeBytes uint64
	if _, err := fmt.Sscanf(os.Getenv(EnvFillupSizeBytes), "%d", &sizeBytes); err != nil || sizeBytes == 0 {
		rendezvous.Write([]byte{0})
		return fmt.Errorf("invalid %s: %q", EnvFillupSizeBytes, os.Getenv(EnvFillupSizeBytes))
	}
	m, err := OpenAnonymousMapping(sizeBytes)
	if err != nil {
		rendezvous.Write([]byte{0})
		return fmt.Errorf("fillup child: %w", err)
	}
	data := m.Data()
	for i := 0; i < len(data); i += int(constUPagesize) {
		data[i] = 1
	}
	rendezvous.Write([]byte{1})
	select {}
}
