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

// evictandcheck is the single-page hit tracer demo binary: it loads a
// target configuration file, then repeatedly samples every target page
// and evicts whichever ones come back cached, logging every detected
// hit to a CSV-like trace file.
package main

import (
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/intel/fca/pkg/fca"
)

func exitf(format string, a ...interface{}) {
	stdlog.Printf("evictandcheck: "+format, a...)
	os.Exit(1)
}

func main() {
	if fca.IsFillupChild() {
		if err := fca.RunFillupChild(); err != nil {
			exitf("fillup child: %v", err)
		}
		return
	}

	var (
		optVerbose  bool
		optWindows  bool
		optConfig   string
		optTrace    string
		optSchedule string
		optPeriodMs int
	)

	root := &cobra.Command{
		Use:   "evictandcheck <target-config-file>",
		Short: "repeatedly sample and evict registered target pages, tracing every detected cache hit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fca.SetLogger(stdlog.New(os.Stderr, "", 0))
			fca.SetLogDebug(optVerbose)
			if optWindows {
				stdlog.Println("evictandcheck: -b is a no-op on this platform")
			}

			config := fca.AttackConfig{Source: fca.SourceMincore}
			var err error
			if optConfig != "" {
				config, err = fca.LoadAttackConfig(optConfig)
				if err != nil {
					exitf("loading attack config: %v", err)
				}
			}
			attack, err := fca.NewAttack(config)
			if err != nil {
				exitf("building attack: %v", err)
			}

			if err := fca.AddTargetsFromFile(attack.Registry(), args[0]); err != nil {
				exitf("loading target configuration: %v", err)
			}

			if err := attack.Start(); err != nil {
				exitf("starting attack: %v", err)
			}
			defer attack.Exit()

			tracePath := optTrace
			if tracePath == "" {
				tracePath = "hits.csv"
			}
			trace, err := fca.OpenHitTrace(tracePath)
			if err != nil {
				exitf("opening hit trace: %v", err)
			}
			defer trace.Close()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, os.Interrupt, syscall.SIGQUIT, syscall.SIGUSR1)

			tick := func() {
				runTick(attack, trace)
			}

			if optSchedule != "" {
				return runScheduled(optSchedule, tick, shutdown)
			}
			return runPeriodic(time.Duration(optPeriodMs)*time.Millisecond, tick, shutdown)
		},
	}

	root.Flags().BoolVarP(&optVerbose, "verbose", "v", false, "enable debug logging")
	root.Flags().BoolVarP(&optWindows, "windows-child-stub", "b", false, "run as the Windows child stub (unused on this platform)")
	root.Flags().StringVarP(&optConfig, "config", "c", "", "attack configuration YAML file")
	root.Flags().StringVar(&optTrace, "trace", "", "hit trace file path (default hits.csv)")
	root.Flags().StringVar(&optSchedule, "schedule", "", "cron expression re-arming the sample/evict cycle, instead of a fixed period")
	root.Flags().IntVar(&optPeriodMs, "period-ms", 1000, "fixed sample/evict period in milliseconds, used when -schedule is not given")

	if err := root.Execute(); err != nil {
		exitf("%v", err)
	}
}

// runTick samples every registered target page, logs a hit trace line
// for every one found cached, then lets SampleAndEvictPages run the
// eviction pass over whichever of them are eligible.
func runTick(attack *fca.Attack, trace *fca.HitTraceWriter) {
	for _, t := range attack.Registry().List() {
		if t.Kind != fca.TargetKindPages {
			continue
		}
		m, err := t.Mapping()
		if err != nil {
			continue
		}
		for i := range t.Pages {
			p := &t.Pages[i]
			b, err := fca.StatusPage(m, p.Offset, fca.SourceMincore)
			if err != nil || b == 0 {
				continue
			}
			if err := trace.WriteHit(p.LastSampleTime, t.Path, p.Offset); err != nil {
				stdlog.Printf("evictandcheck: writing hit trace: %v\n", err)
			}
		}
	}

	result, err := attack.SampleAndEvictPages()
	if err != nil {
		stdlog.Printf("evictandcheck: sample_and_evict_pages: %v\n", err)
		return
	}
	if result.NoEvictionNeeded {
		return
	}
	if result.Eviction.Failed {
		stdlog.Println("evictandcheck: eviction pass failed")
	} else if result.Eviction.Unreachable {
		stdlog.Println("evictandcheck: eviction not possible, stop condition unreachable")
	} else if result.Eviction.NoProgress {
		stdlog.Println("evictandcheck: eviction pass made no progress before timing out")
	}
}

func runPeriodic(period time.Duration, tick func(), shutdown <-chan os.Signal) error {
	if period <= 0 {
		period = time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-shutdown:
			return nil
		case <-ticker.C:
			tick()
		}
	}
}

func runScheduled(expr string, tick func(), shutdown <-chan os.Signal) error {
	c := cron.New()
	if _, err := c.AddFunc(expr, tick); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	<-shutdown
	return nil
}
