// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command gilbench measures the throughput and fairness of a fastcond.GIL
// under contention.
//
// A configurable number of goroutines repeatedly acquire the lock, hold it
// for a configurable time, and release (or yield) it, until a total
// acquisition budget is spent.  The report includes per-goroutine
// acquisition counts, their coefficient of variation, the longest run of
// consecutive acquisitions by one goroutine, and the acquire-latency
// distribution.  Comparing --mode=fair against --mode=greedy or
// --native-cond shows what the fairness machinery buys and costs.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"v.io/x/fastcond"
)

var (
	goroutines = flag.Int("goroutines", 8, "number of goroutines contending for the lock")
	total      = flag.Int64("acquisitions", 100000, "total acquisitions across all goroutines")
	mode       = flag.String("mode", "fair", "lock mode: fair, greedy or naive")
	nativeCond = flag.Bool("native-cond", false, "park waiters on sync.Cond instead of the strong condition variable")
	useYield   = flag.Bool("yield", false, "drive handoffs with Yield() instead of Release()/Acquire()")
	holdTime   = flag.Duration("hold", 10*time.Microsecond, "time to hold the lock on each acquisition")
	pauseTime  = flag.Duration("pause", 0, "time to pause between acquisitions")
)

// A benchState aggregates the measurements of one run.  All fields are
// guarded by the lock under test: workers mutate them only while they hold it.
type benchState struct {
	gil *fastcond.GIL

	remaining      int64
	counts         []int64
	holders        int
	lastHolder     int
	streak         int
	maxConsecutive int
}

// busyWait() spins for d; sleeping would release the processor and
// understate contention, so the hold time burns CPU as a real critical
// section would.
func busyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	for start := time.Now(); time.Since(start) < d; {
	}
}

// step() accounts for one acquisition.  It is called with the lock held and
// returns false once the budget is spent.
func (s *benchState) step(id int) (more bool, err error) {
	s.holders++
	if s.holders != 1 {
		return false, fmt.Errorf("mutual exclusion violated: %d holders", s.holders)
	}
	if s.remaining <= 0 {
		s.holders--
		return false, nil
	}
	s.counts[id]++
	if s.lastHolder == id {
		s.streak++
	} else {
		s.lastHolder, s.streak = id, 1
	}
	if s.streak > s.maxConsecutive {
		s.maxConsecutive = s.streak
	}
	s.remaining--
	busyWait(*holdTime)
	s.holders--
	return s.remaining > 0, nil
}

// worker() runs acquire/hold/release cycles until the budget is spent,
// recording the latency of each acquisition.
func (s *benchState) worker(id int, latencies *latencyRecorder) error {
	if *useYield {
		s.gil.Acquire()
		for {
			more, err := s.step(id)
			if err != nil || !more {
				s.gil.Release()
				return err
			}
			start := time.Now()
			s.gil.Yield()
			latencies.record(time.Since(start))
		}
	}
	for {
		start := time.Now()
		s.gil.Acquire()
		latencies.record(time.Since(start))
		more, err := s.step(id)
		s.gil.Release()
		if err != nil || !more {
			return err
		}
		if *pauseTime > 0 {
			time.Sleep(*pauseTime)
		}
	}
}

// A latencyRecorder accumulates acquire latencies for one worker; workers
// get one each so that recording needs no extra synchronization.
type latencyRecorder struct {
	n     int64
	sum   time.Duration
	max   time.Duration
	sumSq float64
}

func (r *latencyRecorder) record(d time.Duration) {
	r.n++
	r.sum += d
	if d > r.max {
		r.max = d
	}
	us := float64(d) / float64(time.Microsecond)
	r.sumSq += us * us
}

// merge() folds other into r.
func (r *latencyRecorder) merge(other *latencyRecorder) {
	r.n += other.n
	r.sum += other.sum
	if other.max > r.max {
		r.max = other.max
	}
	r.sumSq += other.sumSq
}

// coefficientOfVariation() returns stdev/mean of the per-goroutine counts.
func coefficientOfVariation(counts []int64) float64 {
	mean := 0.0
	for _, c := range counts {
		mean += float64(c)
	}
	mean /= float64(len(counts))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	variance /= float64(len(counts))
	return math.Sqrt(variance) / mean
}

func newGIL() (*fastcond.GIL, error) {
	var opts []fastcond.GILOption
	switch *mode {
	case "fair":
	case "greedy":
		opts = append(opts, fastcond.WithMode(fastcond.Greedy))
	case "naive":
		opts = append(opts, fastcond.WithMode(fastcond.Naive))
	default:
		return nil, fmt.Errorf("unknown --mode %q", *mode)
	}
	if *nativeCond {
		opts = append(opts, fastcond.WithNativeCond())
	}
	return fastcond.NewGIL(opts...), nil
}

func run() error {
	gil, err := newGIL()
	if err != nil {
		return err
	}
	state := &benchState{
		gil:        gil,
		remaining:  *total,
		counts:     make([]int64, *goroutines),
		lastHolder: -1,
	}
	latencies := make([]latencyRecorder, *goroutines)

	var group errgroup.Group
	start := time.Now()
	for i := 0; i != *goroutines; i++ {
		id := i
		group.Go(func() error {
			return state.worker(id, &latencies[id])
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var all latencyRecorder
	for i := range latencies {
		all.merge(&latencies[i])
	}
	done := *total - state.remaining

	fmt.Printf("mode=%s native-cond=%v yield=%v goroutines=%d hold=%v\n",
		*mode, *nativeCond, *useYield, *goroutines, *holdTime)
	fmt.Printf("acquisitions:      %d in %v (%.0f/s)\n",
		done, elapsed.Round(time.Millisecond), float64(done)/elapsed.Seconds())
	fmt.Printf("per-goroutine:     %v\n", state.counts)
	fmt.Printf("count cv:          %.3f\n", coefficientOfVariation(state.counts))
	fmt.Printf("max consecutive:   %d\n", state.maxConsecutive)
	if all.n > 0 {
		mean := all.sum / time.Duration(all.n)
		meanUs := float64(all.sum) / float64(all.n) / float64(time.Microsecond)
		stdevUs := math.Sqrt(all.sumSq/float64(all.n) - meanUs*meanUs)
		fmt.Printf("acquire latency:   mean=%v stdev=%.1fus max=%v\n", mean.Round(time.Nanosecond), stdevUs, all.max)
	}
	return gil.Close()
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gilbench: %v\n", err)
		os.Exit(1)
	}
}
