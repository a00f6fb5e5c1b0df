// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// This test runs too slowly under the race detector.
//go:build !race

package fastcond_test

import "math/rand"
import "sync"
import "testing"
import "time"

import "v.io/x/fastcond"

// ---------------------------

// A stressData represents the data used by the goroutines of
// TestTimeoutStress.
type stressData struct {
	mu       sync.Mutex // protects fields below
	count    uint64     // incremented by the various goroutines
	timeouts uint64     // incremented on each timeout

	refs uint // reference count: one per test goroutine, decremented when it exits

	countIsIMod4 [4]*fastcond.CV // element i signalled when count==i mod 4
	refsIsZero   *fastcond.CV    // signalled when refs==0
}

// The delay in stressIncLoop() is uniformly distributed from 0 to
// stressMaxDelayMicros-1 microseconds.
const stressMaxDelayMicros = 1000

// stressIncLoop() acquires s.mu, then increments s.count n times, each time
// waiting until the count is countImod4 mod 4.  A random delay between 0us
// and 999us is used for each wait; if the timeout expires, s.timeouts is
// incremented, and the wait is retried.  s.refs is decremented before the
// routine returns.
func stressIncLoop(s *stressData, countImod4 uint64, n uint64) {
	s.mu.Lock()
	for i := uint64(0); i != n; i++ {
		for (s.count & 3) != countImod4 {
			absDeadline := time.Now().Add(time.Duration(rand.Int31n(stressMaxDelayMicros)) * time.Microsecond)
			for s.countIsIMod4[countImod4].WaitWithDeadline(&s.mu, absDeadline) != fastcond.OK && (s.count&3) != countImod4 {
				s.timeouts++
				absDeadline = time.Now().Add(time.Duration(rand.Int31n(stressMaxDelayMicros)) * time.Microsecond)
			}
		}
		s.count++
		s.countIsIMod4[s.count&3].Signal()
	}
	s.refs--
	if s.refs == 0 {
		s.refsIsZero.Signal()
	}
	s.mu.Unlock()
}

// TestTimeoutStress() tests many goroutines using a single lock and short
// random deadlines.
//
// It creates a stressData s, and then creates several goroutines using
// stressIncLoop() trying to increment s.count from 1 to 2 mod 4, from 2 to 3
// mod 4, and from 3 to 0 mod 4, using random delays.  It sleeps a short
// while, ensuring many random timeouts, because there is no goroutine
// incrementing s.count from 0 (which is 0 mod 4).  It then creates several
// goroutines using stressIncLoop() trying to increment s.count from 0 to 1
// mod 4.  This allows all the goroutines to run to completion, since there
// are equal numbers for each condition.  Finally, it waits for all
// goroutines to exit.
func TestTimeoutStress(t *testing.T) {
	const loopCount = 10000
	const goroutinesPerValue = 5
	s := stressData{refsIsZero: mustNewCV(t)}
	for i := range s.countIsIMod4 {
		s.countIsIMod4[i] = mustNewCV(t)
	}

	s.mu.Lock()
	// Create goroutines trying to increment from 1, 2, and 3 mod 4.
	// They will continually hit their timeouts because s.count==0.
	for i := 0; i != goroutinesPerValue; i++ {
		s.refs++
		go stressIncLoop(&s, 1, loopCount)
		s.refs++
		go stressIncLoop(&s, 2, loopCount)
		s.refs++
		go stressIncLoop(&s, 3, loopCount)
	}
	s.mu.Unlock()

	// Sleep a while, to ensure many timeouts happen.
	time.Sleep(500 * time.Millisecond)

	s.mu.Lock()
	if s.count != 0 {
		t.Errorf("s.count changed from 0 with no goroutine to increment it: %d", s.count)
	}
	if s.timeouts == 0 {
		t.Errorf("expected many timeouts while s.count==0; got none")
	}
	// Create the goroutines that increment from 0 mod 4, unsticking the rest.
	for i := 0; i != goroutinesPerValue; i++ {
		s.refs++
		go stressIncLoop(&s, 0, loopCount)
	}
	// Wait for all goroutines to complete.
	for s.refs != 0 {
		s.refsIsZero.Wait(&s.mu)
	}
	if want := uint64(4 * goroutinesPerValue * loopCount); s.count != want {
		t.Errorf("s.count=%d, want %d", s.count, want)
	}
	s.mu.Unlock()
}

// mustNewCV() returns a new CV, failing the test on error.
func mustNewCV(t *testing.T) *fastcond.CV {
	t.Helper()
	cv, err := fastcond.NewCV()
	if err != nil {
		t.Fatalf("NewCV: %v", err)
	}
	return cv
}
