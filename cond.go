// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fastcond provides a condition variable CV built from a counting
// semaphore, and a fair mutual-exclusion lock GIL built on top of it.
//
// CV differs from sync.Cond in three ways: (a) it offers waits with an
// absolute deadline and a relative timeout, (b) the mutex is an explicit
// argument of the wait calls to remind the reader that they have a
// side-effect on the mutex, and (c) its wakeup semantics are strong: a
// Signal() wakes a goroutine that was already waiting when the Signal()
// was issued, never one that arrives later.
//
// The semaphore emulation is the classic one: a wait releases the caller's
// mutex and blocks on a semaphore which Signal() posts.  On its own this
// scheme is weak---a newly arriving waiter may consume a post intended for a
// goroutine that was already waiting (listing 2 of
// http://birrell.org/andrew/papers/ImplementingCVs.pdf).  Weak semantics are
// fine when all waiters are interchangeable, but deadlock-prone when one
// condition variable serves non-equivalent waiters, such as both ends of a
// bounded queue.  CV therefore keeps a count of pending wakeups: posts that
// have been issued for goroutines that have not yet resumed.  A goroutine
// that tries to wait while wakeups are pending does not touch the semaphore;
// it releases the mutex, yields the scheduler, and returns as a spurious
// wakeup, which every caller of a Mesa-style condition variable must already
// tolerate.  Correctness is thus bought with extra wakeups rather than with
// a waiter queue.
//
// Usage:
//
// After making the desired predicate true, call:
//	cv.Signal() // If at most one goroutine can make use of the predicate becoming true.
// or
//	cv.Broadcast() // If multiple goroutines can make use of the predicate becoming true.
//
// To wait for a predicate with no deadline:
//	mu.Lock()
//	for !some_predicate_protected_by_mu { // the for-loop is required.
//		cv.Wait(&mu)
//	}
//	// predicate is now true
//	mu.Unlock()
//
// To wait for a predicate with a deadline:
//	mu.Lock()
//	for !some_predicate_protected_by_mu && cv.WaitWithDeadline(&mu, absDeadline) == fastcond.OK {
//	}
//	if some_predicate_protected_by_mu { // predicate is true
//	} else { // predicate is false, and the deadline expired.
//	}
//	mu.Unlock()
package fastcond

import "context"
import "sync"
import "time"

// A CV is a condition variable with strong wakeup semantics.
//
// The mutex is not part of the CV; it is borrowed from the caller for the
// duration of each call.  All of a CV's counters are guarded by that mutex:
// wait calls must be made with it held, and Signal() and Broadcast() must
// also be called with it held.  Signalling without the mutex is a contract
// violation and leaves the pending-wakeup count undefined.  The same mutex
// must be used for every call on a given CV.
type CV struct {
	sem sem // counting semaphore, initial count zero.

	// The counters below are all guarded by the caller's mutex.  They are
	// deliberately plain ints: the mutex provides both exclusion and
	// ordering, and the algorithm is not correct under lock-free updates.
	wWaiting int // goroutines blocked on sem, less posts issued; mirrors sem's count.
	nWaiting int // goroutines in any phase of a wait call.
	nWakeup  int // posts issued for current waiters but not yet consumed.  0 <= nWakeup <= nWaiting.

	noYield  bool   // skip the scheduler yield on the spurious-return path.
	observer func() // test hook, invoked on the spurious-return path; nil in production.
}

// A CVOption configures a CV at construction.
type CVOption func(*CV) error

// WithWeightedSemaphore() backs the CV with a semaphore built on
// golang.org/x/sync/semaphore rather than the default channel-based one.
func WithWeightedSemaphore() CVOption {
	return func(cv *CV) (err error) {
		cv.sem, err = newWeightedSem(context.Background())
		return err
	}
}

// WithoutSchedYield() disables the scheduler yield that a wait performs when
// it returns spuriously because wakeups are pending.  Omitting the yield is
// semantically safe but gives the signalled goroutines less chance to run
// before the caller re-enters the critical section.
func WithoutSchedYield() CVOption {
	return func(cv *CV) error {
		cv.noYield = true
		return nil
	}
}

// withObserver() registers f to be called on the spurious-return path.
// Used by tests to observe the anti-steal branch being taken.
func withObserver(f func()) CVOption {
	return func(cv *CV) error {
		cv.observer = f
		return nil
	}
}

// NewCV() returns a new condition variable with no waiters.  It fails only
// if the underlying semaphore cannot be allocated.
func NewCV(opts ...CVOption) (*CV, error) {
	cv := &CV{}
	for _, opt := range opts {
		if err := opt(cv); err != nil {
			return nil, err
		}
	}
	if cv.sem == nil {
		var err error
		if cv.sem, err = newChanSem(); err != nil {
			return nil, err
		}
	}
	return cv, nil
}

// Close() releases the CV's semaphore.  No goroutine may be waiting, and no
// wakeups may be pending; Close() reports errBusy and leaves the CV intact
// if they are.  Closing twice returns ErrClosed.
func (cv *CV) Close() error {
	if cv.sem == nil {
		return ErrClosed
	}
	if cv.nWaiting != 0 || cv.nWakeup != 0 {
		return errBusy
	}
	err := cv.sem.close()
	cv.sem = nil
	return err
}

// Wait() atomically releases "mu" and blocks the calling goroutine on *cv.
// It then waits until awakened by a call to Signal() or Broadcast() (or a
// spurious wakeup), reacquires "mu", and returns.  It is equivalent to a
// call to WaitWithDeadline() with absDeadline==NoDeadline.  It should be
// used in a loop, as with all Mesa-style condition variables.  See the
// examples in the package comment.
func (cv *CV) Wait(mu sync.Locker) {
	cv.WaitWithDeadline(mu, NoDeadline)
}

// WaitWithDeadline() atomically releases "mu" and blocks the calling
// goroutine on *cv.  It then waits until awakened by a call to Signal() or
// Broadcast() (or a spurious wakeup), or by the time reaching absDeadline.
// In all cases it reacquires "mu", and returns OK on a wakeup or Expired on
// deadline expiry.  Use absDeadline==NoDeadline for no deadline.  A deadline
// already in the past checks the semaphore once and returns without
// blocking.  WaitWithDeadline() should be used in a loop, as with all
// Mesa-style condition variables.
//
// An absolute deadline is used rather than a relative timeout for the same
// reasons pthread_cond_timedwait() uses one: waits must sit in a loop, and
// with an absolute deadline the remaining time need not be recomputed on
// each iteration, nor does the total wait stretch with each spurious wakeup.
func (cv *CV) WaitWithDeadline(mu sync.Locker, absDeadline time.Time) int {
	if cv.nWakeup > cv.nWaiting {
		panic("fastcond: pending wakeups exceed waiters; Signal() called without the mutex?")
	}
	if cv.nWakeup > 0 {
		// Posts are outstanding for goroutines that were already waiting
		// when they were signalled.  Entering the semaphore wait here
		// could consume one of those posts, which is precisely the
		// wakeup-stealing that strong semantics forbid.  Return a
		// spurious wakeup instead, dropping the mutex so that the
		// signalled goroutines can resume.
		if cv.observer != nil {
			cv.observer()
		}
		mu.Unlock()
		if !cv.noYield {
			schedYield()
		}
		mu.Lock()
		return OK
	}
	cv.nWaiting++
	cv.wWaiting++
	mu.Unlock()

	outcome := cv.sem.waitWithDeadline(absDeadline)

	mu.Lock()
	cv.nWaiting--
	if outcome != OK {
		// No post was issued on our behalf, so the signal-side
		// decrement of wWaiting never happened; undo our increment.
		cv.wWaiting--
	}
	if cv.nWakeup > 0 {
		// Assume we consumed the most recent outstanding post.
		cv.nWakeup--
	}
	if outcome == Interrupted {
		// Interruptions are absorbed as spurious wakeups.
		outcome = OK
	}
	return outcome
}

// WaitWithTimeout() is WaitWithDeadline() with a deadline of now+timeout.
// Relative timeouts suit backends whose native wait takes one, and trivial
// call sites that would otherwise convert; predicate loops should prefer
// WaitWithDeadline() so the deadline is computed once.
func (cv *CV) WaitWithTimeout(mu sync.Locker, timeout time.Duration) int {
	return cv.WaitWithDeadline(mu, time.Now().Add(timeout))
}

// signalN() wakes up to n waiting goroutines; n < 0 means all of them.
// Caller must hold the mutex associated with *cv.
func (cv *CV) signalN(n int) error {
	unwoken := cv.nWaiting - cv.nWakeup // waiters not yet promised a wakeup
	if unwoken <= 0 {
		return nil
	}
	if n < 0 || n > unwoken {
		n = unwoken
	}
	for i := 0; i < n; i++ {
		if err := cv.sem.post(); err != nil {
			return err
		}
		// A successful post will consume one blocked waiter, so the
		// signaller, not the waiter, keeps wWaiting in sync with the
		// semaphore's own count.
		cv.wWaiting--
		cv.nWakeup++
	}
	return nil
}

// Signal() wakes at least one goroutine that was waiting on *cv at the time
// of the call, if any; with no waiters it is a no-op, and in particular does
// not store a wakeup for the next waiter.  Caller must hold the mutex
// associated with *cv.
func (cv *CV) Signal() error {
	return cv.signalN(1)
}

// Broadcast() wakes every goroutine that was waiting on *cv at the time of
// the call.  Goroutines that begin waiting afterwards are not woken.  Caller
// must hold the mutex associated with *cv.
func (cv *CV) Broadcast() error {
	return cv.signalN(-1)
}
