// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcond

import "errors"
import "time"

// Outcomes of semaphore and condition variable waits.
const (
	OK          = iota // Neither expired nor interrupted.
	Expired     = iota // absDeadline expired.
	Interrupted = iota // The wait was interrupted before a post arrived.
)

var (
	// ErrClosed is returned by operations on a closed primitive.
	ErrClosed = errors.New("fastcond: use of closed primitive")

	errOverflow = errors.New("fastcond: semaphore count overflow")
	errBusy     = errors.New("fastcond: primitive closed while in use")
)

// A sem is a counting semaphore with an initial count of zero.  Each
// successful wait decrements the count; each post increments it; waits block
// while the count is zero.  Timed waits take an absolute deadline and must
// never shorten it when converting to the backend's native representation.
//
// A sem carries no knowledge of the condition variable built on top of it;
// the CV's counters are the only bookkeeping that relates posts to waiters.
type sem interface {
	// wait blocks until the count is positive and decrements it.
	// It returns OK, or Interrupted if the backend supports interruption.
	wait() int

	// waitWithDeadline is wait with an absolute deadline; it returns
	// Expired if the deadline is reached first.  An already-expired
	// deadline reports Expired without blocking, though a backend may
	// let it take an already-available post.
	// absDeadline==NoDeadline means no deadline.
	waitWithDeadline(absDeadline time.Time) int

	// post increments the count, waking one blocked waiter if any.
	post() error

	// close releases the semaphore's resources.  No goroutine may be
	// blocked in a wait.
	close() error
}

// chanSem is the default semaphore backend, built on a buffered channel of
// empty structs.  The elements have zero size, so the large capacity costs
// no buffer memory; it exists only to keep post() from ever blocking.
type chanSem struct {
	ch chan struct{}
}

// chanSemCapacity bounds the count of a chanSem.  The CV above keeps the
// count at or below the number of waiting goroutines, so the bound is never
// approached in correct use.
const chanSemCapacity = 1 << 30

// newChanSem() returns a channel-backed semaphore with count zero.
func newChanSem() (*chanSem, error) {
	return &chanSem{ch: make(chan struct{}, chanSemCapacity)}, nil
}

func (s *chanSem) wait() int {
	<-s.ch
	return OK
}

func (s *chanSem) waitWithDeadline(absDeadline time.Time) int {
	if absDeadline.Equal(NoDeadline) {
		return s.wait()
	}
	// A timer for a deadline already in the past fires immediately, but the
	// select below still gives a ready post an equal chance of being taken.
	t := time.NewTimer(time.Until(absDeadline))
	defer t.Stop()
	select {
	case <-s.ch:
		return OK
	case <-t.C:
		return Expired
	}
}

func (s *chanSem) post() error {
	select {
	case s.ch <- struct{}{}:
		return nil
	default:
		return errOverflow
	}
}

func (s *chanSem) close() error {
	if s.ch == nil {
		return ErrClosed
	}
	s.ch = nil
	return nil
}
