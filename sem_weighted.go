// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcond

import "context"
import "math"
import "time"

import "golang.org/x/sync/semaphore"

// weightedSem adapts golang.org/x/sync/semaphore.Weighted to the sem
// interface.  Weighted starts full, so the constructor drains it to give the
// zero initial count the condition variable requires; post() then returns one
// token and wait() takes one back.
//
// The base context allows waits to be interrupted from outside, which the
// condition variable absorbs as a spurious wakeup.
type weightedSem struct {
	w    *semaphore.Weighted
	base context.Context
}

// newWeightedSem() returns a drained weighted semaphore.  Waits derive their
// contexts from base; pass context.Background() when interruption is not needed.
func newWeightedSem(base context.Context) (*weightedSem, error) {
	w := semaphore.NewWeighted(math.MaxInt64)
	if err := w.Acquire(context.Background(), math.MaxInt64); err != nil {
		return nil, err
	}
	return &weightedSem{w: w, base: base}, nil
}

func (s *weightedSem) wait() int {
	if err := s.w.Acquire(s.base, 1); err != nil {
		return Interrupted
	}
	return OK
}

func (s *weightedSem) waitWithDeadline(absDeadline time.Time) int {
	if absDeadline.Equal(NoDeadline) {
		return s.wait()
	}
	ctx, cancel := context.WithDeadline(s.base, absDeadline)
	defer cancel()
	err := s.w.Acquire(ctx, 1)
	switch {
	case err == nil:
		return OK
	case s.base.Err() != nil:
		return Interrupted
	default:
		return Expired
	}
}

func (s *weightedSem) post() error {
	s.w.Release(1)
	return nil
}

func (s *weightedSem) close() error {
	if s.w == nil {
		return ErrClosed
	}
	s.w = nil
	return nil
}
