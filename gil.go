// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcond

import "sync"

// Implementation notes
//
// A GIL cannot be built from a plain mutex alone: a mutex has no way to say
// "I hold you, but another goroutine should have the next turn".  The lock
// is therefore a boolean guarded by an inner mutex, with a condition
// variable to park goroutines that may not acquire.  A releasing goroutine
// signals exactly one parked waiter, and the fairness predicate sends the
// previous owner back into the wait loop when others are queued, so a
// contended lock changes hands on every release.
//
// The condition variable must have strong semantics.  With a weak one the
// releasing goroutine's own re-acquire could consume the wakeup it just
// issued, reintroducing the greediness the predicate exists to prevent.
//
// Yield() is Release() followed by Acquire(), fused into one critical
// section of the inner mutex.  Fusing halves the inner-mutex traffic, and
// makes the release-then-reacquire transition atomic with respect to the
// fairness predicate: no other goroutine can observe the lock released
// without the yielder's identity already recorded as last owner.

// A GILMode selects how much of the fairness machinery a GIL uses.
type GILMode int

const (
	// Fair blocks a goroutine from re-acquiring a lock it just released
	// while other goroutines are queued.  This is the default.
	Fair GILMode = iota

	// Greedy parks contenders on the condition variable but lets any
	// goroutine, including the previous owner, take a released lock.
	Greedy

	// Naive degrades the GIL to a bare mutex: no condition variable, no
	// counters, no fairness.  It exists as a baseline for comparison.
	Naive
)

// A GIL is a mutual-exclusion lock with scheduling fairness: when goroutines
// are queued for a contended lock, the goroutine that released it most
// recently is not permitted to immediately re-acquire it.  The pattern suits
// interpreter-style global locks, where a compute-bound goroutine must not
// starve the others however eagerly it re-acquires.
//
// A GIL is not reentrant.  Acquire() and Release() may be called from
// different goroutines only in pairs: the goroutine that acquired must be
// the one that releases.  Release() or Yield() of a lock that is not held
// panics; whether the caller is the owner is not checked.
type GIL struct {
	mu        sync.Mutex // guards the fields below.
	cond      gilCond    // parks goroutines that may not acquire.
	held      bool       // some goroutine owns the logical lock.
	nWaiting  int        // goroutines blocked in an acquire loop.
	lastOwner gid        // most recent successful acquirer.

	mode      GILMode
	yieldFair bool // Yield()'s reacquire phase applies the fairness predicate.
}

// A GILOption configures a GIL at construction.
type GILOption func(*GIL)

// WithMode() selects the lock's fairness mode.
func WithMode(mode GILMode) GILOption {
	return func(g *GIL) {
		g.mode = mode
	}
}

// WithGreedyYield() makes Yield()'s reacquire phase skip the fairness
// predicate.  By default the reacquire is fair regardless of the lock's
// mode, so that a voluntary yield always offers the turn to queued
// goroutines.
func WithGreedyYield() GILOption {
	return func(g *GIL) {
		g.yieldFair = false
	}
}

// WithNativeCond() parks waiters on a sync.Cond instead of a CV.  The
// native condition variable has weak wakeup semantics, so fairness degrades
// under contention; the option exists for comparison runs.
func WithNativeCond() GILOption {
	return func(g *GIL) {
		g.cond = nativeCond{}
	}
}

// NewGIL() returns an unheld lock.  The initial last owner is the calling
// goroutine; this placeholder is safe because the fairness predicate is
// consulted only when goroutines are waiting, and none can wait before the
// first acquisition.  Internal allocation failures panic: the GIL surface
// has no error returns.
func NewGIL(opts ...GILOption) *GIL {
	g := &GIL{yieldFair: true, lastOwner: currentThread()}
	for _, opt := range opts {
		opt(g)
	}
	if _, ok := g.cond.(nativeCond); ok {
		g.cond = nativeCond{cond: sync.NewCond(&g.mu)}
	}
	if g.cond == nil {
		cv, err := NewCV()
		if err != nil {
			panic("fastcond: GIL condition variable: " + err.Error())
		}
		g.cond = fastCond{cv}
	}
	return g
}

// Close() releases the lock's internal primitives.  The lock must not be
// held and no goroutine may be waiting.
func (g *GIL) Close() error {
	if g.held || g.nWaiting != 0 {
		return errBusy
	}
	return g.cond.close()
}

// waitPredicate() reports whether the calling goroutine must wait before
// acquiring.  Caller must hold g.mu.
func (g *GIL) waitPredicate(self gid, fair bool) bool {
	if g.held {
		return true
	}
	// Anti-greedy rule: an unheld lock is still off limits to its previous
	// owner while others are queued for it.
	return fair && g.nWaiting > 0 && g.lastOwner == self
}

// acquireLocked() runs the acquire loop.  Caller must hold g.mu; on return
// the caller owns the logical lock and still holds g.mu.
func (g *GIL) acquireLocked(self gid, fair bool) {
	for g.waitPredicate(self, fair) {
		g.nWaiting++
		g.cond.wait(&g.mu)
		g.nWaiting--
	}
	if g.held {
		panic("fastcond: GIL held on exit from acquire loop")
	}
	g.lastOwner = self
	g.held = true
}

// Acquire() blocks until the calling goroutine is the sole owner of the
// lock.  The inner mutex is not held across the return---only the logical
// lock is.
func (g *GIL) Acquire() {
	if g.mode == Naive {
		g.mu.Lock()
		return
	}
	self := currentThread()
	g.mu.Lock()
	g.acquireLocked(self, g.mode == Fair)
	g.mu.Unlock()
}

// Release() gives up ownership of the lock and wakes one queued goroutine,
// if any.  The caller must be the owner.
func (g *GIL) Release() {
	if g.mode == Naive {
		g.mu.Unlock()
		return
	}
	g.mu.Lock()
	if !g.held {
		panic("fastcond: Release() of unheld GIL")
	}
	if g.nWaiting > 0 {
		g.cond.signal()
	}
	g.held = false
	g.mu.Unlock()
}

// Yield() releases the lock, offers the turn to queued goroutines, and
// re-acquires it, all under a single critical section of the inner mutex.
// On return the caller owns the lock again.  The caller must be the owner.
//
// The reacquire phase applies the fairness predicate regardless of the
// lock's mode unless WithGreedyYield() was given: a goroutine that yields
// voluntarily is asking for others to run.
func (g *GIL) Yield() {
	if g.mode == Naive {
		g.mu.Unlock()
		g.mu.Lock()
		return
	}
	self := currentThread()
	g.mu.Lock()
	if !g.held {
		panic("fastcond: Yield() of unheld GIL")
	}
	if g.nWaiting > 0 {
		g.cond.signal()
	}
	g.held = false
	// The lock is now up for grabs.  Unless WithGreedyYield() was given, the
	// acquire loop below does not let the yielder take it back while others
	// are queued until one of them has owned it.
	g.acquireLocked(self, g.yieldFair)
	g.mu.Unlock()
}

// ------------------------------------------

// A gilCond parks and wakes the GIL's waiters.  Both implementations are
// bound to the GIL's inner mutex: wait() releases it while blocked and
// reacquires it before returning, and signal() must be called with it held.
type gilCond interface {
	wait(mu *sync.Mutex)
	signal()
	close() error
}

// fastCond parks waiters on a strong CV.
type fastCond struct {
	cv *CV
}

func (c fastCond) wait(mu *sync.Mutex) {
	c.cv.Wait(mu)
}

func (c fastCond) signal() {
	if err := c.cv.Signal(); err != nil {
		panic("fastcond: GIL signal: " + err.Error())
	}
}

func (c fastCond) close() error {
	return c.cv.Close()
}

// nativeCond parks waiters on a sync.Cond.
type nativeCond struct {
	cond *sync.Cond
}

func (c nativeCond) wait(mu *sync.Mutex) {
	c.cond.Wait()
}

func (c nativeCond) signal() {
	c.cond.Signal()
}

func (c nativeCond) close() error {
	return nil
}
