// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcond_test

import "fmt"
import "sync"
import "time"

import "v.io/x/fastcond"

// ExampleCV() demonstrates the Mesa-style predicate loop: the waiter
// re-tests its predicate after every wakeup, spurious or not.
func ExampleCV() {
	var mu sync.Mutex
	cv, _ := fastcond.NewCV()
	ready := false

	go func() {
		mu.Lock()
		ready = true
		cv.Signal()
		mu.Unlock()
	}()

	mu.Lock()
	for !ready {
		cv.Wait(&mu)
	}
	fmt.Println("ready")
	mu.Unlock()
	// Output:
	// ready
}

// ExampleGIL_Yield() demonstrates the interpreter-lock pattern: a
// compute-bound goroutine periodically yields the lock, and the fairness
// rule guarantees a queued goroutine gets the turn before the yielder
// re-acquires.
func ExampleGIL_Yield() {
	gil := fastcond.NewGIL()
	gil.Acquire()

	workerDone := make(chan struct{})
	go func() {
		gil.Acquire()
		fmt.Println("worker has the lock")
		gil.Release()
		close(workerDone)
	}()
	time.Sleep(100 * time.Millisecond) // let the worker queue up

	gil.Yield() // the queued worker runs before Yield() returns
	fmt.Println("main has the lock again")
	gil.Release()
	<-workerDone
	// Output:
	// worker has the lock
	// main has the lock again
}
