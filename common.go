// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcond

import "math"
import "runtime"
import "time"

// NoDeadline represents a time in the far future---a deadline that will not expire.
var NoDeadline time.Time

// init() initializes the variable NoDeadline.
// If done inline, the godoc output is even more ugly.
func init() {
	NoDeadline = time.Now().Add(time.Duration(math.MaxInt64)).Add(time.Duration(math.MaxInt64))
}

// schedYield() hints to the scheduler that another runnable goroutine should
// be given the processor.  It provides no ordering guarantees.
func schedYield() {
	runtime.Gosched()
}
