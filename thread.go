// Copyright 2025 The Vanadium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fastcond

import "runtime"

// A gid identifies a goroutine.  The runtime assigns goroutine ids from a
// monotonically increasing counter and never reuses them within a process,
// so a gid also serves as an ownership epoch.
type gid uint64

// currentThread() returns the calling goroutine's id, parsed from the first
// line of its stack trace ("goroutine N [running]:").
func currentThread() gid {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id gid
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + gid(buf[i]-'0')
	}
	return id
}
