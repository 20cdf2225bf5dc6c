// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reconcile implements the thread reconciler: periodic
// enumeration of a target's live threads, diffed against the
// previous cycle to find entered and exited thread IDs.
package reconcile

// Diff computes entered = now \ previous and exited = previous \ now
// with a single merge pass over two sorted, duplicate-free integer
// slices, per spec.md §4.5 step 4. Both inputs must already be
// sorted ascending; Cycle (below) guarantees this for its callers.
//
// The original agent computed the same diff into a fixed 256-entry
// stack buffer, silently corrupting memory past that size; this
// allocates exactly len(now) and len(previous) worst case instead.
func Diff(previous, now []int) (entered, exited []int) {
	entered = make([]int, 0, len(now))
	exited = make([]int, 0, len(previous))

	i, j := 0, 0
	for i < len(previous) && j < len(now) {
		switch {
		case previous[i] < now[j]:
			exited = append(exited, previous[i])
			i++
		case previous[i] > now[j]:
			entered = append(entered, now[j])
			j++
		default:
			i++
			j++
		}
	}
	exited = append(exited, previous[i:]...)
	entered = append(entered, now[j:]...)
	return entered, exited
}
