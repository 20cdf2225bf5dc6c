// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reconcile

import (
	"errors"
	"testing"
	"time"
)

type fakeLister struct {
	pids [][]int // one slice per successive call
	i    int
}

func (f *fakeLister) PIDs(label string) ([]int, error) {
	if f.i >= len(f.pids) {
		return f.pids[len(f.pids)-1], nil
	}
	p := f.pids[f.i]
	f.i++
	return p, nil
}

func threadsOf(table map[int][]int) ThreadLister {
	return func(pid int) ([]int, error) {
		return table[pid], nil
	}
}

func TestCycleEnteredExited(t *testing.T) {
	var entered, exited []int
	r := &Reconciler{
		Label:   "x",
		Lister:  &fakeLister{pids: [][]int{{10}}},
		Threads: threadsOf(map[int][]int{10: {1, 2}}),
		Entered: func(tid int) { entered = append(entered, tid) },
		Exited:  func(tid int) { exited = append(exited, tid) },
		Sleep:   func(time.Duration) {},
	}

	gone, err := r.Cycle()
	if err != nil {
		t.Fatal(err)
	}
	if gone {
		t.Fatal("Cycle reported gone on first, non-empty cycle")
	}
	if len(entered) != 2 || len(exited) != 0 {
		t.Fatalf("entered=%v exited=%v, want 2 entered, 0 exited", entered, exited)
	}
}

func TestCycleTerminatesOnTwoEmptyCycles(t *testing.T) {
	r := &Reconciler{
		Label:   "x",
		Lister:  &fakeLister{pids: [][]int{{10}, {}, {}}},
		Threads: threadsOf(map[int][]int{10: {1}}),
		Entered: func(int) {},
		Exited:  func(int) {},
		Sleep:   func(time.Duration) {},
	}

	if gone, err := r.Cycle(); err != nil || gone {
		t.Fatalf("cycle 1: gone=%v err=%v", gone, err)
	}
	if gone, err := r.Cycle(); err != nil || gone {
		t.Fatalf("cycle 2 (first empty): gone=%v err=%v", gone, err)
	}
	gone, err := r.Cycle()
	if err != nil {
		t.Fatal(err)
	}
	if !gone {
		t.Fatal("cycle 3 (second consecutive empty) did not report gone")
	}
}

func TestCycleRetriesEmptyPIDList(t *testing.T) {
	sleeps := 0
	r := &Reconciler{
		Label:   "x",
		Lister:  &fakeLister{pids: [][]int{{}}},
		Threads: threadsOf(nil),
		Entered: func(int) {},
		Exited:  func(int) {},
		Sleep:   func(time.Duration) { sleeps++ },
	}
	if _, err := r.Cycle(); err != nil {
		t.Fatal(err)
	}
	if sleeps != MaxEmptyRetries {
		t.Errorf("sleeps = %d, want %d", sleeps, MaxEmptyRetries)
	}
}

// TestCycleThreadsErrorIsFatal exercises spec.md §7's "inability to
// enumerate /proc/<pid>/task for a live PID is fatal" rule: Cycle must
// propagate a ThreadLister error rather than silently omitting that
// PID's threads from now.
func TestCycleThreadsErrorIsFatal(t *testing.T) {
	wantErr := errors.New("permission denied")
	r := &Reconciler{
		Label:  "x",
		Lister: &fakeLister{pids: [][]int{{10}}},
		Threads: func(pid int) ([]int, error) {
			return nil, wantErr
		},
		Entered: func(int) { t.Fatal("Entered called after a fatal Threads error") },
		Exited:  func(int) { t.Fatal("Exited called after a fatal Threads error") },
		Sleep:   func(time.Duration) {},
	}

	_, err := r.Cycle()
	if err == nil {
		t.Fatal("Cycle returned nil error for a failing ThreadLister")
	}
	if !errors.Is(err, wantErr) {
		t.Errorf("Cycle error = %v, want wrapping %v", err, wantErr)
	}
}
