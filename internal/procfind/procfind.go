// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package procfind discovers the process IDs backing a running
// command, and enumerates the threads of a process via /proc.
package procfind

import (
	"fmt"
	"os"
	"sort"
	"strconv"
)

// PIDLister answers "which processes are currently running command
// label?". It is the external-collaborator boundary spec.md §4.5
// step 1 describes ("asking the collaborator 'pids for command label
// L'"). The thread reconciler declares its own interface with the
// same method, reconcile.PIDLister, which ProcLister also satisfies.
type PIDLister interface {
	PIDs(label string) ([]int, error)
}

// ProcLister is a PIDLister that scans /proc/*/comm directly,
// avoiding a dependency on the external `ps` binary the original
// agent shells out to. Grounded on the cpu_profiler.go helpers that
// read /proc/<pid>/comm and /proc/<pid>/exe directly rather than
// invoking a subprocess.
type ProcLister struct{}

// PIDs returns the PIDs of every process whose /proc/<pid>/comm
// matches label exactly, in ascending order.
func (ProcLister) PIDs(label string) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("procfind: read /proc: %w", err)
	}

	var pids []int
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
		if err != nil {
			continue // process raced out from under us
		}
		if trimNewline(comm) == label {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids, nil
}

func trimNewline(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return string(b)
}

// Threads returns the thread IDs of pid by enumerating
// /proc/<pid>/task, rejecting any entry that doesn't parse as a
// decimal integer, per spec.md §4.5 step 2. The result is sorted
// ascending.
func Threads(pid int) ([]int, error) {
	dir := fmt.Sprintf("/proc/%d/task", pid)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("procfind: read %s: %w", dir, err)
	}

	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	sort.Ints(tids)
	return tids, nil
}
