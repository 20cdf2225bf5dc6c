// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package procfind

import (
	"os"
	"testing"
)

func TestThreadsSelf(t *testing.T) {
	tids, err := Threads(os.Getpid())
	if err != nil {
		t.Fatal(err)
	}
	if len(tids) == 0 {
		t.Fatal("Threads(self) returned no threads")
	}
	for i := 1; i < len(tids); i++ {
		if tids[i-1] >= tids[i] {
			t.Fatalf("Threads(self) not strictly ascending: %v", tids)
		}
	}
}

func TestThreadsNoSuchProcess(t *testing.T) {
	if _, err := Threads(1 << 30); err == nil {
		t.Fatal("Threads on a nonexistent pid succeeded")
	}
}

func TestProcListerFindsSelf(t *testing.T) {
	comm, err := os.ReadFile("/proc/self/comm")
	if err != nil {
		t.Skipf("no /proc/self/comm: %v", err)
	}
	label := trimNewline(comm)

	pids, err := ProcLister{}.PIDs(label)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	self := os.Getpid()
	for _, p := range pids {
		if p == self {
			found = true
		}
	}
	if !found {
		t.Errorf("ProcLister.PIDs(%q) = %v, missing self pid %d", label, pids, self)
	}
}
