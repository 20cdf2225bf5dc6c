// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfevent

import (
	"os"
	"testing"
)

func TestOpenRejectsEmptyEventList(t *testing.T) {
	if _, err := Open(0, -1, 1000000, nil); err == nil {
		t.Fatal("Open with no events succeeded")
	}
}

// TestOpenArmReadClose exercises the real perf_event_open path against
// the current thread's cycle counter. It's skipped where the syscall
// is unavailable (containers without CAP_PERFMON/CAP_SYS_ADMIN, or
// perf_event_paranoid lockdown), since the kernel ABI this talks to
// can't be faked.
func TestOpenArmReadClose(t *testing.T) {
	g, err := Open(0, -1, 1000000, DefaultEvents())
	if err != nil {
		t.Skipf("perf_event_open unavailable: %v", err)
	}
	defer g.Close()

	if err := g.Map(os.Getpagesize()); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := g.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := g.Disarm(); err != nil {
		t.Fatalf("Disarm: %v", err)
	}

	for _, ev := range DefaultEvents() {
		found := false
		for _, id := range g.ids {
			if name, ok := g.Identify(id); ok && name == ev.Name {
				found = true
			}
		}
		if !found {
			t.Errorf("event %q not present in group ids after Open", ev.Name)
		}
	}
}
