// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"os"
	"os/exec"
	"testing"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Lookup(1) != nil {
		t.Fatal("Lookup on empty registry returned non-nil")
	}
	c := r.Create(100, 1)
	if r.Lookup(1) != c {
		t.Fatal("Lookup did not return the Context from Create")
	}
	r.Destroy(1)
	if r.Lookup(1) != nil {
		t.Fatal("Lookup after Destroy returned non-nil")
	}
}

// TestWalkRealProcess exercises the ptrace attach/walk/detach path
// against a real child process. It's skipped when ptrace is denied
// (unprivileged containers, Yama ptrace_scope lockdown) since the
// kernel primitive this drives can't be faked.
func TestWalkRealProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start child: %v", err)
	}
	defer cmd.Process.Kill()

	frames, err := Walk(cmd.Process.Pid, NewELFResolver())
	if err != nil {
		t.Skipf("ptrace unavailable: %v", err)
	}
	if len(frames) > MaxFrames {
		t.Errorf("got %d frames, want <= %d", len(frames), MaxFrames)
	}
}

// TestContextWalkRealProcess exercises the registry-backed Walk path
// a real sample handler takes, as opposed to the standalone Walk
// convenience wrapper TestWalkRealProcess exercises.
func TestContextWalkRealProcess(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Skipf("could not start child: %v", err)
	}
	defer cmd.Process.Kill()

	pid := cmd.Process.Pid
	r := NewRegistry()
	ctx := r.Create(pid, pid)

	frames, err := ctx.Walk(NewELFResolver())
	if err != nil {
		t.Skipf("ptrace unavailable: %v", err)
	}
	if len(frames) > MaxFrames {
		t.Errorf("got %d frames, want <= %d", len(frames), MaxFrames)
	}
}

func TestELFResolverSelf(t *testing.T) {
	r := NewELFResolver()
	// The test binary itself is a valid ELF file with DWARF info;
	// resolving address 0 should simply fail to find a containing
	// function rather than panicking.
	if name := r.Resolve(os.Getpid(), 0); name != "" {
		t.Errorf("Resolve(0) = %q, want empty", name)
	}
	r.Forget(os.Getpid())
}
