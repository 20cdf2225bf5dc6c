// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build amd64

package unwind

import "golang.org/x/sys/unix"

// frameRegs extracts the instruction pointer and frame-pointer
// register needed to start a frame-pointer walk from a stopped
// thread's general registers.
func frameRegs(regs *unix.PtraceRegs) (ip, bp uint64) {
	return regs.Rip, regs.Rbp
}
