// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build arm64

package unwind

import "golang.org/x/sys/unix"

// frameRegs extracts pc and x29 (the AArch64 procedure-call-standard
// frame pointer) from a stopped thread's general registers.
func frameRegs(regs *unix.PtraceRegs) (ip, bp uint64) {
	return regs.Pc, regs.Regs[29]
}
