// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perfevent manages groups of perf_event_open counters: opening
// a group leader and its members against a single thread, reading back
// the kernel-assigned event IDs, mapping the leader's ring buffer, and
// arming/disarming the group for overflow-driven sampling.
package perfevent

import (
	"golang.org/x/sys/unix"
)

// Spec names one event to include in a counter group. Type and Config
// are the perf_event_attr.type/config pair; Name is what the spec's
// wire records call this counter, independent of how the kernel
// identifies it (spec.md §3, §4.3).
type Spec struct {
	Name   string
	Type   uint32
	Config uint64
}

// DefaultEvents is the pair of hardware counters spec.md §2 requires
// every counter group to include: unhalted core cycles and unhalted
// reference cycles. Corresponds to perffile's EventHardwareCPUCycles
// and EventHardwareRefCPUCycles.
func DefaultEvents() []Spec {
	return []Spec{
		{Name: "unhalted cycles", Type: unix.PERF_TYPE_HARDWARE, Config: unix.PERF_COUNT_HW_CPU_CYCLES},
		{Name: "unhalted reference cycles", Type: unix.PERF_TYPE_HARDWARE, Config: unix.PERF_COUNT_HW_REF_CPU_CYCLES},
	}
}
