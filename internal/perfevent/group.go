// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfevent

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// bufferPages is the number of data pages mapped after the perf
// ring buffer's header page. A tunable, not a contract: larger
// values tolerate longer overflow-handler latency before the kernel
// starts dropping samples.
const bufferPages = 8

// Group is one counter group: a leader event and zero or more
// member events opened against the same thread, sharing the
// leader's ring buffer and PERF_FORMAT_GROUP read format, per
// spec.md §4.3.
type Group struct {
	tid   int
	cpu   int
	fds   []int // fds[0] is the leader
	ids   []uint64
	names []string // names[i] is the event name for ids[i]

	ring []byte // mmap'd leader ring buffer: header page + bufferPages data pages
}

// Open opens a counter group of events against thread tid pinned to
// cpu, disabled, and reads back the kernel-assigned ID of every
// member. The group is not mapped or armed; call Map and then Arm.
// threshold is the leader's sample period, in the leader event's own
// counting units.
//
// Mirrors the original agent's open_counters: the leader is opened
// first with Disabled set, every other event is opened against the
// leader's fd with Disabled clear, and the event IDs are read back
// with a single group-format read before anything else touches the
// group.
func Open(tid, cpu int, threshold uint64, events []Spec) (g *Group, err error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("perfevent: Open: no events")
	}

	fds := make([]int, 0, len(events))
	defer func() {
		if err != nil {
			for _, fd := range fds {
				unix.Close(fd)
			}
		}
	}()

	leaderFD := -1
	for i, ev := range events {
		attr := unix.PerfEventAttr{
			Type:        ev.Type,
			Config:      ev.Config,
			Read_format: unix.PERF_FORMAT_GROUP | unix.PERF_FORMAT_ID,
		}
		attr.Size = uint32(unsafe.Sizeof(attr))
		if i == 0 {
			attr.Bits = unix.PerfBitDisabled
			attr.Sample = threshold
		}
		attr.Sample_type = unix.PERF_SAMPLE_IP | unix.PERF_SAMPLE_TID |
			unix.PERF_SAMPLE_CPU | unix.PERF_SAMPLE_PERIOD |
			unix.PERF_SAMPLE_READ

		fd, oerr := unix.PerfEventOpen(&attr, tid, cpu, leaderFD, unix.PERF_FLAG_FD_CLOEXEC)
		if oerr != nil {
			return nil, fmt.Errorf("perfevent: open %s: %w", ev.Name, oerr)
		}
		fds = append(fds, fd)
		if i == 0 {
			leaderFD = fd
		}
	}

	ids, names, err := readGroupIDs(leaderFD, events)
	if err != nil {
		return nil, err
	}

	return &Group{tid: tid, cpu: cpu, fds: fds, ids: ids, names: names}, nil
}

// readGroupIDs issues the single read() of the leader's fd that the
// kernel documents for PERF_FORMAT_GROUP|PERF_FORMAT_ID: a uint64
// count of members, followed by one (value, id) pair per member.
// The value itself is discarded here; only the id-to-name mapping
// is wanted, so that a sample's read-group can later be decoded
// against Identify.
func readGroupIDs(leaderFD int, events []Spec) ([]uint64, []string, error) {
	buf := make([]byte, 8*(1+2*len(events)))
	n, err := unix.Read(leaderFD, buf)
	if err != nil {
		return nil, nil, fmt.Errorf("perfevent: read group ids: %w", err)
	}
	if n != len(buf) {
		return nil, nil, fmt.Errorf("perfevent: read group ids: short read %d, want %d", n, len(buf))
	}

	d := bufDecoder{buf: buf}
	nr := d.u64()
	if int(nr) != len(events) {
		return nil, nil, fmt.Errorf("perfevent: group has %d members, opened %d", nr, len(events))
	}
	ids := make([]uint64, nr)
	names := make([]string, nr)
	for i := range ids {
		_ = d.u64() // value, unused here
		ids[i] = d.u64()
		names[i] = events[i].Name
	}
	return ids, names, nil
}

// Identify maps a kernel event id, as read from a sample's
// read-group, back to the name passed to Open. It reports false for
// an id this group didn't open, per spec.md §4.3's "unknown" fallback.
func (g *Group) Identify(id uint64) (string, bool) {
	for i, gid := range g.ids {
		if gid == id {
			return g.names[i], true
		}
	}
	return "", false
}

// IDFor returns the kernel-assigned id for the member named name, the
// inverse of Identify. It reports false if name was not passed to
// Open.
func (g *Group) IDFor(name string) (uint64, bool) {
	for i, n := range g.names {
		if n == name {
			return g.ids[i], true
		}
	}
	return 0, false
}

// LeaderFD is the file descriptor the main loop polls for overflow
// readiness, per spec.md §4.6 and the fd-readiness variant §9 allows
// in place of a true asynchronous signal handler.
func (g *Group) LeaderFD() int {
	return g.fds[0]
}

// TID is the thread this group samples.
func (g *Group) TID() int { return g.tid }

// CPU is the CPU this group is pinned to.
func (g *Group) CPU() int { return g.cpu }

// Map mmaps the leader's ring buffer: one header page followed by
// bufferPages data pages, per spec.md §4.3 and the original's
// mmap(NULL, (buffer_pages+1)*pagesize, ...) call.
func (g *Group) Map(pageSize int) error {
	size := (bufferPages + 1) * pageSize
	data, err := unix.Mmap(g.fds[0], 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("perfevent: mmap: %w", err)
	}
	g.ring = data
	return nil
}

// Unmap releases the ring buffer mapping established by Map.
func (g *Group) Unmap() error {
	if g.ring == nil {
		return nil
	}
	err := unix.Munmap(g.ring)
	g.ring = nil
	if err != nil {
		return fmt.Errorf("perfevent: munmap: %w", err)
	}
	return nil
}

// Arm enables asynchronous notification for the group: REFRESH to
// request one more wakeup per overflow and RESET to zero the
// counters, applied group-wide. This matches the original's
// reset_fd path taken at startup and again after every sample is
// consumed.
func (g *Group) Arm() error {
	if err := ioctlGroup(g.fds[0], unix.PERF_EVENT_IOC_REFRESH); err != nil {
		return fmt.Errorf("perfevent: ioctl refresh: %w", err)
	}
	if err := ioctlGroup(g.fds[0], unix.PERF_EVENT_IOC_RESET); err != nil {
		return fmt.Errorf("perfevent: ioctl reset: %w", err)
	}
	// REFRESH alone does not clear a prior manual DISABLE; ENABLE
	// is required after every REFRESH+RESET to guarantee the group
	// is actually counting again.
	if err := ioctlGroup(g.fds[0], unix.PERF_EVENT_IOC_ENABLE); err != nil {
		return fmt.Errorf("perfevent: ioctl enable: %w", err)
	}
	return nil
}

// Disarm stops the group from counting, without unmapping it. Called
// at the top of the overflow handler before the ring buffer is read.
func (g *Group) Disarm() error {
	if err := ioctlGroup(g.fds[0], unix.PERF_EVENT_IOC_DISABLE); err != nil {
		return fmt.Errorf("perfevent: ioctl disable: %w", err)
	}
	return nil
}

// ioctlGroup issues ioctl req on the leader fd with its argument set
// to PERF_IOC_FLAG_GROUP, so the kernel applies it to every member of
// the group rather than just the leader.
func ioctlGroup(fd int, req uint) error {
	return unix.IoctlSetInt(fd, req, unix.PERF_IOC_FLAG_GROUP)
}

// Close closes every fd opened by Open and releases the ring buffer
// mapping if one is still held.
func (g *Group) Close() error {
	if err := g.Unmap(); err != nil {
		return err
	}
	var firstErr error
	for _, fd := range g.fds {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("perfevent: close fd %d: %w", fd, err)
		}
	}
	return firstErr
}
