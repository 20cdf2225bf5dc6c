// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package agent

import (
	"log"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aclements/perf-agent/internal/perfevent"
	"github.com/aclements/perf-agent/internal/unwind"
	"github.com/aclements/perf-agent/internal/wire"
)

// pollTimeoutMS bounds how long pollLoop blocks in unix.Poll before
// checking stop and re-reading the fd table. It is not a sampling
// latency knob: a ready fd wakes Poll immediately.
const pollTimeoutMS = 200

// pollLoop is the main-loop counterpart of spec.md §4.6's
// signal-driven sample handler. Rather than running the handler in a
// true asynchronous-signal context — which Go's runtime does not let
// user code do safely, since ptrace and socket writes are not
// signal-safe operations — it takes the fd-readiness alternative
// spec.md §9 explicitly allows: each leader fd is pollable for
// POLLIN as soon as the kernel has queued a sample, and this loop
// services it from ordinary goroutine context.
func (a *Agent) pollLoop(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		pollfds, entries := a.snapshotFDs()
		if len(pollfds) == 0 {
			time.Sleep(pollTimeoutMS * time.Millisecond)
			continue
		}

		n, err := unix.Poll(pollfds, pollTimeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			log.Printf("agent: poll: %v", err)
			continue
		}
		if n == 0 {
			continue
		}

		for i, pfd := range pollfds {
			if pfd.Revents&unix.POLLIN == 0 {
				continue
			}
			a.handleOverflow(entries[i])
		}
	}
}

// snapshotFDs takes a point-in-time copy of the leader fd table under
// a.mu, per spec.md §5's requirement that the handler never observes
// a torn table.
func (a *Agent) snapshotFDs() ([]unix.PollFd, []*perfevent.Group) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pollfds := make([]unix.PollFd, 0, len(a.byFD))
	groups := make([]*perfevent.Group, 0, len(a.byFD))
	for fd, entry := range a.byFD {
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		groups = append(groups, entry.group)
	}
	return pollfds, groups
}

// handleOverflow runs spec.md §4.6 steps 1–10 for every sample
// currently queued on g's ring buffer.
func (a *Agent) handleOverflow(g *perfevent.Group) {
	timestamp := uint64(time.Now().UnixNano()) // step 1

	if err := g.Disarm(); err != nil { // step 2
		log.Printf("agent: disarm tid %d cpu %d: %v", g.TID(), g.CPU(), err)
		return
	}

	a.mu.Lock()
	_, stillLive := a.threads[g.TID()]
	a.mu.Unlock()
	if !stillLive { // step 3: descriptor no longer resolves to a known thread
		return
	}

	for {
		sample, ok, err := g.Next() // steps 4-5
		if err != nil {
			log.Printf("agent: read sample tid %d cpu %d: %v", g.TID(), g.CPU(), err)
			break
		}
		if !ok {
			break
		}
		a.deliverSample(g, timestamp, sample)
	}

	if err := g.Arm(); err != nil { // step 10
		log.Fatalf("agent: reset counter group tid %d cpu %d: %v", g.TID(), g.CPU(), err)
	}
}

// deliverSample runs the unwind-and-send portion of the handler
// (steps 6-9) for one already-decoded sample.
func (a *Agent) deliverSample(g *perfevent.Group, timestamp uint64, sample *perfevent.Sample) {
	ctx := a.registry.Lookup(g.TID())
	if ctx == nil {
		return // thread deregistered since this fd was snapshotted
	}
	frames, err := ctx.Walk(a.resolver) // steps 6, 7, 9 (Walk attaches/detaches internally)
	if err != nil {
		return // attach/wait failure: drop this sample, per spec.md §7
	}
	if len(frames) == 0 {
		return // step 8: zero frames, drop silently
	}

	rec := buildRecord(g, uint32(g.CPU()), timestamp, sample, frames)
	if err := a.fabric.Send(g.CPU(), frame(rec)); err != nil {
		log.Printf("agent: send sample tid %d cpu %d: %v", g.TID(), g.CPU(), err)
	}
}

// buildRecord assembles a wire.Record from a decoded ring-buffer
// sample and its resolved frames, mapping each read-group entry's
// kernel id back to its configured event name via g.Identify, falling
// back to "unknown" per spec.md §4.6 step 5 and §8's testable
// property on counter keys.
func buildRecord(g *perfevent.Group, cpu uint32, timestamp uint64, sample *perfevent.Sample, frames []unwind.Frame) wire.Record {
	counters := make([]wire.Counter, len(sample.Values))
	for i, v := range sample.Values {
		name, ok := g.Identify(v.ID)
		if !ok {
			name = "unknown"
		}
		counters[i] = wire.Counter{Name: name, Value: v.Value}
	}

	traces := make([]string, len(frames))
	for i, f := range frames {
		traces[i] = f.Symbol
	}

	return wire.Sample(cpu, sample.PID, sample.TID, timestamp, counters, traces)
}
