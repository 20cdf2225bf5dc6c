// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package agent wires the counter group manager, unwinder registry,
// thread reconciler, socket fabric, and wire codec into the sampling
// engine's startup, steady-state, and shutdown sequence.
package agent

import (
	"bytes"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/aclements/perf-agent/internal/perfevent"
	"github.com/aclements/perf-agent/internal/procfind"
	"github.com/aclements/perf-agent/internal/reconcile"
	"github.com/aclements/perf-agent/internal/sockets"
	"github.com/aclements/perf-agent/internal/unwind"
	"github.com/aclements/perf-agent/internal/wire"
)

// Config holds the agent's startup parameters. Threshold, Label and
// Command come from the CLI per spec.md §6; New fills in NumCPU and
// Period when they are left zero.
type Config struct {
	Threshold uint64        // leader sample period, in counter units
	Label     string        // target label, used in socket paths
	Command   string        // command passed to the PID lister
	NumCPU    int           // defaults to runtime.NumCPU() if zero
	Period    time.Duration // reconciler interval; defaults to 250ms
}

// fdEntry is one leader fd's bookkeeping: which group it belongs to
// and where that group's thread/CPU pair live.
type fdEntry struct {
	group *perfevent.Group
}

// Agent is a running sampling engine for one target. Construct one
// with New and drive it with Run.
type Agent struct {
	cfg      Config
	fabric   *sockets.Fabric
	resolver unwind.SymbolResolver
	registry *unwind.Registry
	events   []perfevent.Spec

	// mu guards the two tables below, which the poll loop reads and
	// the reconciler's Entered/Exited callbacks mutate, per spec.md §5.
	// The unwinder registry, also shared between the two, does its
	// own locking.
	mu      sync.Mutex
	threads map[int][]*perfevent.Group // tid -> one group per CPU
	byFD    map[int]fdEntry            // leader fd -> owning group

	pageSize int
}

// New builds an Agent from cfg, filling in defaults. It does not open
// any kernel or socket resources; call Run to bring the agent up.
func New(cfg Config) *Agent {
	if cfg.NumCPU == 0 {
		cfg.NumCPU = runtime.NumCPU()
	}
	if cfg.Period == 0 {
		cfg.Period = 250 * time.Millisecond
	}
	return &Agent{
		cfg:      cfg,
		resolver: unwind.NewELFResolver(),
		registry: unwind.NewRegistry(),
		events:   perfevent.DefaultEvents(),
		threads:  make(map[int][]*perfevent.Group),
		byFD:     make(map[int]fdEntry),
	}
}

// Run brings the agent up, drives the reconciler until the target is
// gone, and shuts down cleanly. It returns nil only on a clean
// termination (spec.md §4.5's "now and previous both empty" trigger);
// any other return is a fatal condition per spec.md §7 and the
// caller should exit non-zero.
func (a *Agent) Run(lister reconcile.PIDLister) (err error) {
	a.pageSize = unix.Getpagesize() // startup order per spec.md §4.7: page size first

	fabric, err := sockets.Start(a.cfg.Label, a.cfg.Command, a.cfg.NumCPU)
	if err != nil {
		return fmt.Errorf("agent: socket fabric startup: %w", err)
	}
	a.fabric = fabric
	defer func() {
		if serr := a.fabric.Shutdown(); serr != nil {
			log.Printf("agent: shutdown: %v", serr)
		}
	}()

	stopPoll := make(chan struct{})
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		a.pollLoop(stopPoll)
	}()
	defer func() {
		close(stopPoll)
		<-pollDone
	}()

	r := &reconcile.Reconciler{
		Label:   a.cfg.Command,
		Period:  a.cfg.Period,
		Lister:  lister,
		Threads: procfind.Threads,
		Entered: a.threadEntered,
		Exited:  a.threadExited,
	}

	for {
		gone, err := r.Cycle()
		if err != nil {
			return fmt.Errorf("agent: reconciler cycle: %w", err)
		}
		if gone {
			return nil
		}
		time.Sleep(a.cfg.Period)
	}
}

// threadEntered opens one counter group per CPU for tid and registers
// an unwinder context, per spec.md §4.5 step 5. A failure to open any
// group is fatal, per spec.md §7's "opening a counter group at
// reconciler-induced thread appearance".
func (a *Agent) threadEntered(tid int) {
	groups := make([]*perfevent.Group, 0, a.cfg.NumCPU)
	for cpu := 0; cpu < a.cfg.NumCPU; cpu++ {
		g, err := perfevent.Open(tid, cpu, a.cfg.Threshold, a.events)
		if err != nil {
			log.Fatalf("agent: open counter group for tid %d cpu %d: %v", tid, cpu, err)
		}
		if err := g.Map(a.pageSize); err != nil {
			log.Fatalf("agent: map counter group for tid %d cpu %d: %v", tid, cpu, err)
		}
		if err := g.Arm(); err != nil {
			log.Fatalf("agent: arm counter group for tid %d cpu %d: %v", tid, cpu, err)
		}
		groups = append(groups, g)
	}

	a.registry.Create(tid, tid)

	a.mu.Lock()
	a.threads[tid] = groups
	for _, g := range groups {
		a.byFD[g.LeaderFD()] = fdEntry{group: g}
	}
	a.mu.Unlock()
}

// threadExited emits tid's thread-exit record on the CPU-0 socket,
// then closes its counter groups and unwinder context, per spec.md
// §4.5 step 6.
func (a *Agent) threadExited(tid int) {
	a.mu.Lock()
	groups := a.threads[tid]
	delete(a.threads, tid)
	for _, g := range groups {
		delete(a.byFD, g.LeaderFD())
	}
	a.mu.Unlock()

	if err := a.fabric.Send(0, frame(wire.ThreadExit(uint32(tid)))); err != nil {
		log.Printf("agent: send thread-exit for tid %d: %v", tid, err)
	}

	for _, g := range groups {
		if err := g.Close(); err != nil {
			log.Printf("agent: close counter group for tid %d: %v", tid, err)
		}
	}
	if elf, ok := a.resolver.(*unwind.ELFResolver); ok {
		elf.Forget(tid)
	}
	a.registry.Destroy(tid)
}

// frame encodes r as a length-prefixed wire frame, per spec.md §4.1.
// Fabric.Send wants the whole frame as a byte slice; wire.WriteFrame
// writes straight to an io.Writer, so a bytes.Buffer bridges the two.
func frame(r wire.Record) []byte {
	var buf bytes.Buffer
	if err := wire.WriteFrame(&buf, r); err != nil {
		// Encode errors are programmer errors, per spec.md §4.1;
		// there is no runtime condition that reaches here.
		log.Fatalf("agent: encode record: %v", err)
	}
	return buf.Bytes()
}
