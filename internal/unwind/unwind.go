// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// MaxFrames bounds a single unwind, per spec.md §4.6 step 7: "256 is
// the implementation's choice; the cap is a contract against runaway
// unwinds."
const MaxFrames = 256

// Context is a thread's remote-unwinder context: the address-space
// handle spec.md §4.4 describes, reduced to what a frame-pointer walk
// over ptrace needs. It carries no kernel resources of its own (the
// ptrace attach/detach pair brackets each use) and is safe to keep
// around for the life of the thread.
type Context struct {
	pid int // owning process, for symbol resolution
	tid int // the thread itself, for ptrace
}

// Registry maps a live thread to its unwinder Context, created
// lazily on first sight and freed on thread exit, per spec.md §4.4.
// A linear scan would satisfy the "bounded time" requirement at the
// registry's expected population (tens to low thousands of threads),
// but a map gives the same bound with less code. The map is guarded
// by its own lock, since the sample handler looks contexts up while
// the reconciler creates and destroys them.
type Registry struct {
	mu       sync.Mutex
	contexts map[int]*Context
}

// NewRegistry returns an empty unwinder registry.
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[int]*Context)}
}

// Create allocates and registers a Context for tid in process pid.
// Called by the thread reconciler when tid is first seen.
func (r *Registry) Create(pid, tid int) *Context {
	c := &Context{pid: pid, tid: tid}
	r.mu.Lock()
	r.contexts[tid] = c
	r.mu.Unlock()
	return c
}

// Lookup returns tid's Context, or nil if tid is not registered.
func (r *Registry) Lookup(tid int) *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contexts[tid]
}

// Destroy frees tid's Context. Called by the thread reconciler when
// tid has exited.
func (r *Registry) Destroy(tid int) {
	r.mu.Lock()
	delete(r.contexts, tid)
	r.mu.Unlock()
}

// Frame is one unwound stack frame: the raw instruction pointer and
// its resolved symbol name (possibly empty, see Walk).
type Frame struct {
	IP     uint64
	Symbol string
}

// Walk attaches to tid via ptrace and walks its call stack, treating
// tid as its own owning process for symbol resolution. It is a
// convenience wrapper around Context.Walk for callers that have no
// Registry entry, such as tests.
func Walk(tid int, resolver SymbolResolver) ([]Frame, error) {
	return walkThread(tid, tid, resolver)
}

// Walk initializes a remote unwind cursor from c and walks the
// sampled thread's call stack, per spec.md §4.6 step 7.
func (c *Context) Walk(resolver SymbolResolver) ([]Frame, error) {
	return walkThread(c.tid, c.pid, resolver)
}

// walkThread attaches to tid via ptrace, waits for it to stop, and
// walks its call stack using rbp-chained frame pointers starting from
// the thread's current rip/rbp, resolving each frame's IP (within
// process pid's address space) through resolver. It stops per
// spec.md §4.6 step 7: IP == 0, an empty symbol name, the symbol is
// exactly "main", or MaxFrames is reached — checked in that order,
// matching the original agent's empty-name-before-main ordering.
//
// walkThread always detaches before returning, even on error.
func walkThread(tid, pid int, resolver SymbolResolver) ([]Frame, error) {
	if err := unix.PtraceAttach(tid); err != nil {
		return nil, fmt.Errorf("unwind: ptrace attach %d: %w", tid, err)
	}
	defer unix.PtraceDetach(tid)

	var status unix.WaitStatus
	if _, err := unix.Wait4(tid, &status, 0, nil); err != nil {
		return nil, fmt.Errorf("unwind: wait for stop of %d: %w", tid, err)
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(tid, &regs); err != nil {
		return nil, fmt.Errorf("unwind: get regs of %d: %w", tid, err)
	}
	ip, bp := frameRegs(&regs)

	frames := make([]Frame, 0, 8)
	for len(frames) < MaxFrames {
		if ip == 0 {
			break
		}
		name := resolver.Resolve(pid, ip)
		if name == "" {
			break
		}
		frames = append(frames, Frame{IP: ip, Symbol: name})
		if name == "main" {
			break
		}

		if bp == 0 {
			break
		}
		savedBP, err := peekWord(tid, uintptr(bp))
		if err != nil {
			break
		}
		retAddr, err := peekWord(tid, uintptr(bp+8))
		if err != nil {
			break
		}
		bp = savedBP
		ip = retAddr
	}
	return frames, nil
}

// peekWord reads one 8-byte word from tid's address space at addr.
func peekWord(tid int, addr uintptr) (uint64, error) {
	var buf [8]byte
	n, err := unix.PtracePeekData(tid, addr, buf[:])
	if err != nil {
		return 0, fmt.Errorf("unwind: peek %#x: %w", addr, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("unwind: short peek at %#x: %d bytes", addr, n)
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}
