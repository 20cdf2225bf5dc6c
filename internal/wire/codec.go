// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package wire implements the framed wire protocol spoken to the
// collector: a 4-byte big-endian length prefix followed by an
// encoded sample or thread-exit record.
//
// Encoding is deterministic given its inputs. The only encode-side
// error is a payload too large for the 4-byte length prefix, a
// programmer error rather than a runtime transient: callers should
// treat it as fatal, per spec.md §4.1. Other WriteFrame errors come
// from the underlying writer.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Counter is one (event name, counter value) pair from a sample's
// read-group.
type Counter struct {
	Name  string
	Value uint64
}

// Record is a sample or thread-exit record, as described in
// spec.md §3. A thread-exit record is a Record with CPU, PID, and
// Timestamp zeroed, Counters and Traces empty, and only TID set.
type Record struct {
	CPU       uint32
	PID       uint32
	TID       uint32
	Timestamp uint64
	Counters  []Counter
	Traces    []string
}

// Sample builds a sample record.
func Sample(cpu, pid, tid uint32, timestampNS uint64, counters []Counter, traces []string) Record {
	return Record{
		CPU:       cpu,
		PID:       pid,
		TID:       tid,
		Timestamp: timestampNS,
		Counters:  counters,
		Traces:    traces,
	}
}

// ThreadExit builds a thread-exit record for tid, sent on the CPU-0
// socket per spec.md §3 and §4.5 step 6.
func ThreadExit(tid uint32) Record {
	return Record{TID: tid}
}

// IsThreadExit reports whether r is a thread-exit record, i.e. it
// carries no counters or traces.
func (r Record) IsThreadExit() bool {
	return len(r.Counters) == 0 && len(r.Traces) == 0
}

// Encode appends the encoded payload for r (without the length
// prefix) to dst and returns the result.
func Encode(dst []byte, r Record) []byte {
	e := bufEncoder{buf: dst}
	e.u32(r.CPU)
	e.u32(r.PID)
	e.u32(r.TID)
	e.u64(r.Timestamp)
	e.u32(uint32(len(r.Counters)))
	for _, c := range r.Counters {
		e.lenString(c.Name)
		e.u64(c.Value)
	}
	e.u32(uint32(len(r.Traces)))
	for _, t := range r.Traces {
		e.lenString(t)
	}
	return e.buf
}

// WriteFrame writes r to w as a 4-byte big-endian length prefix
// followed by its encoded payload. Per spec.md §4.1, a failure to
// encode (a payload too large for the length prefix) indicates
// programmer error; callers should treat it as fatal rather than
// retry. Errors from w are wrapped with the step that failed.
func WriteFrame(w io.Writer, r Record) error {
	payload := Encode(nil, r)
	if len(payload) > 1<<32-1 {
		return fmt.Errorf("wire: encoded record too large: %d bytes", len(payload))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return nil
}

// Decode decodes a single record payload (without its length
// prefix), as produced by Encode. It exists primarily to make the
// codec's round-trip property testable; the agent itself never
// decodes its own records.
func Decode(payload []byte) (Record, error) {
	d := bufDecoder{buf: payload}
	var r Record
	if !d.have(4 + 4 + 4 + 8 + 4) {
		return Record{}, fmt.Errorf("wire: short record: %d bytes", len(payload))
	}
	r.CPU = d.u32()
	r.PID = d.u32()
	r.TID = d.u32()
	r.Timestamp = d.u64()
	nCounters := d.u32()
	r.Counters = make([]Counter, 0, nCounters)
	for i := uint32(0); i < nCounters; i++ {
		name, err := d.lenString()
		if err != nil {
			return Record{}, fmt.Errorf("wire: decode counter %d name: %w", i, err)
		}
		if !d.have(8) {
			return Record{}, fmt.Errorf("wire: decode counter %d value: short buffer", i)
		}
		r.Counters = append(r.Counters, Counter{Name: name, Value: d.u64()})
	}
	if !d.have(4) {
		return Record{}, fmt.Errorf("wire: short trace count")
	}
	nTraces := d.u32()
	r.Traces = make([]string, 0, nTraces)
	for i := uint32(0); i < nTraces; i++ {
		s, err := d.lenString()
		if err != nil {
			return Record{}, fmt.Errorf("wire: decode trace %d: %w", i, err)
		}
		r.Traces = append(r.Traces, s)
	}
	if len(d.buf) != 0 {
		return Record{}, fmt.Errorf("wire: %d trailing bytes", len(d.buf))
	}
	return r, nil
}

// bufEncoder is a small append-only cursor over a byte slice,
// mirroring the read-side bufDecoder below. Both exist so the
// envelope and payload layout live in one place instead of being
// spelled out with encoding/binary calls at every call site.
type bufEncoder struct {
	buf []byte
}

func (e *bufEncoder) u32(x uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], x)
	e.buf = append(e.buf, b[:]...)
}

func (e *bufEncoder) u64(x uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], x)
	e.buf = append(e.buf, b[:]...)
}

func (e *bufEncoder) lenString(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// bufDecoder is the read-side counterpart of bufEncoder.
type bufDecoder struct {
	buf []byte
}

func (d *bufDecoder) have(n int) bool {
	return len(d.buf) >= n
}

func (d *bufDecoder) u32() uint32 {
	x := binary.BigEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return x
}

func (d *bufDecoder) u64() uint64 {
	x := binary.BigEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return x
}

func (d *bufDecoder) lenString() (string, error) {
	if !d.have(4) {
		return "", fmt.Errorf("short string length")
	}
	l := d.u32()
	if !d.have(int(l)) {
		return "", fmt.Errorf("short string: want %d bytes, have %d", l, len(d.buf))
	}
	s := string(d.buf[:l])
	d.buf = d.buf[l:]
	return s, nil
}
