// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfevent

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sample is one decoded PERF_RECORD_SAMPLE, in the exact field order
// spec.md §4.6 step 5 mandates: IP, PID, TID, CPU, period, then the
// read-group's per-event values.
type Sample struct {
	IP     uint64
	PID    uint32
	TID    uint32
	CPU    uint32
	Period uint64
	Values []GroupValue
}

// GroupValue is one member's value from a sample's PERF_FORMAT_GROUP
// read, before Identify has resolved its id to a counter name.
type GroupValue struct {
	ID    uint64
	Value uint64
}

// page overlays the mapped ring buffer's header page with the
// kernel's perf_event_mmap_page layout, so Data_head/Data_tail can be
// read and written without re-deriving their offsets by hand.
func (g *Group) page() *unix.PerfEventMmapPage {
	return (*unix.PerfEventMmapPage)(unsafe.Pointer(&g.ring[0]))
}

// Next consumes the next record from the ring buffer. It reports
// (nil, false, nil) when the buffer is caught up to the kernel's
// write position. Non-sample records (RecordComm, RecordExit, and
// the like) are skipped and never returned, since the wire protocol
// this agent speaks has no use for them.
func (g *Group) Next() (*Sample, bool, error) {
	hdr := g.page()
	dataHead := atomic.LoadUint64(&hdr.Data_head)
	dataTail := hdr.Data_tail
	if dataHead == dataTail {
		return nil, false, nil
	}

	data := g.ring[hdr.Data_offset:][:hdr.Data_size]
	size := uint64(len(data))

	for dataTail < dataHead {
		rec, recSize, err := readRecord(data, dataTail%size, size)
		if err != nil {
			atomic.StoreUint64(&hdr.Data_tail, dataHead)
			return nil, false, fmt.Errorf("perfevent: ring buffer: %w", err)
		}
		dataTail += recSize
		if rec != nil {
			atomic.StoreUint64(&hdr.Data_tail, dataTail)
			return rec, true, nil
		}
	}
	atomic.StoreUint64(&hdr.Data_tail, dataTail)
	return nil, false, nil
}

const (
	recordTypeSample = 9 // PERF_RECORD_SAMPLE
)

// readRecord reads one ring-buffer record starting at byte offset
// off within data (a size-byte ring that wraps), returning the
// decoded sample (nil for a record type this agent ignores) and the
// record's total size in bytes, header included.
func readRecord(data []byte, off, size uint64) (*Sample, uint64, error) {
	hdr := readWrapped(data, off, 8, size)
	typ := binary.NativeEndian.Uint32(hdr[0:4])
	recSize := uint64(binary.NativeEndian.Uint16(hdr[6:8]))
	if recSize < 8 {
		return nil, 0, fmt.Errorf("invalid record size %d", recSize)
	}
	if typ != recordTypeSample {
		return nil, recSize, nil
	}

	body := readWrapped(data, (off+8)%size, recSize-8, size)
	d := bufDecoder{buf: body}
	s := &Sample{}
	s.IP = d.u64()
	s.PID = d.u32()
	s.TID = d.u32()
	s.CPU = d.u32()
	_ = d.u32() // reserved, per perf_event_open(2)'s sample_id rules
	s.Period = d.u64()
	nr := d.u64()
	s.Values = make([]GroupValue, nr)
	for i := range s.Values {
		s.Values[i].Value = d.u64()
		s.Values[i].ID = d.u64()
	}
	return s, recSize, nil
}

// readWrapped copies n bytes starting at off out of the size-byte
// ring data, handling the wraparound at the end of the buffer.
func readWrapped(data []byte, off, n, size uint64) []byte {
	if off+n <= size {
		return data[off : off+n]
	}
	out := make([]byte, n)
	first := size - off
	copy(out, data[off:])
	copy(out[first:], data[:n-first])
	return out
}
