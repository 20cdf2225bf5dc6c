// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []Record{
		Sample(0, 100, 101, 123456789, []Counter{
			{Name: "unhalted cycles", Value: 1000000},
			{Name: "unhalted reference cycles", Value: 900000},
		}, []string{"busy_loop", "main"}),
		Sample(3, 1, 1, 0, nil, []string{"main"}),
		ThreadExit(42),
	}
	for i, want := range cases {
		payload := Encode(nil, want)
		got, err := Decode(payload)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if !reflect.DeepEqual(normalize(got), normalize(want)) {
			t.Errorf("case %d: round trip mismatch:\n got  %+v\n want %+v", i, got, want)
		}
	}
}

// normalize nils out zero-length slices vs. nil slices, since Decode
// always allocates a (possibly zero-length) slice while literals may
// use nil.
func normalize(r Record) Record {
	if len(r.Counters) == 0 {
		r.Counters = nil
	}
	if len(r.Traces) == 0 {
		r.Traces = nil
	}
	return r
}

func TestThreadExitShape(t *testing.T) {
	r := ThreadExit(7)
	if !r.IsThreadExit() {
		t.Fatal("ThreadExit record does not report IsThreadExit")
	}
	if r.CPU != 0 || r.PID != 0 || r.Timestamp != 0 {
		t.Fatalf("ThreadExit record has non-zero envelope fields: %+v", r)
	}
	if r.TID != 7 {
		t.Fatalf("ThreadExit TID = %d, want 7", r.TID)
	}
}

func TestWriteFrameLengthPrefix(t *testing.T) {
	r := Sample(0, 1, 1, 1, []Counter{{Name: "unhalted cycles", Value: 1}}, []string{"main"})
	var buf bytes.Buffer
	if err := WriteFrame(&buf, r); err != nil {
		t.Fatal(err)
	}
	payload := Encode(nil, r)
	if buf.Len() != 4+len(payload) {
		t.Fatalf("frame length = %d, want %d", buf.Len(), 4+len(payload))
	}
	gotLen := binary.BigEndian.Uint32(buf.Bytes()[:4])
	if int(gotLen) != len(payload) {
		t.Fatalf("length prefix = %d, want %d", gotLen, len(payload))
	}
	if !bytes.Equal(buf.Bytes()[4:], payload) {
		t.Fatal("frame payload does not match Encode output")
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("Decode accepted a too-short buffer")
	}
}
