// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfevent

import "encoding/binary"

// bufDecoder is a cursor over a native-endian byte buffer, modeled on
// perffile's bufDecoder but fixed to the host's own byte order since
// it only ever reads structures the local kernel just produced.
type bufDecoder struct {
	buf []byte
}

func (d *bufDecoder) u32() uint32 {
	x := binary.NativeEndian.Uint32(d.buf)
	d.buf = d.buf[4:]
	return x
}

func (d *bufDecoder) u64() uint64 {
	x := binary.NativeEndian.Uint64(d.buf)
	d.buf = d.buf[8:]
	return x
}
