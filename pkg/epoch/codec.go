// Package epoch encodes and decodes the 16-byte grace object header.
package epoch

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the exact on-disk size of an encoded Header.
const HeaderSize = 16

// Header is the current/recoverable epoch pair stored as the data portion
// of the shared grace object.
//
// C is the current epoch; it only ever increases. R is the recoverable
// epoch: zero means no cluster-wide grace period is in force, non-zero
// means reclaim is permitted for state created under epoch R and the
// invariant R < C holds.
type Header struct {
	C uint64
	R uint64
}

// GraceActive reports whether a cluster-wide grace period is in force.
func (h Header) GraceActive() bool {
	return h.R != 0
}

// Encode serializes the header as two little-endian u64 values, C then R.
func Encode(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.C)
	binary.LittleEndian.PutUint64(buf[8:16], h.R)
	return buf
}

// Decode parses a Header from its on-disk representation. The data must be
// exactly HeaderSize bytes; any other length is a corrupt object.
func Decode(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, fmt.Errorf("epoch: %w: header is %d bytes, want %d", ErrCorrupt, len(data), HeaderSize)
	}
	return Header{
		C: binary.LittleEndian.Uint64(data[0:8]),
		R: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}
