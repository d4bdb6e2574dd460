// Package wire implements the length-prefixed integer and string codec used
// throughout a changeset: variable-width unsigned integers and
// length-prefixed byte strings, decoded from a cursor over an in-memory
// buffer and re-encoded the same way when the applier needs to hand a value
// back to its caller (the required-revision token).
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTruncated is returned when a decode needs more bytes than the buffer
// currently holds. Callers pull more bytes from the transport and retry;
// it is never a permanent failure by itself.
var ErrTruncated = errors.New("wire: need more bytes")

// ErrMalformed is returned when a decode finds bytes that aren't a valid
// encoding (a uint whose continuation bits run past the longest valid
// uint64 encoding, or whose value overflows 64 bits). Unlike ErrTruncated,
// more bytes will not fix this. A string length prefix longer than the
// remaining buffer is reported as ErrTruncated, not ErrMalformed.
var ErrMalformed = errors.New("wire: malformed encoding")

// maxVarintLen bounds how many bytes a uint64 varint may occupy, mirroring
// encoding/binary's own limit. A run of continuation bits longer than this
// can never be a truncated-but-valid value, so it's reported as malformed
// rather than "need more bytes" - this protects the item loop in
// internal/replicate from blocking forever on a hostile/corrupt peer.
const maxVarintLen = binary.MaxVarintLen64

// DecodeUint decodes a variable-width unsigned integer from the front of
// buf. On success it returns the value and the number of bytes consumed.
//
// The encoding is little-endian base-128: each byte holds 7 data bits in
// its low bits, and the high bit set means "more bytes follow". This is the
// same bit pattern as [encoding/binary.Uvarint]/[encoding/binary.PutUvarint];
// DecodeUint/AppendUint exist so callers get ErrTruncated vs ErrMalformed
// distinguished the way the changeset parser needs, rather than
// binary.Uvarint's single "n <= 0" signal.
func DecodeUint(buf []byte) (value uint64, n int, err error) {
	v, n := binary.Uvarint(buf)
	switch {
	case n > 0:
		return v, n, nil
	case n == 0:
		return 0, 0, ErrTruncated
	default:
		// n < 0: binary.Uvarint read more than maxVarintLen bytes of
		// continuation-bit-set data without terminating, or the value
		// overflowed 64 bits.
		return 0, 0, ErrMalformed
	}
}

// AppendUint appends the variable-width encoding of v to dst and returns
// the extended slice.
func AppendUint(dst []byte, v uint64) []byte {
	var tmp [maxVarintLen]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

// EncodeUint returns the variable-width encoding of v as a freshly
// allocated slice. It is the inverse of DecodeUint and is what the applier
// uses to re-encode required_revision into the token it returns to the
// caller.
func EncodeUint(v uint64) []byte {
	return AppendUint(nil, v)
}

// DecodeString decodes a length-prefixed byte string from the front of
// buf: a DecodeUint length, followed by that many raw bytes. The returned
// slice aliases buf - callers that need to retain it past the next buffer
// mutation must copy it.
func DecodeString(buf []byte) (s []byte, n int, err error) {
	length, ln, err := DecodeUint(buf)
	if err != nil {
		return nil, 0, err
	}

	rest := buf[ln:]
	if uint64(len(rest)) < length {
		return nil, 0, ErrTruncated
	}

	return rest[:length], ln + int(length), nil
}

// AppendString appends the length-prefixed encoding of s to dst.
func AppendString(dst []byte, s []byte) []byte {
	dst = AppendUint(dst, uint64(len(s)))
	return append(dst, s...)
}
