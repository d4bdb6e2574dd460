package wire

import "fmt"

// Revision is an opaque token whose contents are a single DecodeUint-encoded
// unsigned integer. Revisions are monotonically non-decreasing across
// successive committed states of a database; two tokens are comparable by
// decoding both and comparing the integers.
type Revision []byte

// DecodeRevision decodes a Revision token to its integer value. A token
// that is not exactly one complete uint encoding is an error wrapping
// ErrTruncated or ErrMalformed.
func DecodeRevision(r Revision) (uint64, error) {
	v, n, err := DecodeUint(r)
	if err != nil {
		return 0, fmt.Errorf("decoding revision token: %w", err)
	}

	if n != len(r) {
		return 0, fmt.Errorf("%w: trailing bytes after revision token", ErrMalformed)
	}

	return v, nil
}

// EncodeRevision encodes v as a Revision token.
func EncodeRevision(v uint64) Revision {
	return Revision(EncodeUint(v))
}

// AtLeast reports whether a >= b once both are decoded as unsigned
// integers. A malformed token on either side is an error, not a panic or a
// silent false.
func AtLeast(a, b Revision) (bool, error) {
	av, err := DecodeRevision(a)
	if err != nil {
		return false, fmt.Errorf("left operand: %w", err)
	}

	bv, err := DecodeRevision(b)
	if err != nil {
		return false, fmt.Errorf("right operand: %w", err)
	}

	return av >= bv, nil
}
