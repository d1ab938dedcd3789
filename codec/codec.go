// Package codec provides pluggable frame decoders/encoders for reactor TCP
// and UDP connections: a newline-terminated LineCodec and an 8-byte-header
// LengthCodec.
package codec

import "errors"

// Standard codec errors. A decode error always closes the connection that
// produced it.
var (
	ErrInvalidMagic  = errors.New("codec: invalid frame magic")
	ErrInvalidLength = errors.New("codec: invalid frame length")
	ErrFrameTooLarge = errors.New("codec: frame exceeds maximum length")
	ErrFrameHasDelim = errors.New("codec: frame contains delimiter byte")
)

// Codec decodes a byte stream into discrete frames and encodes frames back
// into bytes. Implementations are not safe for concurrent use; each
// connection owns its own instance, obtained via Clone, since a decoder may
// carry state across calls.
type Codec interface {
	// TryDecode scans view (the connection's unread input) for one frame.
	// It returns (0, nil, nil) if no complete frame is present yet, and
	// (n, frame, nil) on success, where n is the number of bytes the
	// caller should consume and frame is a view into the first n-8 (or
	// similar) payload bytes. A non-nil error means the stream is
	// corrupt and the connection must be closed.
	TryDecode(view []byte) (n int, frame []byte, err error)

	// Encode appends the wire representation of frame to dst, returning
	// the extended slice.
	Encode(dst []byte, frame []byte) ([]byte, error)

	// Clone returns a fresh, independent instance with the same
	// configuration, for use by a newly accepted connection.
	Clone() Codec
}
