package codec

import "bytes"

// EOT is the end-of-transmission sentinel: a single byte 0x04 delivered
// alone is a complete frame, signaling the sender intends to close.
const EOT = 0x04

// LineCodec frames messages terminated by '\n', with an optional preceding
// '\r' stripped. A lone 0x04 byte is a special end-of-transmission frame.
type LineCodec struct{}

// NewLineCodec creates a LineCodec. It carries no state, so every clone is
// interchangeable, but Clone is still implemented for interface conformance
// and symmetry with LengthCodec.
func NewLineCodec() *LineCodec { return &LineCodec{} }

// TryDecode implements Codec.
func (c *LineCodec) TryDecode(view []byte) (int, []byte, error) {
	if len(view) == 1 && view[0] == EOT {
		return 1, view[:1], nil
	}

	idx := bytes.IndexByte(view, '\n')
	if idx < 0 {
		return 0, nil, nil
	}

	end := idx
	if end > 0 && view[end-1] == '\r' {
		end--
	}
	return idx + 1, view[:end], nil
}

// Encode implements Codec. frame must not contain '\n'.
func (c *LineCodec) Encode(dst []byte, frame []byte) ([]byte, error) {
	if bytes.IndexByte(frame, '\n') >= 0 {
		return dst, ErrFrameHasDelim
	}
	dst = append(dst, frame...)
	dst = append(dst, '\r', '\n')
	return dst, nil
}

// Clone implements Codec.
func (c *LineCodec) Clone() Codec { return &LineCodec{} }
