package codec

import (
	"encoding/binary"
)

// lengthMagic is the 4-byte ASCII magic prefixing every LengthCodec frame.
var lengthMagic = [4]byte{'m', 'B', 'd', 'T'}

// DefaultMaxFrameLength is the default maximum payload length accepted by
// a LengthCodec, before the 8-byte header.
const DefaultMaxFrameLength = 1 << 20 // 1 MiB

// LengthCodec frames messages as an 8-byte header ("mBdT" + big-endian
// int32 length) followed by the payload.
type LengthCodec struct {
	MaxFrameLength int
}

// NewLengthCodec creates a LengthCodec with the given maximum payload
// length. A non-positive value selects DefaultMaxFrameLength.
func NewLengthCodec(maxFrameLength int) *LengthCodec {
	if maxFrameLength <= 0 {
		maxFrameLength = DefaultMaxFrameLength
	}
	return &LengthCodec{MaxFrameLength: maxFrameLength}
}

// TryDecode implements Codec.
func (c *LengthCodec) TryDecode(view []byte) (int, []byte, error) {
	if len(view) < 8 {
		return 0, nil, nil
	}
	if view[0] != lengthMagic[0] || view[1] != lengthMagic[1] || view[2] != lengthMagic[2] || view[3] != lengthMagic[3] {
		return 0, nil, ErrInvalidMagic
	}

	n := int(int32(binary.BigEndian.Uint32(view[4:8])))
	if n <= 0 || n > c.MaxFrameLength {
		return 0, nil, ErrInvalidLength
	}

	total := 8 + n
	if len(view) < total {
		return 0, nil, nil
	}
	return total, view[8:total], nil
}

// Encode implements Codec.
func (c *LengthCodec) Encode(dst []byte, frame []byte) ([]byte, error) {
	if len(frame) > c.MaxFrameLength {
		return dst, ErrFrameTooLarge
	}
	dst = append(dst, lengthMagic[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(int32(len(frame))))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, frame...)
	return dst, nil
}

// Clone implements Codec.
func (c *LengthCodec) Clone() Codec {
	return &LengthCodec{MaxFrameLength: c.MaxFrameLength}
}
