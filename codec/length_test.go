package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLengthCodec_RoundTrip(t *testing.T) {
	c := NewLengthCodec(0)
	buf, err := c.Encode(nil, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, buf, 13)

	n, frame, err := c.TryDecode(buf)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, "hello", string(frame))
}

func TestLengthCodec_FragmentedDelivery(t *testing.T) {
	c := NewLengthCodec(0)
	header := []byte{'m', 'B', 'd', 'T', 0, 0, 0, 5}

	n, frame, err := c.TryDecode(append(append([]byte{}, header...), []byte("he")...))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Nil(t, frame)

	full := append(append([]byte{}, header...), []byte("hello")...)
	n, frame, err = c.TryDecode(full)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, "hello", string(frame))
}

func TestLengthCodec_InvalidMagic(t *testing.T) {
	c := NewLengthCodec(0)
	_, _, err := c.TryDecode([]byte("XXXX\x00\x00\x00\x05hello"))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestLengthCodec_InvalidLength(t *testing.T) {
	c := NewLengthCodec(0)
	_, _, err := c.TryDecode([]byte{'m', 'B', 'd', 'T', 0, 0, 0, 0})
	require.ErrorIs(t, err, ErrInvalidLength)

	_, _, err = c.TryDecode([]byte{'m', 'B', 'd', 'T', 0xFF, 0xFF, 0xFF, 0xFF})
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestLengthCodec_MaxFrameLength(t *testing.T) {
	c := NewLengthCodec(4)
	_, err := c.Encode(nil, []byte("toolong"))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLengthCodec_Clone(t *testing.T) {
	c := NewLengthCodec(10)
	clone := c.Clone().(*LengthCodec)
	require.Equal(t, c.MaxFrameLength, clone.MaxFrameLength)
}
