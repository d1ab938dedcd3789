package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLineCodec_RoundTrip(t *testing.T) {
	c := NewLineCodec()

	var buf []byte
	buf, err := c.Encode(buf, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello\r\n", string(buf))

	n, frame, err := c.TryDecode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, "hello", string(frame))
}

func TestLineCodec_BareLF(t *testing.T) {
	c := NewLineCodec()
	n, frame, err := c.TryDecode([]byte("hi\n"))
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "hi", string(frame))
}

func TestLineCodec_Incomplete(t *testing.T) {
	c := NewLineCodec()
	n, frame, err := c.TryDecode([]byte("no newline yet"))
	require.NoError(t, err)
	require.Zero(t, n)
	require.Nil(t, frame)
}

func TestLineCodec_EOT(t *testing.T) {
	c := NewLineCodec()
	n, frame, err := c.TryDecode([]byte{EOT})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte{EOT}, frame)
}

func TestLineCodec_EncodeRejectsEmbeddedNewline(t *testing.T) {
	c := NewLineCodec()
	_, err := c.Encode(nil, []byte("bad\nframe"))
	require.ErrorIs(t, err, ErrFrameHasDelim)
}

func TestLineCodec_StreamOfFrames(t *testing.T) {
	c := NewLineCodec()
	var buf []byte
	buf, _ = c.Encode(buf, []byte("one"))
	buf, _ = c.Encode(buf, []byte("two"))
	buf, _ = c.Encode(buf, []byte("three"))

	var frames []string
	for len(buf) > 0 {
		n, frame, err := c.TryDecode(buf)
		require.NoError(t, err)
		require.NotZero(t, n)
		frames = append(frames, string(frame))
		buf = buf[n:]
	}
	require.Equal(t, []string{"one", "two", "three"}, frames)
}
