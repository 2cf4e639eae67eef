package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecode(t *testing.T) {
	h := Header{Type: 12, Version: 3, Size: 0xdeadbeef}

	b := EncodeHeader(nil, h)
	require.Len(t, b, HeaderSize)
	// Most significant byte first.
	assert.Equal(t, byte(0), b[0])
	assert.Equal(t, byte(12), b[3])
	assert.Equal(t, byte(0xde), b[8])

	got, err := DecodeHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = DecodeHeader(b[:HeaderSize-1])
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestSplitFrame(t *testing.T) {
	payload := []byte("hi there")
	frame := EncodeFrame(nil, 42, 7, payload)

	h, body, n := SplitFrame(frame)
	require.Equal(t, len(frame), n)
	assert.Equal(t, uint32(42), h.Type)
	assert.Equal(t, uint32(7), h.Version)
	assert.Equal(t, payload, body)

	// Incomplete header, then incomplete payload.
	_, _, n = SplitFrame(frame[:4])
	assert.Zero(t, n)
	_, _, n = SplitFrame(frame[:len(frame)-1])
	assert.Zero(t, n)

	// Two frames back to back split one at a time.
	double := append(append([]byte{}, frame...), EncodeFrame(nil, 1, 0, nil)...)
	h, _, n = SplitFrame(double)
	require.Equal(t, len(frame), n)
	assert.Equal(t, uint32(42), h.Type)
	h, body, n = SplitFrame(double[n:])
	require.Equal(t, HeaderSize, n)
	assert.Equal(t, uint32(1), h.Type)
	assert.Empty(t, body)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	fields := []Field{
		U8(200),
		U16(0xbeef),
		U32(0xdeadbeef),
		U64(1 << 60),
		F32(2.5),
		F64(-17.25),
		String("héllo"),
		Bytes([]byte{0, 1, 2, 3}),
	}

	b := Pack(fields...)
	got, err := Unpack(b,
		KindUint8, KindUint16, KindUint32, KindUint64,
		KindFloat32, KindFloat64, KindString, KindBytes)
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestPackEmptyString(t *testing.T) {
	b := Pack(String(""))
	require.Equal(t, []byte{0, 0}, b)

	fs, err := Unpack(b, KindString)
	require.NoError(t, err)
	assert.Equal(t, "", fs[0].Str)
}

func TestUnpackErrors(t *testing.T) {
	_, err := Unpack([]byte{1}, KindUint32)
	require.ErrorIs(t, err, ErrShortBuffer)

	// String length prefix promising more than available.
	_, err = Unpack([]byte{0, 5, 'a'}, KindString)
	require.ErrorIs(t, err, ErrShortBuffer)

	// Trailing garbage after the pattern.
	_, err = Unpack([]byte{1, 2, 3}, KindUint16)
	require.Error(t, err)

	// Raw block anywhere but last.
	_, err = Unpack([]byte{1, 2, 3}, KindBytes, KindUint8)
	require.Error(t, err)
}
