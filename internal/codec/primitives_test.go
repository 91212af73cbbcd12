package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackedUint32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 16384, math.MaxUint32}
	for _, v := range cases {
		w := NewWriter(8)
		w.PackedUint32(v)
		r := NewReader(w.Bytes())
		got, err := r.PackedUint32()
		require.NoError(t, err)
		require.Equal(t, v, got)
		require.Equal(t, 0, r.Len())
	}
}

func TestPackedInt32RoundTrip(t *testing.T) {
	cases := []int32{0, -1, 1, -2147483648, 2147483647}
	for _, v := range cases {
		w := NewWriter(8)
		w.PackedInt32(v)
		r := NewReader(w.Bytes())
		got, err := r.PackedInt32()
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestStringRoundTrip(t *testing.T) {
	w := NewWriter(8)
	w.WriteString("hello, room")
	r := NewReader(w.Bytes())
	got, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "hello, room", got)
}

func TestBytesTruncatedIsMalformed(t *testing.T) {
	w := NewWriter(8)
	w.WriteBytes([]byte{1, 2, 3, 4})
	truncated := w.Bytes()[:2]
	r := NewReader(truncated)
	_, err := r.Bytes()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVector2RoundTrip(t *testing.T) {
	w := NewWriter(4)
	w.Vector2(12.5, -30.0)
	r := NewReader(w.Bytes())
	x, y, err := r.Vector2()
	require.NoError(t, err)
	require.InDelta(t, 12.5, x, 0.01)
	require.InDelta(t, -30.0, y, 0.01)
}

func TestVector2Sentinel(t *testing.T) {
	w := NewWriter(4)
	w.Vector2(float32(math.NaN()), 0)
	r := NewReader(w.Bytes())
	x, _, err := r.Vector2()
	require.NoError(t, err)
	require.True(t, math.IsNaN(float64(x)))
}

func TestVector2ClampsOutOfRange(t *testing.T) {
	w := NewWriter(4)
	w.Vector2(1000, -1000)
	r := NewReader(w.Bytes())
	x, y, err := r.Vector2()
	require.NoError(t, err)
	require.InDelta(t, 40.0, x, 0.01)
	require.InDelta(t, -40.0, y, 0.01)
}

func TestFrameRoundTrip(t *testing.T) {
	w := NewWriter(16)
	WriteFrame(w, 7, []byte("payload"))
	r := NewReader(w.Bytes())
	f, err := ReadFrame(r)
	require.NoError(t, err)
	require.Equal(t, byte(7), f.Tag)
	require.Equal(t, []byte("payload"), f.Payload)
}

func TestReadFramesMultiple(t *testing.T) {
	w := NewWriter(32)
	WriteFrame(w, 1, []byte("a"))
	WriteFrame(w, 2, []byte("bb"))
	WriteFrame(w, 3, nil)
	r := NewReader(w.Bytes())
	frames, err := ReadFrames(r)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	require.Equal(t, byte(1), frames[0].Tag)
	require.Equal(t, byte(2), frames[1].Tag)
	require.Equal(t, byte(3), frames[2].Tag)
	require.Empty(t, frames[2].Payload)
}

func TestRegistryUnknownTagIsMalformed(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Decode(99, nil)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestRegistryExtendDoesNotMutateParent(t *testing.T) {
	base := NewRegistry()
	base.Register(1, func(b []byte) (any, error) { return "base", nil })

	ext := base.Extend(map[byte]Decoder{
		2: func(b []byte) (any, error) { return "ext", nil },
	})

	require.True(t, ext.Has(1))
	require.True(t, ext.Has(2))
	require.False(t, base.Has(2))
}
