package frame

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cwsl/sondescan/bitsync"
)

func TestAssembler(t *testing.T) {
	a := NewAssembler(16, bitsync.LSBFirst)
	for i := 0; i < 15; i++ {
		assert.False(t, a.Push(1))
	}
	assert.True(t, a.Push(0))
	assert.True(t, a.Full())
	assert.Equal(t, []byte{0xFF, 0x7F}, a.Bytes())

	a.Reset()
	assert.False(t, a.Full())
}

// interleave is the transmitter-side column write the Deinterleaver
// undoes.
func interleave(block []byte, cols int) []byte {
	out := make([]byte, cols*8)
	for j := 0; j < 8; j++ {
		for i := 0; i < cols; i++ {
			out[cols*j+i] = block[8*i+j]
		}
	}
	return out
}

func TestDeinterleaveRoundTrip(t *testing.T) {
	for _, cols := range []int{7, 13} {
		rng := rand.New(rand.NewSource(int64(cols)))
		block := make([]byte, cols*8)
		for i := range block {
			block[i] = byte(rng.Intn(2))
		}
		raw := interleave(block, cols)

		out := make([]byte, cols*8)
		d := Deinterleaver{Cols: cols}
		n, err := d.Decode(raw, out)
		require.NoError(t, err)
		assert.Equal(t, cols*8, n)
		assert.Equal(t, block, out)
	}
}

func TestDeinterleaveShortInput(t *testing.T) {
	d := Deinterleaver{Cols: 7}
	_, err := d.Decode(make([]byte, 10), make([]byte, 56))
	assert.Error(t, err)
}

// convEncode produces the rate-1/2 symbol stream for the LMS6 code.
func convEncode(bits []byte) []byte {
	polyA := [8]byte{1, 0, 0, 1, 0, 1, 0, 1}
	polyB := [8]byte{0, 0, 1, 0, 0, 0, 1, 0}
	state := make([]byte, len(bits)+convK-1)
	copy(state[convK-1:], bits)
	out := make([]byte, 0, 2*len(bits))
	for n := 0; n < len(bits); n++ {
		var a, b byte
		for j := 0; j < convK; j++ {
			a ^= state[n+j] & polyA[j]
			b ^= state[n+j] & polyB[j]
		}
		out = append(out, a, b)
	}
	return out
}

func TestConvDecodeRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	bits := make([]byte, 400)
	for i := range bits {
		bits[i] = byte(rng.Intn(2))
	}
	raw := convEncode(bits)

	out := make([]byte, len(bits))
	dec := NewLMS6ConvDecoder()
	n, err := dec.Decode(raw, out)
	require.NoError(t, err)
	assert.Equal(t, len(bits), n)
	assert.Equal(t, 0, CountErrors(out, 256))
	for i, b := range bits {
		assert.Equal(t, byte('0'+b), out[i], "bit %d", i)
	}
}

func TestConvDecodeMarksCorruption(t *testing.T) {
	bits := make([]byte, 100)
	raw := convEncode(bits)
	raw[40] ^= 1 // single symbol hit, its pair partner disagrees

	out := make([]byte, len(bits))
	dec := NewLMS6ConvDecoder()
	_, err := dec.Decode(raw, out)
	require.NoError(t, err)
	assert.NotZero(t, CountErrors(out, 256))
}

func TestRS41MaskInvolution(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		buf := rapid.SliceOfN(rapid.Byte(), 0, 200).Draw(t, "buf")
		offset := rapid.IntRange(0, 63).Draw(t, "offset")
		want := append([]byte{}, buf...)
		ApplyRS41Mask(buf, offset)
		ApplyRS41Mask(buf, offset)
		assert.Equal(t, want, buf)
	})
}
