package m10

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/sondescan/sonde"
)

// toSymbols renders frame bytes as the differential-Manchester symbol
// stream the pipeline delivers: the first two data bits ride in the
// sync pattern and are omitted.
func toSymbols(frameBytes []byte) []byte {
	var bits []byte
	for _, b := range frameBytes {
		for j := 7; j >= 0; j-- {
			bits = append(bits, (b>>j)&1)
		}
	}
	out := make([]byte, 0, 2*len(bits))
	mb := byte(1)
	for _, b := range bits[2:] {
		mb = mb ^ 1 ^ b
		if mb == 1 {
			out = append(out, 1, 0)
		} else {
			out = append(out, 0, 1)
		}
	}
	return out
}

func sealFrame(buf []byte) {
	n := len(buf)
	cs := Check(buf[:n-2])
	binary.BigEndian.PutUint16(buf[n-2:], cs)
}

func buildM10Frame() []byte {
	buf := make([]byte, m10FrameLen)
	buf[0] = 0x64
	buf[1] = typeM10

	binary.BigEndian.PutUint32(buf[posGPSTOW:], 432000000)
	binary.BigEndian.PutUint16(buf[posGPSweek:], 2290)
	binary.BigEndian.PutUint32(buf[posGPSlat:], uint32(int32(45.0*b60b60)))
	binary.BigEndian.PutUint32(buf[posGPSlon:], uint32(int32(7.5*b60b60)))
	binary.BigEndian.PutUint32(buf[posGPSalt:], 12345678) // 12345.678 m
	binary.BigEndian.PutUint16(buf[posGPSvel:], 1000)     // 5 m/s east
	binary.BigEndian.PutUint16(buf[posGPSvel+2:], 0)
	velZ := int16(-400)
	binary.BigEndian.PutUint16(buf[posGPSvel+4:], uint16(velZ)) // -2 m/s
	sealFrame(buf)
	return buf
}

func TestUpdateCheckRolls(t *testing.T) {
	// the check is position dependent: swapping bytes changes it
	a := Check([]byte{0x01, 0x02})
	b := Check([]byte{0x02, 0x01})
	assert.NotEqual(t, a, b)
	assert.NotZero(t, Check([]byte{0x00, 0x01}))
}

func TestDecodeM10(t *testing.T) {
	d := New()
	res, err := d.Decode(toSymbols(buildM10Frame()), sonde.FrameMeta{})
	require.NoError(t, err)

	assert.True(t, res.OK)
	require.NotNil(t, res.Telemetry)
	tel := res.Telemetry
	assert.Equal(t, "M10", tel.Type)
	assert.Equal(t, "M10", tel.Subtype)
	assert.InDelta(t, 45.0, tel.Lat, 1e-4)
	assert.InDelta(t, 7.5, tel.Lon, 1e-4)
	assert.InDelta(t, 12345.678, tel.Alt, 1e-3)
	assert.InDelta(t, 5.0, *tel.VelH, 1e-6)
	assert.InDelta(t, 90.0, *tel.Heading, 1e-6)
	assert.InDelta(t, -2.0, *tel.VelV, 1e-6)
	assert.Contains(t, res.Lines[0], "[OK]")
}

func TestDecodeM20TypeBytes(t *testing.T) {
	buf := make([]byte, m10FrameLen)
	buf[0] = 0x45
	buf[1] = typeM20
	sealFrame(buf[:m20FrameLen])

	d := New()
	res, err := d.Decode(toSymbols(buf), sonde.FrameMeta{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NotEmpty(t, res.Lines)
	assert.Contains(t, res.Lines[0], "M20")
}

func TestChecksumGuardsFrame(t *testing.T) {
	buf := buildM10Frame()
	buf[posGPSlat] ^= 0x80
	d := New()
	res, err := d.Decode(toSymbols(buf), sonde.FrameMeta{})
	require.NoError(t, err)
	assert.False(t, res.OK)
}
