package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV renders a minimal RIFF container around raw sample data.
func buildWAV(rate, bits, channels int, audioFormat uint16, data []byte) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(data)))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, audioFormat)
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*channels*bits/8))
	binary.Write(&b, binary.LittleEndian, uint16(channels*bits/8))
	binary.Write(&b, binary.LittleEndian, uint16(bits))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(data)))
	b.Write(data)
	return b.Bytes()
}

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestOpenParsesHeader(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767}
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, samples)

	src, err := Open(writeTemp(t, buildWAV(48000, 16, 1, 1, data.Bytes())))
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 48000, src.Format.SampleRate)
	assert.Equal(t, 16, src.Format.BitsPerSample)
	assert.Equal(t, 1, src.Format.Channels)

	want := []float64{0, 0.5, -0.5, 32767.0 / 32768.0}
	for i, w := range want {
		got, err := src.ReadSample()
		require.NoError(t, err, "sample %d", i)
		assert.InDelta(t, w, got, 1e-9, "sample %d", i)
	}
	_, err = src.ReadSample()
	assert.Error(t, err)
}

func TestSampleRateQuirkFixup(t *testing.T) {
	src, err := Open(writeTemp(t, buildWAV(900001, 16, 1, 1, nil)))
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 900000, src.Format.SampleRate)
}

func TestUnsupportedBitsRejected(t *testing.T) {
	for _, bits := range []int{4, 12, 24, 64} {
		_, err := Open(writeTemp(t, buildWAV(48000, bits, 1, 1, nil)))
		assert.ErrorIs(t, err, ErrBadHeader, "bits=%d", bits)
	}
}

func TestNotRIFFRejected(t *testing.T) {
	_, err := Open(writeTemp(t, []byte("OggS0000000000000000")))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestChannelSelectClamped(t *testing.T) {
	// stereo: left channel ramps, right channel is constant
	var data bytes.Buffer
	for i := 0; i < 4; i++ {
		binary.Write(&data, binary.LittleEndian, int16(i*1000))
		binary.Write(&data, binary.LittleEndian, int16(-32768))
	}
	src, err := Open(writeTemp(t, buildWAV(48000, 16, 2, 1, data.Bytes())))
	require.NoError(t, err)
	defer src.Close()

	src.SelectChannel(1)
	got, err := src.ReadSample()
	require.NoError(t, err)
	assert.InDelta(t, -1.0, got, 1e-9)

	src.SelectChannel(7) // out of range falls back to 0
	got, err = src.ReadSample()
	require.NoError(t, err)
	assert.InDelta(t, 1000.0/32768.0, got, 1e-9)
}

func TestEightBitUnsigned(t *testing.T) {
	src, err := Open(writeTemp(t, buildWAV(8000, 8, 1, 1, []byte{128, 255, 0})))
	require.NoError(t, err)
	defer src.Close()

	want := []float64{0, 127.0 / 128.0, -1.0}
	for _, w := range want {
		got, err := src.ReadSample()
		require.NoError(t, err)
		assert.InDelta(t, w, got, 1e-9)
	}
}

func TestFloat32Passthrough(t *testing.T) {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, math.Float32bits(0.75))
	binary.Write(&data, binary.LittleEndian, math.Float32bits(-0.25))
	src, err := Open(writeTemp(t, buildWAV(48000, 32, 1, 3, data.Bytes())))
	require.NoError(t, err)
	defer src.Close()

	got, err := src.ReadSample()
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-9)
	got, err = src.ReadSample()
	require.NoError(t, err)
	assert.InDelta(t, -0.25, got, 1e-9)
}

func TestRF64Accepted(t *testing.T) {
	wav := buildWAV(48000, 16, 1, 1, nil)
	copy(wav, "RF64")
	src, err := Open(writeTemp(t, wav))
	require.NoError(t, err)
	src.Close()
}

func TestGzipSniff(t *testing.T) {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, int16(16384))
	wav := buildWAV(48000, 16, 1, 1, data.Bytes())

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(wav)
	zw.Close()

	path := filepath.Join(t.TempDir(), "test.wav.gz")
	require.NoError(t, os.WriteFile(path, gz.Bytes(), 0o644))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 48000, src.Format.SampleRate)
	got, err := src.ReadSample()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestReadIQ(t *testing.T) {
	var data bytes.Buffer
	binary.Write(&data, binary.LittleEndian, int16(16384))
	binary.Write(&data, binary.LittleEndian, int16(-16384))
	src, err := OpenRaw(bytes.NewReader(data.Bytes()), Format{
		SampleRate: 48000, BitsPerSample: 16, Channels: 2,
	})
	require.NoError(t, err)

	x, y, err := src.ReadIQ()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, x, 1e-9)
	assert.InDelta(t, -0.5, y, 1e-9)
}

func TestOpenRawValidation(t *testing.T) {
	_, err := OpenRaw(bytes.NewReader(nil), Format{SampleRate: 48000, BitsPerSample: 12, Channels: 1})
	assert.ErrorIs(t, err, ErrBadHeader)
	_, err = OpenRaw(bytes.NewReader(nil), Format{SampleRate: 0, BitsPerSample: 16, Channels: 1})
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestSoftBits(t *testing.T) {
	var data bytes.Buffer
	for _, f := range []float32{1.5, -0.25, 0.0, -3.0} {
		binary.Write(&data, binary.LittleEndian, math.Float32bits(f))
	}
	src, err := OpenRaw(bytes.NewReader(data.Bytes()), Format{
		SampleRate: 48000, BitsPerSample: 32, Channels: 1,
	})
	require.NoError(t, err)

	want := []byte{1, 0, 1, 0}
	for _, w := range want {
		got, err := src.ReadSoftBit()
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
}
