package scan

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/sondescan/dsp"
)

func newAudioDetector(t *testing.T) *Detector {
	t.Helper()
	return NewDetector(48000, Options{}, [2]*dsp.FIR{})
}

func TestCatalogComplete(t *testing.T) {
	assert.Len(t, Catalog, 17)
	seen := map[string]bool{}
	for _, f := range Catalog {
		assert.NotEmpty(t, f.Header, f.Name)
		assert.GreaterOrEqual(t, f.Baud, 1200, f.Name)
		assert.LessOrEqual(t, f.Baud, 9616, f.Name)
		assert.GreaterOrEqual(t, f.BT, 0.3, f.Name)
		assert.LessOrEqual(t, f.BT, 1.5, f.Name)
		assert.False(t, seen[f.Name], "duplicate %s", f.Name)
		seen[f.Name] = true
	}
}

func TestTemplatesUnitNorm(t *testing.T) {
	d := newAudioDetector(t)
	for _, tmpl := range d.Templates {
		assert.InDelta(t, 1.0, tmpl.Norm2(d.NDFT), 1e-6, tmpl.Family.Name)
	}
}

func TestWindowGeometry(t *testing.T) {
	d := newAudioDetector(t)
	assert.GreaterOrEqual(t, d.NDFT, 0x2000)
	assert.Equal(t, 0, d.NDFT&(d.NDFT-1), "power of two")
	assert.LessOrEqual(t, d.NDFT, 16384)
	for _, tmpl := range d.Templates {
		assert.Less(t, 2*tmpl.L, d.NDFT, tmpl.Family.Name)
	}
}

// feedWaveform pushes silence, the shaped waveform, then silence, and
// collects every detection.
func feedWaveform(d *Detector, lead int, w []float64, tail int) []Detection {
	var dets []Detection
	push := func(v float64) {
		dets = append(dets, d.Feed([4]float64{v, v, v, v})...)
	}
	for i := 0; i < lead; i++ {
		push(0)
	}
	for _, v := range w {
		push(v)
	}
	for i := 0; i < tail; i++ {
		push(0)
	}
	return dets
}

func TestDetectRS41Header(t *testing.T) {
	d := newAudioDetector(t)
	rs41 := Catalog[1]
	require.Equal(t, "RS41", rs41.Name)

	spb := 48000.0 / float64(rs41.Baud)
	w := dsp.ShapeBits(rs41.Header, spb, rs41.BT)
	const lead = 3000

	dets := feedWaveform(d, lead, w, 2*d.K)
	require.NotEmpty(t, dets, "no detection")

	det := dets[0]
	assert.Equal(t, "RS41", det.Name)
	assert.Equal(t, TypeRS41, det.Type)
	assert.Greater(t, det.Score, rs41.Thres)
	assert.False(t, det.Inverted)
	assert.InDelta(t, float64(lead+len(w)-1), float64(det.Position), 2)
}

func TestDetectInvertedPolarity(t *testing.T) {
	d := newAudioDetector(t)
	rs41 := Catalog[1]
	spb := 48000.0 / float64(rs41.Baud)
	w := dsp.ShapeBits(rs41.Header, spb, rs41.BT)
	for i := range w {
		w[i] = -w[i]
	}
	dets := feedWaveform(d, 3000, w, 2*d.K)
	require.NotEmpty(t, dets)
	assert.Equal(t, "RS41", dets[0].Name)
	assert.True(t, dets[0].Inverted)
	assert.Less(t, dets[0].Score, 0.0)
}

func TestWhiteNoiseNoDetection(t *testing.T) {
	d := newAudioDetector(t)
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 6*d.K; i++ {
		v := rng.Float64() - 0.5
		dets := d.Feed([4]float64{v, v, v, v})
		assert.Empty(t, dets)
	}
}

// m10Symbols appends the differential-Manchester symbol stream encoding
// the given frame bits (MSB first per byte), continuing from the sync
// tail pairs.
func m10Symbols(frameBytes []byte) string {
	var bits []byte
	for _, b := range frameBytes {
		for j := 7; j >= 0; j-- {
			bits = append(bits, (b>>j)&1)
		}
	}
	// bits[0] and bits[1] ride in the sync pattern
	out := make([]byte, 0, 2*len(bits))
	mb := byte(1) // last sync pair value
	for _, b := range bits[2:] {
		mb = mb ^ 1 ^ b
		if mb == 1 {
			out = append(out, '1', '0')
		} else {
			out = append(out, '0', '1')
		}
	}
	return string(out)
}

func TestM10M20Disambiguation(t *testing.T) {
	cases := []struct {
		typeBytes []byte
		want      string
		wantType  int
	}{
		{[]byte{0x64, 0x9F}, "M10", TypeM10},
		{[]byte{0x45, 0x20}, "M20", TypeM20},
	}
	for _, tc := range cases {
		d := newAudioDetector(t)
		fam := Catalog[6]
		require.Contains(t, []string{"M10", "M20"}, fam.Name)

		spb := 48000.0 / float64(fam.Baud)
		symbols := fam.Header + m10Symbols(tc.typeBytes)
		w := dsp.ShapeBits(symbols, spb, fam.BT)

		dets := feedWaveform(d, 3000, w, 2*d.K)
		require.NotEmpty(t, dets, tc.want)
		assert.Equal(t, tc.want, dets[0].Name)
		assert.Equal(t, tc.wantType, dets[0].Type)
	}
}

func TestD2RequiresTwoHits(t *testing.T) {
	d := NewDetector(48000, Options{D2: true}, [2]*dsp.FIR{})
	rs41 := Catalog[1]
	spb := 48000.0 / float64(rs41.Baud)
	w := dsp.ShapeBits(rs41.Header, spb, rs41.BT)

	dets := feedWaveform(d, 3000, w, d.K)
	assert.Empty(t, dets, "single hit must not pass -d2")

	dets = feedWaveform(d, d.K, w, 2*d.K)
	assert.NotEmpty(t, dets, "second hit passes -d2")
}

func TestThresholdOverride(t *testing.T) {
	d := NewDetector(48000, Options{Threshold: 0.99}, [2]*dsp.FIR{})
	for _, tmpl := range d.Templates {
		assert.Equal(t, 0.99, tmpl.Family.Thres)
	}
}
