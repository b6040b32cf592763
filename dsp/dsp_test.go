package dsp

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLowpassNorm1(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cutoff := rapid.Float64Range(0.01, 0.45).Draw(t, "cutoff")
		taps := rapid.IntRange(3, 401).Draw(t, "taps")
		f := NewLowpass(cutoff, taps)
		assert.InDelta(t, 1.0, f.Norm1(), 1e-6)
		assert.Equal(t, 1, f.Taps%2, "taps must be odd")
	})
}

func TestLowpassPassesDCBlocksNyquist(t *testing.T) {
	f := NewLowpass(0.1, 101)
	d := NewDelay(f.Taps)

	// DC: unit input settles to unit output
	for i := 0; i < f.Taps; i++ {
		d.Push(1)
	}
	assert.InDelta(t, 1.0, real(f.Filter(d)), 1e-6)

	// Nyquist-rate alternation is far outside a 0.1 cutoff
	d2 := NewDelay(f.Taps)
	for i := 0; i < f.Taps; i++ {
		d2.Push(complex(float64(1-2*(i%2)), 0))
	}
	assert.Less(t, math.Abs(real(f.Filter(d2))), 1e-3)
}

func TestDiscriminatorPureTone(t *testing.T) {
	// a complex tone at frequency f yields a constant output
	// gain * 2*pi*f / pi
	const f = 0.05
	disc := NewDiscriminator()
	var out float64
	for n := 0; n < 100; n++ {
		z := cmplx.Exp(complex(0, 2*math.Pi*f*float64(n)))
		out = disc.Demod(z)
	}
	assert.InDelta(t, FMGain*2*f, out, 1e-9)
}

func TestDCTrackerConverges(t *testing.T) {
	tr := NewDCTracker(48000)
	var z complex128
	for i := 0; i < 48000; i++ {
		z = tr.Apply(0.25, -0.125)
	}
	assert.InDelta(t, 0.0, real(z), 1e-6)
	assert.InDelta(t, 0.0, imag(z), 1e-6)
	x, y := tr.Offset()
	assert.InDelta(t, 0.25, x, 1e-9)
	assert.InDelta(t, -0.125, y, 1e-9)
}

func TestPlanIF(t *testing.T) {
	ifRate, decM := PlanIF(2400000, 48000)
	assert.Equal(t, 48000, ifRate)
	assert.Equal(t, 50, decM)

	// non-divisible targets are raised to the next exact divisor
	ifRate, decM = PlanIF(250000, 48000)
	assert.Equal(t, 50000, ifRate)
	assert.Equal(t, 5, decM)

	ifRate, decM = PlanIF(48000, 48000)
	assert.Equal(t, 48000, ifRate)
	assert.Equal(t, 1, decM)
}

func TestDecimatorShiftsTone(t *testing.T) {
	const srBase = 480000
	ifRate, decM := PlanIF(srBase, 48000)
	require.Equal(t, 10, decM)

	// place a tone at +0.1 of the base rate and translate it to DC
	dec := NewDecimator(srBase, 0.1, ifRate, decM, false, false)
	block := make([]complex128, decM)
	var outs []complex128
	for n := 0; n < srBase/10; n++ {
		for j := range block {
			i := n*decM + j
			block[j] = cmplx.Exp(complex(0, 2*math.Pi*0.1*float64(i)))
		}
		outs = append(outs, dec.Step(block))
	}
	// past the filter transient the output is a near-constant phasor
	tail := outs[len(outs)/2:]
	disc := NewDiscriminator()
	var fm float64
	for _, z := range tail {
		fm = disc.Demod(z)
	}
	assert.InDelta(t, 0.0, fm, 1e-3)
}

func TestPulseSigma(t *testing.T) {
	// BT 0.5 is the RS41 shaping constant
	assert.InDelta(t, 0.2650103635, PulseSigma(0.5), 1e-9)
	assert.InDelta(t, 0.4416839392, PulseSigma(0.3), 1e-9)
}

func TestShapeBitsSymmetry(t *testing.T) {
	w := ShapeBits("0101", 10, 0.5)
	assert.Len(t, w, 40)
	// alternating bits produce an odd-symmetric waveform: sample i
	// mirrors sample 40-i with opposite sign
	for i := 1; i < 20; i++ {
		assert.InDelta(t, -w[40-i], w[i], 1e-9)
	}
	// the center of a '1' symbol is positive
	assert.Positive(t, w[15])
	assert.Negative(t, w[5])
}

func TestShapeBitsL2NormPositive(t *testing.T) {
	w := ShapeBits("10011010", 12.5, 1.0)
	var e float64
	for _, x := range w {
		e += x * x
	}
	assert.Positive(t, e)
}
