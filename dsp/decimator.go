package dsp

import (
	"math"
	"math/cmplx"
)

// Decimator translates baseband IQ to a chosen intermediate rate: each
// input sample is rotated by -fq through an exponential lookup table,
// pushed into a FIR delay line, and every M-th sample one filtered output
// is emitted.
//
// The LUT length is sampleRate/d for the largest divisor d <= 16 of the
// base rate, and the requested frequency is snapped to the nearest
// multiple of d so the rotation is exactly periodic over the table.
type Decimator struct {
	M       int // decimation factor
	IFRate  int // output sample rate
	Freq    float64 // realized normalized center frequency
	lut     []complex128
	lutPos  uint32
	filter  *FIR
	delay   *Delay
}

// Designated intermediate rates: the detector runs at 48 kHz, or 32 kHz
// in reduced mode.
const (
	IFSampleRate    = 48000
	IFSampleRateMin = 32000
)

// rotation LUT frequency window: snap within +-8 steps.
const lutWindow = 16

// PlanIF picks the intermediate rate for a base rate: the smallest exact
// divisor of srBase at or above the designated IF (48 kHz, or 32 kHz in
// reduced mode, raised further for wide IF filters).
func PlanIF(srBase, ifTarget int) (ifRate, decM int) {
	ifRate = ifTarget
	if ifRate > srBase {
		ifRate = srBase
	}
	if ifRate < srBase {
		for srBase%ifRate != 0 {
			ifRate++
		}
		return ifRate, srBase / ifRate
	}
	return srBase, 1
}

// NewDecimator builds the translator/decimator chain. fq is the
// normalized center frequency in (-0.5, 0.5); the rotation applied is
// exp(-j*2*pi*fq*n). wide selects the 96 kHz-class transition design and
// minMode the narrow 32 kHz one.
func NewDecimator(srBase int, fq float64, ifRate, decM int, wide, minMode bool) *Decimator {
	// Decimation low-pass: cutoff and transition bandwidth straddle the
	// IF band edges.
	fLP := (float64(ifRate) + 20e3) / (4.0 * float64(srBase))
	tBW := float64(ifRate) - 20e3
	if wide {
		fLP = (float64(ifRate) + 60e3) / (4.0 * float64(srBase))
		tBW = float64(ifRate) - 60e3
	} else if minMode {
		tBW = float64(ifRate) - 12e3
	}
	if tBW < 0 {
		tBW = 10e3
	}
	tBW /= float64(srBase)
	taps := int(4.0 / tBW)
	filter := NewLowpass(fLP, taps)

	// Rotation LUT: largest divisor d <= 16 of srBase, frequency snapped
	// to a multiple of d within the +-8 step window.
	d := 1
	for cand := lutWindow; cand > 0; cand-- {
		if srBase%cand == 0 {
			d = cand
			break
		}
	}
	freq := int(math.Round(-fq * float64(srBase)))
	freq0 := freq
	for k := 0; k <= lutWindow/2; k++ {
		if (freq+k)%d == 0 {
			freq0 = freq + k
			break
		}
		if (freq-k)%d == 0 {
			freq0 = freq - k
			break
		}
	}
	lutLen := srBase / d
	f0 := float64(freq0) / float64(srBase)
	lut := make([]complex128, lutLen)
	for n := 0; n < lutLen; n++ {
		lut[n] = cmplx.Exp(complex(0, 2*math.Pi*f0*float64(n)))
	}

	return &Decimator{
		M:      decM,
		IFRate: ifRate,
		Freq:   -f0,
		lut:    lut,
		filter: filter,
		delay:  NewDelay(filter.Taps),
	}
}

// Taps returns the decimation filter length.
func (d *Decimator) Taps() int { return d.filter.Taps }

// Step consumes exactly M raw IQ samples and returns one IF-rate sample.
func (d *Decimator) Step(block []complex128) complex128 {
	for _, z := range block {
		d.delay.Push(z * d.lut[d.lutPos])
		d.lutPos++
		if d.lutPos >= uint32(len(d.lut)) {
			d.lutPos = 0
		}
	}
	return d.filter.Filter(d.delay)
}
