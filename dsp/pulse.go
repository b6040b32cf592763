package dsp

import "math"

// Gaussian FM pulse shaping. A GFSK symbol stream is modeled by
// convolving the NRZ bit sequence with the pulse
//
//	p(t) = Q((t-0.5)/sigma) - Q((t+0.5)/sigma)
//
// where Q is the Gaussian tail function and sigma = sqrt(ln 2)/(2*pi*BT).

// Q is the upper-tail probability of the standard normal distribution.
func Q(x float64) float64 {
	return 0.5 - 0.5*math.Erf(x/math.Sqrt2)
}

// PulseSigma converts a BT product into the pulse width parameter.
func PulseSigma(bt float64) float64 {
	return math.Sqrt(math.Ln2) / (2 * math.Pi * bt)
}

// Pulse evaluates the Gaussian frequency pulse at symbol-relative time t.
func Pulse(t, sigma float64) float64 {
	return Q((t-0.5)/sigma) - Q((t+0.5)/sigma)
}

// ShapeBits renders a '0'/'1' bit string as the idealized FM-audio
// waveform at spb samples per bit with the given BT product. Each output
// sample receives contributions from the current symbol and its two
// neighbors; the result has length floor(len(bits)*spb + 0.5).
func ShapeBits(bits string, spb, bt float64) []float64 {
	sigma := PulseSigma(bt)
	L := int(float64(len(bits))*spb + 0.5)
	out := make([]float64, L)
	for i := 0; i < L; i++ {
		pos := int(float64(i) / spb)
		t := (float64(i)-float64(pos)*spb)/spb - 0.5

		b := nrz(bits[pos]) * Pulse(t, sigma)
		if pos > 0 {
			b += nrz(bits[pos-1]) * Pulse(t+1, sigma)
		}
		if pos < len(bits)-1 {
			b += nrz(bits[pos+1]) * Pulse(t-1, sigma)
		}
		out[i] = b
	}
	return out
}

func nrz(c byte) float64 {
	return (float64(c&1) - 0.5) * 2.0
}
