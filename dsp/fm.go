package dsp

import (
	"math"
	"math/cmplx"
)

// FMGain scales the discriminator output so a full-deviation GFSK symbol
// lands near +-1.
const FMGain = 0.8

// Discriminator is the non-coherent FM demodulator: the argument of
// z[n]*conj(z[n-1]) scaled by gain/pi.
type Discriminator struct {
	prev complex128
	gain float64
}

// NewDiscriminator returns a discriminator with the standard gain.
func NewDiscriminator() *Discriminator {
	return &Discriminator{gain: FMGain}
}

// Demod consumes one IQ sample and returns one FM-audio sample.
func (d *Discriminator) Demod(z complex128) float64 {
	w := z * cmplx.Conj(d.prev)
	d.prev = z
	return d.gain * cmplx.Phase(w) / math.Pi
}
