package scan

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cwsl/sondescan/dsp"
)

// Template is one family's matched filter at the current IF rate: the
// Gaussian-shaped sync waveform, L2-normalized, stored as the spectrum of
// its time reversal so the correlation is a single product in the
// frequency domain.
type Template struct {
	Family Family

	SPB  float64 // samples per bit
	HLen int     // header length in bits
	L    int     // kernel length in samples

	Fm []complex128 // DFT of the reversed kernel, length NDFT

	// per-scan state written by the correlator
	DC float64 // provisional DC estimate of the last window
	DF float64 // residual carrier estimate (fraction of base rate)
}

// newTemplate shapes the family's header with its BT product and
// normalizes the kernel to unit energy.
func newTemplate(f Family, sampleRate, ndft int, fft *fourier.CmplxFFT) *Template {
	spb := float64(sampleRate) / float64(f.Baud)
	hlen := len(f.Header)
	t := &Template{
		Family: f,
		SPB:    spb,
		HLen:   hlen,
		L:      int(float64(hlen)*spb + 0.5),
	}

	match := dsp.ShapeBits(f.Header, spb, f.BT)
	norm := 0.0
	for _, x := range match {
		norm += x * x
	}
	norm = math.Sqrt(norm)

	// time-reverse so the correlation peak lands at the header end
	m := make([]complex128, ndft)
	for i, x := range match {
		m[t.L-1-i] = complex(x/norm, 0)
	}
	t.Fm = make([]complex128, ndft)
	fft.Coefficients(t.Fm, m)
	return t
}

// Norm2 returns the L2 norm of the shaped kernel (1 after construction),
// recomputed from the stored spectrum by Parseval's identity.
func (t *Template) Norm2(ndft int) float64 {
	sum := 0.0
	for _, c := range t.Fm {
		sum += real(c)*real(c) + imag(c)*imag(c)
	}
	return math.Sqrt(sum / float64(ndft))
}
