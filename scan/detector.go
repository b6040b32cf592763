package scan

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/cwsl/sondescan/dsp"
)

// Options configure the detector front-end.
type Options struct {
	IQ           bool    // IQ input: FM low-pass in the correlator, group-delay shift
	DC           bool    // window DC correction and carrier offset estimate
	D2           bool    // require two hits per family before accepting
	SRBase       int     // base sample rate before decimation (offset estimate in Hz)
	DecM         int     // decimation factor (1 for audio input)
	LpFMTaps     int     // FM low-pass length, for the IQ group-delay shift
	Threshold    float64 // >0 overrides every family threshold
	LpBwOverride float64 // forced single IF bandwidth in Hz (0: per-family)
	Disabled     map[string]bool    // family names excluded from scanning
	Thresholds   map[string]float64 // per-family threshold overrides
}

// Detection is one confirmed sync hit.
type Detection struct {
	Index        int // catalog index
	Name         string
	Type         int
	Score        float64
	Position     uint32 // ring sample index of the last header sample
	Inverted     bool
	HeaderErrors int
	DCOffset     float64
	FreqOffsetHz float64
}

// Detector holds the ring of demodulated samples and the per-family
// matched filters. It is fed one IF sample (per low-pass stream) at a
// time and every K samples cross-correlates the ring against all
// templates.
type Detector struct {
	opt        Options
	sampleRate int

	Templates []*Template

	NDFT  int
	K     int // scan stride
	Lmax  int
	delay int
	M     int // ring length

	bufFM    [4][]float64
	sampleIn uint32

	fft *fourier.CmplxFFT
	xn  []float64
	x   []complex128
	X   []complex128
	Z   []complex128
	cx  []complex128
	db  []float64

	ws      [2][]complex128 // FM low-pass frequency responses (IQ mode)
	rawbits []byte

	k       int
	prevPos [NumFamilies]uint32
	d2Count [NumFamilies]int

	// Pull feeds one more sample into the detector; the iMet spectral
	// classifier drains up to a second of input through it.
	Pull func() error
}

var errWindowTooLong = errors.New("scan: template exceeds DFT window")

// NewDetector sizes the rings and builds all templates at the given IF
// sample rate. lpFM supplies the two FM-audio low-pass designs whose
// frequency responses the IQ correlation path applies.
func NewDetector(sampleRate int, opt Options, lpFM [2]*dsp.FIR) *Detector {
	if opt.DecM < 1 {
		opt.DecM = 1
	}
	if opt.SRBase == 0 {
		opt.SRBase = sampleRate * opt.DecM
	}
	d := &Detector{opt: opt, sampleRate: sampleRate}

	// Window geometry: the stride covers the window minus twice the
	// longest kernel, the ring adds the scan delay plus slack.
	hLenMax, lMax := 0, 0
	for _, f := range Catalog {
		spb := float64(sampleRate) / float64(f.Baud)
		l := int(float64(len(f.Header))*spb + 0.5)
		if len(f.Header) > hLenMax {
			hLenMax = len(f.Header)
		}
		if l > lMax {
			lMax = l
		}
	}
	d.Lmax = lMax
	L := 2 * lMax
	p2 := 1
	for p2 < 3*L {
		p2 <<= 1
	}
	for p2 < 0x2000 {
		p2 <<= 1
	}
	d.NDFT = p2
	d.K = d.NDFT - L
	d.delay = L / 16
	d.M = d.NDFT + d.delay + 8

	d.fft = fourier.NewCmplxFFT(d.NDFT)
	d.xn = make([]float64, d.NDFT)
	d.x = make([]complex128, d.NDFT)
	d.X = make([]complex128, d.NDFT)
	d.Z = make([]complex128, d.NDFT)
	d.cx = make([]complex128, d.NDFT)
	d.db = make([]float64, d.NDFT)
	d.rawbits = make([]byte, hLenMax)
	for i := range d.bufFM {
		d.bufFM[i] = make([]float64, d.M)
	}

	d.Templates = make([]*Template, len(Catalog))
	for i, f := range Catalog {
		if opt.Threshold > 0 {
			f.Thres = opt.Threshold
		}
		if ths, ok := opt.Thresholds[f.Name]; ok {
			f.Thres = ths
		}
		d.Templates[i] = newTemplate(f, sampleRate, d.NDFT, d.fft)
	}

	if opt.IQ {
		for j := 0; j < 2; j++ {
			m := make([]complex128, d.NDFT)
			if lpFM[j] != nil {
				for i, w := range lpFM[j].Coeffs() {
					m[i] = complex(w, 0)
				}
			}
			d.ws[j] = make([]complex128, d.NDFT)
			d.fft.Coefficients(d.ws[j], m)
		}
	}
	return d
}

// SampleRate returns the IF rate the detector runs at.
func (d *Detector) SampleRate() int { return d.sampleRate }

// At returns the ring sample of one low-pass stream at an absolute
// position. The position must lie within the last M samples.
func (d *Detector) At(stream int, pos uint32) float64 {
	return d.bufFM[stream][pos%uint32(d.M)]
}

// RingLen returns the ring size in samples.
func (d *Detector) RingLen() int { return d.M }

// SamplesIn returns the number of samples consumed so far.
func (d *Detector) SamplesIn() uint32 { return d.sampleIn }

func (d *Detector) sampleOut() uint32 { return d.sampleIn - uint32(d.delay) }

// Feed stores one demodulated sample per low-pass stream (audio input
// duplicates the sample across all four) and runs a scan pass when the
// stride is due. The returned slice is nil between scans.
func (d *Detector) Feed(s [4]float64) []Detection {
	for i := range d.bufFM {
		d.bufFM[i][d.sampleIn%uint32(d.M)] = s[i]
	}
	d.sampleIn++
	d.k++
	if d.k < d.K-4 {
		return nil
	}
	d.k = 0
	return d.scan()
}

// FeedRaw stores one sample set without advancing the scan stride. The
// frame reader and the iMet classifier use it so their reads never
// re-enter the scanner.
func (d *Detector) FeedRaw(s [4]float64) {
	for i := range d.bufFM {
		d.bufFM[i][d.sampleIn%uint32(d.M)] = s[i]
	}
	d.sampleIn++
}

// ResetD2 clears the double-detection counters.
func (d *Detector) ResetD2() {
	for i := range d.d2Count {
		d.d2Count[i] = 0
	}
}

// d2Confirmed returns the first catalog index with two hits, or -1.
func (d *Detector) d2Confirmed() int {
	for i, n := range d.d2Count {
		if n > 1 {
			return i
		}
	}
	return -1
}

func (d *Detector) scan() []Detection {
	var dets []Detection
	for j := 0; j <= idxIMETafsk; j++ {
		t := d.Templates[j]
		if d.opt.Disabled[t.Family.Name] {
			continue
		}
		prev := d.prevPos[j]
		mp, mv, mvpos, err := d.correlate(t)
		if err != nil || mp <= 0 {
			continue
		}
		d.prevPos[j] = mvpos
		if math.Abs(mv) <= t.Family.Thres || mvpos <= prev {
			continue
		}
		inv := mv < 0
		herrs := d.headerCompare(1, mvpos, inv, t)
		if herrs >= t.Family.HErrs {
			continue
		}

		det := Detection{
			Index:        j,
			Name:         t.Family.Name,
			Type:         t.Family.Type,
			Score:        mv,
			Position:     mvpos,
			Inverted:     inv,
			HeaderErrors: herrs,
			DCOffset:     t.DC,
			FreqOffsetHz: t.DF * float64(d.opt.SRBase),
		}

		switch t.Family.Name {
		case "M10", "M20":
			det = d.classifyM10(det, t)
		case "IMETafsk":
			routed, ok := d.classifyIMET(det, t)
			if !ok {
				continue
			}
			det = routed
		}

		if d.opt.D2 {
			d.d2Count[det.Index]++
			if d.d2Confirmed() != det.Index {
				continue
			}
		}
		dets = append(dets, det)
	}
	return dets
}

// correlate runs the matched filter over the last K+L ring samples and
// returns the window-relative peak index, normalized score and absolute
// peak position. Edge peaks are rejected with mp < 0.
func (d *Detector) correlate(t *Template) (mp int, score float64, mpos uint32, err error) {
	L := t.L
	K := d.K
	if K+L > d.NDFT {
		return -1, 0, 0, errWindowTooLong
	}
	pos := d.sampleOut()
	bufs := d.bufFM[t.Family.LpIQ]
	M := uint32(d.M)

	for i := 0; i < K+L; i++ {
		d.xn[i] = bufs[(pos+M-uint32(K+L-1)+uint32(i))%M]
		d.x[i] = complex(d.xn[i], 0)
	}
	for i := K + L; i < d.NDFT; i++ {
		d.xn[i] = 0
		d.x[i] = 0
	}
	d.fft.Coefficients(d.X, d.x)

	dc := 0.0
	if d.opt.DC {
		// mean over the last 2L window samples only, so a long carrier
		// imbalance ahead of the header does not skew the estimate
		for i := K - L; i < K+L; i++ {
			dc += d.xn[i]
		}
		dc /= 2.0 * float64(L)
		d.X[0] -= complex(float64(d.NDFT)*dc*0.98, 0)
	}
	t.DC = dc

	if d.opt.IQ {
		ws := d.ws[t.Family.LpFM]
		for i := range d.X {
			d.X[i] *= ws[i]
		}
	}
	if d.opt.DC || d.opt.IQ {
		d.fft.Sequence(d.cx, d.X)
		for i := range d.xn {
			d.xn[i] = real(d.cx[i]) / float64(d.NDFT)
		}
	}
	for i := range d.Z {
		d.Z[i] = d.X[i] * t.Fm[i]
	}
	d.fft.Sequence(d.cx, d.Z)

	mp = -1
	mx, mx2 := 0.0, 0.0
	for i := L - 1; i < K+L; i++ {
		re := real(d.cx[i])
		if re*re > mx2 {
			mx = re
			mx2 = re * re
			mp = i
		}
	}
	if mp < 0 {
		return -1, 0, 0, nil // all-zero correlation, no peak
	}
	if mp == L-1 || mp == K+L-1 {
		return -1, 0, 0, nil // ambiguous edge peak
	}

	mpos = pos - uint32(K+L-1) + uint32(mp)

	xnorm := 0.0
	for i := 0; i < L; i++ {
		xnorm += d.xn[mp-i] * d.xn[mp-i]
	}
	xnorm = math.Sqrt(xnorm)
	if xnorm == 0 {
		return -1, 0, 0, nil
	}
	mx /= xnorm * float64(d.NDFT)

	if d.opt.IQ {
		mpos -= uint32(d.opt.LpFMTaps / 2) // FIR group delay
	}
	if d.opt.DC {
		t.DF = t.DC / (2.0 * dsp.FMGain * float64(d.opt.DecM))
	}
	return mp, mx, mpos, nil
}

// bufBitReader integrates one bit (or one Manchester symbol pair for
// symlen 2) from the ring starting at the running position.
type bufBitReader struct {
	d     *Detector
	bufs  []float64
	mvp   uint32
	dc    float64
	spb   float64
	count uint32
	limit float64
}

func (r *bufBitReader) next(symlen int) byte {
	M := uint32(r.d.M)
	sum := 0.0
	r.limit += r.spb
	for float64(r.count) < r.limit {
		sum += r.bufs[(r.count+r.mvp+M)%M] - r.dc
		r.count++
	}
	if symlen == 2 {
		r.limit += r.spb
		for float64(r.count) < r.limit {
			sum -= r.bufs[(r.count+r.mvp+M)%M] - r.dc
			r.count++
		}
	}
	if sum >= 0 {
		return '1'
	}
	return '0'
}

// headerCompare re-reads the header span bit by bit and counts
// mismatches against the family pattern, honoring polarity.
func (d *Detector) headerCompare(symlen int, mvp uint32, inv bool, t *Template) int {
	dc := 0.0
	if d.opt.DC {
		dc = t.DC
	}
	var sign byte
	if inv {
		sign = 1
	}
	step := 1
	if symlen != 1 {
		step = 2
	}

	start := mvp + 1 - uint32(int(float64(t.HLen)*t.SPB))
	r := bufBitReader{d: d, bufs: d.bufFM[t.Family.LpIQ], mvp: start, dc: dc, spb: t.SPB}
	for pos := 0; pos < t.HLen; pos += step {
		d.rawbits[pos] = r.next(symlen)
	}

	errs := 0
	for i := 0; i < t.HLen; i++ {
		if (d.rawbits[i]^sign)&1 != t.Family.Header[i]&1 {
			errs++
		}
	}
	return errs
}

// classifyM10 reads the first sixteen differential-Manchester frame bits
// after the header and splits M10 from M20 by the type byte pair.
func (d *Detector) classifyM10(det Detection, t *Template) Detection {
	dc := 0.0
	if d.opt.DC {
		dc = t.DC
	}
	ofs := (t.HLen - 28) / 2
	if ofs < 0 || ofs > 8 {
		ofs = 0
	}

	bit0 := byte('0')
	if det.Inverted {
		bit0 = '1'
	}
	var frmbit [16]byte
	r := bufBitReader{d: d, bufs: d.bufFM[t.Family.LpIQ], mvp: det.Position, dc: dc, spb: t.SPB}
	for pos2 := 0; pos2 < 16; pos2++ {
		var mb byte
		if pos2 < ofs {
			mb = t.Family.Header[28+2*pos2]
			if det.Inverted {
				mb ^= 1
			}
		} else {
			mb = r.next(2)
		}
		frmbit[pos2] = 0x31 ^ (bit0 ^ mb)
		bit0 = mb
	}

	b0 := packBE(frmbit[:8])
	b1 := packBE(frmbit[8:])
	bytes := uint16(b0)<<8 | uint16(b1)

	h := popcount4(byte(bytes & 0x0F))
	if h < 2 || (h == 2 && bytes&0xF0 == 0x20) {
		det.Name = "M20"
		det.Type = TypeM20
	} else {
		det.Name = "M10"
		det.Type = TypeM10
	}
	return det
}

func packBE(bits []byte) byte {
	var v byte
	for i := 0; i < 8; i++ {
		v <<= 1
		v |= bits[i] & 1
	}
	return v
}

func popcount4(b byte) int {
	n := 0
	for i := 0; i < 4; i++ {
		n += int(b>>i) & 1
	}
	return n
}

// classifyIMET disambiguates the shared 1200 Hz AFSK preamble: one second
// of FM audio is accumulated into a magnitude spectrum, and the relative
// power at 800/2200/2400 Hz routes the hit to iMet-1RS or iMet-4 (or
// rejects it, leaving iMet-1AB to its own header entry). The thresholds
// are the original's empirical values, heuristics rather than invariants.
func (d *Detector) classifyIMET(det Detection, t *Template) (Detection, bool) {
	if d.Pull == nil {
		return det, false
	}
	for i := range d.xn {
		d.xn[i] = 0
		d.db[i] = 0
	}
	D := d.NDFT/2 - 3
	bufs := d.bufFM[t.Family.LpIQ]
	M := uint32(d.M)

	n := 0
	for n < d.sampleRate { // 1 second
		if err := d.Pull(); err != nil {
			break
		}
		d.xn[n%D] = bufs[d.sampleOut()%M]
		n++
		if n%D == 0 {
			for i := range d.x {
				d.x[i] = complex(d.xn[i], 0)
			}
			d.fft.Coefficients(d.X, d.x)
			for m := range d.db {
				d.db[m] += cmplxAbs(d.X[m])
			}
		}
	}

	df := float64(d.sampleRate) / float64(d.NDFT)
	m := int(50.0 / df)
	if m < 1 {
		m = 1
	}
	if d.freq2bin(2500) > d.NDFT/2 {
		return det, false
	}
	pow2200 := d.binPower(2200, m)
	pow2400 := d.binPower(2400, m)

	det.Score = math.Abs(det.Score)
	if pow2200 <= pow2400 {
		// likely iMet-1AB; its own catalog entry handles that directly
		return det, false
	}
	pow800 := d.binPower(800, m)
	if pow2200 <= pow800 {
		return det, false
	}

	idx := idxIMET4
	if d.opt.IQ && d.opt.LpBwOverride > 50e3 {
		idx = idxIMET1RS
	}
	routed := d.Templates[idx]
	routed.DC = t.DC
	routed.DF = t.DF
	det.Index = idx
	det.Name = routed.Family.Name
	det.Type = routed.Family.Type
	return det, true
}

func (d *Detector) freq2bin(f int) int {
	return f * d.NDFT / d.sampleRate
}

func (d *Detector) binPower(freq, m int) float64 {
	bin := d.freq2bin(freq)
	p := 0.0
	for n := 0; n < m; n++ {
		i := bin - m/4 + n
		if i >= 0 && i < len(d.db) {
			p += d.db[i]
		}
	}
	return p
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
