package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/cwsl/sondescan/audio"
	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/dsp"
	"github.com/cwsl/sondescan/frame"
	"github.com/cwsl/sondescan/scan"
	"github.com/cwsl/sondescan/sonde"
)

// Pipeline is the single-threaded pull chain: sample source, optional
// translator/decimator, IF low-pass bank, FM discriminators, detector
// ring, and the per-family frame acquisition. All state lives here; the
// components below it are plain values it owns.
type Pipeline struct {
	cfg     Config
	fileCfg *FileConfig
	logger  *log.Logger
	out     io.Writer

	src *audio.Source
	reg *sonde.Registry
	det *scan.Detector

	srBase int
	ifRate int

	decim   *dsp.Decimator
	dcTrack *dsp.DCTracker
	iqBlock []complex128

	iqDelay *dsp.Delay
	lpIQ    [3]*dsp.FIR
	lpFM    [2]*dsp.FIR
	disc    [4]*dsp.Discriminator
	single  bool // one IF bandwidth for all streams

	decFMAcc [4]float64
	decFMCnt int
	decFM    int // FM decimation factor, 1 or 4

	globalInvert bool
	invertRuns   int
	sampleLimit  uint32

	bestScore float64
	bestType  int
}

// errStop ends the run loop without an error (time limit, single-shot
// detection).
var errStop = errors.New("stop")

// NewPipeline wires the chain for the configured input mode.
func NewPipeline(cfg Config, fileCfg *FileConfig, src *audio.Source, reg *sonde.Registry, logger *log.Logger, out io.Writer) (*Pipeline, error) {
	p := &Pipeline{
		cfg:     cfg,
		fileCfg: fileCfg,
		logger:  logger,
		out:     out,
		src:     src,
		reg:     reg,
		srBase:  src.Format.SampleRate,
		decFM:   1,
	}
	if cfg.IQMode != 0 && src.Format.Channels < 2 {
		return nil, fmt.Errorf("%w: iq input needs 2 channels", audio.ErrBadHeader)
	}

	p.ifRate = p.srBase
	decM := 1
	if cfg.IQMode == 5 {
		ifTarget := dsp.IFSampleRate
		if cfg.Min {
			ifTarget = dsp.IFSampleRateMin
		}
		if bw := cfg.LpBwkHz * 1e3; bw > float64(ifTarget) {
			ifTarget = int(bw)
		}
		wide := ifTarget > 60e3
		p.ifRate, decM = dsp.PlanIF(p.srBase, ifTarget)
		p.decim = dsp.NewDecimator(p.srBase, cfg.IQFreq, p.ifRate, decM, wide, cfg.Min)
		p.iqBlock = make([]complex128, decM)
		logger.Debug("decimation planned", "if", p.ifRate, "decM", decM)
	}
	// FM-audio low-pass pair, applied inside the correlator in the
	// frequency domain. Only the IQ paths carry it; the group-delay
	// compensation assumes the discriminator chain.
	useFMLP := cfg.IQMode != 0
	if useFMLP {
		fmTaps := 4 * p.ifRate / 2000
		p.lpFM[0] = dsp.NewLowpass(scan.LpFMBandwidths[0]/float64(p.ifRate), fmTaps)
		p.lpFM[1] = dsp.NewLowpass(scan.LpFMBandwidths[1]/float64(p.ifRate), fmTaps)
	}
	if cfg.IQMode != 0 {
		p.dcTrack = dsp.NewDCTracker(p.srBase)

		// IF low-pass bank: three parallel streams for the different
		// modulation indices; the fourth stream stays wideband.
		bws := scan.LpIQBandwidths
		if cfg.LBand {
			bws = scan.LpIQBandwidthsLBand
		}
		if cfg.LpBwkHz > 0.1 {
			bw := cfg.LpBwkHz * 1e3
			bws[0], bws[1], bws[2] = bw, bw, bw
			p.single = true
		}
		iqTaps := 4 * p.ifRate / 4000
		for i := 0; i < 3; i++ {
			p.lpIQ[i] = dsp.NewLowpass(bws[i]/float64(p.ifRate)/2.0, iqTaps)
		}
		p.iqDelay = dsp.NewDelay(p.lpIQ[0].Taps)

		if cfg.DecFM {
			p.decFM = 4
		}
	}
	for i := range p.disc {
		p.disc[i] = dsp.NewDiscriminator()
	}

	detRate := p.ifRate / p.decFM
	opts := scan.Options{
		IQ:           useFMLP,
		DC:           cfg.DC,
		D2:           cfg.D2,
		SRBase:       p.srBase,
		DecM:         decM * p.decFM,
		Threshold:    cfg.Threshold,
		LpBwOverride: cfg.LpBwkHz * 1e3,
		Disabled:     fileCfg.DisabledSet(),
	}
	if fileCfg != nil {
		opts.Thresholds = fileCfg.Thresholds
	}
	if useFMLP {
		opts.LpFMTaps = p.lpFM[0].Taps
	}
	p.det = scan.NewDetector(detRate, opts, p.lpFM)
	p.det.Pull = func() error {
		s, err := p.produce()
		if err != nil {
			return err
		}
		p.det.FeedRaw(s)
		return nil
	}

	if cfg.TimeLimit > 0 {
		p.sampleLimit = uint32((cfg.TimeLimit + 1) * float64(detRate))
	}
	p.globalInvert = cfg.Invert
	return p, nil
}

// produce pulls one detector-rate sample set through the DSP chain: one
// FM-audio value per low-pass stream.
func (p *Pipeline) produce() ([4]float64, error) {
	for {
		var s [4]float64
		switch p.cfg.IQMode {
		case 0:
			v, err := p.src.ReadSample()
			if err != nil {
				return s, err
			}
			for i := range s {
				s[i] = v
			}
		default:
			z, err := p.readIQ()
			if err != nil {
				return s, err
			}
			p.iqDelay.Push(z)
			zf0 := p.lpIQ[0].Filter(p.iqDelay)
			var zf1, zf2 complex128
			if p.single {
				zf1, zf2 = zf0, zf0
			} else {
				zf1 = p.lpIQ[1].Filter(p.iqDelay)
				zf2 = p.lpIQ[2].Filter(p.iqDelay)
			}
			s[0] = p.disc[0].Demod(zf0)
			if p.single {
				s[1], s[2] = s[0], s[0]
			} else {
				s[1] = p.disc[1].Demod(zf1)
				s[2] = p.disc[2].Demod(zf2)
			}
			s[3] = p.disc[3].Demod(z)
		}
		if p.globalInvert {
			for i := range s {
				s[i] = -s[i]
			}
		}
		if p.decFM == 1 {
			return s, nil
		}
		for i := range s {
			p.decFMAcc[i] += s[i]
		}
		p.decFMCnt++
		if p.decFMCnt < p.decFM {
			continue
		}
		for i := range s {
			s[i] = p.decFMAcc[i] / float64(p.decFM)
			p.decFMAcc[i] = 0
		}
		p.decFMCnt = 0
		return s, nil
	}
}

// readIQ returns the next IF-rate complex sample.
func (p *Pipeline) readIQ() (complex128, error) {
	if p.cfg.IQMode == 5 {
		for j := range p.iqBlock {
			x, y, err := p.src.ReadIQ()
			if err != nil {
				return 0, err
			}
			p.iqBlock[j] = p.dcTrack.Apply(x, y)
		}
		return p.decim.Step(p.iqBlock), nil
	}
	x, y, err := p.src.ReadIQ()
	if err != nil {
		return 0, err
	}
	return p.dcTrack.Apply(x, y), nil
}

// Run drives the pipeline to EOF or the sample limit. The returned code
// follows the scan front-end contract: the detected family's type number
// signed by the correlation polarity, zero when nothing was found.
func (p *Pipeline) Run() (int, error) {
	for {
		s, err := p.produce()
		if err != nil {
			break // EOF
		}
		metricSamples.Inc()
		dets := p.det.Feed(s)
		if p.sampleLimit > 0 && p.det.SamplesIn() > p.sampleLimit {
			break
		}
		if len(dets) == 0 {
			continue
		}
		best := dets[0]
		for _, det := range dets[1:] {
			if math.Abs(det.Score) > math.Abs(best.Score) {
				best = det
			}
		}
		if err := p.handleDetection(best); err != nil {
			if errors.Is(err, errStop) {
				break
			}
			return -1, err
		}
	}
	return p.exitCode(), nil
}

func (p *Pipeline) exitCode() int {
	if p.bestScore == 0 {
		return 0
	}
	code := p.bestType
	// only the polarity-significant families report inverted sync
	if p.bestScore < 0 && polaritySignificant(p.bestType) {
		code = -code
	}
	return code
}

func polaritySignificant(typ int) bool {
	switch typ {
	case scan.TypeDFM, scan.TypeRS41, scan.TypeRS92:
		return true
	}
	return false
}

func (p *Pipeline) handleDetection(det scan.Detection) error {
	metricCandidates.WithLabelValues(det.Name).Inc()
	if math.Abs(det.Score) > math.Abs(p.bestScore) {
		p.bestScore = det.Score
		p.bestType = det.Type
	}

	if p.cfg.AutoInvert {
		if det.Inverted {
			p.invertRuns++
			if p.invertRuns >= 2 {
				p.globalInvert = !p.globalInvert
				p.invertRuns = 0
				p.logger.Info("sustained inverted sync, flipping polarity")
			}
		} else {
			p.invertRuns = 0
		}
	}

	if p.cfg.DetectOnly {
		if !p.cfg.Silent {
			if p.cfg.Verbose > 0 {
				fmt.Fprintf(p.out, "sample: %d\n", det.Position)
			}
			fmt.Fprintf(p.out, "%s: %.4f", det.Name, det.Score)
			if p.cfg.DC && p.cfg.IQMode != 0 {
				fmt.Fprintf(p.out, " , %+.1fHz", det.FreqOffsetHz)
			}
			fmt.Fprintln(p.out)
		}
		if p.cfg.Continuous {
			return nil
		}
		return errStop
	}

	return p.acquireFrame(det)
}

// acquireFrame reads the frame bits following a confirmed sync and
// routes them to the family decoder. Errors mid-frame are recoverable:
// the scanner state resets and the run loop continues.
func (p *Pipeline) acquireFrame(det scan.Detection) error {
	decoder, ok := p.reg.Lookup(det.Type)
	if !ok {
		p.logger.Debug("no decoder registered", "family", det.Name)
		return nil
	}
	spec := decoder.Spec()

	family := scan.Catalog[det.Index]
	baud := float64(family.Baud)
	if p.cfg.Baud > 0 {
		baud = p.cfg.Baud
	}
	detRate := p.det.SampleRate()
	sps := float64(detRate) / baud

	// frame bits start one sample past the header end, shifted by the
	// alignment option
	start := det.Position + 1
	if p.cfg.BitOfs != 0 {
		start += uint32(int(float64(p.cfg.BitOfs) * sps))
	}

	pos := start
	next := func() (float64, error) {
		for int32(pos-p.det.SamplesIn()) >= 0 {
			s, err := p.produce()
			if err != nil {
				return 0, err
			}
			p.det.FeedRaw(s)
		}
		v := p.det.At(family.LpIQ, pos)
		pos++
		return v, nil
	}

	in := bitsync.NewIntegrator(next, sps, det.Inverted)
	if p.cfg.DC {
		in.DC = det.DCOffset
	}

	asm := frame.NewAssembler(spec.RawBits, spec.Order)
	for !asm.Full() {
		b, err := in.NextBit()
		if err != nil {
			p.logger.Debug("eof mid-frame", "family", det.Name, "bits", len(asm.Bits()))
			return errStop
		}
		asm.Push(b)
	}
	bits := asm.Bits()

	meta := sonde.FrameMeta{
		CaptureSample: uint64(det.Position),
		FreqOffsetHz:  det.FreqOffsetHz,
		Inverted:      det.Inverted,
		Opts:          p.sondeOpts(),
	}
	res, err := sonde.Dispatch(p.reg, det.Type, bits, meta)
	if err != nil {
		p.logger.Debug("frame decode failed", "family", det.Name, "err", err)
		return nil
	}
	p.emit(det, res)
	return nil
}

func (p *Pipeline) sondeOpts() sonde.Options {
	return sonde.Options{
		Raw:         p.cfg.Raw,
		CRC:         p.cfg.CRC,
		ECC:         p.cfg.ECC,
		JSON:        p.cfg.JSON,
		JSONFreqkHz: uint32(p.cfg.JSONFreqHz / 1000),
		Verbose:     p.cfg.Verbose,
	}
}

func (p *Pipeline) emit(det scan.Detection, res *sonde.Result) {
	metricFrames.WithLabelValues(det.Name, frameStatus(res.OK)).Inc()
	if res.Corrected > 0 {
		metricRSCorrected.Add(float64(res.Corrected))
	}
	if p.cfg.Silent {
		return
	}
	for _, line := range res.Lines {
		fmt.Fprintln(p.out, line)
	}
	if p.cfg.JSON && res.Telemetry != nil && res.OK {
		t := res.Telemetry
		t.Version = Version
		fmt.Fprintln(p.out, t.JSONLine())
	}
}

// runSoftBits decodes a soft-bit stream: one float per bit, sign is the
// bit, no demodulation. The family's header pattern aligns the frames.
func (p *Pipeline) runSoftBits(familyName string) (int, error) {
	var family *scan.Family
	var typ int
	for i := range scan.Catalog {
		if strings.EqualFold(scan.Catalog[i].Name, familyName) {
			family = &scan.Catalog[i]
			typ = scan.Catalog[i].Type
			break
		}
	}
	if family == nil {
		return -1, fmt.Errorf("unknown family %q", familyName)
	}
	decoder, ok := p.reg.Lookup(typ)
	if !ok {
		return -1, fmt.Errorf("no decoder for family %q", familyName)
	}
	spec := decoder.Spec()

	window := make([]byte, 0, len(family.Header))
	for {
		b, err := p.src.ReadSoftBit()
		if err != nil {
			return 0, nil
		}
		if p.globalInvert {
			b ^= 1
		}
		window = append(window, '0'+b)
		if len(window) > len(family.Header) {
			copy(window, window[1:])
			window = window[:len(family.Header)]
		}
		if len(window) < len(family.Header) || string(window) != family.Header {
			continue
		}

		bits := make([]byte, 0, spec.RawBits)
		for len(bits) < spec.RawBits {
			b, err := p.src.ReadSoftBit()
			if err != nil {
				return 0, nil
			}
			if p.globalInvert {
				b ^= 1
			}
			bits = append(bits, b)
		}
		meta := sonde.FrameMeta{Opts: p.sondeOpts()}
		res, err := sonde.Dispatch(p.reg, typ, bits, meta)
		if err == nil {
			p.emit(scan.Detection{Name: family.Name, Type: typ}, res)
		}
		window = window[:0]
	}
}
