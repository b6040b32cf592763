// Command sondescan decodes meteorological radiosonde telemetry from WAV
// audio or IQ baseband: it auto-detects the transmitting family by
// matched-filter correlation and routes the demodulated frames to the
// per-family decoders.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/cwsl/sondescan/audio"
	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/scan"
	"github.com/cwsl/sondescan/sonde"
	"github.com/cwsl/sondescan/sonde/dfm"
	"github.com/cwsl/sondescan/sonde/lms6"
	"github.com/cwsl/sondescan/sonde/m10"
	"github.com/cwsl/sondescan/sonde/rs41"
	"github.com/cwsl/sondescan/sonde/wxr301"
)

func main() {
	os.Exit(run())
}

func run() int {
	var cfg Config
	var rawHex, rawBits bool
	var iqIF, iqFull float64
	var pn9, ch2 bool
	var configFile string

	flags := pflag.NewFlagSet("sondescan", pflag.ContinueOnError)
	flags.CountVarP(&cfg.Verbose, "verbose", "v", "verbosity (repeat for more)")
	flags.BoolVarP(&cfg.Silent, "silent", "s", false, "suppress frame output")
	flags.BoolVarP(&rawHex, "raw", "r", false, "emit raw frame bytes")
	flags.BoolVarP(&rawBits, "rawbits", "R", false, "emit raw frame bits")
	flags.BoolVarP(&cfg.Invert, "invert", "i", false, "invert polarity")
	flags.BoolVar(&cfg.AutoInvert, "auto", false, "flip polarity on sustained inverted sync")
	flags.Float64Var(&iqIF, "iq", iqUnset, "IF IQ input, optional center fq")
	flags.Float64Var(&iqFull, "IQ", iqUnset, "baseband IQ at normalized fq (full pipeline)")
	flags.BoolVar(&cfg.LpIQ, "lpIQ", false, "enable IF low-pass (default in IQ mode)")
	flags.BoolVar(&cfg.LpFM, "lpFM", false, "enable FM-audio low-pass (default in IQ mode)")
	flags.Float64Var(&cfg.LpBwkHz, "lpbw", 0, "IF low-pass bandwidth / kHz (single stream)")
	flags.BoolVar(&cfg.DecFM, "decFM", false, "decimate FM audio by 4")
	flags.BoolVar(&cfg.DC, "dc", false, "track DC offset (frequency lock hint)")
	flags.BoolVar(&cfg.Min, "min", false, "reduce IF rate to 32 kHz")
	flags.BoolVar(&cfg.LBand, "Lband", false, "L-band filter set (1680 MHz)")
	flags.BoolVar(&cfg.CRC, "crc", false, "check frame CRC")
	flags.BoolVar(&cfg.ECC, "ecc", false, "enable Reed-Solomon correction")
	flags.Float64Var(&cfg.Threshold, "ths", 0, "correlation threshold override")
	flags.Float64Var(&cfg.Baud, "br", 0, "baud rate override")
	flags.BoolVar(&cfg.JSON, "json", false, "emit JSON frames")
	flags.Uint64Var(&cfg.JSONFreqHz, "jsn_cfq", 0, "JSON frequency tag / Hz")
	flags.IntVarP(&cfg.BitOfs, "bitofs", "d", 0, "bit offset shift (-4..+4)")
	flags.BoolVar(&cfg.D2, "d2", false, "require double detection")
	flags.BoolVar(&ch2, "ch2", false, "select right audio channel")
	flags.Float64VarP(&cfg.TimeLimit, "time", "t", 0, "sample limit in seconds")
	flags.BoolVarP(&cfg.Continuous, "cnt", "c", false, "continuous detection")
	flags.BoolVar(&cfg.DetectOnly, "detect", false, "detect only, no frame decoding")
	flags.BoolVar(&pn9, "pn9", false, "WXR-301D PN9 variant")
	flags.StringVar(&cfg.SoftBit, "softbit", "", "soft-bit input for the given family")
	flags.StringVar(&configFile, "config", "", "YAML config overlay")
	flags.StringVar(&cfg.MetricsAddr, "metrics", "", "Prometheus listener address")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: false})
	switch {
	case cfg.Verbose >= 2:
		logger.SetLevel(log.DebugLevel)
	case cfg.Verbose == 1:
		logger.SetLevel(log.InfoLevel)
	default:
		logger.SetLevel(log.WarnLevel)
	}

	switch {
	case rawBits:
		cfg.Raw = 2
	case rawHex:
		cfg.Raw = 1
	}
	if iqFull != iqUnset {
		cfg.IQMode = 5
		cfg.IQFreq = clampF(iqFull, -0.5, 0.5)
	} else if iqIF != iqUnset {
		cfg.IQMode = 1
	}
	cfg.BitOfs = clampI(cfg.BitOfs, -4, 4)
	if ch2 {
		cfg.Channel = 1
	}

	var fileCfg *FileConfig
	if configFile != "" {
		fc, err := LoadFileConfig(configFile)
		if err != nil {
			logger.Error("config overlay rejected", "err", err)
			return exitFatal
		}
		fileCfg = fc
		if cfg.MetricsAddr == "" {
			cfg.MetricsAddr = fc.Metrics
		}
		if cfg.Verbose >= 3 {
			logger.Debug("config overlay", "thresholds", fc.Thresholds, "disable", fc.Disable)
		}
	}

	src, err := openSource(flags.Args(), &cfg)
	if err != nil {
		logger.Error("input", "err", err)
		return exitFatal
	}
	defer src.Close()
	src.SelectChannel(cfg.Channel)
	if cfg.Verbose > 0 {
		logger.Info("input",
			"rate", src.Format.SampleRate,
			"bits", src.Format.BitsPerSample,
			"channels", src.Format.Channels)
	}

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, logger)
	}

	reg := buildRegistry(pn9)
	p, err := NewPipeline(cfg, fileCfg, src, reg, logger, os.Stdout)
	if err != nil {
		logger.Error("pipeline init", "err", err)
		return exitFatal
	}

	var code int
	if cfg.SoftBit != "" {
		code, err = p.runSoftBits(cfg.SoftBit)
	} else {
		code, err = p.Run()
	}
	if err != nil {
		logger.Error("run", "err", err)
		return exitFatal
	}
	if code < 0 {
		code += 256
	}
	return code
}

// iqUnset marks an absent --iq/--IQ value.
const iqUnset = -99.0

// exitFatal is the -1 of the C front-ends, as the shell sees it.
const exitFatal = 255

// buildRegistry binds the family decoders to their detector types.
// Families whose payload decoding lives outside this repository get the
// raw decoder so aligned bytes still surface.
func buildRegistry(pn9 bool) *sonde.Registry {
	reg := sonde.NewRegistry()

	reg.Register(scan.TypeRS41, rs41.New())
	reg.Register(scan.TypeDFM, dfm.New())
	m10dec := m10.New()
	reg.Register(scan.TypeM10, m10dec)
	reg.Register(scan.TypeM20, m10dec)
	reg.Register(scan.TypeLMS6, lms6.New())
	if pn9 {
		reg.Register(scan.TypeWXR301, wxr301.NewPN9())
	} else {
		reg.Register(scan.TypeWXR301, wxr301.New())
	}
	reg.Register(scan.TypeWXRPN9, wxr301.NewPN9())

	rawFamilies := []struct {
		typ  int
		name string
		bits int
		sym  int
	}{
		{scan.TypeRS92, "RS92", 2 * 240 * 8, 2},
		{scan.TypeMK2LMS, "MK2LMS", 300 * 8, 1},
		{scan.TypeMEISEI, "MEISEI", 100 * 8, 1},
		{scan.TypeMRZ, "MRZ", 100 * 8, 1},
		{scan.TypeMTS01, "MTS01", 100 * 8, 1},
		{scan.TypeC34C50, "C34C50", 32 * 8, 1},
		{scan.TypeIMET5, "IMET5", 100 * 8, 1},
		{scan.TypeIMET1AB, "IMET1AB", 100 * 8, 1},
		{scan.TypeIMET1RS, "IMET1RS", 100 * 8, 1},
		{scan.TypeIMET4, "IMET4", 100 * 8, 1},
	}
	for _, rf := range rawFamilies {
		reg.Register(rf.typ, &sonde.RawDecoder{
			FamilyName: rf.name,
			FrameSpec: sonde.FrameSpec{
				RawBits: rf.bits,
				Order:   bitsync.LSBFirst,
				SymLen:  rf.sym,
			},
		})
	}
	return reg
}

// openSource opens the positional input: a WAV path, stdin, or the raw
// PCM form `- <sample_rate> <bits_sample>`.
func openSource(args []string, cfg *Config) (*audio.Source, error) {
	if len(args) >= 3 && args[0] == "-" {
		rate, err1 := strconv.Atoi(args[1])
		bits, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%w: - <sample_rate> <bits_sample>", audio.ErrBadHeader)
		}
		channels := 1
		if cfg.IQMode != 0 {
			channels = 2
		}
		cfg.RawPCM = true
		cfg.RawPCMRate = rate
		cfg.RawPCMBits = bits
		return audio.OpenRaw(os.Stdin, audio.Format{
			SampleRate:    rate,
			BitsPerSample: bits,
			Channels:      channels,
		})
	}
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	cfg.InputPath = path
	return audio.Open(path)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
