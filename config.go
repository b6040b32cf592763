package main

import (
	"fmt"
	"os"

	goversion "github.com/hashicorp/go-version"
	"gopkg.in/yaml.v3"
)

// Version is the release the JSON frames report.
const Version = "1.2.0"

// Config is the immutable run configuration: every CLI switch lands here
// once at startup, optionally overlaid from a YAML file, and the hot
// path never consults anything else.
type Config struct {
	Verbose int
	Silent  bool

	Raw        int // 0 decoded, 1 hex bytes, 2 bit string
	Invert     bool
	AutoInvert bool

	IQMode  int     // 0 audio, 1 pre-translated IQ, 5 full baseband pipeline
	IQFreq  float64 // normalized center frequency for IQMode 5
	LpIQ    bool
	LpFM    bool
	LpBwkHz float64 // single-IF-bandwidth override
	DecFM   bool
	DC      bool
	Min     bool
	LBand   bool

	CRC       bool
	ECC       bool
	Threshold float64
	Baud      float64
	BitOfs    int

	JSON       bool
	JSONFreqHz uint64

	Channel    int
	D2         bool
	Continuous bool
	TimeLimit  float64
	DetectOnly bool

	RawPCM     bool
	RawPCMRate int
	RawPCMBits int

	SoftBit string // family name for soft-bit stdin decoding

	MetricsAddr string
	InputPath   string
}

// FileConfig is the optional YAML overlay: per-family threshold tweaks,
// disabled families, and a metrics listener, gated by a version
// constraint.
type FileConfig struct {
	Requires   string             `yaml:"requires,omitempty"`
	Thresholds map[string]float64 `yaml:"thresholds,omitempty"`
	Disable    []string           `yaml:"disable,omitempty"`
	Metrics    string             `yaml:"metrics,omitempty"`
}

// LoadFileConfig reads and validates the overlay file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if fc.Requires != "" {
		constraint, err := goversion.NewConstraint(fc.Requires)
		if err != nil {
			return nil, fmt.Errorf("config: bad requires %q: %w", fc.Requires, err)
		}
		v := goversion.Must(goversion.NewVersion(Version))
		if !constraint.Check(v) {
			return nil, fmt.Errorf("config: %s wants decoder %s, this is %s", path, fc.Requires, Version)
		}
	}
	return &fc, nil
}

// DisabledSet converts the disable list into the detector's lookup form.
func (fc *FileConfig) DisabledSet() map[string]bool {
	if fc == nil || len(fc.Disable) == 0 {
		return nil
	}
	m := make(map[string]bool, len(fc.Disable))
	for _, name := range fc.Disable {
		m[name] = true
	}
	return m
}
