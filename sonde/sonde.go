// Package sonde defines the telemetry data model shared by the family
// decoders, the decoder registry the dispatcher routes through, and the
// GPS coordinate/time helpers the families have in common.
package sonde

import (
	"encoding/json"

	"github.com/cwsl/sondescan/bitsync"
)

// Telemetry is one decoded frame in the auto_rx JSON schema. Optional
// fields are pointers so absent sensors stay out of the output.
type Telemetry struct {
	Type     string  `json:"type"`
	Frame    uint32  `json:"frame"`
	ID       string  `json:"id"`
	Datetime string  `json:"datetime"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Alt      float64 `json:"alt"`

	VelH    *float64 `json:"vel_h,omitempty"`
	Heading *float64 `json:"heading,omitempty"`
	VelV    *float64 `json:"vel_v,omitempty"`

	Sats     *int     `json:"sats,omitempty"`
	Temp     *float64 `json:"temp,omitempty"`
	Humidity *float64 `json:"humidity,omitempty"`
	Pressure *float64 `json:"pressure,omitempty"`
	Batt     *float64 `json:"batt,omitempty"`

	Freq    uint32 `json:"freq,omitempty"` // kHz
	Subtype string `json:"subtype,omitempty"`

	RefDatetime string `json:"ref_datetime"` // "UTC" | "GPS"
	RefPosition string `json:"ref_position"` // "MSL" | "GPS"

	Version string `json:"version,omitempty"`
}

// JSONLine renders the telemetry as one line-delimited JSON object.
func (t *Telemetry) JSONLine() string {
	b, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return string(b)
}

// Options carry the output and integrity switches down to the decoders.
type Options struct {
	Raw         int // 0: decoded, 1: hex bytes, 2: bit string
	CRC         bool
	ECC         bool
	JSON        bool
	JSONFreqkHz uint32
	Verbose     int
}

// FrameMeta is the per-frame context the dispatcher hands a decoder.
type FrameMeta struct {
	CaptureSample uint64
	FreqOffsetHz  float64
	Inverted      bool
	Opts          Options
}

// FrameSpec tells the pipeline how to acquire a family's frame after
// sync: how many raw channel bits to collect and how bytes are packed.
type FrameSpec struct {
	RawBits int
	Order   bitsync.BitOrder
	SymLen  int // 1, or 2 for Manchester symbol pairs
}

// Result is a decoded frame plus its integrity verdict.
type Result struct {
	Telemetry *Telemetry
	Lines     []string // human-readable output, one line per emission
	Bytes     []byte   // aligned frame bytes after descrambling
	OK        bool
	Corrected int // RS-corrected bytes; -1 when correction failed
}

// Decoder is the narrow contract between the core pipeline and a family
// decoder: raw recovered bits in, telemetry out.
type Decoder interface {
	Name() string
	Spec() FrameSpec
	Decode(rawBits []byte, meta FrameMeta) (*Result, error)
}

// Registry maps detector family types to their decoders.
type Registry struct {
	decoders map[int]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[int]Decoder)}
}

// Register binds a decoder to a detector type number.
func (r *Registry) Register(typ int, d Decoder) {
	r.decoders[typ] = d
}

// Lookup returns the decoder for a detector type.
func (r *Registry) Lookup(typ int) (Decoder, bool) {
	d, ok := r.decoders[typ]
	return d, ok
}
