package sonde

import (
	"fmt"

	"github.com/cwsl/sondescan/bitsync"
)

// Dispatch routes an acquired frame to the family decoder registered for
// the detector type. Families without a dedicated decoder fall back to
// the raw decoder so their aligned bytes still surface. The dispatcher
// holds no state between frames.
func Dispatch(reg *Registry, typ int, rawBits []byte, meta FrameMeta) (*Result, error) {
	if d, ok := reg.Lookup(typ); ok {
		return d.Decode(rawBits, meta)
	}
	return rawDecode(rawBits, meta), nil
}

// RawDecoder emits aligned bytes for families whose payload decoding
// lives outside this repository.
type RawDecoder struct {
	FamilyName string
	FrameSpec  FrameSpec
}

// Name returns the family tag.
func (r *RawDecoder) Name() string { return r.FamilyName }

// Spec returns the acquisition parameters.
func (r *RawDecoder) Spec() FrameSpec { return r.FrameSpec }

// Decode packs the bits and renders a hex line.
func (r *RawDecoder) Decode(rawBits []byte, meta FrameMeta) (*Result, error) {
	res := rawDecode(rawBits, meta)
	return res, nil
}

func rawDecode(rawBits []byte, meta FrameMeta) *Result {
	bytes := bitsync.PackBytes(rawBits, bitsync.LSBFirst)
	line := ""
	if meta.Opts.Raw == 2 {
		buf := make([]byte, len(rawBits))
		for i, b := range rawBits {
			switch b {
			case 0, '0':
				buf[i] = '0'
			case 1, '1':
				buf[i] = '1'
			default:
				buf[i] = b
			}
		}
		line = string(buf)
	} else {
		line = HexLine(bytes)
	}
	return &Result{Bytes: bytes, Lines: []string{line}, OK: false, Corrected: 0}
}

// HexLine formats frame bytes the way the raw output modes print them.
func HexLine(bytes []byte) string {
	out := make([]byte, 0, 3*len(bytes))
	for _, b := range bytes {
		out = append(out, fmt.Sprintf("%02X ", b)...)
	}
	if len(out) > 0 {
		out = out[:len(out)-1]
	}
	return string(out)
}

// OKMarker renders the integrity verdict suffix.
func OKMarker(ok bool) string {
	if ok {
		return "[OK]"
	}
	return "[NO]"
}
