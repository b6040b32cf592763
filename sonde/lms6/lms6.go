// Package lms6 decodes Lockheed Martin LMS6 (403 MHz) frames: the K=8
// convolutional inner code and the big-endian GPS payload.
package lms6

import (
	"fmt"
	"math"

	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/frame"
	"github.com/cwsl/sondescan/sonde"
)

// Frame geometry: 300 payload bytes, rate-1/2 coded on the wire.
const (
	FrameLen = 300

	posSondeSN = 0x00 // 3 byte
	posFrameNb = 0x03 // 2 byte
	posGPSTOW  = 0x05 // 4 byte, ms
	posGPSlat  = 0x0D // 4 byte
	posGPSlon  = 0x11 // 4 byte
	posGPSalt  = 0x15 // 4 byte
	posGPSvO   = 0x19 // 3 byte, signed, mm/s
	posGPSvN   = 0x1C
	posGPSvV   = 0x1F
)

// b60b60 scales the 32-bit angle fields to degrees (2^32 / 360).
const b60b60 = 0xB60B60

// errLimitBits bounds the error count to the GPS portion of the frame.
const errLimitBits = 256

// Decoder decodes LMS6 frames.
type Decoder struct {
	conv *frame.ConvDecoder
}

// New returns an LMS6 decoder.
func New() *Decoder {
	return &Decoder{conv: frame.NewLMS6ConvDecoder()}
}

// Name returns the family tag.
func (d *Decoder) Name() string { return "LMS6" }

// Spec returns the acquisition parameters: two coded symbols per data
// bit.
func (d *Decoder) Spec() sonde.FrameSpec {
	return sonde.FrameSpec{
		RawBits: 2 * FrameLen * 8,
		Order:   bitsync.LSBFirst,
		SymLen:  1,
	}
}

func beVal(buf []byte, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		v = v<<8 | uint32(buf[i])
	}
	return v
}

func vel24(buf []byte) float64 {
	v := int32(beVal(buf, 3))
	if v > 0x7FFFFF {
		v -= 0x1000000
	}
	return float64(v) / 1e3
}

// Decode undoes the convolutional code and parses the GPS payload.
func (d *Decoder) Decode(rawBits []byte, meta sonde.FrameMeta) (*sonde.Result, error) {
	bits := make([]byte, len(rawBits)/2)
	if _, err := d.conv.Decode(rawBits, bits); err != nil {
		return nil, err
	}
	convErrs := frame.CountErrors(bits, errLimitBits)

	buf := bitsync.PackBytes(bits, bitsync.LSBFirst)
	if len(buf) < posGPSvV+3 {
		return nil, fmt.Errorf("lms6: short frame: %d bytes", len(buf))
	}
	res := &sonde.Result{Bytes: buf, OK: convErrs == 0, Corrected: convErrs}

	if meta.Opts.Raw != 0 {
		res.Lines = []string{sonde.HexLine(buf) + "  # " + sonde.OKMarker(res.OK)}
		return res, nil
	}

	sn := beVal(buf[posSondeSN:], 3)
	frameNb := beVal(buf[posFrameNb:], 2)
	towMS := beVal(buf[posGPSTOW:], 4)
	lat := float64(int32(beVal(buf[posGPSlat:], 4))) / b60b60
	lon := float64(int32(beVal(buf[posGPSlon:], 4))) / b60b60
	alt := float64(int32(beVal(buf[posGPSalt:], 4))) / 1000.0

	vE := vel24(buf[posGPSvO:])
	vN := vel24(buf[posGPSvN:])
	vV := vel24(buf[posGPSvV:])

	gpsSec := int(towMS / 1000)
	day := gpsSec / 86400
	if day < 0 || day > 6 {
		return res, nil // no fix yet
	}
	hour := gpsSec % 86400 / 3600
	min := gpsSec % 3600 / 60
	sec := gpsSec % 60

	velH := math.Hypot(vE, vN)
	heading := math.Atan2(vE, vN) * 180 / math.Pi
	if heading < 0 {
		heading += 360
	}

	res.Lines = []string{fmt.Sprintf("(%d) [%5d] %s %02d:%02d:%02d  lat: %.5f  lon: %.5f  alt: %.2f   vH: %4.1f  D: %5.1f  vV: %3.1f  %s",
		sn, frameNb, sonde.Weekdays[day], hour, min, sec,
		lat, lon, alt, velH, heading, vV, sonde.OKMarker(res.OK))}

	res.Telemetry = &sonde.Telemetry{
		Type:        "LMS6",
		Frame:       frameNb,
		ID:          fmt.Sprintf("LMS6-%d", sn),
		Datetime:    fmt.Sprintf("%02d:%02d:%02dZ", hour, min, sec),
		Lat:         lat,
		Lon:         lon,
		Alt:         alt,
		VelH:        &velH,
		Heading:     &heading,
		VelV:        &vV,
		Freq:        meta.Opts.JSONFreqkHz,
		RefDatetime: "GPS",
		RefPosition: "GPS",
	}
	return res, nil
}
