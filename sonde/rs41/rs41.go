// Package rs41 decodes Vaisala RS41 frames: XOR-descrambling, the dual
// Reed-Solomon codewords, per-block CRC checks, and the GPS position and
// velocity payload.
package rs41

import (
	"encoding/binary"
	"fmt"

	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/checksum"
	"github.com/cwsl/sondescan/ecc"
	"github.com/cwsl/sondescan/frame"
	"github.com/cwsl/sondescan/sonde"
)

// Frame geometry. The scrambled header occupies the first eight bytes;
// an extended frame carries auxiliary XDATA behind the standard payload.
const (
	HeaderLen   = 8
	FrameLen    = 320
	MaxFrameLen = 518

	parPos = 8  // 2*24 parity bytes
	msgPos = 56 // interleaved message bytes

	posFrameNb  = 0x03B
	posSondeID  = 0x03D
	posGPSweek  = 0x095
	posGPSTOW   = 0x097
	posGPSecefX = 0x114
	posGPSecefV = 0x120

	posBlockFrame = 0x039
	posBlockTOW   = 0x093
	posBlockKoord = 0x112
)

// scrambledHeader is the sync pattern as transmitted (the clear header
// 10 B6 CA 11 22 96 12 F8 under the scrambler mask).
var scrambledHeader = [HeaderLen]byte{0x86, 0x35, 0xF4, 0x40, 0x93, 0xDF, 0x1A, 0x60}

// Decoder decodes RS41 frames.
type Decoder struct {
	rs *ecc.RS
}

// New returns an RS41 decoder.
func New() *Decoder {
	return &Decoder{rs: ecc.NewVaisalaRS()}
}

// Name returns the family tag.
func (d *Decoder) Name() string { return "RS41" }

// Spec returns the acquisition parameters: the bits of a standard frame
// past the header, packed LSB first.
func (d *Decoder) Spec() sonde.FrameSpec {
	return sonde.FrameSpec{
		RawBits: (FrameLen - HeaderLen) * 8,
		Order:   bitsync.LSBFirst,
		SymLen:  1,
	}
}

// correctRS splits the descrambled frame into the two interleaved
// RS(255,231) codewords, corrects them in place, and returns the total
// corrected byte count or -1 when either codeword fails.
func (d *Decoder) correctRS(buf []byte) int {
	frmLen := len(buf)
	if frmLen > MaxFrameLen {
		frmLen = MaxFrameLen
	}
	msgLen := (frmLen - msgPos) / 2

	const n, r = 255, 24
	k := n - r
	var cw1, cw2 [n]byte

	for i := 0; i < msgLen; i++ {
		cw1[k-1-i] = buf[msgPos+2*i]
		cw2[k-1-i] = buf[msgPos+1+2*i]
	}
	for i := 0; i < r; i++ {
		cw1[n-1-i] = buf[parPos+i]
		cw2[n-1-i] = buf[parPos+r+i]
	}

	e1, err1 := d.rs.Decode(cw1[:])
	e2, err2 := d.rs.Decode(cw2[:])
	if err1 != nil || err2 != nil {
		return -1
	}

	for i := 0; i < msgLen; i++ {
		buf[msgPos+2*i] = cw1[k-1-i]
		buf[msgPos+1+2*i] = cw2[k-1-i]
	}
	for i := 0; i < r; i++ {
		buf[parPos+i] = cw1[n-1-i]
		buf[parPos+r+i] = cw2[n-1-i]
	}
	return e1 + e2
}

// blockOK verifies the CRC-16 of the subframe block starting at pos
// (subheader byte, length byte, payload, little-endian CRC).
func blockOK(buf []byte, pos int) bool {
	if pos+2 > len(buf) {
		return false
	}
	blockLen := int(buf[pos+1])
	if pos+2+blockLen+2 > len(buf) {
		return false
	}
	want := binary.LittleEndian.Uint16(buf[pos+2+blockLen:])
	return checksum.CRC16CCITT(buf[pos+2:pos+2+blockLen], checksum.InitCCITT) == want
}

// Decode descrambles, error-corrects and parses one frame.
func (d *Decoder) Decode(rawBits []byte, meta sonde.FrameMeta) (*sonde.Result, error) {
	body := bitsync.PackBytes(rawBits, bitsync.LSBFirst)
	buf := make([]byte, 0, HeaderLen+len(body))
	buf = append(buf, scrambledHeader[:]...)
	buf = append(buf, body...)

	frame.ApplyRS41Mask(buf, 0)

	res := &sonde.Result{Bytes: buf, Corrected: 0}

	if meta.Opts.ECC {
		res.Corrected = d.correctRS(buf)
	}

	crcFrame := blockOK(buf, posBlockFrame)
	crcTOW := blockOK(buf, posBlockTOW)
	crcKoord := blockOK(buf, posBlockKoord)
	res.OK = crcFrame && crcTOW && crcKoord
	if res.Corrected < 0 {
		res.OK = false
	}

	if meta.Opts.Raw != 0 {
		res.Lines = []string{sonde.HexLine(buf) + "  # " + sonde.OKMarker(res.OK)}
		return res, nil
	}

	frameNb := binary.LittleEndian.Uint16(buf[posFrameNb:])
	id := sondeID(buf[posSondeID : posSondeID+8])
	week := int(binary.LittleEndian.Uint16(buf[posGPSweek:]))
	towMS := binary.LittleEndian.Uint32(buf[posGPSTOW:])

	gpsSec := int(towMS / 1000)
	ms := int(towMS % 1000)
	wday := (gpsSec / 86400) % 7
	hour := gpsSec % 86400 / 3600
	min := gpsSec % 3600 / 60
	sec := gpsSec % 60
	year, month, day := sonde.GPSToDate(week, gpsSec)

	x := float64(int32(binary.LittleEndian.Uint32(buf[posGPSecefX:]))) / 100.0
	y := float64(int32(binary.LittleEndian.Uint32(buf[posGPSecefX+4:]))) / 100.0
	z := float64(int32(binary.LittleEndian.Uint32(buf[posGPSecefX+8:]))) / 100.0
	lat, lon, alt := sonde.ECEFToGeodetic(x, y, z)

	vx := float64(int16(binary.LittleEndian.Uint16(buf[posGPSecefV:]))) / 100.0
	vy := float64(int16(binary.LittleEndian.Uint16(buf[posGPSecefV+2:]))) / 100.0
	vz := float64(int16(binary.LittleEndian.Uint16(buf[posGPSecefV+4:]))) / 100.0
	velH, heading, velV := sonde.ECEFVelocity(vx, vy, vz, lat, lon)

	line := fmt.Sprintf("[%5d] (%s) %s %04d-%02d-%02d %02d:%02d:%02d  lat: %.5f  lon: %.5f  h: %.2f   vH: %4.1f  D: %5.1f  vV: %3.1f",
		frameNb, id, sonde.Weekdays[wday], year, month, day, hour, min, sec,
		lat, lon, alt, velH, heading, velV)
	if meta.Opts.ECC {
		line += fmt.Sprintf("  # [rs %d]", res.Corrected)
	}
	if meta.Opts.CRC || meta.Opts.ECC {
		line += " " + sonde.OKMarker(res.OK)
	}
	res.Lines = []string{line}

	res.Telemetry = &sonde.Telemetry{
		Type:  "RS41",
		Frame: uint32(frameNb),
		ID:    id,
		Datetime: fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%03dZ",
			year, month, day, hour, min, sec, ms),
		Lat:         lat,
		Lon:         lon,
		Alt:         alt,
		VelH:        &velH,
		Heading:     &heading,
		VelV:        &velV,
		Freq:        meta.Opts.JSONFreqkHz,
		RefDatetime: "GPS",
		RefPosition: "GPS",
	}
	return res, nil
}

func sondeID(raw []byte) string {
	n := 0
	for n < len(raw) && raw[n] >= 0x20 && raw[n] < 0x7F {
		n++
	}
	return string(raw[:n])
}
