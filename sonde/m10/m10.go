// Package m10 decodes MeteoModem M10 and M20 frames: differential
// Manchester symbols, the rolling 16-bit frame check, and the Trimble
// GPS payload of the M10.
package m10

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/sonde"
)

// Frame geometry: byte 0 is framelen-1, byte 1 the type. The M10 family
// sends 0x64 0x9F (0xAF with the Gtop GPS); the M20 sends 0x45 0x20.
const (
	m10FrameLen = 0x64 + 1
	m20FrameLen = 0x45 + 1

	typeM10     = 0x9F
	typeM10Plus = 0xAF
	typeM20     = 0x20

	posGPSvel  = 0x04
	posGPSTOW  = 0x0A
	posGPSlat  = 0x0E
	posGPSlon  = 0x12
	posGPSalt  = 0x16
	posGPSweek = 0x20
)

// b60b60 scales the 32-bit angle fields to degrees (2^32 / 360).
const b60b60 = 0xB60B60

// headerTailBits is the number of data bits whose symbol pairs live in
// the sync pattern rather than the payload stream.
const headerTailBits = 2

// Decoder decodes M10/M20 frames.
type Decoder struct{}

// New returns an M10/M20 decoder.
func New() *Decoder { return &Decoder{} }

// Name returns the family tag.
func (d *Decoder) Name() string { return "M10" }

// Spec returns the acquisition parameters: two differential-Manchester
// symbols per data bit, bytes packed MSB first. The first two data bits
// ride in the detector's sync pattern.
func (d *Decoder) Spec() sonde.FrameSpec {
	return sonde.FrameSpec{
		RawBits: 2 * (8*m10FrameLen - headerTailBits),
		Order:   bitsync.MSBFirst,
		SymLen:  2,
	}
}

// UpdateCheck advances the rolling frame check by one byte, the bit
// shuffle the MeteoModem firmware applies.
func UpdateCheck(c int, b byte) int {
	c1 := c & 0xFF

	// B
	b = (b >> 1) | ((b & 1) << 7)
	b ^= (b >> 2) & 0xFF

	// A1
	t6 := (c & 1) ^ ((c >> 2) & 1) ^ ((c >> 4) & 1)
	t7 := ((c >> 1) & 1) ^ ((c >> 3) & 1) ^ ((c >> 5) & 1)
	t := (c & 0x3F) | (t6 << 6) | (t7 << 7)

	// A2
	s := (c >> 7) & 0xFF
	s ^= (s >> 2) & 0xFF

	c0 := int(b) ^ t ^ s
	return (c1<<8 | c0) & 0xFFFF
}

// Check computes the frame check over msg.
func Check(msg []byte) uint16 {
	cs := 0
	for _, b := range msg {
		cs = UpdateCheck(cs, b)
	}
	return uint16(cs)
}

// Decode reassembles the frame from the differential symbol stream and
// parses it by type.
func (d *Decoder) Decode(rawBits []byte, meta sonde.FrameMeta) (*sonde.Result, error) {
	nbits := headerTailBits + len(rawBits)/2
	bits := make([]byte, 0, nbits)

	// The sync tail "1010" carries the first two symbol pairs; seed the
	// differential decoder with the final header symbol. The pipeline
	// normalizes polarity before this point.
	bit0 := byte(0)
	feed := func(mb byte) {
		bits = append(bits, 1^(bit0^mb))
		bit0 = mb
	}
	feed(1)
	feed(1)
	for i := 0; i+1 < len(rawBits); i += 2 {
		// pair polarity: first symbol carries the Manchester value
		feed(bitVal(rawBits[i]))
	}

	buf := bitsync.PackBytes(bits, bitsync.MSBFirst)
	if len(buf) < m20FrameLen {
		return nil, fmt.Errorf("m10: short frame: %d bytes", len(buf))
	}

	res := &sonde.Result{}
	frameLen := int(buf[0]) + 1
	typ := buf[1]

	switch {
	case typ == typeM20 || frameLen <= m20FrameLen:
		if frameLen > len(buf) {
			frameLen = len(buf)
		}
		buf = buf[:frameLen]
		res.Bytes = buf
		res.OK = Check(buf[:frameLen-2]) == binary.BigEndian.Uint16(buf[frameLen-2:])
		res.Lines = []string{fmt.Sprintf("M20 (%02X %02X)  %s", buf[0], buf[1], sonde.OKMarker(res.OK))}
		if meta.Opts.Raw != 0 {
			res.Lines = []string{sonde.HexLine(buf) + "  # " + sonde.OKMarker(res.OK)}
		}
		return res, nil
	default:
		if frameLen > len(buf) {
			frameLen = len(buf)
		}
		buf = buf[:frameLen]
		res.Bytes = buf
		res.OK = Check(buf[:frameLen-2]) == binary.BigEndian.Uint16(buf[frameLen-2:])
	}

	if meta.Opts.Raw != 0 {
		res.Lines = []string{sonde.HexLine(buf) + "  # " + sonde.OKMarker(res.OK)}
		return res, nil
	}

	// Trimble GPS payload, big-endian fields.
	tow := int(binary.BigEndian.Uint32(buf[posGPSTOW:]))
	week := int(binary.BigEndian.Uint16(buf[posGPSweek:]))
	lat := float64(int32(binary.BigEndian.Uint32(buf[posGPSlat:]))) / b60b60
	lon := float64(int32(binary.BigEndian.Uint32(buf[posGPSlon:]))) / b60b60
	alt := float64(int32(binary.BigEndian.Uint32(buf[posGPSalt:]))) / 1000.0

	vE := float64(int16(binary.BigEndian.Uint16(buf[posGPSvel:]))) / 200.0
	vN := float64(int16(binary.BigEndian.Uint16(buf[posGPSvel+2:]))) / 200.0
	vV := float64(int16(binary.BigEndian.Uint16(buf[posGPSvel+4:]))) / 200.0

	gpsSec := tow / 1000
	wday := (gpsSec / 86400) % 7
	hour := gpsSec % 86400 / 3600
	min := gpsSec % 3600 / 60
	sec := gpsSec % 60
	year, month, day := sonde.GPSToDate(week, gpsSec)

	velH := math.Hypot(vE, vN)
	heading := math.Atan2(vE, vN) * 180 / math.Pi
	if heading < 0 {
		heading += 360
	}

	subtype := "M10"
	if typ == typeM10Plus {
		subtype = "M10+"
	}

	res.Lines = []string{fmt.Sprintf("[%s] %s %04d-%02d-%02d %02d:%02d:%02d  lat: %.6f  lon: %.6f  alt: %.2f   vH: %4.1f  D: %5.1f  vV: %3.1f  %s",
		subtype, sonde.Weekdays[wday], year, month, day, hour, min, sec,
		lat, lon, alt, velH, heading, vV, sonde.OKMarker(res.OK))}

	res.Telemetry = &sonde.Telemetry{
		Type:  "M10",
		Frame: uint32(gpsSec),
		ID:    serialM10(buf),
		Datetime: fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02dZ",
			year, month, day, hour, min, sec),
		Lat:         lat,
		Lon:         lon,
		Alt:         alt,
		VelH:        &velH,
		Heading:     &heading,
		VelV:        &vV,
		Freq:        meta.Opts.JSONFreqkHz,
		Subtype:     subtype,
		RefDatetime: "GPS",
		RefPosition: "GPS",
	}
	return res, nil
}

// serialM10 renders the sonde number from the ID bytes at 0x5D.
func serialM10(buf []byte) string {
	const posSN = 0x5D
	if len(buf) < posSN+5 {
		return ""
	}
	b := buf[posSN:]
	nr := (uint32(b[3]) << 8) | uint32(b[4])
	return fmt.Sprintf("M10-%X%02d-%d-%05d", b[0]&0xF, b[1], (b[2]>>7)+1, nr&0x7FFF)
}

func bitVal(b byte) byte {
	switch b {
	case 1, '1':
		return 1
	}
	return 0
}
