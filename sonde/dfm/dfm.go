// Package dfm decodes Graw DFM-06/09 frames: Manchester symbol pairs,
// the 7/13-column interleaver, Hamming(8,4) blocks, and the channel
// packets that spread one position fix over several frames.
package dfm

import (
	"fmt"

	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/ecc"
	"github.com/cwsl/sondescan/frame"
	"github.com/cwsl/sondescan/sonde"
)

// One frame carries a 7-column configuration block and two 13-column
// data blocks, all Hamming(8,4) coded and column-interleaved.
const (
	confCols = 7
	datCols  = 13

	confBits = confCols * 8 // interleaved code bits
	datBits  = datCols * 8

	frameBits = confBits + 2*datBits // 264 data bits per frame
)

// Decoder accumulates the channel packets of the DFM frame stream. The
// position fix is spread over frame ids 0..4 and emitted on the date
// packet (id 8).
type Decoder struct {
	frnr      int
	sec       float64
	lat, lon  float64
	alt       float64
	horiV     float64
	dir       float64
	vertV     float64
	year      int
	month     int
	day       int
	hour, min int

	sn6      uint32
	sonde6OK bool
}

// New returns a DFM decoder.
func New() *Decoder { return &Decoder{} }

// Name returns the family tag.
func (d *Decoder) Name() string { return "DFM" }

// Spec returns the acquisition parameters: Manchester symbol pairs, two
// raw symbols per data bit.
func (d *Decoder) Spec() sonde.FrameSpec {
	return sonde.FrameSpec{
		RawBits: 2 * frameBits,
		Order:   bitsync.LSBFirst,
		SymLen:  2,
	}
}

// bitsToVal interprets bits MSB first.
func bitsToVal(bits []byte, n int) uint32 {
	var v uint32
	for j := 0; j < n; j++ {
		v = v<<1 | uint32(bits[j]&1)
	}
	return v
}

// Decode consumes one frame of raw Manchester symbols.
func (d *Decoder) Decode(rawBits []byte, meta sonde.FrameMeta) (*sonde.Result, error) {
	if len(rawBits) < 2*frameBits {
		return nil, fmt.Errorf("dfm: short frame: %d symbols", len(rawBits))
	}

	// Manchester: 10 -> 1, 01 -> 0; violations become error bits that
	// surface through the Hamming syndromes.
	var dec bitsync.ManchesterDecoder
	dec.Variant = bitsync.Manchester1
	bits := make([]byte, frameBits)
	for i := 0; i < frameBits; i++ {
		b, slipped := dec.Feed(rawBits[2*i], rawBits[2*i+1])
		if slipped {
			bits[i] = 0
		} else {
			bits[i] = b & 1
		}
	}

	var hamConf [confBits]byte
	var hamDat1, hamDat2 [datBits]byte
	conf := frame.Deinterleaver{Cols: confCols}
	dat := frame.Deinterleaver{Cols: datCols}
	if _, err := conf.Decode(bits[:confBits], hamConf[:]); err != nil {
		return nil, err
	}
	if _, err := dat.Decode(bits[confBits:confBits+datBits], hamDat1[:]); err != nil {
		return nil, err
	}
	if _, err := dat.Decode(bits[confBits+datBits:], hamDat2[:]); err != nil {
		return nil, err
	}

	var blockConf [confCols * 4]byte
	var blockDat1, blockDat2 [datCols * 4]byte
	_, errConf := ecc.HammingBlocks(hamConf[:], confCols, blockConf[:])
	_, errDat1 := ecc.HammingBlocks(hamDat1[:], datCols, blockDat1[:])
	_, errDat2 := ecc.HammingBlocks(hamDat2[:], datCols, blockDat2[:])

	res := &sonde.Result{OK: errConf == nil && errDat1 == nil && errDat2 == nil}

	if meta.Opts.Raw != 0 {
		res.Lines = []string{d.rawLine(blockConf[:], blockDat1[:], blockDat2[:])}
		return res, nil
	}

	if errConf == nil {
		d.confPacket(blockConf[:])
	}
	var lines []string
	if errDat1 == nil && d.datPacket(blockDat1[:]) == 8 {
		lines = append(lines, d.positionLine())
		res.Telemetry = d.telemetry(meta)
	}
	if errDat2 == nil && d.datPacket(blockDat2[:]) == 8 {
		lines = append(lines, d.positionLine())
		res.Telemetry = d.telemetry(meta)
	}
	res.Lines = lines
	return res, nil
}

func (d *Decoder) rawLine(conf, dat1, dat2 []byte) string {
	out := make([]byte, 0, confCols+2*datCols+2)
	for i := 0; i < confCols; i++ {
		out = append(out, nibChar(byte(bitsToVal(conf[4*i:], 4))))
	}
	out = append(out, ' ')
	for i := 0; i < datCols; i++ {
		out = append(out, nibChar(byte(bitsToVal(dat1[4*i:], 4))))
	}
	out = append(out, ' ')
	for i := 0; i < datCols; i++ {
		out = append(out, nibChar(byte(bitsToVal(dat2[4*i:], 4))))
	}
	return string(out)
}

func nibChar(n byte) byte {
	if n < 0xA {
		return '0' + n
	}
	return 'A' + n - 0xA
}

// confPacket tracks the serial-number channel (DFM-06 channel 6).
func (d *Decoder) confPacket(bits []byte) {
	confID := bitsToVal(bits, 4)
	if confID == 6 {
		sn := bitsToVal(bits[4:], 4*6)
		if sn == d.sn6 && sn != 0 {
			d.sonde6OK = true
		}
		d.sn6 = sn
	}
}

// datPacket decodes one 13-nibble data packet and returns its frame id.
func (d *Decoder) datPacket(bits []byte) int {
	frID := int(bitsToVal(bits[48:], 4))
	switch frID {
	case 0:
		d.frnr = int(bitsToVal(bits[24:], 8))
	case 1:
		d.sec = float64(bitsToVal(bits[32:], 16)) / 1000.0
	case 2:
		d.lat = float64(int32(bitsToVal(bits, 32))) / 1e7
		d.horiV = float64(int16(bitsToVal(bits[32:], 16))) / 1e2
	case 3:
		d.lon = float64(int32(bitsToVal(bits, 32))) / 1e7
		d.dir = float64(bitsToVal(bits[32:], 16)) / 1e2
	case 4:
		d.alt = float64(int32(bitsToVal(bits, 32))) / 1e2
		d.vertV = float64(int16(bitsToVal(bits[32:], 16))) / 1e2
	case 8:
		d.year = int(bitsToVal(bits, 12))
		d.month = int(bitsToVal(bits[12:], 4))
		d.day = int(bitsToVal(bits[16:], 5))
		d.hour = int(bitsToVal(bits[21:], 5))
		d.min = int(bitsToVal(bits[26:], 6))
	}
	return frID
}

func (d *Decoder) positionLine() string {
	return fmt.Sprintf("[%5d] %04d-%02d-%02d %02d:%02d:%04.1f  lat: %.6f  lon: %.6f  alt: %.1f   vH: %4.1f  D: %5.1f  vV: %4.1f",
		d.frnr, d.year, d.month, d.day, d.hour, d.min, d.sec,
		d.lat, d.lon, d.alt, d.horiV, d.dir, d.vertV)
}

func (d *Decoder) telemetry(meta sonde.FrameMeta) *sonde.Telemetry {
	velH, heading, velV := d.horiV, d.dir, d.vertV
	subtype := ""
	if d.sonde6OK {
		subtype = "DFM06"
	}
	return &sonde.Telemetry{
		Type:  "DFM",
		Frame: uint32(d.frnr),
		ID:    fmt.Sprintf("D%06d", d.sn6),
		Datetime: fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%06.3fZ",
			d.year, d.month, d.day, d.hour, d.min, d.sec),
		Lat:         d.lat,
		Lon:         d.lon,
		Alt:         d.alt,
		VelH:        &velH,
		Heading:     &heading,
		VelV:        &velV,
		Freq:        meta.Opts.JSONFreqkHz,
		Subtype:     subtype,
		RefDatetime: "UTC",
		RefPosition: "GPS",
	}
}
