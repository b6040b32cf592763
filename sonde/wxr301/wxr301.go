// Package wxr301 decodes Weathex WxR-301D frames, plain (4800 Bd) and
// PN9-whitened (5000 Bd): de-whitening, the XOR+SUM frame check, and the
// serial/time/position subframes.
package wxr301

import (
	"encoding/binary"
	"fmt"

	"github.com/cwsl/sondescan/bitsync"
	"github.com/cwsl/sondescan/checksum"
	"github.com/cwsl/sondescan/sonde"
)

// Frame geometry: 69 bytes total, of which the first five are the sync
// preamble. The payload starts at offset 6 (plain) or 8 (PN9) and the
// check pair covers 53 bytes.
const (
	FrameLen  = 69
	HeaderLen = 5

	payloadOfs    = 6
	payloadOfsPN9 = 8
	checkSpan     = 53
)

var (
	headerPlain = [HeaderLen]byte{0xAA, 0xAA, 0xAA, 0x2D, 0xD4}
	headerPN9   = [HeaderLen]byte{0xAA, 0xAA, 0xAA, 0xC1, 0x94}
)

// Decoder decodes Weathex frames. PN9 selects the whitened 5000 Bd
// variant. Position output needs the serial/counter pair of subframe 1
// to match subframe 2, the original's double check against the weak
// 8-bit sums.
type Decoder struct {
	PN9 bool

	sn1, cnt1 uint32
	chk1OK    bool
}

// New returns a decoder for the plain variant.
func New() *Decoder { return &Decoder{} }

// NewPN9 returns a decoder for the PN9-whitened variant.
func NewPN9() *Decoder { return &Decoder{PN9: true} }

// Name returns the family tag.
func (d *Decoder) Name() string {
	if d.PN9 {
		return "WXRPN9"
	}
	return "WXR301"
}

// Spec returns the acquisition parameters.
func (d *Decoder) Spec() sonde.FrameSpec {
	return sonde.FrameSpec{
		RawBits: (FrameLen - HeaderLen) * 8,
		Order:   bitsync.LSBFirst,
		SymLen:  1,
	}
}

// Decode de-whitens and parses one frame.
func (d *Decoder) Decode(rawBits []byte, meta sonde.FrameMeta) (*sonde.Result, error) {
	body := bitsync.PackBytes(rawBits, bitsync.LSBFirst)
	hdr := headerPlain
	ofs := payloadOfs
	if d.PN9 {
		hdr = headerPN9
		ofs = payloadOfsPN9
	}
	buf := make([]byte, 0, HeaderLen+len(body))
	buf = append(buf, hdr[:]...)
	buf = append(buf, body...)
	if len(buf) < FrameLen {
		return nil, fmt.Errorf("wxr301: short frame: %d bytes", len(buf))
	}

	if d.PN9 {
		bitsync.PN9Whiten(buf, payloadOfs)
	}

	chkVal := checksum.XorSum(buf[ofs : ofs+checkSpan])
	chkDat := binary.BigEndian.Uint16(buf[ofs+checkSpan:])
	res := &sonde.Result{Bytes: buf, OK: chkVal == chkDat}

	if meta.Opts.Raw != 0 {
		res.Lines = []string{sonde.HexLine(buf) + "  # " + sonde.OKMarker(res.OK)}
		return res, nil
	}

	sn := binary.LittleEndian.Uint32(buf[ofs:])
	cnt := uint32(binary.LittleEndian.Uint16(buf[ofs+4:]))
	frID := buf[ofs+6]

	switch frID {
	case 1:
		d.sn1 = sn
		d.cnt1 = cnt
		d.chk1OK = res.OK
		if meta.Opts.Verbose > 0 {
			res.Lines = []string{fmt.Sprintf(" (%d)  [%5d]   %s", sn, cnt, sonde.OKMarker(res.OK))}
		}
	case 2:
		hms := int(binary.LittleEndian.Uint32(buf[ofs+7:])&0x3FFFF)
		hour := hms / 10000
		min := hms % 10000 / 100
		sec := hms % 100

		altRaw := int(binary.LittleEndian.Uint32(buf[ofs+13:])) >> 4 & 0x7FFFF
		alt := float64(altRaw) / 10.0
		latRaw := int(binary.LittleEndian.Uint32(buf[ofs+15:])) >> 7 & 0x1FFFFFF
		lat := float64(latRaw) / 1e5
		lonRaw := int(binary.LittleEndian.Uint32(buf[ofs+19:])) & 0x3FFFFFF
		lon := float64(lonRaw) / 1e5

		res.Lines = []string{fmt.Sprintf(" (%d)  [%5d]  %02d:%02d:%02d  lat: %.4f  lon: %.4f  alt: %.1f   %s",
			sn, cnt, hour, min, sec, lat, lon, alt, sonde.OKMarker(res.OK))}

		zeroPos := altRaw == 0 && latRaw == 0 && lonRaw == 0
		if res.OK && !zeroPos && d.chk1OK && sn == d.sn1 && cnt == d.cnt1 {
			subtype := ""
			if d.PN9 {
				subtype = "WXR_PN9"
			}
			res.Telemetry = &sonde.Telemetry{
				Type:     "WXR301",
				Frame:    cnt,
				ID:       fmt.Sprintf("WXR-%d", sn),
				Datetime: fmt.Sprintf("%02d:%02d:%02dZ", hour, min, sec),
				Lat:      lat,
				Lon:      lon,
				Alt:      alt,
				Freq:     meta.Opts.JSONFreqkHz,
				Subtype:  subtype,
				RefDatetime: "UTC",
				RefPosition: "MSL",
			}
		}
	}
	return res, nil
}
