package frame

import "fmt"

// ConvDecoder undoes the LMS6 rate-1/2 K=8 convolutional inner code by
// sequential decoding: with the previous K-1 data bits known, only the
// newest bit is free, and the two parity streams agree on it unless the
// channel corrupted the pair. Disagreements yield the '8'/'9' error
// markers (best guess 0/1) instead of aborting, and only mismatches in
// the first 256 data bits count toward the error total, past the GPS
// velocity fields the payload is padding.
type ConvDecoder struct {
	polyA, polyB [8]byte
}

// NewLMS6ConvDecoder returns the decoder for the LMS6 polynomial pair
// 0xA9/0x44.
func NewLMS6ConvDecoder() *ConvDecoder {
	return &ConvDecoder{
		polyA: [8]byte{1, 0, 0, 1, 0, 1, 0, 1}, // 0xA9
		polyB: [8]byte{0, 0, 1, 0, 0, 0, 1, 0}, // 0x44
	}
}

const convK = 8

// Decode consumes pairs of raw symbols (0/1 or ASCII) and produces
// len(raw)/2 data bits as ASCII '0'/'1'/'8'/'9'. The return value is the
// number of bits written; the error count is recoverable through
// CountErrors on the output.
func (c *ConvDecoder) Decode(raw []byte, out []byte) (int, error) {
	nbits := len(raw) / 2
	if len(out) < nbits {
		return 0, fmt.Errorf("frame: conv decode needs %d output bits", nbits)
	}
	// bits holds K-1 zero history bits followed by the decoded data.
	bits := make([]byte, nbits+convK)
	for n := 0; n < nbits; n++ {
		var bitA, bitB byte
		for j := 0; j < convK-1; j++ {
			bitA ^= bits[n+j] & c.polyA[j]
			bitB ^= bits[n+j] & c.polyB[j]
		}
		p0 := bitVal(raw[2*n])
		p1 := bitVal(raw[2*n+1])
		switch {
		case bitA^p0 == c.polyA[convK-1] && bitB^p1 == c.polyB[convK-1]:
			bits[n+convK-1] = 1
			out[n] = '1'
		case bitA^p0 == 0 && bitB^p1 == 0:
			bits[n+convK-1] = 0
			out[n] = '0'
		case bitA^p0 != c.polyA[convK-1] && bitB^p1 == c.polyB[convK-1]:
			bits[n+convK-1] = 1
			out[n] = '9'
		default:
			bits[n+convK-1] = 0
			out[n] = '8'
		}
	}
	return nbits, nil
}

// CountErrors counts the marker bits in the first limit decoded bits.
func CountErrors(bits []byte, limit int) int {
	if limit > len(bits) {
		limit = len(bits)
	}
	n := 0
	for _, b := range bits[:limit] {
		if b == '8' || b == '9' {
			n++
		}
	}
	return n
}

func bitVal(b byte) byte {
	switch b {
	case 1, '1', '9':
		return 1
	}
	return 0
}
