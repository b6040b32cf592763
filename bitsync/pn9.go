package bitsync

// PN9 data whitening (x^9 + x^5 + 1, all-ones seed) as applied by the
// WXR-301D transmitter. The LFSR output repeats every 511 bits; the
// 64-byte table below covers a whole frame, applied modulo its length.
// Whitening is an involution: applying the table twice restores the data.
var pn9Table = [64]byte{
	0xFF, 0x87, 0xB8, 0x59, 0xB7, 0xA1, 0xCC, 0x24,
	0x57, 0x5E, 0x4B, 0x9C, 0x0E, 0xE9, 0xEA, 0x50,
	0x2A, 0xBE, 0xB4, 0x1B, 0xB6, 0xB0, 0x5D, 0xF1,
	0xE6, 0x9A, 0xE3, 0x45, 0xFD, 0x2C, 0x53, 0x18,
	0x0C, 0xCA, 0xC9, 0xFB, 0x49, 0x37, 0xE5, 0xA8,
	0x51, 0x3B, 0x2F, 0x61, 0xAA, 0x72, 0x18, 0x84,
	0x02, 0x23, 0x23, 0xAB, 0x63, 0x89, 0x51, 0xB3,
	0xE7, 0x8B, 0x72, 0x90, 0x4C, 0xE8, 0xFB, 0xC1,
}

// PN9Whiten XORs the PN9 sequence over buf starting at offset skip,
// leaving the preamble/length prefix untouched. The same call de-whitens.
func PN9Whiten(buf []byte, skip int) {
	for i := skip; i < len(buf); i++ {
		buf[i] ^= pn9Table[(i-skip)%len(pn9Table)]
	}
}
