package ecc

// Shortened Hamming(8,4) as used by DFM frames: four data bits followed by
// four parity bits per code block, systematic, with single-bit correction
// through the syndrome column table.

// hammingParity is the parity-check matrix H; each row produces one
// syndrome bit over the 8 code bits.
var hammingParity = [4][8]byte{
	{0, 1, 1, 1, 1, 0, 0, 0},
	{1, 0, 1, 1, 0, 1, 0, 0},
	{1, 1, 0, 1, 0, 0, 1, 0},
	{1, 1, 1, 0, 0, 0, 0, 1},
}

// hammingSyndromes maps each code-bit position to the syndrome produced by
// flipping that single bit (the columns of H).
var hammingSyndromes = [8]byte{0x7, 0xB, 0xD, 0xE, 0x8, 0x4, 0x2, 0x1}

// HammingCheck computes the syndrome of one 8-bit code block (bits as
// 0/1 bytes) and corrects a single-bit error in place. It returns the
// number of corrected bits, or ErrUncorrectable when the syndrome matches
// no single-bit error pattern.
func HammingCheck(block []byte) (int, error) {
	if len(block) < 8 {
		return 0, ErrUncorrectable
	}
	var syndrome byte
	for i := 0; i < 4; i++ {
		var s byte
		for j := 0; j < 8; j++ {
			s ^= hammingParity[i][j] * (block[j] & 1)
		}
		syndrome |= s << (3 - i)
	}
	if syndrome == 0 {
		return 0, nil
	}
	for pos, syn := range hammingSyndromes {
		if syn == syndrome {
			block[pos] ^= 1
			return 1, nil
		}
	}
	return 0, ErrUncorrectable
}

// HammingBlocks checks cols consecutive 8-bit code blocks and copies the
// four systematic data bits of each into out. The returned count is the
// total number of corrected bits; an uncorrectable block poisons the whole
// group but decoding continues, matching the original decoder's policy of
// emitting data with a failed-check marker.
func HammingBlocks(blocks []byte, cols int, out []byte) (int, error) {
	corrected := 0
	var firstErr error
	for i := 0; i < cols; i++ {
		n, err := HammingCheck(blocks[8*i : 8*i+8])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		corrected += n
		for j := 0; j < 4; j++ {
			out[4*i+j] = blocks[8*i+j] & 1
		}
	}
	return corrected, firstErr
}
