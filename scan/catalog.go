// Package scan implements the frame synchronizer and family auto-detector:
// Gaussian-shaped sync templates for every supported radiosonde family,
// an FFT matched-filter correlator over a ring of demodulated samples, and
// the detection state machine with its disambiguation rules.
package scan

// Family type numbers, the contract with auto_rx style callers: the scan
// front-end exits with tn * sign(score).
const (
	TypeDFM      = 2
	TypeRS41     = 3
	TypeRS92     = 4
	TypeM10      = 5
	TypeM20      = 6
	TypeLMS6     = 8
	TypeMEISEI   = 9
	TypeMRZ      = 12
	TypeMTS01    = 13
	TypeC34C50   = 15
	TypeWXR301   = 16
	TypeWXRPN9   = 17
	TypeMK2LMS   = 18
	TypeIMET5    = 24
	TypeIMETafsk = 25
	TypeIMET4    = 26
	TypeIMET1RS  = 28
	TypeIMET1AB  = 29
)

// Sync bit patterns. Comments give the byte view where it helps.
const (
	headerDFM9 = "10011010100110010101101001010101"

	headerRS41 = "00001000011011010101001110001000" +
		"01000100011010010100100000011111"

	headerRS92 = "10100110011001101001" +
		"10100110011001101001" +
		"1010011001100110100110101010100110101001"

	headerLMS6 = "0101011000001000" + "0001110010010111" +
		"0001101010100111" + "0011110100111110"

	headerMK2A = "0010100111" + "0010100111" + "0001001001" + "0010010101"

	// M10/M20 share the preamble; the type bytes after the header decide.
	headerM10 = "1001100110010100110010011001" + "1010"

	headerMEISEI = "110011001101001101001101010100101010110010101010" // FB 62 30

	headerMRZ = "1001100110011001" + "1001101010101010" // AA BF

	headerIMET54 = "0000000001" + "0101010101" + "0001001001" + "0001001001" // 00 AA 24 24

	headerMTS01 = "10101010" + "10101010" + // AA AA preamble
		"10110100" + "00101011" // B4 2B

	// 1200 Hz AFSK preamble shared by the iMet family; the spectral
	// post-test routes the hit to iMet-1AB / iMet-1RS / iMet-4.
	headerIMETPreamble = "11110000111100001111000011110000" +
		"11110000111100001111000011110000"

	headerIMET1AB = "0000" + "11110000111100001111000011110000" + "1111" +
		"0000" + "10101100110010101100101010101100" + "1111" // 0x96

	headerIMET1RS = "0000" + "1111" + "0000" + "1111" + "0000" + "1111" +
		"0000" + "1111"

	headerC34 = "01010101010101010101010101010101" // 2900 Hz tone

	headerWXR301 = "10101010" + "10101010" + "10101010" + // AA AA AA
		"00101101" + "11010100" // 2D D4

	headerWXRPN9 = "10101010" + "10101010" + "10101010" + // AA AA AA
		"11000001" + "10010100" // C1 94
)

// Family is one detector catalog entry.
type Family struct {
	Name   string
	Type   int
	Baud   int
	Header string
	BT     float64
	Thres  float64 // correlation threshold
	HErrs  int     // allowed header bit errors (exclusive bound)
	LpFM   int     // FM-audio low-pass index (0: 4 kHz, 1: 10 kHz)
	LpIQ   int     // IF low-pass stream index (0: 6, 1: 12, 2: 22, 3: 200 kHz)
}

// Catalog index aliases for the special-cased entries.
const (
	idxIMETafsk = 14
	idxIMET1RS  = 15
	idxIMET4    = 16
)

// NumFamilies is the number of entries in Catalog (a constant mirror of
// len(Catalog), needed where a compile-time array length is required).
const NumFamilies = 17

// Catalog enumerates the seventeen detector entries in scan order. Only
// the first idxIMETafsk+1 take part in correlation; the last two receive
// hits re-routed from the iMet preamble entry.
var Catalog = []Family{
	{Name: "DFM9", Type: TypeDFM, Baud: 2500, Header: headerDFM9, BT: 1.0, Thres: 0.65, HErrs: 2, LpFM: 0, LpIQ: 1},
	{Name: "RS41", Type: TypeRS41, Baud: 4800, Header: headerRS41, BT: 0.5, Thres: 0.70, HErrs: 2, LpFM: 0, LpIQ: 1},
	{Name: "RS92", Type: TypeRS92, Baud: 4800, Header: headerRS92, BT: 0.5, Thres: 0.70, HErrs: 3, LpFM: 0, LpIQ: 1},
	{Name: "LMS6", Type: TypeLMS6, Baud: 4800, Header: headerLMS6, BT: 1.0, Thres: 0.60, HErrs: 8, LpFM: 0, LpIQ: 1},
	{Name: "IMET5", Type: TypeIMET5, Baud: 4800, Header: headerIMET54, BT: 0.5, Thres: 0.80, HErrs: 2, LpFM: 0, LpIQ: 1},
	{Name: "MK2LMS", Type: TypeMK2LMS, Baud: 9616, Header: headerMK2A, BT: 1.0, Thres: 0.70, HErrs: 2, LpFM: 1, LpIQ: 2},
	{Name: "M10", Type: TypeM10, Baud: 9608, Header: headerM10, BT: 1.0, Thres: 0.76, HErrs: 2, LpFM: 1, LpIQ: 2},
	{Name: "MEISEI", Type: TypeMEISEI, Baud: 2400, Header: headerMEISEI, BT: 1.0, Thres: 0.70, HErrs: 2, LpFM: 0, LpIQ: 2},
	{Name: "MRZ", Type: TypeMRZ, Baud: 2400, Header: headerMRZ, BT: 1.5, Thres: 0.80, HErrs: 2, LpFM: 0, LpIQ: 1},
	{Name: "MTS01", Type: TypeMTS01, Baud: 1200, Header: headerMTS01, BT: 1.0, Thres: 0.65, HErrs: 2, LpFM: 0, LpIQ: 0},
	{Name: "C34C50", Type: TypeC34C50, Baud: 5800, Header: headerC34, BT: 1.5, Thres: 0.80, HErrs: 2, LpFM: 0, LpIQ: 2},
	{Name: "WXR301", Type: TypeWXR301, Baud: 4800, Header: headerWXR301, BT: 1.0, Thres: 0.65, HErrs: 2, LpFM: 0, LpIQ: 3},
	{Name: "WXRPN9", Type: TypeWXRPN9, Baud: 5000, Header: headerWXRPN9, BT: 1.0, Thres: 0.65, HErrs: 2, LpFM: 0, LpIQ: 3},
	{Name: "IMET1AB", Type: TypeIMET1AB, Baud: 9600, Header: headerIMET1AB, BT: 1.0, Thres: 0.80, HErrs: 2, LpFM: 1, LpIQ: 3},
	{Name: "IMETafsk", Type: TypeIMETafsk, Baud: 9600, Header: headerIMETPreamble, BT: 0.5, Thres: 0.80, HErrs: 4, LpFM: 1, LpIQ: 1},
	{Name: "IMET1RS", Type: TypeIMET1RS, Baud: 9600, Header: headerIMET1RS, BT: 0.5, Thres: 0.80, HErrs: 2, LpFM: 0, LpIQ: 3},
	{Name: "IMET4", Type: TypeIMET4, Baud: 9600, Header: headerIMET1RS, BT: 0.5, Thres: 0.80, HErrs: 2, LpFM: 1, LpIQ: 1},
}

// Low-pass bandwidth candidates. The L-band set replaces these when the
// front-end tunes 1680 MHz sondes.
var (
	LpFMBandwidths    = [2]float64{4e3, 10e3}
	LpIQBandwidths    = [4]float64{6e3, 12e3, 22e3, 200e3}
	LpIQBandwidthsLBand = [4]float64{20e3, 32e3, 200e3, 400e3}
)
