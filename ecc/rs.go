// Package ecc implements the forward-error-correction codes carried by
// radiosonde frames: Reed-Solomon over GF(2^8) for the Vaisala families,
// the shortened Hamming(8,4) used by DFM, and syndrome computation for the
// Meisei (63,51) BCH code.
package ecc

import (
	"errors"
	"fmt"
)

// ErrUncorrectable is returned when a codeword holds more errors than the
// code can locate.
var ErrUncorrectable = errors.New("ecc: uncorrectable codeword")

// RS is a Reed-Solomon codec over GF(2^8) with field polynomial 0x11D,
// first consecutive root fcr and primitive element step prim. The Vaisala
// code is RS(255,231): 24 parity symbols, fcr=0, prim=1.
type RS struct {
	n      int // codeword length, 255
	nroots int // parity symbols R
	fcr    int
	prim   int

	alphaTo  [256]byte // antilog table, alphaTo[255] unused
	indexOf  [256]int  // log table, indexOf[0] = 255 (n) as the log(0) sentinel
	genPoly  []byte    // generator polynomial, nroots+1 coefficients
	iprim    int       // multiplicative inverse of prim mod 255
}

const rsFieldPoly = 0x11D

// NewVaisalaRS returns the RS(255,231) codec shared by RS41 and RS92.
func NewVaisalaRS() *RS {
	rs, err := NewRS(24, 0, 1)
	if err != nil {
		panic(err) // fixed parameters
	}
	return rs
}

// NewRS builds a Reed-Solomon codec with nroots parity symbols over the
// 0x11D field.
func NewRS(nroots, fcr, prim int) (*RS, error) {
	if nroots < 1 || nroots > 254 {
		return nil, fmt.Errorf("ecc: invalid parity count %d", nroots)
	}
	if prim < 1 {
		return nil, fmt.Errorf("ecc: invalid primitive step %d", prim)
	}
	rs := &RS{n: 255, nroots: nroots, fcr: fcr, prim: prim}

	// Galois field log/antilog tables.
	rs.indexOf[0] = rs.n // log(0) sentinel
	sr := 1
	for i := 0; i < rs.n; i++ {
		rs.indexOf[sr] = i
		rs.alphaTo[i] = byte(sr)
		sr <<= 1
		if sr&0x100 != 0 {
			sr ^= rsFieldPoly
		}
		sr &= 0xFF
	}

	// iprim: prim^-1 mod 255, used to map root indices to positions.
	iprim := 1
	for iprim%prim != 0 {
		iprim += rs.n
	}
	rs.iprim = iprim / prim

	// Generator polynomial g(x) = prod (x - alpha^(prim*(fcr+i))).
	rs.genPoly = make([]byte, nroots+1)
	rs.genPoly[0] = 1
	root := fcr * prim
	for i := 0; i < nroots; i++ {
		rs.genPoly[i+1] = 1
		for j := i; j > 0; j-- {
			if rs.genPoly[j] != 0 {
				rs.genPoly[j] = rs.genPoly[j-1] ^ rs.alphaTo[rs.mod(rs.indexOf[rs.genPoly[j]]+root)]
			} else {
				rs.genPoly[j] = rs.genPoly[j-1]
			}
		}
		rs.genPoly[0] = rs.alphaTo[rs.mod(rs.indexOf[rs.genPoly[0]]+root)]
		root += prim
	}
	return rs, nil
}

// Nroots returns the parity symbol count.
func (rs *RS) Nroots() int { return rs.nroots }

func (rs *RS) mod(x int) int {
	for x >= rs.n {
		x -= rs.n
		x = (x >> 8) + (x & 0xFF)
	}
	return x
}

// Encode computes the nroots parity symbols for the 255-nroots data symbols
// and writes them to parity. data and parity are in conventional order
// (highest-degree coefficient first).
func (rs *RS) Encode(data, parity []byte) error {
	k := rs.n - rs.nroots
	if len(data) != k || len(parity) != rs.nroots {
		return fmt.Errorf("ecc: encode wants %d data and %d parity symbols", k, rs.nroots)
	}
	for i := range parity {
		parity[i] = 0
	}
	for i := 0; i < k; i++ {
		feedback := rs.indexOf[data[i]^parity[0]]
		if feedback != rs.n { // non-zero
			for j := 1; j < rs.nroots; j++ {
				parity[j] ^= rs.alphaTo[rs.mod(feedback+rs.indexOf[rs.genPoly[rs.nroots-j]])]
			}
		}
		copy(parity, parity[1:])
		if feedback != rs.n {
			parity[rs.nroots-1] = rs.alphaTo[rs.mod(feedback+rs.indexOf[rs.genPoly[0]])]
		} else {
			parity[rs.nroots-1] = 0
		}
	}
	return nil
}

// Decode corrects up to nroots/2 symbol errors in the 255-symbol codeword
// in place and returns the number of corrected positions. ErrUncorrectable
// is returned when the error count exceeds the code's capability; callers
// map that to the original decoder's -1 convention.
func (rs *RS) Decode(codeword []byte) (int, error) {
	if len(codeword) != rs.n {
		return 0, fmt.Errorf("ecc: codeword length %d, want %d", len(codeword), rs.n)
	}

	// Syndromes.
	syn := make([]byte, rs.nroots)
	noErrors := true
	for i := 0; i < rs.nroots; i++ {
		s := byte(0)
		root := rs.mod((rs.fcr + i) * rs.prim)
		for j := 0; j < rs.n; j++ {
			if s != 0 {
				s = rs.alphaTo[rs.mod(rs.indexOf[s]+root)]
			}
			s ^= codeword[j]
		}
		syn[i] = s
		if s != 0 {
			noErrors = false
		}
	}
	if noErrors {
		return 0, nil
	}

	// Berlekamp-Massey: error locator lambda(x).
	lambda := make([]int, rs.nroots+1)
	b := make([]int, rs.nroots+1)
	t := make([]int, rs.nroots+1)
	lambda[0] = 1
	b[0] = 1
	L := 0
	for r := 1; r <= rs.nroots; r++ {
		// Discrepancy delta = sum lambda[i]*S[r-1-i].
		delta := byte(0)
		for i := 0; i <= L; i++ {
			if lambda[i] != 0 && syn[r-1-i] != 0 {
				delta ^= rs.alphaTo[rs.mod(rs.indexOf[byte(lambda[i])]+rs.indexOf[syn[r-1-i]])]
			}
		}
		if delta == 0 {
			// b(x) *= x
			copy(b[1:], b[:rs.nroots])
			b[0] = 0
			continue
		}
		// t(x) = lambda(x) - delta*x*b(x)
		t[0] = lambda[0]
		for i := 0; i < rs.nroots; i++ {
			t[i+1] = lambda[i+1]
			if b[i] != 0 {
				t[i+1] ^= int(rs.alphaTo[rs.mod(rs.indexOf[delta]+rs.indexOf[byte(b[i])])])
			}
		}
		if 2*L <= r-1 {
			// b(x) = lambda(x) / delta
			invDelta := rs.mod(rs.n - rs.indexOf[delta])
			for i := 0; i <= rs.nroots; i++ {
				if lambda[i] != 0 {
					b[i] = int(rs.alphaTo[rs.mod(rs.indexOf[byte(lambda[i])]+invDelta)])
				} else {
					b[i] = 0
				}
			}
			L = r - L
		} else {
			copy(b[1:], b[:rs.nroots])
			b[0] = 0
		}
		copy(lambda, t)
	}

	degLambda := 0
	for i := rs.nroots; i >= 0; i-- {
		if lambda[i] != 0 {
			degLambda = i
			break
		}
	}
	if degLambda == 0 || degLambda > rs.nroots/2 {
		return 0, ErrUncorrectable
	}

	// Chien search for the roots of lambda(x).
	roots := make([]int, 0, degLambda)
	locs := make([]int, 0, degLambda)
	reg := make([]int, degLambda+1)
	for i := 1; i <= degLambda; i++ {
		if lambda[i] != 0 {
			reg[i] = rs.indexOf[byte(lambda[i])]
		} else {
			reg[i] = rs.n
		}
	}
	for i, k := 1, rs.iprim-1; i <= rs.n; i, k = i+1, rs.mod(k+rs.iprim) {
		q := byte(1)
		for j := degLambda; j > 0; j-- {
			if reg[j] != rs.n {
				reg[j] = rs.mod(reg[j] + j)
				q ^= rs.alphaTo[reg[j]]
			}
		}
		if q != 0 {
			continue
		}
		roots = append(roots, i)
		locs = append(locs, k)
		if len(roots) == degLambda {
			break
		}
	}
	if len(roots) != degLambda {
		return 0, ErrUncorrectable
	}

	// Error evaluator omega(x) = syn(x)*lambda(x) mod x^nroots.
	degOmega := degLambda - 1
	omega := make([]byte, degOmega+1)
	for i := 0; i <= degOmega; i++ {
		tmp := byte(0)
		for j := i; j >= 0; j-- {
			if syn[i-j] != 0 && lambda[j] != 0 {
				tmp ^= rs.alphaTo[rs.mod(rs.indexOf[syn[i-j]]+rs.indexOf[byte(lambda[j])])]
			}
		}
		omega[i] = tmp
	}

	// Forney: error magnitude at each located position.
	for j := len(roots) - 1; j >= 0; j-- {
		num1 := byte(0)
		for i := degOmega; i >= 0; i-- {
			if omega[i] != 0 {
				num1 ^= rs.alphaTo[rs.mod(rs.indexOf[omega[i]]+i*roots[j])]
			}
		}
		num2 := rs.alphaTo[rs.mod(roots[j]*(rs.fcr-1)+rs.n)]
		den := byte(0)
		start := degLambda - 1
		if start > rs.nroots-1 {
			start = rs.nroots - 1
		}
		for i := start &^ 1; i >= 0; i -= 2 {
			if lambda[i+1] != 0 {
				den ^= rs.alphaTo[rs.mod(rs.indexOf[byte(lambda[i+1])]+i*roots[j])]
			}
		}
		if den == 0 {
			return 0, ErrUncorrectable
		}
		if num1 != 0 {
			mag := rs.alphaTo[rs.mod(rs.indexOf[num1]+rs.indexOf[num2]+rs.n-rs.indexOf[den])]
			codeword[locs[j]] ^= mag
		}
	}
	return degLambda, nil
}
