package headerchain

import "math/big"

// CompactToBig converts a compact-format difficulty target (the classic
// Bitcoin-style mantissa+exponent encoding carried in a header's Bits
// field) to its big.Int form. Every btcd-descended chain in the example
// pack uses this exact encoding (c.f. EXCCoin-exccd/blockchain/
// difficulty.go's calls into standalone.CompactToBig); no example ships
// that conversion's own source, so it is reimplemented here from the
// well-known algorithm rather than grounded on a specific pack file.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := compact >> 24

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, uint(8*(exponent-3)))
	}

	if compact&0x00800000 != 0 {
		bn.Neg(bn)
	}
	return bn
}

// BigToCompact is CompactToBig's inverse.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	negative := n.Sign() < 0
	work := new(big.Int).Abs(n)

	exponent := uint(len(work.Bytes()))
	var mantissa uint32
	if exponent <= 3 {
		mantissa = uint32(work.Int64())
		mantissa <<= 8 * (3 - exponent)
	} else {
		shifted := new(big.Int).Rsh(work, 8*(exponent-3))
		mantissa = uint32(shifted.Int64())
	}

	// Mantissa's most significant bit doubles as the sign bit in compact
	// form; shift up one byte if it's already set to avoid misreading an
	// unsigned value as negative.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent)<<24 | mantissa
	if negative {
		compact |= 0x00800000
	}
	return compact
}

// CalcWork returns the amount of work represented by bits: roughly
// 2^256 / (target+1), the standard proof-of-work weight used for chain
// comparisons.
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	denominator := new(big.Int).Add(target, big.NewInt(1))
	work := new(big.Int).Lsh(big.NewInt(1), 256)
	return work.Div(work, denominator)
}
