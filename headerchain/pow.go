package headerchain

import (
	"math/big"
	"time"

	"github.com/chainwatch/hcd/chaincfg"
	"github.com/chainwatch/hcd/wire"
)

// checkBitsSanity is the structural half of AcceptBlockHeader's step 3: Bits
// must decode to a positive target that does not exceed the network's
// PowLimit. This is cheap and catches a malformed or absurd Bits field
// before any hash comparison runs.
func checkBitsSanity(bits uint32, params *chaincfg.Params) bool {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return false
	}
	return target.Cmp(params.PowLimit) <= 0
}

// powHashToBig interprets a header's PowHash commitment as an unsigned
// big-endian integer. The original RandomX hash (hashRandomX) is "copied
// byte-for-byte as stored, no endian swap" per original_source's
// block.hpp; this package treats it the same way a classic
// CheckProofOfWork(hash, bits) comparison treats a block hash, since
// RandomX itself is outside this daemon's scope (see DESIGN.md).
func powHashToBig(h [32]byte) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// checkProofOfWork is AcceptBlockHeader's step 6: the header's PowHash must
// be numerically at or below the target implied by its own Bits field.
func checkProofOfWork(header *wire.BlockHeader, params *chaincfg.Params) bool {
	if !checkBitsSanity(header.Bits, params) {
		return false
	}
	target := CompactToBig(header.Bits)
	return powHashToBig(header.PowHash).Cmp(target) <= 0
}

// CheckHeadersPoW reports whether every header in the batch passes the
// commitment check, independent of chain context. The sync driver uses
// this to gate a HEADERS batch before spending any acceptance work on it.
func CheckHeadersPoW(headers []*wire.BlockHeader, params *chaincfg.Params) bool {
	for _, h := range headers {
		if !checkProofOfWork(h, params) {
			return false
		}
	}
	return true
}

// calcNextRequiredDifficulty is AcceptBlockHeader's "difficulty transition"
// half of step 5: outside a retarget boundary the next block must carry its
// parent's Bits; every RetargetInterval blocks the target is scaled by the
// ratio of actual to intended timespan, clamped to [1/4, 4]x, the classic
// Bitcoin-style retarget every btcd-descended chain in the pack implements
// some variant of.
func calcNextRequiredDifficulty(params *chaincfg.Params, prev *BlockIndex, firstInWindow *BlockIndex) uint32 {
	if params.NoRetargeting || params.RetargetInterval <= 0 {
		return prev.Header.Bits
	}
	if (prev.Height+1)%params.RetargetInterval != 0 {
		return prev.Header.Bits
	}

	actualTimespan := int64(prev.Header.Time) - int64(firstInWindow.Header.Time)
	intended := int64(params.TargetTimespan / time.Second)
	minSpan := intended / 4
	maxSpan := intended * 4
	switch {
	case actualTimespan < minSpan:
		actualTimespan = minSpan
	case actualTimespan > maxSpan:
		actualTimespan = maxSpan
	}

	oldTarget := CompactToBig(prev.Header.Bits)
	newTarget := new(big.Int).Mul(oldTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(intended))
	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget = params.PowLimit
	}
	return BigToCompact(newTarget)
}
