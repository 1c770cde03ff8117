package headerchain

import (
	"math/big"
	"time"

	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// AcceptBlockHeader runs the seven ordered checks spec.md §4.5 lists and,
// on success, adds header to the index and re-runs active-chain selection.
// minPowChecked is the anti-DoS gate: callers that have not independently
// verified a batch's cumulative work (CheckHeadersPoW plus a chain-work
// comparison against the local tip) must pass false, and step 7 rejects.
func (s *Store) AcceptBlockHeader(header *wire.BlockHeader, minPowChecked bool) (*BlockIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.acceptLocked(header, minPowChecked)
	if err != nil {
		return nil, err
	}

	s.reofferOrphansLocked(idx.Hash, minPowChecked)
	return idx, nil
}

// acceptLocked runs the seven ordered checks and, on success, adds header
// to the index and re-runs active-chain selection. Caller must hold s.mu.
func (s *Store) acceptLocked(header *wire.BlockHeader, minPowChecked bool) (*BlockIndex, error) {
	hash := header.Hash()

	// Step 1: duplicate hash.
	if existing, ok := s.index[hash]; ok {
		if existing.Status.Failed() {
			return nil, errors.New(errors.ERR_CHAIN_DUPLICATE, "header %s previously marked invalid", hash.String())
		}
		return existing, nil
	}

	// Step 2: a header claiming a null prev-hash must equal our genesis
	// exactly. Our own genesis is always already in the index (step 1
	// catches it), so reaching here with a null prev-hash means a forged
	// alternate genesis.
	var zero chainhash.Hash
	if header.PrevBlock == zero {
		return nil, errors.New(errors.ERR_CHAIN_BAD_GENESIS, "header %s claims null prev-hash but is not the configured genesis", hash.String())
	}

	// Step 3: self-consistency (bits/time/pow-sanity).
	if header.Time == 0 || !checkBitsSanity(header.Bits, s.params) {
		return nil, errors.New(errors.ERR_CHAIN_TEST_FAILURE, "header %s fails self-consistency check", hash.String())
	}

	// Step 4: parent lookup.
	parent, ok := s.index[header.PrevBlock]
	if !ok {
		return nil, errors.New(errors.ERR_CHAIN_PREV_BLK_NOT_FOUND, "header %s has unknown parent %s", hash.String(), header.PrevBlock.String())
	}
	if parent.Status.Failed() {
		return nil, errors.New(errors.ERR_CHAIN_BAD_PREVBLK, "header %s builds on failed parent %s", hash.String(), header.PrevBlock.String())
	}

	// Step 5: contextual check against parent.
	if !timeAt(header.Time).After(medianTimePast(parent)) {
		return nil, errors.New(errors.ERR_CHAIN_TEST_FAILURE, "header %s timestamp not after median-time-past", hash.String())
	}
	maxFuture := s.clock.Now().Add(time.Duration(s.params.MaxFutureBlockTimeSeconds) * time.Second)
	if timeAt(header.Time).After(maxFuture) {
		return nil, errors.New(errors.ERR_CHAIN_TEST_FAILURE, "header %s timestamp too far in the future", hash.String())
	}
	if want := s.expectedBits(parent); header.Bits != want {
		return nil, errors.New(errors.ERR_CHAIN_TEST_FAILURE, "header %s bits %08x does not match expected %08x", hash.String(), header.Bits, want)
	}

	// Step 6: proof-of-work commitment check.
	if !checkProofOfWork(header, s.params) {
		return nil, errors.New(errors.ERR_CHAIN_TEST_FAILURE, "header %s fails proof-of-work commitment check", hash.String())
	}

	// Step 7: anti-DoS gate.
	if !minPowChecked {
		return nil, errors.New(errors.ERR_CHAIN_TOO_LITTLE_CHAINWORK, "header %s rejected: batch chainwork not yet verified", hash.String())
	}

	idx, _ := s.addToBlockIndexLocked(header, hash)
	s.selectActiveChainLocked()
	return idx, nil
}

// expectedBits computes the Bits value a header building on parent must
// carry, applying the retarget rule at interval boundaries.
func (s *Store) expectedBits(parent *BlockIndex) uint32 {
	if s.params.NoRetargeting || s.params.RetargetInterval <= 0 {
		return parent.Header.Bits
	}
	if (parent.Height+1)%s.params.RetargetInterval != 0 {
		return parent.Header.Bits
	}

	first := parent
	for i := int64(0); i < s.params.RetargetInterval-1 && first.Parent != nil; i++ {
		first = first.Parent
	}
	return calcNextRequiredDifficulty(s.params, parent, first)
}

// selectActiveChainLocked is the active-chain selection rule: among
// TREE-valid leaves whose cumulative work strictly exceeds the current
// tip, pick the maximum-work one (lowest hash breaks ties), refusing a
// reorg that would disconnect SuspiciousReorgDepth or more blocks. Caller
// must hold s.mu.
func (s *Store) selectActiveChainLocked() {
	var best *BlockIndex
	for _, leaf := range s.leaves {
		if !leaf.IsValid() {
			continue
		}
		if leaf.ChainWork.Cmp(s.tip.ChainWork) <= 0 {
			continue
		}
		if best == nil {
			best = leaf
			continue
		}
		switch leaf.ChainWork.Cmp(best.ChainWork) {
		case 1:
			best = leaf
		case 0:
			if lessHash(leaf.Hash, best.Hash) {
				best = leaf
			}
		}
	}
	if best == nil {
		return
	}

	ancestor, depth := commonAncestor(s.tip, best)
	_ = ancestor
	if depth >= s.params.SuspiciousReorgDepth && s.params.SuspiciousReorgDepth > 0 {
		return
	}
	s.tip = best
}

// lessHash reports whether a sorts below b, treated as big-endian integers.
func lessHash(a, b chainhash.Hash) bool {
	return new(big.Int).SetBytes(a[:]).Cmp(new(big.Int).SetBytes(b[:])) < 0
}

// commonAncestor walks two entries back to their nearest shared ancestor,
// returning it along with how many blocks would be disconnected from cur's
// side of the chain to reach it.
func commonAncestor(cur, candidate *BlockIndex) (*BlockIndex, int64) {
	a, b := cur, candidate
	var disconnect int64
	for a.Height > b.Height {
		a = a.Parent
		disconnect++
	}
	for b.Height > a.Height {
		b = b.Parent
	}
	for a.Hash != b.Hash {
		a = a.Parent
		b = b.Parent
		disconnect++
	}
	return a, disconnect
}
