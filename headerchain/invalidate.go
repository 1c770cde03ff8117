package headerchain

import "github.com/libsv/go-bt/v2/chainhash"

// InvalidateBlock marks hash SELF_FAILED and propagates ANCESTOR_FAILED to
// every descendant already in the index. If hash was on the active chain,
// the chain is rewound to its parent and a fresh best-chain selection runs
// over the remaining candidates. Genesis cannot be invalidated. Returns
// false if hash is unknown or is genesis.
func (s *Store) InvalidateBlock(hash chainhash.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.index[hash]
	if !ok || target.Parent == nil {
		return false
	}

	target.Status |= StatusSelfFailed
	delete(s.leaves, hash)

	for h, idx := range s.index {
		if h == hash {
			continue
		}
		if isDescendantOf(idx, target) {
			idx.Status |= StatusAncestorFailed
			delete(s.leaves, h)
		}
	}

	if s.tip.Hash == hash || isDescendantOf(s.tip, target) {
		s.tip = target.Parent
	}

	// target.Parent loses its only valid child whenever hash was its sole
	// non-failed descendant path; reinstate it as a leaf candidate so
	// selectActiveChainLocked can see it again.
	if hasNoValidChild(s.index, target.Parent) {
		s.leaves[target.Parent.Hash] = target.Parent
	}

	s.selectActiveChainLocked()
	return true
}

// hasNoValidChild reports whether no entry in index is both a direct child
// of parent and TREE-valid.
func hasNoValidChild(index map[chainhash.Hash]*BlockIndex, parent *BlockIndex) bool {
	for _, idx := range index {
		if idx.Parent == parent && idx.IsValid() {
			return false
		}
	}
	return true
}

// isDescendantOf reports whether idx descends from ancestor (exclusive).
func isDescendantOf(idx, ancestor *BlockIndex) bool {
	if idx.Height <= ancestor.Height {
		return false
	}
	cur := idx
	for cur.Height > ancestor.Height {
		cur = cur.Parent
	}
	return cur.Hash == ancestor.Hash
}
