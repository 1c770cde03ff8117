package headerchain

import (
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// HeadersAfterLocator answers a GETHEADERS request: it walks locator entries
// (in the order the requester sent them, most-recent first) until it finds
// one this store has on the active chain, then returns up to maxCount
// headers starting just past that fork point, walking the active chain
// forward from there. An empty locator is treated as "start from genesis".
// Mirrors the standard locator-based response algorithm every Bitcoin-style
// header-sync peer uses to serve GETHEADERS (the inverse walk of the one
// buildLocator performs to build the request).
func (s *Store) HeadersAfterLocator(locator []chainhash.Hash, maxCount int) []*wire.BlockHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fork := s.findForkLocked(locator)
	if fork == nil {
		return nil
	}

	// Walk from the tip back to fork, collecting the chain of indices past
	// it, then reverse into ascending-height order.
	var chain []*BlockIndex
	for cur := s.tip; cur != nil && cur != fork; cur = cur.Parent {
		chain = append(chain, cur)
	}

	if maxCount > 0 && len(chain) > maxCount {
		chain = chain[len(chain)-maxCount:]
	}

	out := make([]*wire.BlockHeader, len(chain))
	for i, idx := range chain {
		out[len(chain)-1-i] = idx.Header
	}
	return out
}

// findForkLocked returns the highest active-chain entry named by locator, or
// genesis if locator is empty or names nothing on the active chain.
func (s *Store) findForkLocked(locator []chainhash.Hash) *BlockIndex {
	onActiveChain := make(map[chainhash.Hash]struct{}, s.tip.Height+1)
	for cur := s.tip; cur != nil; cur = cur.Parent {
		onActiveChain[cur.Hash] = struct{}{}
	}

	for _, h := range locator {
		if idx, ok := s.index[h]; ok {
			if _, onChain := onActiveChain[idx.Hash]; onChain {
				return idx
			}
		}
	}

	var genesis *BlockIndex
	for cur := s.tip; cur != nil; cur = cur.Parent {
		genesis = cur
	}
	return genesis
}
