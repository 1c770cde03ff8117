package headerchain

import (
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// maxLocatorEntries is wire.MaxLocatorEntries, the same cap MsgGetHeaders
// enforces on encode.
const maxLocatorEntries = wire.MaxLocatorEntries

// Locator builds a block locator from the active chain's tip: the hash at
// heights tip, tip-1, ..., tip-10, then doubling steps back to genesis
// inclusive, hard-capped at maxLocatorEntries.
func (s *Store) Locator() []chainhash.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return buildLocator(s.tip)
}

func buildLocator(tip *BlockIndex) []chainhash.Hash {
	var hashes []chainhash.Hash
	cur := tip
	step := int64(1)
	count := int64(0)

	for cur != nil && len(hashes) < maxLocatorEntries {
		hashes = append(hashes, cur.Hash)
		if cur.Parent == nil {
			break
		}
		if count >= 10 {
			step *= 2
		}
		for i := int64(0); i < step && cur.Parent != nil; i++ {
			cur = cur.Parent
		}
		count++
	}
	return hashes
}
