// Package headerchain is the block-index store and header-sync driver: it
// accepts headers into a hash-keyed index, tracks cumulative work to select
// an active chain, caches orphans whose parent isn't known yet, and drives
// GETHEADERS/HEADERS exchange with a single sync peer during initial block
// download.
package headerchain

import (
	"math/big"

	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// Status is a bitset of validity flags carried on a BlockIndex entry.
type Status uint8

const (
	// StatusTreeValid means the header itself and every ancestor up to
	// genesis passed AcceptBlockHeader's checks.
	StatusTreeValid Status = 1 << iota
	// StatusSelfFailed marks an entry InvalidateBlock rejected directly.
	// Sticky: once set it is never cleared.
	StatusSelfFailed
	// StatusAncestorFailed marks an entry whose failure comes from an
	// ancestor, not itself. Propagated by InvalidateBlock.
	StatusAncestorFailed
)

// Failed reports whether status carries either failure flag.
func (s Status) Failed() bool {
	return s&(StatusSelfFailed|StatusAncestorFailed) != 0
}

// BlockIndex is one entry in the header chain store: a header plus the
// bookkeeping needed for chain selection (height, cumulative work) and
// validity (status, parent link). Entries are inserted but never erased.
type BlockIndex struct {
	Hash       chainhash.Hash
	Header     *wire.BlockHeader
	Parent     *BlockIndex
	Height     int64
	ChainWork  *big.Int
	Status     Status
}

// IsValid reports whether the entry is TREE-valid and carries no failure.
func (b *BlockIndex) IsValid() bool {
	return b.Status&StatusTreeValid != 0 && !b.Status.Failed()
}
