package headerchain

import (
	"math/big"
	"sync"

	"github.com/chainwatch/hcd/chaincfg"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// Store is the hash-keyed block index plus the currently-selected active
// chain. Entries are inserted but never erased; a header that fails
// acceptance is simply never added (the caller decides whether to cache it
// as an orphan).
type Store struct {
	mu     sync.RWMutex
	params *chaincfg.Params
	clock  peer.Clock

	index  map[chainhash.Hash]*BlockIndex
	leaves map[chainhash.Hash]*BlockIndex
	tip    *BlockIndex

	orphans *orphanCache
}

// NewStore builds a Store with genesis already inserted, per spec.md §4.5
// ("Genesis is inserted at initialization").
func NewStore(params *chaincfg.Params, clock peer.Clock) *Store {
	if clock == nil {
		clock = peer.RealClock()
	}

	genesis := &BlockIndex{
		Hash:      params.GenesisHash,
		Header:    params.GenesisHeader,
		Parent:    nil,
		Height:    0,
		ChainWork: CalcWork(params.GenesisHeader.Bits),
		Status:    StatusTreeValid,
	}

	s := &Store{
		params:  params,
		clock:   clock,
		index:   map[chainhash.Hash]*BlockIndex{genesis.Hash: genesis},
		leaves:  map[chainhash.Hash]*BlockIndex{genesis.Hash: genesis},
		tip:     genesis,
		orphans: newOrphanCache(clock),
	}
	return s
}

// Tip returns the current active chain's tip entry.
func (s *Store) Tip() *BlockIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip
}

// Lookup returns the index entry for hash, if any.
func (s *Store) Lookup(hash chainhash.Hash) (*BlockIndex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.index[hash]
	return idx, ok
}

// Height returns the number of entries the active chain has accepted past
// genesis, i.e. the tip's height.
func (s *Store) Height() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.Height
}

// AddToBlockIndex creates or returns the index entry for header. It refuses
// to create an entry whose parent is unknown — callers route those through
// the orphan cache instead (AddOrphanHeader).
func (s *Store) AddToBlockIndex(header *wire.BlockHeader) (*BlockIndex, bool) {
	hash := header.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addToBlockIndexLocked(header, hash)
}

func (s *Store) addToBlockIndexLocked(header *wire.BlockHeader, hash chainhash.Hash) (*BlockIndex, bool) {
	if existing, ok := s.index[hash]; ok {
		return existing, true
	}

	parent, ok := s.index[header.PrevBlock]
	if !ok {
		return nil, false
	}

	status := StatusTreeValid
	if parent.Status.Failed() {
		status = StatusAncestorFailed
	}

	idx := &BlockIndex{
		Hash:      hash,
		Header:    header,
		Parent:    parent,
		Height:    parent.Height + 1,
		ChainWork: new(big.Int).Add(parent.ChainWork, CalcWork(header.Bits)),
		Status:    status,
	}
	s.index[hash] = idx

	delete(s.leaves, parent.Hash)
	if idx.IsValid() {
		s.leaves[hash] = idx
	}

	return idx, true
}

// minimumChainWorkOK reports whether the tip's cumulative work meets the
// network's minimum, per IsInitialBlockDownload's third condition.
func (s *Store) minimumChainWorkOK() bool {
	if s.params.MinimumChainWork == nil || s.params.MinimumChainWork.Sign() == 0 {
		return true
	}
	return s.tip.ChainWork.Cmp(s.params.MinimumChainWork) >= 0
}

// IsInitialBlockDownload reports whether the store believes it is still
// catching up: no tip beyond genesis, a stale tip, or insufficient
// cumulative work.
func (s *Store) IsInitialBlockDownload() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.tip == nil || s.tip.Parent == nil {
		return true
	}
	if s.clock.Now().Sub(timeAt(s.tip.Header.Time)).Hours() > 24 {
		return true
	}
	return !s.minimumChainWorkOK()
}
