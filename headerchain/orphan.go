package headerchain

import (
	"time"

	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// PeerID identifies the peer that offered an orphan header. Deliberately a
// plain alias rather than an import of peerman.PeerID: the header chain
// store should not need to know how peer identity is allocated elsewhere.
type PeerID int64

const (
	// MaxOrphansPerPeer bounds how many orphan headers a single peer may
	// have outstanding at once. Exceeding it is the TOO_MANY_ORPHANS
	// lifecycle penalty's trigger (the caller applies the penalty; this
	// cache only refuses the add).
	MaxOrphansPerPeer = 50

	// OrphanExpiry is how long an orphan header may sit unconnected
	// before a sweep evicts it.
	OrphanExpiry = 600 * time.Second
)

type orphanEntry struct {
	header        *wire.BlockHeader
	peer          PeerID
	minPowChecked bool
	received      int64 // unix nanos, per clock
}

// orphanCache holds headers whose parent hasn't been accepted yet.
type orphanCache struct {
	clock peer.Clock

	byHash   map[chainhash.Hash]*orphanEntry
	byParent map[chainhash.Hash][]chainhash.Hash
	byPeer   map[PeerID]int
}

func newOrphanCache(clock peer.Clock) *orphanCache {
	return &orphanCache{
		clock:    clock,
		byHash:   make(map[chainhash.Hash]*orphanEntry),
		byParent: make(map[chainhash.Hash][]chainhash.Hash),
		byPeer:   make(map[PeerID]int),
	}
}

// add records header as an orphan offered by p. Returns true without adding
// it again if header is already cached, and false (without adding) if p
// already has MaxOrphansPerPeer outstanding.
func (c *orphanCache) add(header *wire.BlockHeader, p PeerID, minPowChecked bool) bool {
	hash := header.Hash()
	if _, ok := c.byHash[hash]; ok {
		return true
	}
	if c.byPeer[p] >= MaxOrphansPerPeer {
		return false
	}

	c.byHash[hash] = &orphanEntry{
		header:        header,
		peer:          p,
		minPowChecked: minPowChecked,
		received:      c.clock.Now().UnixNano(),
	}
	c.byParent[header.PrevBlock] = append(c.byParent[header.PrevBlock], hash)
	c.byPeer[p]++
	return true
}

// popChildrenOf dequeues and returns every orphan directly waiting on
// parentHash, removing them from the cache.
func (c *orphanCache) popChildrenOf(parentHash chainhash.Hash) []*orphanEntry {
	hashes := c.byParent[parentHash]
	if len(hashes) == 0 {
		return nil
	}
	delete(c.byParent, parentHash)

	entries := make([]*orphanEntry, 0, len(hashes))
	for _, h := range hashes {
		if e, ok := c.byHash[h]; ok {
			entries = append(entries, e)
			c.remove(h)
		}
	}
	return entries
}

func (c *orphanCache) remove(hash chainhash.Hash) {
	e, ok := c.byHash[hash]
	if !ok {
		return
	}
	delete(c.byHash, hash)
	c.byPeer[e.peer]--
	if c.byPeer[e.peer] <= 0 {
		delete(c.byPeer, e.peer)
	}
}

// expire evicts every orphan older than OrphanExpiry as of now, returning
// how many were removed.
func (c *orphanCache) expire() int {
	cutoff := c.clock.Now().UnixNano() - int64(OrphanExpiry)
	var victims []chainhash.Hash
	for hash, e := range c.byHash {
		if e.received < cutoff {
			victims = append(victims, hash)
		}
	}
	for _, hash := range victims {
		e := c.byHash[hash]
		siblings := c.byParent[e.header.PrevBlock]
		for i, h := range siblings {
			if h == hash {
				c.byParent[e.header.PrevBlock] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
		if len(c.byParent[e.header.PrevBlock]) == 0 {
			delete(c.byParent, e.header.PrevBlock)
		}
		c.remove(hash)
	}
	return len(victims)
}

// AddOrphanHeader offers header (whose parent AcceptBlockHeader could not
// find) to the orphan cache on behalf of peer p. Returns false if p has
// exceeded MaxOrphansPerPeer.
func (s *Store) AddOrphanHeader(header *wire.BlockHeader, p PeerID, minPowChecked bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphans.add(header, p, minPowChecked)
}

// ExpireOrphans sweeps the orphan cache for entries past OrphanExpiry.
func (s *Store) ExpireOrphans() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphans.expire()
}

// reofferOrphansLocked dequeues and re-accepts, recursively, every orphan
// waiting on acceptedHash. Caller must hold s.mu.
func (s *Store) reofferOrphansLocked(acceptedHash chainhash.Hash, minPowChecked bool) {
	queue := []chainhash.Hash{acceptedHash}
	for len(queue) > 0 {
		parentHash := queue[0]
		queue = queue[1:]

		for _, e := range s.orphans.popChildrenOf(parentHash) {
			idx, err := s.acceptLocked(e.header, e.minPowChecked || minPowChecked)
			if err != nil {
				continue
			}
			queue = append(queue, idx.Hash)
		}
	}
}
