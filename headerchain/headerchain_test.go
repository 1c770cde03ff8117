package headerchain

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/libsv/go-bt/v2/chainhash"
	"github.com/stretchr/testify/require"

	"github.com/chainwatch/hcd/chaincfg"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/wire"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) AfterFunc(time.Duration, func()) peer.Timer { return noopTimer{} }

type noopTimer struct{}

func (noopTimer) Stop() bool                       { return true }
func (noopTimer) Reset(time.Duration) bool         { return true }

var testPowLimit = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))

func testParams() *chaincfg.Params {
	genesis := &wire.BlockHeader{
		Version: 1,
		Time:    1700000000,
		Bits:    0x207fffff,
		Nonce:   1,
	}
	p := &chaincfg.Params{
		Name:                      "unit-test",
		GenesisHeader:             genesis,
		PowLimit:                  testPowLimit,
		PowLimitBits:              0x207fffff,
		MinimumChainWork:          big.NewInt(0),
		SuspiciousReorgDepth:      100,
		MaxFutureBlockTimeSeconds: 2 * 60 * 60,
		NoRetargeting:             true,
	}
	p.GenesisHash = genesis.Hash()
	return p
}

// childHeader builds a header on top of parent with a trivially-satisfied
// proof-of-work commitment (PowHash left at its zero value, which is always
// <= any positive target). nonce lets tests build distinct sibling forks on
// top of the same parent.
func childHeader(parent *wire.BlockHeader, timeOffset uint32, nonce uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version:   1,
		Time:      parent.Time + timeOffset,
		Bits:      parent.Bits,
		Nonce:     nonce,
		PrevBlock: parent.Hash(),
	}
}

func newTestStore(t *testing.T, now time.Time) (*Store, *chaincfg.Params) {
	t.Helper()
	params := testParams()
	return NewStore(params, fixedClock{now: now}), params
}

func TestNewStoreInsertsGenesis(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, params := newTestStore(t, now)

	require.Equal(t, params.GenesisHash, s.Tip().Hash)
	require.Equal(t, int64(0), s.Tip().Height)
	require.True(t, s.Tip().IsValid())
}

func TestAcceptBlockHeaderExtendsTip(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	idx, err := s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)
	require.Equal(t, int64(1), idx.Height)
	require.Equal(t, idx.Hash, s.Tip().Hash)
}

func TestAcceptBlockHeaderRejectsAntiDoSGate(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	_, err := s.AcceptBlockHeader(h1, false)
	require.Error(t, err)
}

func TestAcceptBlockHeaderDuplicateReturnsExisting(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	idx1, err := s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)

	idx2, err := s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)
	require.Same(t, idx1, idx2)
}

func TestAcceptBlockHeaderUnknownParentIsRejected(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, _ := newTestStore(t, now)

	orphanParent := &wire.BlockHeader{Version: 1, Time: uint32(now.Unix()), Bits: 0x207fffff, Nonce: 9}
	h := childHeader(orphanParent, 600, 1)

	_, err := s.AcceptBlockHeader(h, true)
	require.Error(t, err)
	_, ok := s.Lookup(h.Hash())
	require.False(t, ok)
}

func TestAcceptBlockHeaderRejectsForgedGenesis(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, _ := newTestStore(t, now)

	forged := &wire.BlockHeader{Version: 2, Time: uint32(now.Unix()), Bits: 0x207fffff, Nonce: 99}
	_, err := s.AcceptBlockHeader(forged, true)
	require.Error(t, err)
}

func TestAcceptBlockHeaderRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	_, err := s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)

	// h2 carries a timestamp not after h1's median-time-past.
	stale := &wire.BlockHeader{
		Version:   1,
		Time:      h1.Time,
		Bits:      h1.Bits,
		Nonce:     1,
		PrevBlock: h1.Hash(),
	}
	_, err = s.AcceptBlockHeader(stale, true)
	require.Error(t, err)
}

func TestAcceptBlockHeaderRejectsFarFutureTimestamp(t *testing.T) {
	now := time.Unix(1700003600, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, uint32(10*time.Hour/time.Second), 1)
	_, err := s.AcceptBlockHeader(h1, true)
	require.Error(t, err)
}

func buildChain(t *testing.T, s *Store, tipHeader *wire.BlockHeader, n int) *wire.BlockHeader {
	t.Helper()
	return buildBranch(t, s, tipHeader, n, 1)
}

// buildBranch is buildChain with a caller-chosen nonce seed, so two calls
// starting from the same tipHeader produce distinct sibling forks instead
// of identical (and therefore deduplicated) headers.
func buildBranch(t *testing.T, s *Store, tipHeader *wire.BlockHeader, n int, branch uint32) *wire.BlockHeader {
	t.Helper()
	cur := tipHeader
	for i := 0; i < n; i++ {
		cur = childHeader(cur, 600, branch)
		_, err := s.AcceptBlockHeader(cur, true)
		require.NoError(t, err)
	}
	return cur
}

func TestActiveChainSelectsMostWork(t *testing.T) {
	now := time.Unix(1700100000, 0)
	s, params := newTestStore(t, now)

	a2 := buildBranch(t, s, params.GenesisHeader, 2, 1)
	require.Equal(t, a2.Hash(), s.Tip().Hash)

	b3 := buildBranch(t, s, params.GenesisHeader, 3, 2)
	require.Equal(t, b3.Hash(), s.Tip().Hash)
	require.Equal(t, int64(3), s.Tip().Height)

	// A1/A2 remain in the index even though they're no longer active.
	a1Hash := childHeader(params.GenesisHeader, 600, 1).Hash()
	_, ok := s.Lookup(a1Hash)
	require.True(t, ok)
}

func TestSuspiciousReorgDepthRefusesDeepReorg(t *testing.T) {
	now := time.Unix(1700100000, 0)
	params := testParams()
	params.SuspiciousReorgDepth = 2
	s := NewStore(params, fixedClock{now: now})

	a2 := buildBranch(t, s, params.GenesisHeader, 2, 1)
	require.Equal(t, a2.Hash(), s.Tip().Hash)

	buildBranch(t, s, params.GenesisHeader, 3, 2)

	// The deeper fork disconnects 2 blocks (>= SuspiciousReorgDepth), so
	// the tip must not move.
	require.Equal(t, a2.Hash(), s.Tip().Hash)
}

func TestInvalidateBlockPropagatesAncestorFailed(t *testing.T) {
	now := time.Unix(1700100000, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	idx1, err := s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)
	h2 := childHeader(h1, 600, 1)
	idx2, err := s.AcceptBlockHeader(h2, true)
	require.NoError(t, err)

	require.True(t, s.InvalidateBlock(idx1.Hash))

	got1, _ := s.Lookup(idx1.Hash)
	got2, _ := s.Lookup(idx2.Hash)
	require.True(t, got1.Status&StatusSelfFailed != 0)
	require.True(t, got2.Status&StatusAncestorFailed != 0)
	require.False(t, got2.IsValid())

	// Active chain rewinds to genesis since both descendants failed.
	require.Equal(t, params.GenesisHash, s.Tip().Hash)
}

func TestInvalidateBlockRejectsGenesis(t *testing.T) {
	now := time.Unix(1700100000, 0)
	s, params := newTestStore(t, now)
	require.False(t, s.InvalidateBlock(params.GenesisHash))
}

func TestSelfFailedIsSticky(t *testing.T) {
	now := time.Unix(1700100000, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	idx1, err := s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)
	s.InvalidateBlock(idx1.Hash)

	// Re-offering the same header must not clear SELF_FAILED.
	got, err := s.AcceptBlockHeader(h1, true)
	require.Error(t, err)
	require.Nil(t, got)
}

func TestLocatorIncludesTenMostRecentThenDoublesToGenesis(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)

	buildChain(t, s, params.GenesisHeader, 30)
	locator := s.Locator()

	require.LessOrEqual(t, len(locator), maxLocatorEntries)
	require.Equal(t, s.Tip().Hash, locator[0])
	require.Equal(t, params.GenesisHash, locator[len(locator)-1])
}

func TestLocatorIsCappedAt101Entries(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)
	buildChain(t, s, params.GenesisHeader, 500)

	locator := s.Locator()
	require.LessOrEqual(t, len(locator), maxLocatorEntries)
}

func TestHeadersAfterLocatorServesFromForkPoint(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)

	tip5 := buildChain(t, s, params.GenesisHeader, 5)
	_ = tip5
	locatorAt2 := []chainhash.Hash{}
	cur := s.Tip()
	for i := 0; i < 3; i++ { // walk back to height 2
		cur = cur.Parent
	}
	locatorAt2 = append(locatorAt2, cur.Hash)

	more := buildChain(t, s, s.Tip().Header, 3)
	_ = more

	got := s.HeadersAfterLocator(locatorAt2, 100)
	require.Len(t, got, 6, "3 headers already known past the fork plus the 3 new ones")
	require.Equal(t, cur.Height+1, int64(2)+1)
	for i := 1; i < len(got); i++ {
		require.Equal(t, got[i].PrevBlock, got[i-1].Hash())
	}
}

func TestHeadersAfterLocatorCapsAtMaxCount(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)
	buildChain(t, s, params.GenesisHeader, 10)

	got := s.HeadersAfterLocator(nil, 3)
	require.Len(t, got, 3)
}

func TestHeadersAfterLocatorEmptyLocatorStartsFromGenesis(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)
	buildChain(t, s, params.GenesisHeader, 2)

	got := s.HeadersAfterLocator(nil, 100)
	require.Len(t, got, 2)
	require.Equal(t, params.GenesisHash, got[0].PrevBlock)
}

func TestIsInitialBlockDownload(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, _ := newTestStore(t, now)

	// Fresh genesis-only store is always IBD.
	require.True(t, s.IsInitialBlockDownload())
}

func TestOrphanCacheReoffersOnParentAcceptance(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	h2 := childHeader(h1, 600, 1)

	// h2 arrives first; its parent (h1) is unknown.
	_, err := s.AcceptBlockHeader(h2, true)
	require.Error(t, err)
	require.True(t, s.AddOrphanHeader(h2, PeerID(1), true))

	_, ok := s.Lookup(h2.Hash())
	require.False(t, ok)

	// Now h1 arrives and is accepted; h2 should be recursively reoffered
	// and accepted too.
	_, err = s.AcceptBlockHeader(h1, true)
	require.NoError(t, err)

	_, ok = s.Lookup(h2.Hash())
	require.True(t, ok)
	require.Equal(t, h2.Hash(), s.Tip().Hash)
}

func TestOrphanCacheCapsPerPeer(t *testing.T) {
	now := time.Unix(1700200000, 0)
	s, params := newTestStore(t, now)

	parent := params.GenesisHeader
	accepted := 0
	for i := 0; i < MaxOrphansPerPeer+5; i++ {
		orphan := &wire.BlockHeader{
			Version:   1,
			Time:      parent.Time + 600 + uint32(i),
			Bits:      parent.Bits,
			Nonce:     uint32(i + 1000),
			PrevBlock: parent.Hash(), // indexed, but AddOrphanHeader never looks the parent up
		}
		if s.AddOrphanHeader(orphan, PeerID(7), true) {
			accepted++
		}
	}
	require.Equal(t, MaxOrphansPerPeer, accepted)
}

func TestOrphanExpirySweep(t *testing.T) {
	now := time.Unix(1700200000, 0)
	params := testParams()
	clock := &mutableTestClock{now: now}
	s := NewStore(params, clock)

	h1 := childHeader(params.GenesisHeader, 600, 1)
	h2 := childHeader(h1, 600, 1)
	require.True(t, s.AddOrphanHeader(h2, PeerID(1), true))

	clock.now = now.Add(OrphanExpiry + time.Second)
	require.Equal(t, 1, s.ExpireOrphans())
}

type mutableTestClock struct{ now time.Time }

func (c *mutableTestClock) Now() time.Time { return c.now }
func (c *mutableTestClock) AfterFunc(time.Duration, func()) peer.Timer { return noopTimer{} }

func TestSaveLoadRoundTrip(t *testing.T) {
	now := time.Unix(1700300000, 0)
	s, params := newTestStore(t, now)
	buildChain(t, s, params.GenesisHeader, 5)

	dir := t.TempDir()
	path := filepath.Join(dir, "headers.json")
	require.NoError(t, s.Save(path))

	s2 := NewStore(params, fixedClock{now: now})
	require.NoError(t, s2.Load(path))

	require.Equal(t, s.Tip().Hash, s2.Tip().Hash)
	require.Equal(t, s.Tip().Height, s2.Tip().Height)
	require.Equal(t, 0, s.Tip().ChainWork.Cmp(s2.Tip().ChainWork))
}

func TestLoadRejectsMismatchedGenesis(t *testing.T) {
	now := time.Unix(1700300000, 0)
	s, params := newTestStore(t, now)
	buildChain(t, s, params.GenesisHeader, 2)

	dir := t.TempDir()
	path := filepath.Join(dir, "headers.json")
	require.NoError(t, s.Save(path))

	otherParams := testParams()
	otherParams.GenesisHeader.Nonce = 999
	otherParams.GenesisHash = otherParams.GenesisHeader.Hash()
	s3 := NewStore(otherParams, fixedClock{now: now})
	require.Error(t, s3.Load(path))
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	now := time.Unix(1700300000, 0)
	s, params := newTestStore(t, now)
	require.NoError(t, s.Load(filepath.Join(t.TempDir(), "missing.json")))
	require.Equal(t, params.GenesisHash, s.Tip().Hash)
}

func TestLoadCorruptFileLeavesStoreUnchanged(t *testing.T) {
	now := time.Unix(1700300000, 0)
	s, params := newTestStore(t, now)

	dir := t.TempDir()
	path := filepath.Join(dir, "headers.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	require.NoError(t, s.Load(path))
	require.Equal(t, params.GenesisHash, s.Tip().Hash)
}

func TestCompactBigRoundTrip(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x207fffff, 0x1b0404cb} {
		target := CompactToBig(bits)
		require.Equal(t, bits, BigToCompact(target))
	}
}

func TestCalcWorkIncreasesAsTargetShrinks(t *testing.T) {
	easy := CalcWork(0x207fffff)
	hard := CalcWork(0x1d00ffff)
	require.Equal(t, -1, easy.Cmp(hard))
}
