package addrmgr

import (
	"math/rand"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainwatch/hcd/wire"
)

func testConfig(now time.Time) Config {
	return Config{
		SelectEscalation: 1.2,
		Now:              func() time.Time { return now },
		Rand:             rand.New(rand.NewSource(1)),
	}
}

func mustAddr(t *testing.T, ip string, port uint16) wire.NetAddress {
	t.Helper()
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed)
	return wire.NetAddress{IP: parsed, Port: port, Services: wire.SFNodeNetwork}
}

func TestAddRejectsBadAddresses(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))

	require.False(t, m.Add(wire.NetAddress{IP: net.ParseIP("0.0.0.0"), Port: 8333}, nil, now))
	require.False(t, m.Add(mustAddr(t, "1.2.3.4", 0), nil, now))
}

func TestAddDedupsAgainstBothTables(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))

	addr := mustAddr(t, "1.2.3.4", 8333)
	require.True(t, m.Add(addr, nil, now))
	require.False(t, m.Add(addr, nil, now), "second Add of the same addr should be a no-op")

	m.Good(addr.IP, addr.Port)
	require.False(t, m.Add(addr, nil, now), "Add must also dedup against tried_")
}

func TestAddClampsFutureTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))

	addr := mustAddr(t, "1.2.3.4", 8333)
	future := now.Add(24 * time.Hour)
	require.True(t, m.Add(addr, nil, future))

	got := m.GetAddresses(10)
	require.Len(t, got, 1)
	require.True(t, got[0].Timestamp.Equal(now), "future timestamps must clamp to now")
}

func TestGoodMovesNewToTried(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))

	addr := mustAddr(t, "5.6.7.8", 8333)
	m.Add(addr, nil, now)

	_, foundBefore := m.triedTbl[newKey(addr.IP, addr.Port)]
	require.False(t, foundBefore)

	m.Good(addr.IP, addr.Port)

	e, found := m.triedTbl[newKey(addr.IP, addr.Port)]
	require.True(t, found)
	require.True(t, e.tried)
	require.True(t, e.lastSuccess.Equal(now))
	_, stillInNew := m.newTable[newKey(addr.IP, addr.Port)]
	require.False(t, stillInNew)
}

func TestGoodOnUnknownAddressIsNoop(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	m.Good(net.ParseIP("9.9.9.9"), 8333)
	require.Empty(t, m.triedTbl)
}

func TestAttemptOnlyCountsFailureOnceSinceLastSuccess(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	addr := mustAddr(t, "1.1.1.1", 8333)
	m.Add(addr, nil, now)

	m.Attempt(addr.IP, addr.Port, true)
	m.Attempt(addr.IP, addr.Port, true)

	e := m.lookup(newKey(addr.IP, addr.Port))
	require.Equal(t, 1, e.attempts, "repeated Attempt calls before any success must count once")
}

func TestAttemptCountsFailuresOnNeverSucceededEntry(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	m := New(Config{
		SelectEscalation: 1.2,
		Now:              func() time.Time { return clock },
		Rand:             rand.New(rand.NewSource(1)),
	})
	addr := mustAddr(t, "3.3.3.3", 8333)
	m.Add(addr, nil, clock)

	// An entry that has never had a successful handshake gets its first
	// attempt counted, since lastCountAttempt starts below m.lastGood; a
	// later attempt counts again only once Good has advanced m.lastGood.
	m.Attempt(addr.IP, addr.Port, true)
	e := m.lookup(newKey(addr.IP, addr.Port))
	require.Equal(t, 1, e.attempts)

	clock = clock.Add(time.Minute)
	m.Good(addr.IP, addr.Port)
	clock = clock.Add(time.Minute)
	m.Attempt(addr.IP, addr.Port, true)
	e = m.lookup(newKey(addr.IP, addr.Port))
	require.Equal(t, 2, e.attempts, "Good advances m_last_good, making the next Attempt countable again")
}

func TestFailedEvictsNewAtThreshold(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	addr := mustAddr(t, "2.2.2.2", 8333)
	m.Add(addr, nil, now)

	for i := 0; i < newRetries-1; i++ {
		m.Failed(addr.IP, addr.Port)
		require.NotNil(t, m.lookup(newKey(addr.IP, addr.Port)), "must survive below newRetries")
	}
	m.Failed(addr.IP, addr.Port)
	require.Nil(t, m.lookup(newKey(addr.IP, addr.Port)), "must evict at newRetries")
}

func TestFailedDemotesTriedAtThreshold(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	addr := mustAddr(t, "3.3.3.3", 8333)
	m.Add(addr, nil, now)
	m.Good(addr.IP, addr.Port)
	// Clear the success time so the recent-success grace does not apply.
	m.triedTbl[newKey(addr.IP, addr.Port)].lastSuccess = time.Time{}

	for i := 0; i < triedRetries; i++ {
		m.Failed(addr.IP, addr.Port)
	}

	_, stillTried := m.triedTbl[newKey(addr.IP, addr.Port)]
	require.False(t, stillTried, "must demote out of tried_ at triedRetries since last_success is zero-grace here")
	e := m.lookup(newKey(addr.IP, addr.Port))
	require.NotNil(t, e)
	require.False(t, e.tried)
}

func TestFailedRespectsRecentSuccessGrace(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cfg := testConfig(now)
	m := New(cfg)
	addr := mustAddr(t, "4.4.4.4", 8333)
	m.Add(addr, nil, now)
	m.Good(addr.IP, addr.Port) // lastSuccess == now, well within the grace window

	for i := 0; i < triedRetries+5; i++ {
		m.Failed(addr.IP, addr.Port)
	}

	_, stillTried := m.triedTbl[newKey(addr.IP, addr.Port)]
	require.True(t, stillTried, "a recent success must protect a tried_ entry from demotion")
}

func TestFailedDemotesStaleSuccessAfterGrace(t *testing.T) {
	now := time.Unix(1700000000, 0)
	addr := mustAddr(t, "8.8.8.8", 8333)

	m := New(testConfig(now))
	m.Add(addr, nil, now)
	m.Good(addr.IP, addr.Port)

	later := now.Add(triedDemoteGrace + time.Hour)
	m.cfg.Now = func() time.Time { return later }

	for i := 0; i < triedRetries; i++ {
		m.Failed(addr.IP, addr.Port)
	}

	_, stillTried := m.triedTbl[newKey(addr.IP, addr.Port)]
	require.False(t, stillTried, "once the grace window has elapsed, demotion proceeds normally")
}

func TestGetAddressesFiltersTerribleEntries(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	good := mustAddr(t, "1.1.1.1", 8333)
	bad := mustAddr(t, "2.2.2.2", 8333)
	m.Add(good, nil, now)
	m.Add(bad, nil, now)

	for i := 0; i < maxFailures; i++ {
		m.newTable[newKey(bad.IP, bad.Port)].attempts++
	}

	got := m.GetAddresses(10)
	require.Len(t, got, 1)
	require.True(t, got[0].Addr.IP.Equal(good.IP))
}

func TestGetAddressesRespectsLimit(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	for i := 0; i < 5; i++ {
		ip := net.IPv4(10, 0, 0, byte(i+1))
		m.Add(wire.NetAddress{IP: ip, Port: 8333}, nil, now)
	}
	got := m.GetAddresses(3)
	require.Len(t, got, 3)
}

func TestSelectReturnsFalseWhenEmpty(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	_, ok := m.Select()
	require.False(t, ok)
	_, ok = m.SelectNewForFeeler()
	require.False(t, ok)
}

func TestSelectNewForFeelerNeverReturnsTried(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))
	triedAddr := mustAddr(t, "6.6.6.6", 8333)
	m.Add(triedAddr, nil, now)
	m.Good(triedAddr.IP, triedAddr.Port)

	newAddr := mustAddr(t, "7.7.7.7", 8333)
	m.Add(newAddr, nil, now)

	for i := 0; i < 50; i++ {
		got, ok := m.SelectNewForFeeler()
		if ok {
			require.True(t, got.IP.Equal(newAddr.IP), "feeler selection must never draw from tried_")
		}
	}
}

func TestNormalizeIPMapsCompatibleForm(t *testing.T) {
	compatible := net.ParseIP("::1.2.3.4")
	mapped := net.ParseIP("::ffff:1.2.3.4")
	require.True(t, normalizeIP(compatible).Equal(normalizeIP(mapped)))

	loopback := net.ParseIP("::1")
	require.True(t, normalizeIP(loopback).Equal(loopback.To16()))
}

func TestKeyCanonicalizesAcrossIPv4Forms(t *testing.T) {
	a := newKey(net.ParseIP("::1.2.3.4"), 8333)
	b := newKey(net.ParseIP("::ffff:1.2.3.4"), 8333)
	require.Equal(t, a, b)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0)
	m := New(testConfig(now))

	tried := mustAddr(t, "1.2.3.4", 8333)
	m.Add(tried, net.ParseIP("9.9.9.9"), now)
	m.Good(tried.IP, tried.Port)
	m.Failed(tried.IP, tried.Port)

	fresh := mustAddr(t, "5.6.7.8", 8334)
	m.Add(fresh, nil, now)
	m.Failed(fresh.IP, fresh.Port)

	path := filepath.Join(t.TempDir(), "addrbook.json")
	require.NoError(t, m.Save(path))

	loaded := New(testConfig(now))
	require.NoError(t, loaded.Load(path))

	triedEntry := loaded.lookup(newKey(tried.IP, tried.Port))
	require.NotNil(t, triedEntry)
	require.True(t, triedEntry.tried)
	require.Equal(t, 1, triedEntry.attempts)
	require.True(t, triedEntry.lastSuccess.Equal(now))

	newEntry := loaded.lookup(newKey(fresh.IP, fresh.Port))
	require.NotNil(t, newEntry)
	require.False(t, newEntry.tried)
	require.Equal(t, 1, newEntry.attempts)

	require.Len(t, loaded.newKeys, 1)
	require.Len(t, loaded.triedKeys, 1)
	require.True(t, loaded.lastGood.Equal(m.lastGood), "last_good must round-trip through save/load")
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	m := New(testConfig(time.Unix(1700000000, 0)))
	require.NoError(t, m.Load(filepath.Join(t.TempDir(), "does-not-exist.json")))
	require.Empty(t, m.newKeys)
}
