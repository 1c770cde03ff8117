package discovery

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chainwatch/hcd/addrmgr"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/transport"
	"github.com/chainwatch/hcd/wire"
)

const testNet wire.BitcoinNet = 0xfeedface

func peerConfig(nonce uint64) peer.Config {
	cfg := peer.DefaultConfig()
	cfg.Net = testNet
	cfg.LocalVersion = 70016
	cfg.LocalServices = wire.SFNodeNetwork
	cfg.LocalUserAgent = "/hcd:test/"
	cfg.LocalNonce = nonce
	return cfg
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
func (c fixedClock) AfterFunc(time.Duration, func()) peer.Timer { return noopTimer{} }

type noopTimer struct{}

func (noopTimer) Stop() bool                { return true }
func (noopTimer) Reset(time.Duration) bool  { return true }

// dialedPair wires an outbound Connection to an inbound one over a
// SimTransport pair, started synchronously so both reach StateReady before
// returning.
func dialedPair(t *testing.T, clock peer.Clock, outNonce, inNonce uint64) (out, in *peer.Connection) {
	t.Helper()

	clientSim := transport.NewSimTransport("client")
	serverSim := transport.NewSimTransport("server")

	var inbound *peer.Connection
	err := serverSim.Listen(0, func(tc transport.Connection) {
		inbound = peer.NewInbound(peerConfig(inNonce), clock, nil, tc)
		inbound.Start()
	})
	require.NoError(t, err)

	outboundTC := transport.DialPair(clientSim, serverSim)
	outbound := peer.NewOutbound(peerConfig(outNonce), clock, nil, outboundTC)
	outbound.Start()

	return outbound, inbound
}

func testPeerManager(t *testing.T, now time.Time) *peerman.Manager {
	t.Helper()
	m, err := peerman.New(peerman.Config{Clock: fixedClock{now: now}})
	require.NoError(t, err)
	return m
}

func mustAddr(t *testing.T, ip string, port uint16) wire.NetAddress {
	t.Helper()
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed)
	return wire.NetAddress{IP: parsed, Port: port, Services: wire.SFNodeNetwork}
}

// --- addrBucket ---

func TestAddrBucketStartsWithOneToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newAddrBucket(now)

	require.True(t, b.take(now), "the initial free token must be usable immediately")
	require.False(t, b.take(now), "a second entry at the same instant has nothing left to consume")
}

func TestAddrBucketRefillsOverTime(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newAddrBucket(now)
	require.True(t, b.take(now))

	later := now.Add(10 * time.Second)
	require.True(t, b.take(later), "10s at 0.1/s restores exactly one token")
	require.False(t, b.take(later))
}

func TestAddrBucketRefillFullAllowsBurst(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := newAddrBucket(now)
	require.True(t, b.take(now))
	require.False(t, b.take(now))

	b.refillFull()
	for i := 0; i < addrBucketCap; i++ {
		require.True(t, b.take(now), "entry %d should still be covered by the refill", i)
	}
	require.False(t, b.take(now), "the bucket must not exceed its cap")
}

// --- anchors ---

func TestSaveAndLoadAnchorsRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anchors.json")

	addrs := []wire.NetAddress{
		mustAddr(t, "1.2.3.4", 8333),
		mustAddr(t, "5.6.7.8", 8334),
	}
	require.NoError(t, SaveAnchors(path, addrs))

	got := LoadAndDeleteAnchors(path)
	require.Len(t, got, 2)
	require.Equal(t, addrs[0].IP.String(), got[0].IP.String())
	require.Equal(t, addrs[0].Port, got[0].Port)
	require.Equal(t, addrs[1].IP.String(), got[1].IP.String())
	require.Equal(t, addrs[1].Port, got[1].Port)
}

func TestLoadAndDeleteAnchorsIsSingleUse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anchors.json")
	require.NoError(t, SaveAnchors(path, []wire.NetAddress{mustAddr(t, "1.2.3.4", 8333)}))

	first := LoadAndDeleteAnchors(path)
	require.Len(t, first, 1)

	second := LoadAndDeleteAnchors(path)
	require.Empty(t, second, "anchors.json must be consumed on first read")
}

func TestLoadAndDeleteAnchorsMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.json")
	require.Empty(t, LoadAndDeleteAnchors(path))
}

func TestSaveAnchorsCapsAtMax(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anchors.json")

	addrs := []wire.NetAddress{
		mustAddr(t, "1.1.1.1", 1),
		mustAddr(t, "2.2.2.2", 2),
		mustAddr(t, "3.3.3.3", 3),
	}
	require.NoError(t, SaveAnchors(path, addrs))

	got := LoadAndDeleteAnchors(path)
	require.Len(t, got, maxAnchors)
}

// --- handler: GETADDR / ADDR ---

func TestOnGetAddrSuppressesSecondRequest(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := fixedClock{now: now}
	pm := testPeerManager(t, now)

	out, in := dialedPair(t, clock, 1, 2)
	rec, err := pm.Add(out, 0)
	require.NoError(t, err)

	book := addrmgr.New(addrmgr.DefaultConfig())
	book.Add(mustAddr(t, "9.9.9.9", 8333), nil, now)

	var received []*wire.MsgAddr
	in.SetMessageHandler(func(_ *peer.Connection, msg wire.Message) {
		if m, ok := msg.(*wire.MsgAddr); ok {
			received = append(received, m)
		}
	})

	h := NewHandler(Config{Book: book, Clock: clock})
	h.OnGetAddr(pm, rec.ID)
	h.OnGetAddr(pm, rec.ID)

	require.Len(t, received, 1, "a second GETADDR on the same connection must yield no reply")
	require.Len(t, received[0].AddrList, 1)
}

func TestOnAddrRecordsIntoBookAndConsumesBucket(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := fixedClock{now: now}
	pm := testPeerManager(t, now)

	out, _ := dialedPair(t, clock, 1, 2)
	rec, err := pm.Add(out, 0)
	require.NoError(t, err)

	book := addrmgr.New(addrmgr.DefaultConfig())
	h := NewHandler(Config{Book: book, Clock: clock})

	msg := &wire.MsgAddr{AddrList: []wire.AddrEntry{
		{IP: net.ParseIP("1.1.1.1").To4(), Port: 8333, Services: wire.SFNodeNetwork, Timestamp: uint32(now.Unix())},
		{IP: net.ParseIP("2.2.2.2").To4(), Port: 8333, Services: wire.SFNodeNetwork, Timestamp: uint32(now.Unix())},
	}}

	disconnect := h.OnAddr(pm, rec.ID, msg)
	require.False(t, disconnect)
	require.Len(t, book.GetAddresses(10), 1, "the free initial token covers exactly one entry")
}

func TestOnAddrBypassesBucketWithAddrPermission(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := fixedClock{now: now}
	pm := testPeerManager(t, now)

	out, _ := dialedPair(t, clock, 1, 2)
	rec, err := pm.Add(out, peerman.PermAddr)
	require.NoError(t, err)

	book := addrmgr.New(addrmgr.DefaultConfig())
	h := NewHandler(Config{Book: book, Clock: clock})

	msg := &wire.MsgAddr{}
	for i := 0; i < 50; i++ {
		msg.AddrList = append(msg.AddrList, wire.AddrEntry{
			IP:        net.ParseIP("10.0.0.1").To4(),
			Port:      uint16(20000 + i),
			Services:  wire.SFNodeNetwork,
			Timestamp: uint32(now.Unix()),
		})
	}

	h.OnAddr(pm, rec.ID, msg)
	require.Len(t, book.GetAddresses(100), 50, "PermAddr must bypass the per-peer rate limit entirely")
}

func TestOnAddrPenalizesTruncatedMessage(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := fixedClock{now: now}
	pm := testPeerManager(t, now)

	out, _ := dialedPair(t, clock, 1, 2)
	rec, err := pm.Add(out, 0)
	require.NoError(t, err)

	book := addrmgr.New(addrmgr.DefaultConfig())
	h := NewHandler(Config{Book: book, Clock: clock})

	for i := 0; i < 4; i++ {
		disconnect := h.OnAddr(pm, rec.ID, &wire.MsgAddr{Truncated: true})
		require.False(t, disconnect)
	}
	disconnect := h.OnAddr(pm, rec.ID, &wire.MsgAddr{Truncated: true})
	require.True(t, disconnect, "5th 20pt oversized-message hit reaches the 100pt threshold")
}

func TestSendGetAddrRefillsBucket(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := fixedClock{now: now}
	pm := testPeerManager(t, now)

	out, in := dialedPair(t, clock, 1, 2)
	rec, err := pm.Add(out, 0)
	require.NoError(t, err)

	var gotGetAddr bool
	in.SetMessageHandler(func(_ *peer.Connection, msg wire.Message) {
		if _, ok := msg.(*wire.MsgGetAddr); ok {
			gotGetAddr = true
		}
	})

	book := addrmgr.New(addrmgr.DefaultConfig())
	h := NewHandler(Config{Book: book, Clock: clock})
	h.SendGetAddr(pm, rec.ID)
	require.True(t, gotGetAddr)

	msg := &wire.MsgAddr{}
	for i := 0; i < 1000; i++ {
		msg.AddrList = append(msg.AddrList, wire.AddrEntry{
			IP:        net.ParseIP("172.16.0.1").To4(),
			Port:      uint16(i + 1),
			Services:  wire.SFNodeNetwork,
			Timestamp: uint32(now.Unix()),
		})
	}
	h.OnAddr(pm, rec.ID, msg)
	require.Len(t, book.GetAddresses(2000), 1000, "the refill from sending GETADDR must cover a full 1000-entry reply")
}

func TestForgetDropsBucketState(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := fixedClock{now: now}
	pm := testPeerManager(t, now)

	out, _ := dialedPair(t, clock, 1, 2)
	rec, err := pm.Add(out, 0)
	require.NoError(t, err)

	book := addrmgr.New(addrmgr.DefaultConfig())
	h := NewHandler(Config{Book: book, Clock: clock})

	first := &wire.MsgAddr{AddrList: []wire.AddrEntry{
		{IP: net.ParseIP("8.8.8.8").To4(), Port: 53, Services: wire.SFNodeNetwork, Timestamp: uint32(now.Unix())},
	}}
	h.OnAddr(pm, rec.ID, first)
	require.Len(t, book.GetAddresses(10), 1, "the initial free token covers the first entry")

	second := &wire.MsgAddr{AddrList: []wire.AddrEntry{
		{IP: net.ParseIP("9.9.9.9").To4(), Port: 53, Services: wire.SFNodeNetwork, Timestamp: uint32(now.Unix())},
	}}
	h.OnAddr(pm, rec.ID, second)
	require.Len(t, book.GetAddresses(10), 1, "the bucket has no tokens left, so a second distinct entry is dropped")

	h.Forget(rec.ID)
	h.OnAddr(pm, rec.ID, second)
	require.Len(t, book.GetAddresses(10), 2, "forgetting the bucket issues a fresh one with its own free token")
}
