// Package node implements the Network Coordinator (spec.md §4 C8): the
// glue that turns peer.Connection, peerman.Manager, addrmgr.AddrManager,
// discovery.Handler and headerchain.Store/Driver into a running daemon. It
// owns the single logical reactor spec.md §5 describes — one goroutine
// group ticking the dial loop, feeler loop, maintenance sweep and
// send-flush timer — and the notification registry other parts of a host
// process subscribe to.
package node

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ordishs/gocore"
	"golang.org/x/sync/errgroup"

	"github.com/chainwatch/hcd/addrmgr"
	"github.com/chainwatch/hcd/chaincfg"
	"github.com/chainwatch/hcd/config"
	"github.com/chainwatch/hcd/discovery"
	"github.com/chainwatch/hcd/errors"
	"github.com/chainwatch/hcd/headerchain"
	"github.com/chainwatch/hcd/peer"
	"github.com/chainwatch/hcd/peerman"
	"github.com/chainwatch/hcd/transport"
	"github.com/chainwatch/hcd/ulogger"
	"github.com/chainwatch/hcd/wire"
)

// sendFlushInterval is how often the announcement queue is drained, per
// spec.md §5's 1s send-messages cadence (network_manager.hpp's
// SENDMESSAGES_INTERVAL).
const sendFlushInterval = 1 * time.Second

// NATPort is the external NAT/UPnP collaborator spec.md §1 names as out of
// scope for the daemon's internals. A no-op implementation is used unless a
// host process supplies a real one.
type NATPort interface {
	MapPort(port uint16) error
	UnmapPort(port uint16)
}

type noopNAT struct{}

func (noopNAT) MapPort(uint16) error { return nil }
func (noopNAT) UnmapPort(uint16)     {}

// Options carries a Coordinator's external collaborators. Transport, Logger
// and Clock default to production implementations when left nil.
type Options struct {
	Config    *config.Config
	Params    *chaincfg.Params
	Transport transport.Transport
	Logger    ulogger.Logger
	Clock     peer.Clock
	NAT       NATPort
}

// Coordinator is the Network Coordinator: one per running daemon.
type Coordinator struct {
	cfg    *config.Config
	params *chaincfg.Params
	tr     transport.Transport
	log    ulogger.Logger
	clock  peer.Clock
	nat    NATPort

	localNonce uint64

	mgr   *peerman.Manager
	book  *addrmgr.AddrManager
	disc  *discovery.Handler
	store *headerchain.Store
	sync  *headerchain.Driver

	notify  *notifier
	anchors []wire.NetAddress

	addrMu    sync.Mutex
	connAddrs map[peerman.PeerID]wire.NetAddress

	stopOnce sync.Once
	cancel   context.CancelFunc
}

// rememberAddr records the dialed/accepted address behind id, so later
// bookkeeping (address-book Good/Failed, anchor selection) can map a
// PeerID back to an IP:port without re-parsing RemoteAddr.
func (c *Coordinator) rememberAddr(id peerman.PeerID, addr wire.NetAddress) {
	c.addrMu.Lock()
	defer c.addrMu.Unlock()
	c.connAddrs[id] = addr
}

func (c *Coordinator) forgetAddr(id peerman.PeerID) (wire.NetAddress, bool) {
	c.addrMu.Lock()
	defer c.addrMu.Unlock()
	addr, ok := c.connAddrs[id]
	delete(c.connAddrs, id)
	return addr, ok
}

// New builds a Coordinator and loads its persisted state (peers.json,
// banlist.json, headers.json) from cfg.Datadir. It does not start the
// reactor; call Start for that.
func New(opts Options) (*Coordinator, error) {
	if opts.Config == nil || opts.Params == nil {
		return nil, errors.New(errors.ERR_CONFIGURATION, "node.New requires Config and Params")
	}
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = ulogger.Nop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = peer.RealClock()
	}
	tr := opts.Transport
	if tr == nil {
		tr = transport.NewTCPTransport(log)
	}
	nat := opts.NAT
	if nat == nil {
		nat = noopNAT{}
	}

	discovery.SetRefillRate(float64(config.AddrBucketRefillMilliHz()) / 1000.0)

	book := addrmgr.New(addrmgr.DefaultConfig())
	if err := book.Load(cfg.PeersFile()); err != nil {
		log.Warnf("node: loading %s: %v", cfg.PeersFile(), err)
	}

	mgr, err := peerman.New(peerman.Config{
		Clock:       clock,
		Logger:      log,
		BanFilePath: cfg.BanlistFile(),
	})
	if err != nil {
		return nil, err
	}

	store := headerchain.NewStore(opts.Params, clock)
	if err := store.Load(cfg.HeadersFile()); err != nil {
		log.Warnf("node: loading %s: %v", cfg.HeadersFile(), err)
	}

	nonce := opts.Config.TestNonce
	localNonce := randomNonce()
	if nonce != nil {
		localNonce = *nonce
	}

	anchors := discovery.LoadAndDeleteAnchors(cfg.AnchorsFile())

	c := &Coordinator{
		cfg:        cfg,
		params:     opts.Params,
		tr:         tr,
		log:        log,
		clock:      clock,
		nat:        nat,
		localNonce: localNonce,
		mgr:        mgr,
		book:       book,
		disc:       discovery.NewHandler(discovery.Config{Book: book, Clock: clock, Logger: log}),
		store:      store,
		sync:       headerchain.NewDriver(store, clock),
		anchors:    anchors,
		connAddrs:  make(map[peerman.PeerID]wire.NetAddress),
	}
	c.notify = newNotifier(c)
	return c, nil
}

// randomNonce draws a process-local self-connection nonce. math/rand's
// global source is fine here: this value only needs to be unlikely to
// collide with itself across a handful of simultaneous local processes, not
// cryptographically unpredictable.
func randomNonce() uint64 {
	return rand.Uint64()
}

// peerConfig builds the peer.Config every Connection this Coordinator
// creates shares.
func (c *Coordinator) peerConfig() peer.Config {
	cfg := peer.DefaultConfig()
	cfg.Net = wire.BitcoinNet(c.cfg.NetworkMagic)
	cfg.LocalVersion = 70016
	cfg.LocalServices = 0 // headers-only: this daemon carries no block bodies
	cfg.LocalUserAgent = "/hcd:0.1.0/"
	cfg.LocalStartHeight = int32(c.store.Height())
	cfg.LocalNonce = c.localNonce
	cfg.IsNonceKnown = c.mgr.IsNonceKnown
	return cfg
}

// Start brings the listener (if enabled) and the periodic-task reactor up.
// It blocks until ctx is canceled or a periodic task returns a fatal error,
// mirroring the teacher's errgroup-supervised service lifecycle
// (services/blockvalidation/Server.go's subtreeGroup).
func (c *Coordinator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.dialAnchors(ctx); err != nil {
		c.log.Warnf("node: dialing anchors: %v", err)
	}

	if c.cfg.ListenEnabled {
		if err := c.tr.Listen(c.cfg.ListenPort, c.onAccept); err != nil {
			cancel()
			return err
		}
		if err := c.nat.MapPort(c.cfg.ListenPort); err != nil {
			c.log.Warnf("node: NAT port mapping failed: %v", err)
		}
		go func() {
			if err := c.tr.Run(); err != nil {
				c.log.Warnf("node: listener stopped: %v", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.runTicker(gctx, c.cfg.ConnectInterval, c.dialTick) })
	g.Go(func() error { return c.runTicker(gctx, feelerInterval(c.cfg), c.feelerTick) })
	g.Go(func() error { return c.runTicker(gctx, c.cfg.MaintenanceInterval, c.maintenanceTick) })
	g.Go(func() error { return c.runTicker(gctx, sendFlushInterval, c.flushTick) })

	err := g.Wait()
	c.shutdown()
	return err
}

// feelerInterval jitters peerman.FeelerInterval by up to
// FeelerMaxDelayMultiplier, per network_manager.hpp's feeler_timer_.
func feelerInterval(cfg *config.Config) time.Duration {
	mult := 1.0 + rand.Float64()*(cfg.FeelerMaxDelayMultiplier-1.0)
	return time.Duration(float64(peerman.FeelerInterval) * mult)
}

// runTicker calls fn every interval until ctx is done or fn returns a
// non-nil error. A fatal error tears down every other runTicker goroutine in
// the same errgroup.
func (c *Coordinator) runTicker(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Stop cancels the reactor's context and returns at once; it does not wait
// for Start to return. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// shutdown persists state and releases external resources. Called once
// Start's errgroup has fully drained.
func (c *Coordinator) shutdown() {
	_ = c.tr.Stop()
	if c.cfg.ListenEnabled {
		c.nat.UnmapPort(c.cfg.ListenPort)
	}

	if err := c.book.Save(c.cfg.PeersFile()); err != nil {
		c.log.Warnf("node: saving %s: %v", c.cfg.PeersFile(), err)
	}
	if err := c.mgr.SaveBans(); err != nil {
		c.log.Warnf("node: saving %s: %v", c.cfg.BanlistFile(), err)
	}
	if err := c.store.Save(c.cfg.HeadersFile()); err != nil {
		c.log.Warnf("node: saving %s: %v", c.cfg.HeadersFile(), err)
	}
	anchors := discovery.SelectAnchors(c.mgr)
	if err := discovery.SaveAnchors(c.cfg.AnchorsFile(), anchors); err != nil {
		c.log.Warnf("node: saving %s: %v", c.cfg.AnchorsFile(), err)
	}
}

// stat is the gocore.NewStat root this package times its periodic tasks
// under, matching the teacher's stores/blob/s3/s3.go convention of one
// named root stat per component with per-operation children.
var stat = gocore.NewStat("node", true)
