// Package chaincfg carries the network-specific constants the header chain
// store, wire codec and peer connection are parameterized on: magic number,
// default port, genesis header, seed list and the chain-selection tunables.
// Chain parameter selection itself is out of scope for this daemon (its
// constants are injected at startup); this package only holds the struct
// that carries them.
package chaincfg

import (
	"math/big"
	"time"

	"github.com/chainwatch/hcd/wire"
	"github.com/libsv/go-bt/v2/chainhash"
)

// DNSSeed identifies a bootstrap DNS seed host.
type DNSSeed struct {
	Host string
}

// Params holds everything about a network that the rest of the daemon reads
// rather than hard-codes. Non-goal per spec.md §1: this package does not
// decide which Params a process runs with — that selection is an external
// collaborator's job; the daemon is handed one of these at startup.
type Params struct {
	// Name is a human-readable identifier, used only in logs.
	Name string

	// Net is the magic value every frame on this network must carry.
	Net wire.BitcoinNet

	// DefaultPort is the TCP port peers listen on by default.
	DefaultPort string

	// DNSSeeds bootstraps the address book when it's empty.
	DNSSeeds []DNSSeed

	// GenesisHeader is the network's first header. AcceptBlockHeader
	// compares any header claiming a null prev-hash against this value
	// exactly.
	GenesisHeader *wire.BlockHeader

	// GenesisHash is GenesisHeader.Hash(), cached so callers don't
	// recompute it on every duplicate-check.
	GenesisHash chainhash.Hash

	// PowLimit is the highest difficulty target (lowest difficulty) a
	// header's bits field may encode on this network.
	PowLimit *big.Int

	// PowLimitBits is PowLimit in compact form.
	PowLimitBits uint32

	// MinimumChainWork is the smallest cumulative work the active tip
	// must carry before IsInitialBlockDownload can return false.
	MinimumChainWork *big.Int

	// SuspiciousReorgDepth bounds how many blocks a reorg may disconnect
	// from the current active chain before AcceptBlockHeader refuses it.
	SuspiciousReorgDepth int64

	// MaxFutureBlockTimeSeconds is the largest positive offset a header's
	// timestamp may have over network-adjusted time (spec.md §4.5,
	// MAX_FUTURE_BLOCK_TIME = 2h).
	MaxFutureBlockTimeSeconds int64

	// RetargetInterval is how many blocks pass between difficulty
	// transitions. TargetTimespan is the interval's intended wall-clock
	// duration; the ratio of actual to intended timespan (clamped to
	// [1/4, 4]) scales the previous target at each transition, the
	// classic Bitcoin-style retarget every btcd-family chain in the pack
	// descends from.
	RetargetInterval  int64
	TargetTimespan    time.Duration
	NoRetargeting     bool
}

var bigOne = big.NewInt(1)

// regtestPowLimit is 2^255 - 1, the lowest-difficulty target regtest allows.
var regtestPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

// mainPowLimit is 2^224 - 1, matching the teacher's mainnet constant.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

func genesisHeader(version int32, timestamp, bits, nonce uint32) *wire.BlockHeader {
	return &wire.BlockHeader{
		Version: version,
		Time:    timestamp,
		Bits:    bits,
		Nonce:   nonce,
	}
}

// RegressionNetParams matches the S1 test vector from spec.md §8: nVersion=1,
// nTime=1296688602, nBits=0x207fffff, nNonce=2, all hash/address fields null.
var RegressionNetParams = buildParams(&Params{
	Name:                      "regtest",
	Net:                       0xdab5bffa,
	DefaultPort:               "18444",
	GenesisHeader:             genesisHeader(1, 1296688602, 0x207fffff, 2),
	PowLimit:                  regtestPowLimit,
	PowLimitBits:              0x207fffff,
	MinimumChainWork:          big.NewInt(0),
	SuspiciousReorgDepth:      6,
	MaxFutureBlockTimeSeconds: 2 * 60 * 60,
	NoRetargeting:             true,
})

// TestNetParams is a lightly mined public test network.
var TestNetParams = buildParams(&Params{
	Name:        "testnet",
	Net:         0x0709110b,
	DefaultPort: "18333",
	DNSSeeds: []DNSSeed{
		{Host: "testnet-seed.hcd.example.org"},
	},
	GenesisHeader:             genesisHeader(1, 1296688602, 0x1d00ffff, 414098458),
	PowLimit:                  mainPowLimit,
	PowLimitBits:              0x1d00ffff,
	MinimumChainWork:          big.NewInt(0),
	SuspiciousReorgDepth:      100,
	MaxFutureBlockTimeSeconds: 2 * 60 * 60,
	RetargetInterval:          2016,
	TargetTimespan:            14 * 24 * time.Hour,
})

// MainNetParams is the production network.
var MainNetParams = buildParams(&Params{
	Name:        "mainnet",
	Net:         0xd9b4bef9,
	DefaultPort: "8333",
	DNSSeeds: []DNSSeed{
		{Host: "seed.hcd.example.org"},
		{Host: "seed2.hcd.example.org"},
	},
	GenesisHeader:             genesisHeader(1, 1231006505, 0x1d00ffff, 2083236893),
	PowLimit:                  mainPowLimit,
	PowLimitBits:              0x1d00ffff,
	MinimumChainWork:          big.NewInt(0),
	SuspiciousReorgDepth:      100,
	MaxFutureBlockTimeSeconds: 2 * 60 * 60,
	RetargetInterval:          2016,
	TargetTimespan:            14 * 24 * time.Hour,
})

func buildParams(p *Params) *Params {
	p.GenesisHash = p.GenesisHeader.Hash()
	return p
}

// ParamsByName resolves a chain name to its Params, mirroring the
// teacher's GetChainParams lookup convention.
func ParamsByName(name string) (*Params, bool) {
	switch name {
	case "mainnet":
		return MainNetParams, true
	case "testnet":
		return TestNetParams, true
	case "regtest":
		return RegressionNetParams, true
	default:
		return nil, false
	}
}
