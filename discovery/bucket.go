// Package discovery implements the Peer Discovery component (spec.md §4.5,
// §5): ADDR/GETADDR message handling, GETADDR echo suppression, per-peer
// ADDR rate limiting, and anchor-address persistence across restarts.
package discovery

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// addrBucketCap is the per-peer ADDR token bucket's cap, per spec.md §5.
	addrBucketCap = 1000
	// defaultAddrBucketRefillPerSec is the bucket's steady refill rate.
	defaultAddrBucketRefillPerSec = 0.1
)

// refillRate is the bucket's steady refill rate, overridable at process
// startup through SetRefillRate so the network coordinator can apply the
// live-reloadable config.AddrBucketRefillMilliHz tunable.
var refillRate rate.Limit = defaultAddrBucketRefillPerSec

// SetRefillRate overrides the per-peer ADDR bucket's refill rate for every
// bucket created afterward. Existing buckets keep whatever rate they were
// built with until they're next replaced by refillFull.
func SetRefillRate(perSecond float64) {
	refillRate = rate.Limit(perSecond)
}

// addrBucket rate-limits inbound ADDR entries from one peer. Wraps
// golang.org/x/time/rate instead of a hand-rolled counter, per
// SPEC_FULL.md's DOMAIN STACK.
type addrBucket struct {
	mu  sync.Mutex
	lim *rate.Limiter
}

// newAddrBucket builds a bucket starting at spec.md §5's 1.0-token balance
// (a single self-announcement on connect is free) rather than a full 1000.
// rate.NewLimiter always starts a limiter full at its burst size, so the
// extra tokens are immediately drained back down to 1.
func newAddrBucket(now time.Time) *addrBucket {
	lim := rate.NewLimiter(refillRate, addrBucketCap)
	lim.AllowN(now, addrBucketCap-1)
	return &addrBucket{lim: lim}
}

// take consumes one token for a single ADDR entry, reporting whether one
// was available.
func (b *addrBucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// refillFull tops the bucket back up to its cap. Called when we've just
// sent GETADDR to the peer and expect a large reply (spec.md §5: "Sending
// GETADDR refills the recipient peer's local processing bucket by 1000").
// rate.Limiter exposes no public "credit N tokens" operation short of
// canceling a reservation it issued itself, so the bucket is replaced with
// a freshly full one rather than attempting a partial top-up.
func (b *addrBucket) refillFull() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lim = rate.NewLimiter(refillRate, addrBucketCap)
}
