package addrmgr

import (
	"net"
	"time"

	"github.com/chainwatch/hcd/wire"
)

// entry is one address book record. A single entry lives in exactly one of
// the new_/tried_ tables at a time.
type entry struct {
	addr wire.NetAddress
	src  net.IP // the peer that told us about addr, or nil if self-learned

	lastSeen         time.Time // addr's own advertised timestamp, clamped to now
	lastTry          time.Time
	lastSuccess      time.Time
	lastCountAttempt time.Time // last time an Attempt() actually incremented attempts

	attempts int
	tried    bool
}

// isTerrible reports whether e is unfit to hand out via GetAddresses: it has
// accumulated at least maxFailures cumulative connection failures.
func (e *entry) isTerrible() bool {
	return e.attempts >= maxFailures
}
