package peer

import (
	"time"

	"github.com/chainwatch/hcd/ntime"
	"github.com/chainwatch/hcd/wire"
)

// Config carries the tunables and local identity a Connection is built
// with. Every duration below has the default spec.md §4.2 specifies.
type Config struct {
	Net wire.BitcoinNet

	// MinSupportedVersion rejects any peer announcing a lower VERSION.
	MinSupportedVersion int32

	LocalVersion     int32
	LocalServices    wire.ServiceFlag
	LocalUserAgent   string
	LocalStartHeight int32
	// LocalNonce is the process-wide self-connection nonce (spec.md
	// §4.2 "Self-connection detection"). Every Connection shares it.
	LocalNonce uint64

	HandshakeTimeout time.Duration // default 60s

	PingInterval time.Duration // default 120s
	PingTimeout  time.Duration // default 20min

	InactivityCheckInterval time.Duration // default 60s
	InactivityTimeout       time.Duration // default 20min

	RecvFloodSize int // default 5,000,000

	UnknownCmdWindow             time.Duration // default 60s
	UnknownCmdWarnLimit          int           // default 5
	UnknownCmdDisconnectLimit    int           // default 20

	// MaxMessagesPerRead caps how many decoded messages are dispatched
	// from a single transport read before yielding, as a crude defense
	// against one huge buffered burst starving other peers if the
	// caller dispatches messages synchronously on a shared reactor.
	MaxMessagesPerRead int // default 256

	// TimeFilter receives one timestamp-offset sample per outbound
	// handshake. Optional; nil disables sampling.
	TimeFilter *ntime.Filter

	// IsNonceKnown is consulted on VERSION receipt to reject a nonce
	// already in use by another connected peer (spec.md §4.3's
	// lifecycle-layer self-connection check). Optional.
	IsNonceKnown func(nonce uint64) bool
}

// DefaultConfig returns a Config with every spec.md §4.2 default applied.
// Callers still must set Net, LocalVersion, LocalServices, LocalUserAgent
// and LocalNonce.
func DefaultConfig() Config {
	return Config{
		MinSupportedVersion:        0,
		HandshakeTimeout:           60 * time.Second,
		PingInterval:               120 * time.Second,
		PingTimeout:                20 * time.Minute,
		InactivityCheckInterval:    60 * time.Second,
		InactivityTimeout:          20 * time.Minute,
		RecvFloodSize:              5_000_000,
		UnknownCmdWindow:           60 * time.Second,
		UnknownCmdWarnLimit:        5,
		UnknownCmdDisconnectLimit:  20,
		MaxMessagesPerRead:         256,
	}
}
