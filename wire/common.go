// Package wire implements the daemon's framed binary wire protocol: the
// message frame/checksum envelope, the varint encoding, and the typed
// payloads exchanged during handshake, address discovery and header sync.
// It mirrors the shape of the btcd/dcrd-family wire packages in the
// retrieval pack (see other_examples' ravencoin wire-protocol.go) adapted to
// this daemon's fixed 100-byte header and headers-only message set.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// BitcoinNet identifies which network a frame's magic belongs to.
type BitcoinNet uint32

// String returns the network's human-readable name, or its hex value if
// unregistered.
func (n BitcoinNet) String() string {
	switch n {
	case 0:
		return "unset"
	default:
		return "0x" + strconv.FormatUint(uint64(n), 16)
	}
}

// ServiceFlag identifies services a peer advertises in VERSION.
type ServiceFlag uint64

const (
	// SFNodeNetwork indicates a peer maintains the full header chain.
	SFNodeNetwork ServiceFlag = 1 << iota
	// SFNodeGetHeaders indicates a peer serves GETHEADERS to others.
	SFNodeGetHeaders
)

var sfStrings = map[ServiceFlag]string{
	SFNodeNetwork:     "SFNodeNetwork",
	SFNodeGetHeaders:  "SFNodeGetHeaders",
}

var orderedSFStrings = []ServiceFlag{SFNodeNetwork, SFNodeGetHeaders}

// String renders the flags set in f in human-readable form.
func (f ServiceFlag) String() string {
	if f == 0 {
		return "0x0"
	}
	var s []string
	for _, flag := range orderedSFStrings {
		if f&flag == flag {
			s = append(s, sfStrings[flag])
			f -= flag
		}
	}
	if f != 0 {
		s = append(s, fmt.Sprintf("0x%x", uint64(f)))
	}
	return strings.Join(s, "|")
}

// Protocol-wide size limits (spec.md §4.1).
const (
	// CommandSize is the fixed width of a frame's command field.
	CommandSize = 12
	// MessageHeaderSize is magic(4) + command(12) + length(4) + checksum(4).
	MessageHeaderSize = 4 + CommandSize + 4 + 4
	// MaxPayloadSize is the largest payload a frame may declare.
	MaxPayloadSize = 4_000_000
	// MaxVarIntValue caps any decoded varint, independent of context.
	MaxVarIntValue = 33_554_432
	// MaxAddrPerMsg bounds an ADDR message's address count.
	MaxAddrPerMsg = 1000
	// MaxInvPerMsg bounds an INV message's entry count.
	MaxInvPerMsg = 50000
	// MaxLocatorEntries bounds a GETHEADERS locator's hash count.
	MaxLocatorEntries = 101
	// MaxHeadersPerMsg bounds a HEADERS message's header count.
	MaxHeadersPerMsg = 2000
	// MaxUserAgentLen bounds VERSION's user-agent string.
	MaxUserAgentLen = 256
	// reserveBatchCap is the cap on speculative backing-store reservation
	// while decoding a length-prefixed container (spec.md §4.1): never
	// reserve(count) blindly for an untrusted count.
	reserveBatchCap = 5 * 1024 * 1024
)

// Commands, fixed width after NUL padding.
const (
	CmdVersion    = "version"
	CmdVerAck     = "verack"
	CmdPing       = "ping"
	CmdPong       = "pong"
	CmdAddr       = "addr"
	CmdGetAddr    = "getaddr"
	CmdInv        = "inv"
	CmdGetHeaders = "getheaders"
	CmdHeaders    = "headers"
	CmdReject     = "reject"
)
