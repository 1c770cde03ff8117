package addrmgr

import (
	"encoding/binary"
	"net"
)

// keySize is the canonical address-book key: 16-byte IP || 2-byte port,
// big-endian, per spec.md §4.4.
const keySize = 18

// addrKey is the canonical map key for an address book entry.
type addrKey [keySize]byte

// normalizeIP rewrites a deprecated "IPv4-compatible" IPv6 address
// (::a.b.c.d) into its "IPv4-mapped" form (::ffff:a.b.c.d), so the same
// host hashes to one canonical key regardless of which legacy encoding a
// peer advertised it with.
func normalizeIP(ip net.IP) net.IP {
	ip16 := ip.To16()
	if ip16 == nil {
		return ip
	}
	isV4Compatible := true
	for i := 0; i < 10; i++ {
		if ip16[i] != 0 {
			isV4Compatible = false
			break
		}
	}
	if isV4Compatible && ip16[10] == 0 && ip16[11] == 0 {
		// Exclude the unspecified (::) and loopback (::1) addresses, which
		// also satisfy the all-zero-prefix test but aren't IPv4-compatible
		// forms.
		isAllZero := true
		for i := 10; i < 15; i++ {
			if ip16[i] != 0 {
				isAllZero = false
				break
			}
		}
		if isAllZero && (ip16[15] == 0 || ip16[15] == 1) {
			return ip16
		}
		mapped := make(net.IP, 16)
		copy(mapped, ip16)
		mapped[10], mapped[11] = 0xff, 0xff
		return mapped
	}
	return ip16
}

// newKey builds the canonical key for ip/port.
func newKey(ip net.IP, port uint16) addrKey {
	var k addrKey
	norm := normalizeIP(ip)
	copy(k[:16], norm)
	binary.BigEndian.PutUint16(k[16:18], port)
	return k
}
