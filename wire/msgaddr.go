package wire

import (
	"io"

	"github.com/chainwatch/hcd/errors"
)

// MsgAddr carries a batch of learned peer addresses, each timestamped with
// the time the sender last had direct contact with it. A message claiming
// more than MaxAddrPerMsg entries is not a fatal codec error (spec.md §7
// classes "oversized ADDR" as a protocol violation, not a codec/frame one):
// Decode keeps the first MaxAddrPerMsg and sets Truncated so the caller can
// apply the oversized-message misbehavior penalty.
type MsgAddr struct {
	AddrList  []AddrEntry
	Truncated bool
}

// AddrEntry is the exported view of an ADDR entry.
type AddrEntry struct {
	Timestamp uint32
	Services  ServiceFlag
	IP        []byte
	Port      uint16
}

func (m *MsgAddr) Command() string { return CmdAddr }

func (m *MsgAddr) Encode(w io.Writer) error {
	if len(m.AddrList) > MaxAddrPerMsg {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "addr count %d exceeds max %d", len(m.AddrList), MaxAddrPerMsg)
	}
	if err := WriteVarInt(w, uint64(len(m.AddrList))); err != nil {
		return err
	}
	for i := range m.AddrList {
		a := timestampedNetAddress{
			Timestamp: m.AddrList[i].Timestamp,
			Addr:      NetAddress{Services: m.AddrList[i].Services, IP: m.AddrList[i].IP, Port: m.AddrList[i].Port},
		}
		if err := a.encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgAddr) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}

	m.AddrList = make([]AddrEntry, 0, reserveCount(count, 26))
	for i := uint64(0); i < count; i++ {
		var a timestampedNetAddress
		if err := a.decode(r); err != nil {
			return err
		}
		if uint64(len(m.AddrList)) < MaxAddrPerMsg {
			m.AddrList = append(m.AddrList, AddrEntry{
				Timestamp: a.Timestamp,
				Services:  a.Addr.Services,
				IP:        a.Addr.IP,
				Port:      a.Addr.Port,
			})
		}
	}
	m.Truncated = count > MaxAddrPerMsg
	return nil
}
