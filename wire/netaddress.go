package wire

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/chainwatch/hcd/errors"
)

// NetAddress is a peer endpoint as carried on the wire: IPv4 addresses are
// stored IPv4-mapped into the 16-byte IPv6 form, and the port is big-endian
// per spec.
type NetAddress struct {
	Services ServiceFlag
	IP       net.IP // always 16 bytes, To16()'d on construction
	Port     uint16
}

// NewNetAddress normalizes ip to its 16-byte (IPv4-mapped, where relevant)
// form.
func NewNetAddress(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return &NetAddress{Services: services, IP: ip.To16(), Port: port}
}

func (na *NetAddress) encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(na.Services)); err != nil {
		return errors.New(errors.ERR_IO, "write netaddress services", err)
	}
	ip16 := na.IP.To16()
	if ip16 == nil {
		ip16 = net.IPv4zero.To16()
	}
	if _, err := w.Write(ip16); err != nil {
		return errors.New(errors.ERR_IO, "write netaddress ip", err)
	}
	if err := binary.Write(w, binary.BigEndian, na.Port); err != nil {
		return errors.New(errors.ERR_IO, "write netaddress port", err)
	}
	return nil
}

func (na *NetAddress) decode(r io.Reader) error {
	var svc uint64
	if err := binary.Read(r, binary.LittleEndian, &svc); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "netaddress services", err)
	}
	na.Services = ServiceFlag(svc)

	ip := make([]byte, 16)
	if _, err := io.ReadFull(r, ip); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "netaddress ip", err)
	}
	na.IP = net.IP(ip)

	var port uint16
	if err := binary.Read(r, binary.BigEndian, &port); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "netaddress port", err)
	}
	na.Port = port
	return nil
}

// timestampedNetAddress is a NetAddress prefixed with the u32 timestamp
// carried by ADDR entries.
type timestampedNetAddress struct {
	Timestamp uint32
	Addr      NetAddress
}

func (a *timestampedNetAddress) encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, a.Timestamp); err != nil {
		return errors.New(errors.ERR_IO, "write addr timestamp", err)
	}
	return a.Addr.encode(w)
}

func (a *timestampedNetAddress) decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &a.Timestamp); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "addr timestamp", err)
	}
	return a.Addr.decode(r)
}
