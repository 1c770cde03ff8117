package wire

import (
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
)

// MsgVersion is the first message a connecting peer sends: protocol
// version, services, wall-clock time, both endpoints' addresses, an anti
// self-connect nonce, user agent and the sender's best known height.
type MsgVersion struct {
	ProtocolVersion int32
	Services        ServiceFlag
	Timestamp       int64
	AddrRecv        NetAddress
	AddrFrom        NetAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
}

func (m *MsgVersion) Command() string { return CmdVersion }

func (m *MsgVersion) Encode(w io.Writer) error {
	if len(m.UserAgent) > MaxUserAgentLen {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "user agent length %d exceeds max %d", len(m.UserAgent), MaxUserAgentLen)
	}

	if err := binary.Write(w, binary.LittleEndian, m.ProtocolVersion); err != nil {
		return errors.New(errors.ERR_IO, "write version.protocol_version", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(m.Services)); err != nil {
		return errors.New(errors.ERR_IO, "write version.services", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.Timestamp); err != nil {
		return errors.New(errors.ERR_IO, "write version.time", err)
	}
	if err := m.AddrRecv.encode(w); err != nil {
		return err
	}
	if err := m.AddrFrom.encode(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.Nonce); err != nil {
		return errors.New(errors.ERR_IO, "write version.nonce", err)
	}
	if err := WriteVarInt(w, uint64(len(m.UserAgent))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, m.UserAgent); err != nil {
		return errors.New(errors.ERR_IO, "write version.user_agent", err)
	}
	if err := binary.Write(w, binary.LittleEndian, m.StartHeight); err != nil {
		return errors.New(errors.ERR_IO, "write version.start_height", err)
	}
	return nil
}

func (m *MsgVersion) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.ProtocolVersion); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "version.protocol_version", err)
	}
	var svc uint64
	if err := binary.Read(r, binary.LittleEndian, &svc); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "version.services", err)
	}
	m.Services = ServiceFlag(svc)
	if err := binary.Read(r, binary.LittleEndian, &m.Timestamp); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "version.time", err)
	}
	if err := m.AddrRecv.decode(r); err != nil {
		return err
	}
	if err := m.AddrFrom.decode(r); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "version.nonce", err)
	}

	uaLen, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if uaLen > MaxUserAgentLen {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "user agent length %d exceeds max %d", uaLen, MaxUserAgentLen)
	}
	ua := make([]byte, uaLen)
	if _, err := io.ReadFull(r, ua); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "version.user_agent", err)
	}
	m.UserAgent = string(ua)

	if err := binary.Read(r, binary.LittleEndian, &m.StartHeight); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "version.start_height", err)
	}
	return nil
}
