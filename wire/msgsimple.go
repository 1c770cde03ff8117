package wire

import (
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
)

// MsgVerAck carries no payload; it completes the handshake.
type MsgVerAck struct{}

func (m *MsgVerAck) Command() string          { return CmdVerAck }
func (m *MsgVerAck) Encode(w io.Writer) error  { return nil }
func (m *MsgVerAck) Decode(r io.Reader) error  { return nil }

// MsgGetAddr carries no payload; it requests a peer's address table.
type MsgGetAddr struct{}

func (m *MsgGetAddr) Command() string         { return CmdGetAddr }
func (m *MsgGetAddr) Encode(w io.Writer) error { return nil }
func (m *MsgGetAddr) Decode(r io.Reader) error { return nil }

// MsgPing carries a nonce a peer must echo back in MsgPong.
type MsgPing struct {
	Nonce uint64
}

func (m *MsgPing) Command() string { return CmdPing }

func (m *MsgPing) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.Nonce); err != nil {
		return errors.New(errors.ERR_IO, "write ping.nonce", err)
	}
	return nil
}

func (m *MsgPing) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "ping.nonce", err)
	}
	return nil
}

// MsgPong echoes the nonce from a MsgPing.
type MsgPong struct {
	Nonce uint64
}

func (m *MsgPong) Command() string { return CmdPong }

func (m *MsgPong) Encode(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, m.Nonce); err != nil {
		return errors.New(errors.ERR_IO, "write pong.nonce", err)
	}
	return nil
}

func (m *MsgPong) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.Nonce); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "pong.nonce", err)
	}
	return nil
}
