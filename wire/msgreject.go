package wire

import (
	"io"

	"github.com/chainwatch/hcd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// MsgReject is a supplemented message (not in the distilled handshake set,
// restored from the original protocol's message vocabulary): a peer sends it
// purely informationally when it fatally rejects a frame, naming the
// rejected command, a short code and a human-readable reason. Receiving one
// never by itself incurs a misbehavior penalty.
type MsgReject struct {
	Message string // the rejected command, ≤ CommandSize bytes
	Code    byte
	Reason  string // ≤ MaxUserAgentLen bytes
	Hash    chainhash.Hash
}

func (m *MsgReject) Command() string { return CmdReject }

func (m *MsgReject) Encode(w io.Writer) error {
	if len(m.Message) > CommandSize {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "reject.message length %d exceeds %d", len(m.Message), CommandSize)
	}
	if len(m.Reason) > MaxUserAgentLen {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "reject.reason length %d exceeds %d", len(m.Reason), MaxUserAgentLen)
	}

	if err := WriteVarInt(w, uint64(len(m.Message))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, m.Message); err != nil {
		return errors.New(errors.ERR_IO, "write reject.message", err)
	}
	if _, err := w.Write([]byte{m.Code}); err != nil {
		return errors.New(errors.ERR_IO, "write reject.code", err)
	}
	if err := WriteVarInt(w, uint64(len(m.Reason))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, m.Reason); err != nil {
		return errors.New(errors.ERR_IO, "write reject.reason", err)
	}
	if _, err := w.Write(m.Hash[:]); err != nil {
		return errors.New(errors.ERR_IO, "write reject.hash", err)
	}
	return nil
}

func (m *MsgReject) Decode(r io.Reader) error {
	msgLen, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if msgLen > CommandSize {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "reject.message length %d exceeds %d", msgLen, CommandSize)
	}
	msgBuf := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msgBuf); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "reject.message", err)
	}
	m.Message = string(msgBuf)

	var code [1]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "reject.code", err)
	}
	m.Code = code[0]

	reasonLen, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if reasonLen > MaxUserAgentLen {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "reject.reason length %d exceeds %d", reasonLen, MaxUserAgentLen)
	}
	reasonBuf := make([]byte, reasonLen)
	if _, err := io.ReadFull(r, reasonBuf); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "reject.reason", err)
	}
	m.Reason = string(reasonBuf)

	if _, err := io.ReadFull(r, m.Hash[:]); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "reject.hash", err)
	}
	return nil
}
