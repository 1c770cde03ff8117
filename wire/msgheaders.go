package wire

import (
	"io"

	"github.com/chainwatch/hcd/errors"
)

// MsgHeaders carries a batch of BlockHeaders in reply to GETHEADERS.
type MsgHeaders struct {
	Headers []*BlockHeader
}

func (m *MsgHeaders) Command() string { return CmdHeaders }

func (m *MsgHeaders) Encode(w io.Writer) error {
	if len(m.Headers) > MaxHeadersPerMsg {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "headers count %d exceeds max %d", len(m.Headers), MaxHeadersPerMsg)
	}
	if err := WriteVarInt(w, uint64(len(m.Headers))); err != nil {
		return err
	}
	for _, h := range m.Headers {
		if err := h.Serialize(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *MsgHeaders) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxHeadersPerMsg {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "headers count %d exceeds max %d", count, MaxHeadersPerMsg)
	}

	m.Headers = make([]*BlockHeader, 0, reserveCount(count, HeaderSize))
	for i := uint64(0); i < count; i++ {
		h := &BlockHeader{}
		if err := h.Deserialize(io.LimitReader(r, HeaderSize)); err != nil {
			return err
		}
		m.Headers = append(m.Headers, h)
	}
	return nil
}
