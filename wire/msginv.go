package wire

import (
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// InvType identifies what an inventory entry refers to.
type InvType uint32

const (
	InvTypeError InvType = iota
	InvTypeBlock
)

// InvVect is one inventory entry: a type tag plus a hash.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

// MsgInv announces objects the sender has, by hash, without sending their
// bodies.
type MsgInv struct {
	InvList []InvVect
}

func (m *MsgInv) Command() string { return CmdInv }

func (m *MsgInv) Encode(w io.Writer) error {
	if len(m.InvList) > MaxInvPerMsg {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "inv count %d exceeds max %d", len(m.InvList), MaxInvPerMsg)
	}
	if err := WriteVarInt(w, uint64(len(m.InvList))); err != nil {
		return err
	}
	for _, iv := range m.InvList {
		if err := binary.Write(w, binary.LittleEndian, uint32(iv.Type)); err != nil {
			return errors.New(errors.ERR_IO, "write inv.type", err)
		}
		if _, err := w.Write(iv.Hash[:]); err != nil {
			return errors.New(errors.ERR_IO, "write inv.hash", err)
		}
	}
	return nil
}

func (m *MsgInv) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxInvPerMsg {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "inv count %d exceeds max %d", count, MaxInvPerMsg)
	}

	m.InvList = make([]InvVect, 0, reserveCount(count, 36))
	for i := uint64(0); i < count; i++ {
		var typ uint32
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return errors.New(errors.ERR_CODEC_TRUNCATED, "inv.type", err)
		}
		var h chainhash.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return errors.New(errors.ERR_CODEC_TRUNCATED, "inv.hash", err)
		}
		m.InvList = append(m.InvList, InvVect{Type: InvType(typ), Hash: h})
	}
	return nil
}
