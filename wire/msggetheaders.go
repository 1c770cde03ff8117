package wire

import (
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// MsgGetHeaders requests a HEADERS reply starting after the first locator
// hash the receiver recognizes, stopping at HashStop (or the receiver's tip
// when HashStop is zero).
type MsgGetHeaders struct {
	Version        uint32
	BlockLocators   []chainhash.Hash
	HashStop        chainhash.Hash
}

func (m *MsgGetHeaders) Command() string { return CmdGetHeaders }

func (m *MsgGetHeaders) Encode(w io.Writer) error {
	if len(m.BlockLocators) > MaxLocatorEntries {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "locator count %d exceeds max %d", len(m.BlockLocators), MaxLocatorEntries)
	}
	if err := binary.Write(w, binary.LittleEndian, m.Version); err != nil {
		return errors.New(errors.ERR_IO, "write getheaders.version", err)
	}
	if err := WriteVarInt(w, uint64(len(m.BlockLocators))); err != nil {
		return err
	}
	for _, h := range m.BlockLocators {
		if _, err := w.Write(h[:]); err != nil {
			return errors.New(errors.ERR_IO, "write getheaders.locator", err)
		}
	}
	if _, err := w.Write(m.HashStop[:]); err != nil {
		return errors.New(errors.ERR_IO, "write getheaders.stop_hash", err)
	}
	return nil
}

func (m *MsgGetHeaders) Decode(r io.Reader) error {
	if err := binary.Read(r, binary.LittleEndian, &m.Version); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "getheaders.version", err)
	}

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxLocatorEntries {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "locator count %d exceeds max %d", count, MaxLocatorEntries)
	}

	m.BlockLocators = make([]chainhash.Hash, 0, reserveCount(count, 32))
	for i := uint64(0); i < count; i++ {
		var h chainhash.Hash
		if _, err := io.ReadFull(r, h[:]); err != nil {
			return errors.New(errors.ERR_CODEC_TRUNCATED, "getheaders.locator", err)
		}
		m.BlockLocators = append(m.BlockLocators, h)
	}

	if _, err := io.ReadFull(r, m.HashStop[:]); err != nil {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "getheaders.stop_hash", err)
	}
	return nil
}
