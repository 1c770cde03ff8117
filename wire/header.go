package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
	"github.com/libsv/go-bt/v2/chainhash"
)

// HeaderSize is the fixed wire size of a BlockHeader: four 4-byte scalars
// plus three opaque blobs (32 + 20 + 32).
const HeaderSize = 4 + 4 + 4 + 4 + 32 + 20 + 32

// BlockHeader is the daemon's fixed 100-byte header record. PrevBlock,
// MinerAddress and PowHash are opaque byte blobs carried as-is, without
// endian swapping.
type BlockHeader struct {
	Version      int32
	Time         uint32
	Bits         uint32
	Nonce        uint32
	PrevBlock    chainhash.Hash
	MinerAddress [20]byte
	PowHash      [32]byte
}

// Serialize writes the header's canonical 100-byte wire form. Field order
// is version, hashPrevBlock, minerAddress, time, bits, nonce, hashRandomX —
// matching the reference layout, not struct field order.
func (h *BlockHeader) Serialize(w io.Writer) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevBlock[:])
	copy(buf[36:56], h.MinerAddress[:])
	binary.LittleEndian.PutUint32(buf[56:60], h.Time)
	binary.LittleEndian.PutUint32(buf[60:64], h.Bits)
	binary.LittleEndian.PutUint32(buf[64:68], h.Nonce)
	copy(buf[68:100], h.PowHash[:])

	_, err := w.Write(buf[:])
	if err != nil {
		return errors.New(errors.ERR_IO, "write header", err)
	}
	return nil
}

// Deserialize reads exactly HeaderSize bytes from r into h, rejecting any
// input whose length is not exactly 100 bytes.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	var buf [HeaderSize]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil || n != HeaderSize {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "header must be exactly %d bytes", HeaderSize)
	}

	// Reject trailing bytes: a correctly-sized reader has nothing left.
	var extra [1]byte
	if m, _ := r.Read(extra[:]); m != 0 {
		return errors.New(errors.ERR_CODEC_TRUNCATED, "header input longer than %d bytes", HeaderSize)
	}

	h.Version = int32(binary.LittleEndian.Uint32(buf[0:4]))
	copy(h.PrevBlock[:], buf[4:36])
	copy(h.MinerAddress[:], buf[36:56])
	h.Time = binary.LittleEndian.Uint32(buf[56:60])
	h.Bits = binary.LittleEndian.Uint32(buf[60:64])
	h.Nonce = binary.LittleEndian.Uint32(buf[64:68])
	copy(h.PowHash[:], buf[68:100])
	return nil
}

// Bytes returns the 100-byte canonical serialization.
func (h *BlockHeader) Bytes() []byte {
	var b bytes.Buffer
	b.Grow(HeaderSize)
	_ = h.Serialize(&b)
	return b.Bytes()
}

// Hash returns the header's identity: the double-SHA-256 of its 100-byte
// serialization.
func (h *BlockHeader) Hash() chainhash.Hash {
	return chainhash.DoubleHashH(h.Bytes())
}

// DeserializeHeader builds a BlockHeader from exactly HeaderSize bytes.
func DeserializeHeader(b []byte) (*BlockHeader, error) {
	if len(b) != HeaderSize {
		return nil, errors.New(errors.ERR_CODEC_TRUNCATED, "header blob is %d bytes, want %d", len(b), HeaderSize)
	}
	h := &BlockHeader{}
	if err := h.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return h, nil
}
