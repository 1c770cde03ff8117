package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleHeader() *BlockHeader {
	h := &BlockHeader{
		Version: 1,
		Time:    1700000000,
		Bits:    0x1d00ffff,
		Nonce:   12345,
	}
	for i := range h.PrevBlock {
		h.PrevBlock[i] = byte(i)
	}
	for i := range h.MinerAddress {
		h.MinerAddress[i] = byte(0xa0 + i)
	}
	for i := range h.PowHash {
		h.PowHash[i] = byte(0xc0 + i)
	}
	return h
}

func TestHeaderRoundTrip(t *testing.T) {
	h := sampleHeader()

	var buf bytes.Buffer
	require.NoError(t, h.Serialize(&buf))
	require.Equal(t, HeaderSize, buf.Len())

	var got BlockHeader
	require.NoError(t, got.Deserialize(&buf))
	require.Equal(t, *h, got)
}

func TestHeaderHashDeterministic(t *testing.T) {
	h := sampleHeader()
	h1 := h.Hash()
	h2 := h.Hash()
	require.Equal(t, h1, h2)
}

func TestGenesisHeaderHashMatchesReferenceVector(t *testing.T) {
	h := &BlockHeader{
		Version: 1,
		Time:    1296688602,
		Bits:    0x207fffff,
		Nonce:   2,
	}
	require.Equal(t, "0233b37bb6942bfb471cfd7fb95caab0e0f7b19cc8767da65fbef59eb49e45bd", h.Hash().String())
}

func TestHeaderRejectsWrongLength(t *testing.T) {
	_, err := DeserializeHeader(make([]byte, HeaderSize-1))
	require.Error(t, err)

	_, err = DeserializeHeader(make([]byte, HeaderSize+1))
	require.Error(t, err)

	_, err = DeserializeHeader(make([]byte, HeaderSize))
	require.NoError(t, err)
}
