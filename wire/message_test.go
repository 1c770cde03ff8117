package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

const testNet BitcoinNet = 0xd9b4bef9

func TestWriteReadMessageRoundTrip(t *testing.T) {
	msg := &MsgPing{Nonce: 0xdeadbeef}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testNet, msg))

	got, _, err := ReadMessage(&buf, testNet, MakeEmptyMessage)
	require.NoError(t, err)
	require.IsType(t, &MsgPing{}, got)
	require.Equal(t, msg.Nonce, got.(*MsgPing).Nonce)
}

func TestReadMessageRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testNet, &MsgVerAck{}))

	_, _, err := ReadMessage(&buf, testNet+1, MakeEmptyMessage)
	require.Error(t, err)
}

func TestReadMessageRejectsBadChecksum(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testNet, &MsgPing{Nonce: 1}))

	raw := buf.Bytes()
	raw[len(raw)-1] ^= 0xff // flip a payload byte without updating the checksum

	_, _, err := ReadMessage(bytes.NewReader(raw), testNet, MakeEmptyMessage)
	require.Error(t, err)
}

func TestWriteMessageRejectsDisallowedEmptyPayload(t *testing.T) {
	// PING requires a payload; an empty encode should be rejected.
	var buf bytes.Buffer
	err := WriteMessage(&buf, testNet, &emptyPing{})
	require.Error(t, err)
}

// emptyPing reports the ping command but never writes a payload, to
// exercise the zero-length rejection path.
type emptyPing struct{}

func (emptyPing) Command() string         { return CmdPing }
func (emptyPing) Encode(w io.Writer) error { return nil }
func (emptyPing) Decode(r io.Reader) error { return nil }

func TestVerAckAllowsEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, testNet, &MsgVerAck{}))

	got, _, err := ReadMessage(&buf, testNet, MakeEmptyMessage)
	require.NoError(t, err)
	require.IsType(t, &MsgVerAck{}, got)
}

func TestDecodeCommandRejectsMissingNUL(t *testing.T) {
	raw := [CommandSize]byte{}
	for i := range raw {
		raw[i] = 'a'
	}
	_, err := decodeCommand(raw)
	require.Error(t, err)
}

func TestDecodeCommandRejectsTrailingGarbage(t *testing.T) {
	raw := [CommandSize]byte{}
	copy(raw[:], "ping")
	raw[CommandSize-1] = 'x'
	_, err := decodeCommand(raw)
	require.Error(t, err)
}
