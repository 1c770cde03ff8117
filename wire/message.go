package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
)

// Message is implemented by every payload type this codec knows how to
// frame: VERSION, VERACK, PING, PONG, ADDR, GETADDR, INV, GETHEADERS,
// HEADERS and REJECT.
type Message interface {
	Command() string
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// checksum returns the first four bytes of double-SHA-256 over payload.
func checksum(payload []byte) [4]byte {
	h := doubleSHA256(payload)
	var c [4]byte
	copy(c[:], h[:4])
	return c
}

// encodeCommand renders cmd into the fixed 12-byte NUL-padded command field.
func encodeCommand(cmd string) ([CommandSize]byte, error) {
	var out [CommandSize]byte
	if len(cmd) == 0 || len(cmd) > CommandSize {
		return out, errors.New(errors.ERR_CODEC_BAD_COMMAND, "command %q has invalid length", cmd)
	}
	copy(out[:], cmd)
	return out, nil
}

// decodeCommand validates the frame's command field per spec: ASCII
// printable bytes up to the first NUL, at least one NUL present, and every
// byte after the first NUL must also be NUL.
func decodeCommand(raw [CommandSize]byte) (string, error) {
	nulAt := -1
	for i, b := range raw {
		if b == 0 {
			nulAt = i
			break
		}
		if b < 0x20 || b > 0x7e {
			return "", errors.New(errors.ERR_CODEC_BAD_COMMAND, "command byte %d not printable ASCII", i)
		}
	}
	if nulAt == -1 {
		return "", errors.New(errors.ERR_CODEC_BAD_COMMAND, "command field has no NUL terminator")
	}
	for i := nulAt; i < CommandSize; i++ {
		if raw[i] != 0 {
			return "", errors.New(errors.ERR_CODEC_BAD_COMMAND, "command byte %d after NUL is non-zero", i)
		}
	}
	return string(raw[:nulAt]), nil
}

// zeroLenAllowed is the set of commands permitted an empty payload.
var zeroLenAllowed = map[string]bool{
	CmdVerAck:  true,
	CmdGetAddr: true,
}

// WriteMessage frames msg for network net and writes it to w.
func WriteMessage(w io.Writer, net BitcoinNet, msg Message) error {
	var payload bytes.Buffer
	if err := msg.Encode(&payload); err != nil {
		return err
	}

	if payload.Len() > MaxPayloadSize {
		return errors.New(errors.ERR_CODEC_OVERSIZED, "payload %d exceeds max %d", payload.Len(), MaxPayloadSize)
	}
	if payload.Len() == 0 && !zeroLenAllowed[msg.Command()] {
		return errors.New(errors.ERR_CODEC_DISALLOWED_EMPTY, "command %q does not allow empty payload", msg.Command())
	}

	cmdField, err := encodeCommand(msg.Command())
	if err != nil {
		return err
	}

	var hdr bytes.Buffer
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(net))
	hdr.Write(cmdField[:])
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(payload.Len()))
	sum := checksum(payload.Bytes())
	hdr.Write(sum[:])

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return errors.New(errors.ERR_IO, "write frame header", err)
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return errors.New(errors.ERR_IO, "write frame payload", err)
	}
	return nil
}

// MessageHeader is the decoded fixed portion of a frame, returned by
// ReadMessageHeader so a caller can validate magic/length before reading the
// payload off the wire.
type MessageHeader struct {
	Magic    BitcoinNet
	Command  string
	Length   uint32
	Checksum [4]byte
}

// ParseFrameHeader validates a MessageHeaderSize-byte slice exactly as
// ReadMessageHeader does, without requiring an io.Reader. It is the
// primitive a streaming decoder (see the peer package's receive buffer)
// uses to inspect a header before enough bytes for the full frame have
// arrived.
func ParseFrameHeader(raw []byte, wantNet BitcoinNet) (*MessageHeader, error) {
	if len(raw) != MessageHeaderSize {
		return nil, errors.New(errors.ERR_CODEC_TRUNCATED, "frame header must be exactly %d bytes", MessageHeaderSize)
	}

	magic := BitcoinNet(binary.LittleEndian.Uint32(raw[0:4]))
	if magic != wantNet {
		return nil, errors.New(errors.ERR_CODEC_BAD_MAGIC, "magic 0x%x does not match network 0x%x", uint32(magic), uint32(wantNet))
	}

	var cmdField [CommandSize]byte
	copy(cmdField[:], raw[4:4+CommandSize])
	cmd, err := decodeCommand(cmdField)
	if err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint32(raw[4+CommandSize : 4+CommandSize+4])
	if length > MaxPayloadSize {
		return nil, errors.New(errors.ERR_CODEC_OVERSIZED, "declared length %d exceeds max %d", length, MaxPayloadSize)
	}
	if length == 0 && !zeroLenAllowed[cmd] {
		return nil, errors.New(errors.ERR_CODEC_DISALLOWED_EMPTY, "command %q does not allow empty payload", cmd)
	}

	var sum [4]byte
	copy(sum[:], raw[4+CommandSize+4:])

	return &MessageHeader{Magic: magic, Command: cmd, Length: length, Checksum: sum}, nil
}

// VerifyChecksum reports whether payload's double-SHA-256 checksum matches want.
func VerifyChecksum(payload []byte, want [4]byte) bool {
	return checksum(payload) == want
}

// ReadMessageHeader reads and validates the 24-byte frame header, checking
// magic against wantNet, command well-formedness, and the length cap — but
// not the payload checksum, which requires the payload bytes.
func ReadMessageHeader(r io.Reader, wantNet BitcoinNet) (*MessageHeader, error) {
	var raw [MessageHeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, errors.New(errors.ERR_CODEC_TRUNCATED, "frame header", err)
	}
	return ParseFrameHeader(raw[:], wantNet)
}

// ReadMessage reads a full frame (header + payload) from r, validates the
// checksum, and decodes the payload into a Message built by newMsg for the
// header's command. newMsg returns (nil, nil) for a command this codec
// doesn't know, in which case ReadMessage returns the raw payload bytes with
// a nil Message for the caller to handle as an unknown command.
func ReadMessage(r io.Reader, wantNet BitcoinNet, newMsg func(command string) Message) (Message, []byte, error) {
	hdr, err := ReadMessageHeader(r, wantNet)
	if err != nil {
		return nil, nil, err
	}

	payload := make([]byte, hdr.Length)
	if hdr.Length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, errors.New(errors.ERR_CODEC_TRUNCATED, "frame payload", err)
		}
	}

	gotSum := checksum(payload)
	if gotSum != hdr.Checksum {
		return nil, nil, errors.New(errors.ERR_CODEC_BAD_CHECKSUM, "checksum mismatch for command %q", hdr.Command)
	}

	msg := newMsg(hdr.Command)
	if msg == nil {
		return nil, payload, nil
	}
	if err := msg.Decode(bytes.NewReader(payload)); err != nil {
		return nil, nil, err
	}
	return msg, payload, nil
}

// DecodeMessagePayload decodes a fully-buffered payload into msg. Used by
// streaming decoders that have already validated the frame header and
// checksum against the complete payload slice.
func DecodeMessagePayload(msg Message, payload []byte) error {
	return msg.Decode(bytes.NewReader(payload))
}
