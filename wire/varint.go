package wire

import (
	"encoding/binary"
	"io"

	"github.com/chainwatch/hcd/errors"
)

// WriteVarInt writes x using the canonical 1/3/5/9-byte Bitcoin varint
// encoding: values below 0xfd fit in one byte; 0xfd/0xfe/0xff prefix a
// 2/4/8-byte little-endian value respectively, always using the smallest
// encoding that can hold x.
func WriteVarInt(w io.Writer, x uint64) error {
	var buf [9]byte

	switch {
	case x < 0xfd:
		buf[0] = byte(x)
		_, err := w.Write(buf[:1])
		return err
	case x <= 0xffff:
		buf[0] = 0xfd
		binary.LittleEndian.PutUint16(buf[1:3], uint16(x))
		_, err := w.Write(buf[:3])
		return err
	case x <= 0xffffffff:
		buf[0] = 0xfe
		binary.LittleEndian.PutUint32(buf[1:5], uint32(x))
		_, err := w.Write(buf[:5])
		return err
	default:
		buf[0] = 0xff
		binary.LittleEndian.PutUint64(buf[1:9], x)
		_, err := w.Write(buf[:9])
		return err
	}
}

// ReadVarInt reads a Bitcoin varint, rejecting any non-canonical encoding (a
// prefix byte whose following value could have fit in a shorter form) and
// any decoded value exceeding MaxVarIntValue.
func ReadVarInt(r io.Reader) (uint64, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return 0, errors.New(errors.ERR_CODEC_TRUNCATED, "varint prefix", err)
	}

	var val uint64
	switch prefix[0] {
	case 0xfd:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, errors.New(errors.ERR_CODEC_TRUNCATED, "varint body", err)
		}
		val = uint64(binary.LittleEndian.Uint16(b[:]))
		if val < 0xfd {
			return 0, errors.New(errors.ERR_CODEC_BAD_VARINT, "non-canonical 3-byte varint")
		}
	case 0xfe:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, errors.New(errors.ERR_CODEC_TRUNCATED, "varint body", err)
		}
		val = uint64(binary.LittleEndian.Uint32(b[:]))
		if val <= 0xffff {
			return 0, errors.New(errors.ERR_CODEC_BAD_VARINT, "non-canonical 5-byte varint")
		}
	case 0xff:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, errors.New(errors.ERR_CODEC_TRUNCATED, "varint body", err)
		}
		val = binary.LittleEndian.Uint64(b[:])
		if val <= 0xffffffff {
			return 0, errors.New(errors.ERR_CODEC_BAD_VARINT, "non-canonical 9-byte varint")
		}
	default:
		val = uint64(prefix[0])
	}

	if val > MaxVarIntValue {
		return 0, errors.New(errors.ERR_CODEC_BAD_VARINT, "varint %d exceeds MAX_SIZE", val)
	}

	return val, nil
}

// VarIntSize returns the number of bytes WriteVarInt would emit for x.
func VarIntSize(x uint64) int {
	switch {
	case x < 0xfd:
		return 1
	case x <= 0xffff:
		return 3
	case x <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// reserveCount clamps a caller's hint for how many elements of elemSize bytes
// to pre-allocate, so an untrusted count never drives a single huge
// allocation: growth beyond reserveBatchCap happens incrementally by the
// caller appending in a loop instead.
func reserveCount(count uint64, elemSize int) int {
	if elemSize <= 0 {
		elemSize = 1
	}
	maxElems := uint64(reserveBatchCap / elemSize)
	if count > maxElems {
		return int(maxElems)
	}
	return int(count)
}
