package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/rosctl/internal/protocol"
)

// Upper bounds (exclusive) of each length encoding class.
const (
	MaxLen1 uint32 = 0x80
	MaxLen2 uint32 = 0x4000
	MaxLen3 uint32 = 0x200000
	MaxLen4 uint32 = 0x10000000

	lenMarker5 byte = 0xF0
)

var ErrInvalidLengthPrefix = errors.New("frame: invalid length prefix")

// EncodeLength returns the variable-width prefix for a word of n bytes.
func EncodeLength(n uint32) []byte {
	return AppendLength(make([]byte, 0, encodedLen(n)), n)
}

func AppendLength(dst []byte, n uint32) []byte {
	switch {
	case n < MaxLen1:
		return append(dst, byte(n))
	case n < MaxLen2:
		v := n | 0x8000
		return append(dst, byte(v>>8), byte(v))
	case n < MaxLen3:
		v := n | 0xC00000
		return append(dst, byte(v>>16), byte(v>>8), byte(v))
	case n < MaxLen4:
		return binary.BigEndian.AppendUint32(dst, n|0xE0000000)
	default:
		dst = append(dst, lenMarker5)
		return binary.BigEndian.AppendUint32(dst, n)
	}
}

// encodedLen reports how many prefix bytes EncodeLength(n) produces.
func encodedLen(n uint32) int {
	switch {
	case n < MaxLen1:
		return 1
	case n < MaxLen2:
		return 2
	case n < MaxLen3:
		return 3
	case n < MaxLen4:
		return 4
	default:
		return 5
	}
}

// DecodeLength reads one length prefix from r. I/O errors are returned as-is
// (io.EOF only when no prefix byte was read); an unknown leading bit pattern is
// a *protocol.FatalError since the stream cannot be resynchronized.
func DecodeLength(r io.ByteReader) (uint32, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b&0x80 == 0x00:
		return uint32(b), nil
	case b&0xC0 == 0x80:
		return readTail(r, uint32(b&^0xC0), 1)
	case b&0xE0 == 0xC0:
		return readTail(r, uint32(b&^0xE0), 2)
	case b&0xF0 == 0xE0:
		return readTail(r, uint32(b&^0xF0), 3)
	case b&0xF8 == lenMarker5:
		return readTail(r, 0, 4)
	default:
		return 0, &protocol.FatalError{
			Reason: fmt.Sprintf("length prefix 0x%02x", b),
			Err:    ErrInvalidLengthPrefix,
		}
	}
}

func readTail(r io.ByteReader, v uint32, n int) (uint32, error) {
	for i := 0; i < n; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		v = v<<8 | uint32(c)
	}
	return v, nil
}
