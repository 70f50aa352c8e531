// Package wire implements the canonical byte encoding shared by every
// consensus-critical type (Tx, BlockHeader, Block): little-endian fixed
// width integers, Bitcoin-style VarInt lengths, and length-prefixed byte
// strings. The format is bit-exact and must not vary by platform.
package wire

import (
	"encoding/binary"
	"fmt"
)

// PutVarInt appends n encoded as a VarInt to buf and returns the result.
//
//	n <  0xFD                      -> 1 byte
//	n <= 0xFFFF                    -> 0xFD + u16LE
//	n <= 0xFFFFFFFF                -> 0xFE + u32LE
//	else                           -> 0xFF + u64LE
func PutVarInt(buf []byte, n uint64) []byte {
	switch {
	case n < 0xFD:
		return append(buf, byte(n))
	case n <= 0xFFFF:
		buf = append(buf, 0xFD)
		return binary.LittleEndian.AppendUint16(buf, uint16(n))
	case n <= 0xFFFFFFFF:
		buf = append(buf, 0xFE)
		return binary.LittleEndian.AppendUint32(buf, uint32(n))
	default:
		buf = append(buf, 0xFF)
		return binary.LittleEndian.AppendUint64(buf, n)
	}
}

// VarInt reads a VarInt from buf, returning the value and the number of
// bytes consumed. Fails when buf is truncated mid-field.
func VarInt(buf []byte) (uint64, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("wire: truncated varint")
	}
	switch prefix := buf[0]; {
	case prefix < 0xFD:
		return uint64(prefix), 1, nil
	case prefix == 0xFD:
		if len(buf) < 3 {
			return 0, 0, fmt.Errorf("wire: truncated varint (u16)")
		}
		return uint64(binary.LittleEndian.Uint16(buf[1:3])), 3, nil
	case prefix == 0xFE:
		if len(buf) < 5 {
			return 0, 0, fmt.Errorf("wire: truncated varint (u32)")
		}
		return uint64(binary.LittleEndian.Uint32(buf[1:5])), 5, nil
	default:
		if len(buf) < 9 {
			return 0, 0, fmt.Errorf("wire: truncated varint (u64)")
		}
		return binary.LittleEndian.Uint64(buf[1:9]), 9, nil
	}
}

// PutUint32 appends a fixed-width little-endian uint32 to buf.
func PutUint32(buf []byte, n uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, n)
}

// Uint32 reads a fixed-width little-endian uint32, returning the value
// and the number of bytes consumed (always 4).
func Uint32(buf []byte) (uint32, int, error) {
	if len(buf) < 4 {
		return 0, 0, fmt.Errorf("wire: truncated u32")
	}
	return binary.LittleEndian.Uint32(buf[:4]), 4, nil
}

// PutUint64 appends a fixed-width little-endian uint64 to buf.
func PutUint64(buf []byte, n uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, n)
}

// Uint64 reads a fixed-width little-endian uint64, returning the value
// and the number of bytes consumed (always 8).
func Uint64(buf []byte) (uint64, int, error) {
	if len(buf) < 8 {
		return 0, 0, fmt.Errorf("wire: truncated u64")
	}
	return binary.LittleEndian.Uint64(buf[:8]), 8, nil
}

// PutVarStr appends a VarInt length prefix followed by the raw bytes of s.
func PutVarStr(buf []byte, s []byte) []byte {
	buf = PutVarInt(buf, uint64(len(s)))
	return append(buf, s...)
}

// VarStr reads a length-prefixed byte string, returning the slice (backed
// by buf, not copied) and the number of bytes consumed.
func VarStr(buf []byte) ([]byte, int, error) {
	n, consumed, err := VarInt(buf)
	if err != nil {
		return nil, 0, err
	}
	rest := buf[consumed:]
	if uint64(len(rest)) < n {
		return nil, 0, fmt.Errorf("wire: truncated string: want %d bytes, have %d", n, len(rest))
	}
	return rest[:n], consumed + int(n), nil
}
