package block

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/wire"
)

// CurrentVersion is the header version written by this implementation.
const CurrentVersion = 1

// HeaderSize is the canonical encoded size of a Header in bytes:
// version(4) + prev(1+32) + merkle(1+32) + timestamp(8) + bits(4) + nonce(4).
// Raw 32-byte hashes are carried through VarStr, each adding a 1-byte
// length prefix since 32 < 0xFD.
const HeaderSize = 4 + 1 + types.HashSize + 1 + types.HashSize + 8 + 4 + 4

// Header is a block header: everything needed to verify proof-of-work
// and link a block into the chain. Height and cumulative work are
// derived chain-index state, not part of the header itself.
type Header struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint64     `json:"timestamp"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
}

// Hash computes the block hash: double-SHA256 of the canonical header bytes.
func (h *Header) Hash() types.Hash {
	return crypto.DoubleHash(h.SigningBytes())
}

// SigningBytes returns the canonical encoding of the header: u32LE(version) VarStr(prev) VarStr(merkle) u64LE(ts) u32LE(bits)
// u32LE(nonce).
func (h *Header) SigningBytes() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = wire.PutUint32(buf, h.Version)
	buf = wire.PutVarStr(buf, h.PrevHash[:])
	buf = wire.PutVarStr(buf, h.MerkleRoot[:])
	buf = wire.PutUint64(buf, h.Timestamp)
	buf = wire.PutUint32(buf, h.Bits)
	buf = wire.PutUint32(buf, h.Nonce)
	return buf
}

// DecodeHeader parses a header from its canonical encoding, returning
// the header and the number of bytes consumed.
func DecodeHeader(buf []byte) (*Header, int, error) {
	var off int
	version, n, err := wire.Uint32(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	prev, n, err := wire.VarStr(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	var prevHash types.Hash
	if err := prevHash.SetBytes(prev); err != nil {
		return nil, 0, err
	}

	merkle, n, err := wire.VarStr(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n
	var merkleRoot types.Hash
	if err := merkleRoot.SetBytes(merkle); err != nil {
		return nil, 0, err
	}

	ts, n, err := wire.Uint64(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	bits, n, err := wire.Uint32(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	nonce, n, err := wire.Uint32(buf[off:])
	if err != nil {
		return nil, 0, err
	}
	off += n

	return &Header{
		Version:    version,
		PrevHash:   prevHash,
		MerkleRoot: merkleRoot,
		Timestamp:  ts,
		Bits:       bits,
		Nonce:      nonce,
	}, off, nil
}
