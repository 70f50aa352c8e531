// Package block defines block types, canonical serialization, and
// stateless structural validation.
package block

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/wire"
)

// Block is a header plus its transactions. txs[0] is always coinbase.
type Block struct {
	Header       *Header            `json:"header"`
	Transactions []*tx.Transaction  `json:"transactions"`
}

// NewBlock creates a new block with the given header and transactions.
func NewBlock(header *Header, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Transactions: txs,
	}
}

// Hash returns the block header hash.
func (b *Block) Hash() types.Hash {
	if b.Header == nil {
		return types.Hash{}
	}
	return b.Header.Hash()
}

// TxHashes returns the txid of every transaction in the block, in order.
func (b *Block) TxHashes() []types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return hashes
}

// SigningBytes returns the canonical encoding of the block: BlockHeader VarInt(txs.len) tx*.
func (b *Block) SigningBytes() []byte {
	buf := append([]byte(nil), b.Header.SigningBytes()...)
	buf = wire.PutVarInt(buf, uint64(len(b.Transactions)))
	for _, t := range b.Transactions {
		buf = wire.PutVarStr(buf, t.SigningBytes())
	}
	return buf
}

// Size returns the canonical-encoded size of the block in bytes, the
// quantity MAX_BLOCK_SIZE bounds.
func (b *Block) Size() int {
	return len(b.SigningBytes())
}
