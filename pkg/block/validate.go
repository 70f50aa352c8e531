package block

import (
	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/verrors"
)

// StatelessCheck runs every check on a block that can be decided
// without consulting the chain tip or the UTXO set. It does NOT verify
// proof-of-work against the retarget schedule, tx signatures, or UTXO
// spendability — those are contextual checks that live in
// internal/consensus.
func (b *Block) StatelessCheck() error {
	if b.Header == nil {
		return verrors.New(verrors.MalformedEncoding, "block has nil header")
	}
	if b.Header.Timestamp == 0 {
		return verrors.New(verrors.MalformedRange, "block timestamp is zero")
	}
	if len(b.Transactions) == 0 {
		return verrors.New(verrors.InvalidBlockCoinbase, "block has no transactions")
	}

	// Size limits.
	if size := b.Size(); size > config.MaxBlockSize {
		return verrors.New(verrors.InvalidBlockSize, "%d bytes, max %d", size, config.MaxBlockSize)
	}
	if len(b.Transactions) > config.MaxBlockTxs {
		return verrors.New(verrors.InvalidBlockSize, "%d txs, max %d", len(b.Transactions), config.MaxBlockTxs)
	}

	// First tx is coinbase, no other tx is.
	if !b.Transactions[0].IsCoinbase() {
		return verrors.New(verrors.InvalidBlockCoinbase, "first transaction is not coinbase")
	}
	for i, t := range b.Transactions[1:] {
		if t.IsCoinbase() {
			return verrors.New(verrors.InvalidBlockCoinbase, "tx %d: second coinbase in block", i+1)
		}
	}

	// No duplicate txid within the block.
	txHashes := b.TxHashes()
	seen := make(map[types.Hash]bool, len(txHashes))
	for i, h := range txHashes {
		if seen[h] {
			return verrors.New(verrors.InvalidBlockCoinbase, "tx %d: duplicate txid %s", i, h).WithTxID(h)
		}
		seen[h] = true
	}

	// Merkle root matches computed root over txids.
	expectedRoot := ComputeMerkleRoot(txHashes)
	if b.Header.MerkleRoot != expectedRoot {
		return verrors.New(verrors.InvalidBlockMerkle, "header=%s computed=%s", b.Header.MerkleRoot, expectedRoot)
	}

	// Proof-of-work is checked by the caller (internal/consensus), which
	// owns meets_target/bits_to_target — kept out of this package so
	// pkg/block has no dependency on big-integer math.

	// Per-tx structural rules.
	for i, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return verrors.Wrap(verrors.InvalidTxStructure, err, "tx %d: %v", i, err).WithTxID(txHashes[i])
		}
	}

	return nil
}
