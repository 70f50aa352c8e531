package utxo

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ApplyTx verifies and applies a single transaction against set at
// height. For a non-coinbase transaction
// every prevout must be present and spendable (coinbase maturity),
// and sum(inputs) must be >= sum(outputs). On success it removes the
// spent UTXOs, returning their prior values so the caller can build an
// undo log, then inserts one UTXO per output. On failure set is left
// unmodified.
func ApplyTx(set Set, transaction *tx.Transaction, height uint32) ([]UTXO, error) {
	txHash := transaction.Hash()
	var spent []UTXO

	if !transaction.IsCoinbase() {
		var totalIn, totalOut uint64
		for _, in := range transaction.Inputs {
			u, err := set.Get(in.PrevOut)
			if err != nil {
				return nil, fmt.Errorf("apply tx: input %s not found: %w", in.PrevOut, err)
			}
			if u.Coinbase && height < u.Height+uint32(config.CoinbaseMaturity) {
				return nil, fmt.Errorf("apply tx: input %s is an immature coinbase (matures at %d, height %d)",
					in.PrevOut, u.Height+uint32(config.CoinbaseMaturity), height)
			}
			totalIn += u.Value
			spent = append(spent, *u)
		}
		for _, out := range transaction.Outputs {
			totalOut += out.Value
		}
		if totalIn < totalOut {
			return nil, fmt.Errorf("apply tx: inputs %d < outputs %d", totalIn, totalOut)
		}
		for _, u := range spent {
			if err := set.Delete(u.Outpoint); err != nil {
				return nil, fmt.Errorf("apply tx: spend %s: %w", u.Outpoint, err)
			}
		}
	}

	for i, out := range transaction.Outputs {
		u := &UTXO{
			Outpoint: types.Outpoint{TxID: txHash, Index: uint32(i)},
			Value:    out.Value,
			Script:   out.Script,
			Height:   height,
			Coinbase: transaction.IsCoinbase(),
		}
		if err := set.Put(u); err != nil {
			return nil, fmt.Errorf("apply tx: create output %s:%d: %w", txHash, i, err)
		}
	}
	return spent, nil
}

// UndoTx reverts ApplyTx: deletes the outputs it created and restores
// the UTXOs it spent.
func UndoTx(set Set, transaction *tx.Transaction, spent []UTXO) error {
	txHash := transaction.Hash()
	for i := range transaction.Outputs {
		op := types.Outpoint{TxID: txHash, Index: uint32(i)}
		if err := set.Delete(op); err != nil {
			return fmt.Errorf("undo tx: delete output %s: %w", op, err)
		}
	}
	for i := range spent {
		if err := set.Put(&spent[i]); err != nil {
			return fmt.Errorf("undo tx: restore %s: %w", spent[i].Outpoint, err)
		}
	}
	return nil
}

// BlockUndo carries the per-transaction spent-UTXO lists needed to
// reverse an ApplyBlock call.
type BlockUndo struct {
	SpentPerTx [][]UTXO
}

// ApplyBlock applies every transaction in txs at height in order
//. On a mid-block failure, already-applied
// transactions are unwound before the error is returned, leaving set
// untouched overall.
func ApplyBlock(set Set, txs []*tx.Transaction, height uint32) (*BlockUndo, error) {
	spentPerTx := make([][]UTXO, len(txs))
	for i, t := range txs {
		spent, err := ApplyTx(set, t, height)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				UndoTx(set, txs[j], spentPerTx[j])
			}
			return nil, fmt.Errorf("apply block: tx %d: %w", i, err)
		}
		spentPerTx[i] = spent
	}
	return &BlockUndo{SpentPerTx: spentPerTx}, nil
}

// UndoBlock reverts ApplyBlock in reverse transaction order
//.
func UndoBlock(set Set, txs []*tx.Transaction, undo *BlockUndo) error {
	for i := len(txs) - 1; i >= 0; i-- {
		if err := UndoTx(set, txs[i], undo.SpentPerTx[i]); err != nil {
			return fmt.Errorf("undo block: tx %d: %w", i, err)
		}
	}
	return nil
}
