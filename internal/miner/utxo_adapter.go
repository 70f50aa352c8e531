package miner

import (
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// UTXOAdapter bridges a confirmed utxo.Set to tx.UTXOProvider for
// standalone transaction validation (e.g. RPC-submitted transactions
// outside the mempool, which resolves ancestors of its own).
type UTXOAdapter struct {
	set utxo.Set
}

// NewUTXOAdapter creates a UTXOProvider from a utxo.Set.
func NewUTXOAdapter(set utxo.Set) *UTXOAdapter {
	return &UTXOAdapter{set: set}
}

// ResolveOutpoint implements tx.UTXOProvider.
func (a *UTXOAdapter) ResolveOutpoint(outpoint types.Outpoint) (*tx.ResolvedOutput, error) {
	u, err := a.set.Get(outpoint)
	if err != nil {
		return nil, err
	}
	return &tx.ResolvedOutput{
		Value:      u.Value,
		Script:     u.Script,
		Height:     u.Height,
		IsCoinbase: u.Coinbase,
	}, nil
}
