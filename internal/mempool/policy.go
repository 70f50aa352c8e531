package mempool

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// DefaultMaxTxSize is the maximum relayed transaction size in signing
// bytes. It is deliberately tighter than config.MaxBlockSize: a miner
// only needs one outsized transaction to fill a block alone, so relay
// policy caps a single transaction well below the block ceiling.
const DefaultMaxTxSize = 100_000

// DefaultDustLimit is the smallest output value, in base units, a node
// will relay. Below this a P2PKH output costs more in eventual spend
// fees than it is worth, so carrying it around the mempool/UTXO set is
// pure overhead for no economic benefit to anyone.
const DefaultDustLimit = 546

// Policy defines transaction acceptance rules. These are node-local
// relay preferences, stricter than but never looser than consensus:
// a transaction a node's Policy rejects can still be mined by someone
// else and confirmed, since ChainState only enforces consensus rules.
type Policy struct {
	MaxTxSize int    // Maximum transaction size in signing bytes.
	DustLimit uint64 // Minimum relayed output value, in base units.
}

// DefaultPolicy returns a policy with sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTxSize: DefaultMaxTxSize,
		DustLimit: DefaultDustLimit,
	}
}

// Check validates a transaction against policy rules.
// This is separate from consensus validation - policy rules can vary per node.
// Also enforces consensus limits as defense-in-depth (reject early before full validation).
func (p *Policy) Check(transaction *tx.Transaction) error {
	size := len(transaction.SigningBytes())
	if p.MaxTxSize > 0 && size > p.MaxTxSize {
		return fmt.Errorf("transaction too large: %d bytes, max %d", size, p.MaxTxSize)
	}
	if len(transaction.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("too many inputs: %d, max %d", len(transaction.Inputs), config.MaxTxInputs)
	}
	if len(transaction.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("too many outputs: %d, max %d", len(transaction.Outputs), config.MaxTxOutputs)
	}
	for i, out := range transaction.Outputs {
		if len(out.Script.Data) > config.MaxScriptData {
			return fmt.Errorf("output %d script data too large: %d bytes, max %d", i, len(out.Script.Data), config.MaxScriptData)
		}
		if !transaction.IsCoinbase() && p.DustLimit > 0 && out.Value < p.DustLimit {
			return fmt.Errorf("output %d is dust: %d base units, min %d", i, out.Value, p.DustLimit)
		}
	}
	return nil
}
