package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Validation errors.
var (
	ErrNoOutputs          = errors.New("transaction has no outputs")
	ErrNoInputs           = errors.New("non-coinbase transaction has no inputs")
	ErrDuplicateInput     = errors.New("duplicate input")
	ErrOutputOverflow     = errors.New("output values overflow")
	ErrOutputRange        = errors.New("output value out of range")
	ErrMissingPubKey      = errors.New("input missing public key")
	ErrMissingSig         = errors.New("input missing signature")
	ErrInvalidSig         = errors.New("invalid signature")
	ErrTooManyInputs      = errors.New("too many inputs")
	ErrTooManyOutputs     = errors.New("too many outputs")
	ErrScriptDataTooLarge = errors.New("script data too large")
	ErrBadCoinbaseInput   = errors.New("coinbase input malformed")
)

// Validate checks stateless transaction structure and rules. It does NOT check UTXO existence — that requires the UTXO
// set and lives in ValidateWithUTXOs.
func (tx *Transaction) Validate() error {
	if len(tx.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(tx.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(tx.Inputs), config.MaxTxInputs)
	}
	if len(tx.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(tx.Outputs), config.MaxTxOutputs)
	}

	isCoinbase := tx.IsCoinbase()
	if !isCoinbase {
		if len(tx.Inputs) == 0 {
			return ErrNoInputs
		}
		// No two inputs may share a prevout (intra-tx double spend).
		seen := make(map[types.Outpoint]bool, len(tx.Inputs))
		for i, in := range tx.Inputs {
			if in.PrevOut.IsCoinbase() {
				return fmt.Errorf("input %d: %w: marker prevout in non-coinbase tx", i, ErrBadCoinbaseInput)
			}
			if seen[in.PrevOut] {
				return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
			}
			seen[in.PrevOut] = true
			if len(in.PubKey) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
			}
			if len(in.Signature) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingSig)
			}
		}
	} else if len(tx.Inputs) != 1 || !tx.Inputs[0].PrevOut.IsCoinbase() {
		return ErrBadCoinbaseInput
	}

	var totalOutput uint64
	for i, out := range tx.Outputs {
		if out.Value < 1 || out.Value > config.MaxMoney {
			return fmt.Errorf("output %d: %w: value %d", i, ErrOutputRange, out.Value)
		}
		if len(out.Script.Data) > config.MaxScriptData {
			return fmt.Errorf("output %d: %w: %d bytes, max %d", i, ErrScriptDataTooLarge, len(out.Script.Data), config.MaxScriptData)
		}
		if totalOutput > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value
	}
	if totalOutput > config.MaxMoney {
		return fmt.Errorf("output %w: total %d exceeds MAX_MONEY", ErrOutputRange, totalOutput)
	}

	return nil
}

// VerifySignatures checks that all non-coinbase input signatures are
// valid Schnorr signatures over the transaction's sighash.
func (tx *Transaction) VerifySignatures() error {
	if tx.IsCoinbase() {
		return nil
	}
	hash := tx.Sighash()
	for i, in := range tx.Inputs {
		if !crypto.VerifySignature(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
