package tx

import (
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/verrors"
)

// ResolvedOutput is what a UTXOProvider returns for an OutPoint: enough
// to validate spendability and compute fees.
type ResolvedOutput struct {
	Value      uint64
	Script     types.Script
	Height     uint32
	IsCoinbase bool
}

// UTXOProvider provides read-only access to a view of unspent outputs:
// the confirmed UTXO set, optionally overlaid with outputs produced by
// earlier transactions in the same block, or by ancestors already
// admitted to the mempool.
type UTXOProvider interface {
	ResolveOutpoint(outpoint types.Outpoint) (*ResolvedOutput, error)
}

// ValidateWithUTXOs performs full contextual validation of a
// transaction against a UTXO view: every input resolves, is spendable
// (coinbase maturity), and its pubkey hashes to the script's address
// (P2PKH); inputs' total value is >= outputs' total value. Returns
// the fee (inputs - outputs). currentHeight is the height the tx would
// be confirmed at (used for the maturity check).
func (tx *Transaction) ValidateWithUTXOs(provider UTXOProvider, currentHeight uint32) (uint64, error) {
	if err := tx.Validate(); err != nil {
		return 0, verrors.Wrap(verrors.InvalidTxStructure, err, "%v", err)
	}
	if tx.IsCoinbase() {
		return 0, nil
	}

	var totalInput uint64
	for i, in := range tx.Inputs {
		resolved, err := provider.ResolveOutpoint(in.PrevOut)
		if err != nil || resolved == nil {
			return 0, verrors.New(verrors.MissingInput, "input %d: outpoint not found", i).WithOutpoint(in.PrevOut)
		}

		if resolved.IsCoinbase {
			maturityAt := resolved.Height + uint32(config.CoinbaseMaturity)
			if currentHeight < maturityAt {
				return 0, verrors.Immature(currentHeight, maturityAt).WithOutpoint(in.PrevOut)
			}
		}

		if err := verifyP2PKH(in.PubKey, resolved.Script.Data); err != nil {
			return 0, verrors.Wrap(verrors.InvalidTxStructure, err, "input %d: %v", i, err).WithOutpoint(in.PrevOut)
		}

		if totalInput > math.MaxUint64-resolved.Value {
			return 0, verrors.New(verrors.InvalidTxStructure, "input %d: value overflow", i)
		}
		totalInput += resolved.Value
	}

	if err := tx.VerifySignatures(); err != nil {
		return 0, verrors.Wrap(verrors.InvalidTxStructure, err, "%v", err)
	}

	totalOutput, ovfErr := tx.TotalOutputValue()
	if ovfErr != nil {
		return 0, verrors.Wrap(verrors.InvalidTxStructure, ovfErr, "output overflow")
	}
	if totalInput < totalOutput {
		return 0, verrors.New(verrors.InvalidTxNegativeFee, "inputs=%d outputs=%d", totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// verifyP2PKH checks that a public key hashes to the expected address
// carried in a P2PKH script.
func verifyP2PKH(pubKey []byte, scriptData []byte) error {
	if len(scriptData) != types.AddressSize {
		return fmt.Errorf("script data length %d, want %d", len(scriptData), types.AddressSize)
	}
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}
	var expected types.Address
	copy(expected[:], scriptData)
	derived := crypto.AddressFromPubKey(pubKey)
	if expected != derived {
		return fmt.Errorf("pubkey hash mismatch: script wants %s, pubkey hashes to %s", expected, derived)
	}
	return nil
}
