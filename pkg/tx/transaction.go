// Package tx defines transaction types, canonical serialization, and
// validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/wire"
)

// Transaction represents a blockchain transaction. IsCoinbase is
// derived, not stored: a tx is a coinbase iff it has exactly one input
// whose PrevOut is the coinbase marker (zero txid, index = 0xFFFFFFFF).
type Transaction struct {
	Inputs  []Input  `json:"inputs"`
	Outputs []Output `json:"outputs"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature string         `json:"signature"`
	PubKey    string         `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	return json.Marshal(inputJSON{
		PrevOut:   in.PrevOut,
		Signature: hex.EncodeToString(in.Signature),
		PubKey:    hex.EncodeToString(in.PubKey),
	})
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	sig, err := hex.DecodeString(j.Signature)
	if err != nil {
		return fmt.Errorf("input signature: %w", err)
	}
	in.Signature = sig
	pub, err := hex.DecodeString(j.PubKey)
	if err != nil {
		return fmt.Errorf("input pubkey: %w", err)
	}
	in.PubKey = pub
	return nil
}

// CoinbasePrevOut is the canonical marker prevout for a coinbase input
//.
func CoinbasePrevOut() types.Outpoint {
	return types.Outpoint{TxID: types.Hash{}, Index: types.CoinbaseIndex}
}

// Output defines a new UTXO. Value must be in [1, MAX_MONEY]; Script is
// a P2PKH address payload.
type Output struct {
	Value  uint64       `json:"value"`
	Script types.Script `json:"script"`
}

// IsCoinbase reports whether tx is a coinbase transaction: exactly one
// input and that input carries the coinbase marker prevout.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PrevOut.IsCoinbase()
}

// Hash computes the transaction ID: dsha256 of the canonical
// serialization of the transaction with no hash field of its own.
func (tx *Transaction) Hash() types.Hash {
	return crypto.DoubleHash(tx.SigningBytes())
}

// SigningBytes returns the canonical byte representation used both for
// signing and for hashing (txid):
//
//	[u8 is_coinbase] VarInt(vin.len) vin* VarInt(vout.len) vout*
//	TxIn  = OutPoint VarStr(sig) VarStr(pubkey)
//	OutPoint = VarStr(txid_raw_32_bytes) u32LE(index)
//	TxOut = u64LE(value) VarStr(script_bytes)
//
// where script_bytes = u8(script.Type) || script.Data. The signature
// field IS included: this chain signs the sighash computed with an
// empty Signature on every input (see BuildSighash), so SigningBytes
// over the fully-signed tx still yields a stable, unique txid covering
// the whole canonical encoding.
func (tx *Transaction) SigningBytes() []byte {
	var buf []byte

	isCoinbase := byte(0)
	if tx.IsCoinbase() {
		isCoinbase = 1
	}
	buf = append(buf, isCoinbase)

	buf = wire.PutVarInt(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = wire.PutVarStr(buf, in.PrevOut.TxID[:])
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		buf = wire.PutVarStr(buf, in.Signature)
		buf = wire.PutVarStr(buf, in.PubKey)
	}

	buf = wire.PutVarInt(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		scriptBytes := append([]byte{byte(out.Script.Type)}, out.Script.Data...)
		buf = wire.PutVarStr(buf, scriptBytes)
	}

	return buf
}

// SighashBytes returns the byte sequence that is actually signed: the
// canonical encoding with every input's Signature field cleared, so
// that signing does not depend on signatures not yet produced.
func (tx *Transaction) SighashBytes() []byte {
	clone := &Transaction{Outputs: tx.Outputs}
	clone.Inputs = make([]Input, len(tx.Inputs))
	for i, in := range tx.Inputs {
		clone.Inputs[i] = Input{PrevOut: in.PrevOut, PubKey: in.PubKey}
	}
	return clone.SigningBytes()
}

// Sighash is the dsha256 digest signed by each input's Schnorr signature.
func (tx *Transaction) Sighash() types.Hash {
	return crypto.DoubleHash(tx.SighashBytes())
}

// Deserialize parses the canonical byte encoding produced by
// SigningBytes back into a Transaction.
func Deserialize(buf []byte) (*Transaction, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("tx: empty buffer")
	}
	off := 1 // is_coinbase byte is derived on read, not stored separately

	nIn, n, err := wire.VarInt(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("tx: input count: %w", err)
	}
	off += n

	t := &Transaction{}
	for i := uint64(0); i < nIn; i++ {
		txid, n, err := wire.VarStr(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("tx: input %d txid: %w", i, err)
		}
		off += n
		if len(txid) != types.HashSize {
			return nil, fmt.Errorf("tx: input %d txid is %d bytes, want %d", i, len(txid), types.HashSize)
		}
		if len(buf) < off+4 {
			return nil, fmt.Errorf("tx: input %d: truncated index", i)
		}
		index := binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4

		sig, n, err := wire.VarStr(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("tx: input %d sig: %w", i, err)
		}
		off += n
		pub, n, err := wire.VarStr(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("tx: input %d pubkey: %w", i, err)
		}
		off += n

		var prevOut types.Outpoint
		copy(prevOut.TxID[:], txid)
		prevOut.Index = index
		t.Inputs = append(t.Inputs, Input{
			PrevOut:   prevOut,
			Signature: append([]byte(nil), sig...),
			PubKey:    append([]byte(nil), pub...),
		})
	}

	nOut, n, err := wire.VarInt(buf[off:])
	if err != nil {
		return nil, fmt.Errorf("tx: output count: %w", err)
	}
	off += n

	for i := uint64(0); i < nOut; i++ {
		if len(buf) < off+8 {
			return nil, fmt.Errorf("tx: output %d: truncated value", i)
		}
		value := binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8

		scriptBytes, n, err := wire.VarStr(buf[off:])
		if err != nil {
			return nil, fmt.Errorf("tx: output %d script: %w", i, err)
		}
		off += n
		if len(scriptBytes) < 1 {
			return nil, fmt.Errorf("tx: output %d: empty script", i)
		}
		script := types.Script{
			Type: types.ScriptType(scriptBytes[0]),
			Data: append([]byte(nil), scriptBytes[1:]...),
		}
		t.Outputs = append(t.Outputs, Output{Value: value, Script: script})
	}

	return t, nil
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (tx *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range tx.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}
