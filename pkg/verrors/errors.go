// Package verrors implements the exhaustive error taxonomy for
// consensus-relevant failures: every one is reported as a typed Error
// with a Kind, a human message, and optional height/txid context, so
// that callers (chain, mempool, RPC) can branch on the Kind via
// errors.As rather than string-matching.
package verrors

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Kind enumerates the exhaustive error taxonomy.
type Kind int

const (
	_ Kind = iota
	MalformedEncoding
	MalformedRange
	InvalidBlockSize
	InvalidBlockPow
	InvalidBlockMerkle
	InvalidBlockCoinbase
	InvalidBlockTimestamp
	InvalidBlockDifficulty
	InvalidBlockReward
	InvalidTxStructure
	InvalidTxNegativeFee
	InvalidTxDoubleSpendInTx
	InvalidTxOutputRange
	MissingInput
	ImmatureCoinbase
	DoubleSpend
	UnknownParent
	MempoolFull
	FeeTooLow
	Conflict
	ReorgAborted
	Corrupted
)

// String names the error kind for logging.
func (k Kind) String() string {
	switch k {
	case MalformedEncoding:
		return "Malformed.Encoding"
	case MalformedRange:
		return "Malformed.Range"
	case InvalidBlockSize:
		return "InvalidBlock.Size"
	case InvalidBlockPow:
		return "InvalidBlock.Pow"
	case InvalidBlockMerkle:
		return "InvalidBlock.Merkle"
	case InvalidBlockCoinbase:
		return "InvalidBlock.Coinbase"
	case InvalidBlockTimestamp:
		return "InvalidBlock.Timestamp"
	case InvalidBlockDifficulty:
		return "InvalidBlock.Difficulty"
	case InvalidBlockReward:
		return "InvalidBlock.Reward"
	case InvalidTxStructure:
		return "InvalidTx.Structure"
	case InvalidTxNegativeFee:
		return "InvalidTx.NegativeFee"
	case InvalidTxDoubleSpendInTx:
		return "InvalidTx.DoubleSpendInTx"
	case InvalidTxOutputRange:
		return "InvalidTx.OutputRange"
	case MissingInput:
		return "MissingInput"
	case ImmatureCoinbase:
		return "ImmatureCoinbase"
	case DoubleSpend:
		return "DoubleSpend"
	case UnknownParent:
		return "UnknownParent"
	case MempoolFull:
		return "MempoolFull"
	case FeeTooLow:
		return "FeeTooLow"
	case Conflict:
		return "Conflict"
	case ReorgAborted:
		return "ReorgAborted"
	case Corrupted:
		return "Corrupted"
	default:
		return "Unknown"
	}
}

// Error is the single typed error carried through validator, chain,
// and mempool return paths.
type Error struct {
	Kind       Kind
	Message    string
	Height     *uint32
	TxID       *types.Hash
	Outpoint   *types.Outpoint
	Cause      error
	MaturityAt uint32 // populated for ImmatureCoinbase
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Height != nil {
		s += fmt.Sprintf(" (height=%d)", *e.Height)
	}
	if e.TxID != nil {
		s += fmt.Sprintf(" (txid=%s)", e.TxID)
	}
	if e.Outpoint != nil {
		s += fmt.Sprintf(" (outpoint=%s)", e.Outpoint)
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithHeight attaches height context and returns the receiver for chaining.
func (e *Error) WithHeight(h uint32) *Error {
	e.Height = &h
	return e
}

// WithTxID attaches txid context and returns the receiver for chaining.
func (e *Error) WithTxID(id types.Hash) *Error {
	e.TxID = &id
	return e
}

// WithOutpoint attaches outpoint context and returns the receiver for chaining.
func (e *Error) WithOutpoint(o types.Outpoint) *Error {
	e.Outpoint = &o
	return e
}

// Immature builds the ImmatureCoinbase{height, maturity_at} error.
func Immature(height, maturityAt uint32) *Error {
	return &Error{
		Kind:       ImmatureCoinbase,
		Message:    fmt.Sprintf("coinbase immature until height %d", maturityAt),
		Height:     &height,
		MaturityAt: maturityAt,
	}
}
