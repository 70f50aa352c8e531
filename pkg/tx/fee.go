package tx

// EstimateTxFee returns the minimum fee for a transaction with the given
// number of inputs and outputs at the given fee rate (base units per byte
// of SigningBytes), before signatures are attached (signatures are
// variable-length, so this is an upper-bound estimate assuming a
// typical 64-byte Schnorr signature and 33-byte compressed pubkey).
func EstimateTxFee(numInputs, numOutputs int, feeRate uint64) uint64 {
	const overhead = 1 + 9 + 9 // is_coinbase + two varint counts (worst case)
	const perInput = 36 + 1 + 64 + 1 + 33
	const perOutput = 8 + 1 + 1 + 20 // value + scriptLen + scriptType + P2PKH addr

	size := overhead + perInput*numInputs + perOutput*numOutputs
	return uint64(size) * feeRate
}

// RequiredFee returns the exact minimum fee for a fully built
// transaction at the given fee rate (base units per byte of
// SigningBytes).
func RequiredFee(transaction *Transaction, feeRate uint64) uint64 {
	return uint64(len(transaction.SigningBytes())) * feeRate
}
