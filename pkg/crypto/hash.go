// Package crypto provides cryptographic primitives for Klingnet.
package crypto

import (
	"crypto/sha256"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Sha256 computes a single SHA-256 hash of the input data.
func Sha256(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleHash computes dsha256(x) = sha256(sha256(x)), the hash used for
// every consensus-critical digest (txid, block hash, merkle nodes).
func DoubleHash(data []byte) types.Hash {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// AddressFromPubKey derives an address from a compressed public key.
// Address = dsha256(compressed_pubkey)[:20], mirroring Bitcoin's
// hash160-style pubkey-to-address derivation closely enough for this
// chain's single-hash-family design.
func AddressFromPubKey(pubKey []byte) types.Address {
	h := DoubleHash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes with dsha256. Used
// for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return DoubleHash(buf[:])
}
