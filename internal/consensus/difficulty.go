package consensus

import (
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// maxTarget is the highest (easiest) target any bits value may encode:
// 2^256 - 1, the ceiling bits_to_target saturates to.
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// big256 is 2^256, used by Work to compute 2^256 / (target+1).
var big256 = new(big.Int).Lsh(big.NewInt(1), 256)

// MaxTarget returns the easiest target any bits value may encode,
// 2^256 - 1, for callers (retargeting) that need to clamp against it.
func MaxTarget() *big.Int {
	return new(big.Int).Set(maxTarget)
}

// BitsToTarget decodes a compact-form difficulty target:
// exponent = bits>>24, mantissa = bits & 0x007FFFFF (sign bit must be
// zero), target = mantissa * 256^(exponent-3), saturating at MaxTarget.
func BitsToTarget(bits uint32) *big.Int {
	exponent := int(bits >> 24)
	mantissa := int64(bits & 0x007FFFFF)

	target := big.NewInt(mantissa)
	shift := (exponent - 3) * 8
	switch {
	case shift > 0:
		target.Lsh(target, uint(shift))
	case shift < 0:
		target.Rsh(target, uint(-shift))
	}
	if target.Cmp(maxTarget) > 0 {
		return new(big.Int).Set(maxTarget)
	}
	if target.Sign() < 0 {
		return big.NewInt(0)
	}
	return target
}

// TargetToBits encodes a 256-bit target into compact form, the inverse
// of BitsToTarget. Negative or zero targets encode as zero.
func TargetToBits(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	t := new(big.Int).Set(target)
	if t.Cmp(maxTarget) > 0 {
		t.Set(maxTarget)
	}

	// Normalize: find the byte length of t, then extract the top 3
	// bytes as mantissa with exponent = byte length.
	nBytes := (t.BitLen() + 7) / 8
	mantissa := new(big.Int).Set(t)
	shift := (nBytes - 3) * 8
	if shift > 0 {
		mantissa = new(big.Int).Rsh(mantissa, uint(shift))
	} else if shift < 0 {
		mantissa = new(big.Int).Lsh(mantissa, uint(-shift))
	}

	m := mantissa.Uint64()
	// If the top bit of the 3-byte mantissa would be set, it would be
	// read back as a sign bit; shift right one more byte and bump the
	// exponent to keep the value positive (standard compact-form rule).
	if m&0x00800000 != 0 {
		m >>= 8
		nBytes++
	}

	return uint32(nBytes)<<24 | uint32(m&0x007FFFFF)
}

// MeetsTarget reports whether hash, read as a big-endian 256-bit
// unsigned integer, is at or below the target encoded by bits.
func MeetsTarget(hash types.Hash, bits uint32) bool {
	target := BitsToTarget(bits)
	hashInt := new(big.Int).SetBytes(hash[:])
	return hashInt.Cmp(target) <= 0
}

// Work returns floor(2^256 / (target+1)), the chain-work contribution
// of a block with the given bits. Summed across a
// branch in a 256-bit accumulator to pick the best chain.
func Work(bits uint32) *big.Int {
	target := BitsToTarget(bits)
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(big256, denom)
}
