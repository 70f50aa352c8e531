package block

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ComputeMerkleRoot calculates the merkle root of transaction hashes.
//
// Algorithm:
//   - 0 hashes: returns zero hash
//   - 1 hash: returns that hash
//   - Otherwise: pairwise hash, duplicating the last element if odd count,
//     then recurse on the resulting layer until one hash remains.
func ComputeMerkleRoot(txHashes []types.Hash) types.Hash {
	if len(txHashes) == 0 {
		return types.Hash{}
	}
	if len(txHashes) == 1 {
		return txHashes[0]
	}

	// Work on a copy so we don't mutate the caller's slice.
	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	for len(level) > 1 {
		// If odd, duplicate the last element.
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i], level[i+1])
		}
		level = next
	}

	return level[0]
}

// MerkleProof is the sibling-hash path from a leaf to the root, plus
// which side each sibling sits on, so a verifier can recompute the root
// without holding every transaction.
type MerkleProof struct {
	Index    int          // leaf index the proof is for
	Siblings []types.Hash // bottom-up sibling hashes
	OnRight  []bool       // OnRight[i] true if Siblings[i] is the right operand
}

// BuildMerkleProof constructs the inclusion proof for txHashes[index].
func BuildMerkleProof(txHashes []types.Hash, index int) (MerkleProof, error) {
	if index < 0 || index >= len(txHashes) {
		return MerkleProof{}, fmt.Errorf("block: index %d out of range [0, %d)", index, len(txHashes))
	}
	level := make([]types.Hash, len(txHashes))
	copy(level, txHashes)

	proof := MerkleProof{Index: index}
	pos := index
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		var sibling types.Hash
		var onRight bool
		if pos%2 == 0 {
			sibling = level[pos+1]
			onRight = true
		} else {
			sibling = level[pos-1]
			onRight = false
		}
		proof.Siblings = append(proof.Siblings, sibling)
		proof.OnRight = append(proof.OnRight, onRight)

		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = crypto.HashConcat(level[i], level[i+1])
		}
		level = next
		pos /= 2
	}
	return proof, nil
}

// VerifyMerkleProof recomputes the root from leaf using proof and
// reports whether it matches root.
func VerifyMerkleProof(leaf types.Hash, proof MerkleProof, root types.Hash) bool {
	h := leaf
	for i, sibling := range proof.Siblings {
		if proof.OnRight[i] {
			h = crypto.HashConcat(h, sibling)
		} else {
			h = crypto.HashConcat(sibling, h)
		}
	}
	return h == root
}
