// Package miner builds and seals block templates.
package miner

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/Klingon-tech/klingnet-chain/pkg/wire"
)

// ChainState is the read-only chain surface a template builder needs.
type ChainState interface {
	Height() uint32
	TipHash() types.Hash
	ExpectedBits() uint32
	MedianTimePast() uint64
	Supply() uint64
}

// MempoolSelector selects transactions for block inclusion.
type MempoolSelector interface {
	SelectForBlock(maxBytes int) []*tx.Transaction
	GetFee(txHash types.Hash) uint64
}

// Template is a block awaiting proof-of-work.
type Template struct {
	Block  *block.Block
	Height uint32
	Fees   uint64
}

// Miner builds block templates and seals them with proof-of-work.
type Miner struct {
	chain        ChainState
	pow          *consensus.PoW
	pool         MempoolSelector
	rules        config.ConsensusRules
	coinbaseAddr types.Address
	maxBlockSize int
}

// New creates a block producer backed by chain for tip/difficulty state,
// pow for sealing, and pool for transaction selection.
func New(chain ChainState, pow *consensus.PoW, pool MempoolSelector, rules config.ConsensusRules, coinbaseAddr types.Address) *Miner {
	return &Miner{
		chain:        chain,
		pow:          pow,
		pool:         pool,
		rules:        rules,
		coinbaseAddr: coinbaseAddr,
		maxBlockSize: config.MaxBlockSize,
	}
}

// BuildTemplate selects mempool transactions, computes the coinbase
// value (subsidy plus fees), and assembles an unsealed block with
// header.bits and header.timestamp set per the retargeting schedule
// and median-time-past rule.
func (m *Miner) BuildTemplate(now uint64) (*Template, error) {
	height := m.chain.Height() + 1

	var selected []*tx.Transaction
	var totalFees uint64
	if m.pool != nil {
		budget := m.maxBlockSize - coinbaseSizeEstimate
		if budget < 0 {
			budget = 0
		}
		selected = m.pool.SelectForBlock(budget)
		for _, t := range selected {
			totalFees += m.pool.GetFee(t.Hash())
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		hi, hj := selected[i].Hash(), selected[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	subsidy := consensus.Subsidy(height, m.rules)
	coinbaseValue := subsidy + totalFees

	coinbase := BuildCoinbase(m.coinbaseAddr, coinbaseValue, height)
	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}
	merkle := block.ComputeMerkleRoot(txHashes)

	timestamp := now
	if mtp := m.chain.MedianTimePast(); timestamp <= mtp {
		timestamp = mtp + 1
	}

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   m.chain.TipHash(),
		MerkleRoot: merkle,
		Timestamp:  timestamp,
		Bits:       m.chain.ExpectedBits(),
		Nonce:      0,
	}

	klog.Miner().Debug().
		Uint32("height", height).
		Int("txs", len(txs)).
		Uint64("fees", totalFees).
		Uint64("coinbase_value", coinbaseValue).
		Msg("template built")

	return &Template{
		Block:  block.NewBlock(header, txs),
		Height: height,
		Fees:   totalFees,
	}, nil
}

// Mine seals tmpl's block with proof-of-work. Each full sweep of the
// nonce space is one "iteration"; if it exhausts without meeting the
// target, the header timestamp is bumped forward (staying within the
// network's allowed future drift) and the search restarts at nonce 0.
// maxIters bounds the number of sweeps attempted; 0 means unbounded.
// Mine returns early if ctx is cancelled.
func (m *Miner) Mine(ctx context.Context, tmpl *Template, maxIters uint64) error {
	blk := tmpl.Block
	for iter := uint64(0); maxIters == 0 || iter < maxIters; iter++ {
		err := m.pow.SealWithCancel(ctx, blk)
		if err == nil {
			klog.Miner().Info().
				Uint32("height", tmpl.Height).
				Str("hash", blk.Hash().String()[:16]+"...").
				Uint32("nonce", blk.Header.Nonce).
				Msg("block sealed")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != consensus.ErrNonceExhausted {
			return err
		}

		maxTimestamp := uint64(time.Now().Unix()) + config.MaxTimestampDrift
		if blk.Header.Timestamp+1 > maxTimestamp {
			return fmt.Errorf("mining exhausted: timestamp drift limit reached")
		}
		blk.Header.Timestamp++
	}
	return fmt.Errorf("mining exhausted after %d iterations without meeting target", maxIters)
}

// coinbaseSizeEstimate is a conservative upper bound on a coinbase
// transaction's encoded size, reserved from the block byte budget
// before selecting mempool transactions.
const coinbaseSizeEstimate = 256

// BuildCoinbase creates the single coinbase transaction for a block at
// height, paying value to addr. The input carries the canonical
// coinbase marker prevout and a BIP-34-style length-prefixed height in
// place of a signature, guaranteeing a unique hash per height even
// when value and addr repeat.
func BuildCoinbase(addr types.Address, value uint64, height uint32) *tx.Transaction {
	return &tx.Transaction{
		Inputs: []tx.Input{{
			PrevOut:   tx.CoinbasePrevOut(),
			Signature: encodeHeight(height),
		}},
		Outputs: []tx.Output{{
			Value: value,
			Script: types.Script{
				Type: types.ScriptTypeP2PKH,
				Data: addr[:],
			},
		}},
	}
}

// encodeHeight serializes height the way a push-data opcode would:
// a single length byte followed by its minimal big-endian encoding.
func encodeHeight(height uint32) []byte {
	raw := wire.PutUint32(nil, height)
	i := 0
	for i < len(raw)-1 && raw[i] == 0 {
		i++
	}
	raw = raw[i:]
	return append([]byte{byte(len(raw))}, raw...)
}
