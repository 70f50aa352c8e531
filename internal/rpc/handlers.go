package rpc

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/miner"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ── Chain endpoints ─────────────────────────────────────────────────────

func (s *Server) handleChainGetInfo(_ *Request) (interface{}, *Error) {
	return &ChainInfoResult{
		ChainID: s.genesis.ChainID,
		Symbol:  s.genesis.Symbol,
		Height:  s.chain.Height(),
		TipHash: s.chain.TipHash().String(),
	}, nil
}

func (s *Server) handleChainGetStats(_ *Request) (interface{}, *Error) {
	commitment, err := utxo.Commitment(s.utxos)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("compute utxo commitment: %v", err)}
	}

	utxoCount := 0
	if err := s.utxos.ForEach(func(*utxo.UTXO) error {
		utxoCount++
		return nil
	}); err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("count utxos: %v", err)}
	}

	bits := s.chain.ExpectedBits()

	return &ChainStatsResult{
		Height:            s.chain.Height(),
		TipHash:           s.chain.TipHash().String(),
		Supply:            s.chain.Supply(),
		ExpectedBits:      bits,
		Difficulty:        difficultyFromBits(bits),
		UTXOCommitment:    commitment.String(),
		UTXOCount:         utxoCount,
		MempoolSize:       s.pool.Count(),
		MempoolMinFeeRate: s.pool.MinFeeRate(),
	}, nil
}

func (s *Server) handleChainGetBlockByHash(req *Request) (interface{}, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Hash == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "hash is required"}
	}

	hash, decErr := decodeHash(params.Hash)
	if decErr != nil {
		return nil, decErr
	}

	blk, err := s.chain.GetBlock(hash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block not found: %v", err)}
	}
	return NewBlockResult(blk), nil
}

func (s *Server) handleChainGetBlockByHeight(req *Request) (interface{}, *Error) {
	var params HeightParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	blk, err := s.chain.GetBlockByHeight(params.Height)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("block not found at height %d: %v", params.Height, err)}
	}
	return NewBlockResult(blk), nil
}

func (s *Server) handleChainGetTransaction(req *Request) (interface{}, *Error) {
	var params HashParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Hash == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "hash is required"}
	}

	txHash, decErr := decodeHash(params.Hash)
	if decErr != nil {
		return nil, decErr
	}

	// Check mempool first.
	if t := s.pool.Get(txHash); t != nil {
		return NewTxResult(t), nil
	}

	t, err := s.chain.GetTransaction(txHash)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: "transaction not found"}
	}
	return NewTxResult(t), nil
}

// ── UTXO endpoints ──────────────────────────────────────────────────────

func (s *Server) handleUTXOGet(req *Request) (interface{}, *Error) {
	var params OutpointParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.TxID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "tx_id is required"}
	}

	txIDBytes, decErr := hex.DecodeString(params.TxID)
	if decErr != nil || len(txIDBytes) != types.HashSize {
		return nil, &Error{Code: CodeInvalidParams, Message: "invalid tx_id: must be 32-byte hex"}
	}

	var op types.Outpoint
	copy(op.TxID[:], txIDBytes)
	op.Index = params.Index

	u, err := s.utxos.Get(op)
	if err != nil {
		return nil, &Error{Code: CodeNotFound, Message: fmt.Sprintf("utxo not found: %v", err)}
	}
	return u, nil
}

func (s *Server) handleUTXOGetByAddress(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}

	addr, addrErr := decodeAddress(params.Address)
	if addrErr != nil {
		return nil, addrErr
	}

	utxos, err := s.utxos.GetByAddress(addr)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("get utxos: %v", err)}
	}

	return &UTXOListResult{
		Address: params.Address,
		UTXOs:   utxos,
	}, nil
}

func (s *Server) handleUTXOGetBalance(req *Request) (interface{}, *Error) {
	var params AddressParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}

	addr, addrErr := decodeAddress(params.Address)
	if addrErr != nil {
		return nil, addrErr
	}

	utxoList, err := s.utxos.GetByAddress(addr)
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("get utxos: %v", err)}
	}

	result := classifyUTXOs(utxoList, s.chain.Height())
	result.Address = params.Address
	return result, nil
}

// ── Transaction endpoints ───────────────────────────────────────────────

func (s *Server) handleTxSubmit(req *Request) (interface{}, *Error) {
	var params TxSubmitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction is required"}
	}

	_, err := s.pool.Add(params.Transaction)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("rejected: %v", err)}
	}

	if s.p2pNode != nil {
		if err := s.p2pNode.BroadcastTx(params.Transaction); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to broadcast transaction")
		}
	}

	return &TxSubmitResult{
		TxHash: params.Transaction.Hash().String(),
	}, nil
}

func (s *Server) handleTxValidate(req *Request) (interface{}, *Error) {
	var params TxSubmitParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction is required"}
	}

	adapter := miner.NewUTXOAdapter(s.utxos)
	fee, err := params.Transaction.ValidateWithUTXOs(adapter, s.chain.Height())
	if err != nil {
		return &TxValidateResult{
			Valid: false,
			Error: err.Error(),
		}, nil
	}

	return &TxValidateResult{
		Valid: true,
		Fee:   fee,
	}, nil
}

// ── Mempool endpoints ───────────────────────────────────────────────────

func (s *Server) handleMempoolGetInfo(_ *Request) (interface{}, *Error) {
	return &MempoolInfoResult{
		Count:      s.pool.Count(),
		Bytes:      s.pool.Bytes(),
		MinFeeRate: s.pool.MinFeeRate(),
	}, nil
}

func (s *Server) handleMempoolGetContent(_ *Request) (interface{}, *Error) {
	hashes := s.pool.Hashes()
	hexHashes := make([]string, len(hashes))
	for i, h := range hashes {
		hexHashes[i] = h.String()
	}
	return &MempoolContentResult{
		Hashes: hexHashes,
	}, nil
}

// ── Network endpoints ───────────────────────────────────────────────────

func (s *Server) handleNetGetPeerInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &PeerInfoResult{Count: 0, Peers: []PeerInfo{}}, nil
	}

	peers := s.p2pNode.RankedPeers()
	infos := make([]PeerInfo, len(peers))
	for i, p := range peers {
		info := PeerInfo{
			ID:            p.ID.String(),
			ConnectedAt:   p.ConnectedAt.UTC().Format("2006-01-02T15:04:05Z"),
			BestHeight:    p.BestHeight,
			HandshakeDone: p.HandshakeDone,
		}
		if s.banManager != nil {
			info.OffenseScore = s.banManager.Score(p.ID)
		}
		infos[i] = info
	}

	return &PeerInfoResult{
		Count: len(infos),
		Peers: infos,
	}, nil
}

func (s *Server) handleNetGetNodeInfo(_ *Request) (interface{}, *Error) {
	if s.p2pNode == nil {
		return &NodeInfoResult{ID: "", Addrs: []string{}}, nil
	}

	return &NodeInfoResult{
		ID:    s.p2pNode.ID().String(),
		Addrs: s.p2pNode.Addrs(),
	}, nil
}

func (s *Server) handleNetGetBanList(_ *Request) (interface{}, *Error) {
	if s.banManager == nil {
		return &BanListResult{Count: 0, Bans: []BanEntry{}}, nil
	}

	records := s.banManager.BanList()
	entries := make([]BanEntry, len(records))
	for i, r := range records {
		entries[i] = BanEntry{
			ID:        r.ID,
			Reason:    r.Reason,
			Score:     r.Score,
			BannedAt:  r.BannedAt,
			ExpiresAt: r.ExpiresAt,
		}
	}

	return &BanListResult{
		Count: len(entries),
		Bans:  entries,
	}, nil
}

// ── Mining endpoints ─────────────────────────────────────────────────

func (s *Server) handleMiningGetBlockTemplate(req *Request) (interface{}, *Error) {
	var params MiningGetBlockTemplateParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.CoinbaseAddress == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "coinbase_address is required"}
	}

	coinbaseAddr, addrErr := decodeAddress(params.CoinbaseAddress)
	if addrErr != nil {
		return nil, addrErr
	}

	m := miner.New(s.chain, s.pow, s.pool, s.genesis.Protocol.Consensus, coinbaseAddr)
	tmpl, err := m.BuildTemplate(uint64(time.Now().Unix()))
	if err != nil {
		return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("build template: %v", err)}
	}

	target := consensus.BitsToTarget(tmpl.Block.Header.Bits)

	return &MiningBlockTemplateResult{
		Block:    tmpl.Block,
		Target:   fmt.Sprintf("%064x", target),
		Bits:     tmpl.Block.Header.Bits,
		Height:   tmpl.Height,
		Fees:     tmpl.Fees,
		PrevHash: tmpl.Block.Header.PrevHash.String(),
	}, nil
}

func (s *Server) handleMiningSubmitBlock(req *Request) (interface{}, *Error) {
	var params MiningSubmitBlockParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Block == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "block is required"}
	}

	if err := s.chain.AcceptBlock(params.Block); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("block rejected: %v", err)}
	}
	s.pool.ReconcileNewBlock(params.Block.Transactions, nil)

	if s.p2pNode != nil {
		if err := s.p2pNode.BroadcastBlock(params.Block); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to broadcast block")
		}
	}

	return &MiningSubmitBlockResult{
		BlockHash: params.Block.Hash().String(),
		Height:    s.chain.Height(),
	}, nil
}

// handleGenerateTo mines n blocks directly to address, synchronously. It
// exists for regtest/test setups where waiting on real proof-of-work
// timing isn't useful.
func (s *Server) handleGenerateTo(req *Request) (interface{}, *Error) {
	var params GenerateToParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}
	if params.Blocks == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "blocks must be greater than 0"}
	}

	addr, addrErr := decodeAddress(params.Address)
	if addrErr != nil {
		return nil, addrErr
	}

	m := miner.New(s.chain, s.pow, s.pool, s.genesis.Protocol.Consensus, addr)

	hashes := make([]string, 0, params.Blocks)
	for i := uint32(0); i < params.Blocks; i++ {
		tmpl, err := m.BuildTemplate(uint64(time.Now().Unix()))
		if err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("build template: %v", err)}
		}
		if err := m.Mine(context.Background(), tmpl, 0); err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("mine block %d: %v", i, err)}
		}
		if err := s.chain.AcceptBlock(tmpl.Block); err != nil {
			return nil, &Error{Code: CodeInternalError, Message: fmt.Sprintf("accept block %d: %v", i, err)}
		}
		s.pool.ReconcileNewBlock(tmpl.Block.Transactions, nil)
		hashes = append(hashes, tmpl.Block.Hash().String())
	}

	return &GenerateToResult{
		Hashes: hashes,
		Height: s.chain.Height(),
	}, nil
}

// ── Helpers ─────────────────────────────────────────────────────────────

// classifyUTXOs splits utxos into spendable and immature-coinbase totals.
func classifyUTXOs(utxos []*utxo.UTXO, chainHeight uint32) *BalanceResult {
	var spendable, immature uint64
	for _, u := range utxos {
		if u.Coinbase && uint64(chainHeight-u.Height) < config.CoinbaseMaturity {
			immature += u.Value
			continue
		}
		spendable += u.Value
	}
	return &BalanceResult{
		Balance:   spendable + immature,
		Spendable: spendable,
		Immature:  immature,
	}
}

// difficultyFromBits converts compact bits into a display-friendly
// numeric difficulty (max target / current target), matching the
// convention used by chain_getStats.
func difficultyFromBits(bits uint32) uint64 {
	target := consensus.BitsToTarget(bits)
	if target.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Div(consensus.MaxTarget(), target)
	if !diff.IsUint64() {
		return ^uint64(0)
	}
	return diff.Uint64()
}

func decodeHash(s string) (types.Hash, *Error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != types.HashSize {
		return types.Hash{}, &Error{Code: CodeInvalidParams, Message: "invalid hash: must be 32-byte hex"}
	}
	var h types.Hash
	copy(h[:], b)
	return h, nil
}

func decodeAddress(s string) (types.Address, *Error) {
	addr, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &Error{Code: CodeInvalidParams, Message: "invalid address: " + err.Error()}
	}
	return addr, nil
}
