package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// ConsensusPoW identifies the (only) supported consensus engine.
const ConsensusPoW = "pow"

// Denomination constants. 1 coin = 10^8 base units ("satoshi"), matching
// the integer-only amount model: all on-chain values are base units.
const (
	Decimals  = 8
	Coin      = 100_000_000 // 10^8 base units per coin
	MilliCoin = 100_000     // 10^5
)

// MaxMoney is the maximum representable supply in base units: 21,000,000
// coins. Every per-tx and per-block output sum is bounded by this.
const MaxMoney uint64 = 21_000_000 * Coin

// CoinbaseMaturity is the number of blocks a coinbase output must wait
// before it can be spent. Prevents reorgs from orphaning already-spent
// coinbase outputs.
const CoinbaseMaturity uint64 = 100

// HalvingInterval is the number of blocks between block-reward halvings.
const HalvingInterval uint64 = 210_000

// InitialBlockReward is the coinbase subsidy before any halving.
const InitialBlockReward uint64 = 50 * Coin

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize      = 1_000_000 // 1 MB max block size (header + all tx signing bytes)
	MaxBlockTxs       = 10_000    // Max transactions per block (including coinbase)
	MaxTxInputs       = 2_500     // Max inputs per transaction
	MaxTxOutputs      = 2_500     // Max outputs per transaction
	MaxScriptData     = 65_536    // 64 KB max script data per output
	MaxTimestampDrift = 2 * 60 * 60 // Max seconds a block timestamp may exceed network-adjusted time
	MTPWindow         = 11        // Number of ancestor blocks used for median-time-past
	RetargetInterval  = 2016      // Blocks between difficulty retargets
	TargetBlockTime   = 600       // Target seconds between blocks (10 min)
	MinFeeRate        = 1         // Minimum relay fee rate, base units per signing byte
)

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"` // Native coin symbol (e.g., "KGX")

	// Genesis block
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`
	Bits      uint32 `json:"bits"` // Initial compact-form difficulty target

	// Initial allocations (address -> balance in base units). Spent via
	// the genesis coinbase output, like any other coinbase.
	Alloc map[string]uint64 `json:"alloc"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// ForkSchedule defines block heights at which protocol upgrades activate.
// A zero value means the fork is not scheduled.
type ForkSchedule struct{}

// IsActive returns true if a fork at forkHeight has activated at currentHeight.
// Returns false if forkHeight is 0 (not scheduled).
func (f *ForkSchedule) IsActive(forkHeight, currentHeight uint64) bool {
	return forkHeight > 0 && currentHeight >= forkHeight
}

// ProtocolConfig holds consensus-critical rules. All nodes MUST agree on
// these values.
type ProtocolConfig struct {
	Consensus ConsensusRules `json:"consensus"`
	Forks     ForkSchedule   `json:"forks,omitempty"`
}

// ConsensusRules defines how blocks are produced and validated.
type ConsensusRules struct {
	Type string `json:"type"` // always "pow"

	BlockTime         int    `json:"block_time"` // Target seconds between blocks
	InitialDifficulty uint32 `json:"initial_difficulty"` // Compact-form starting bits
	RetargetInterval  int    `json:"retarget_interval"`  // Blocks between adjustments

	BlockReward     uint64 `json:"block_reward"`               // Initial base units per block, before halving
	MaxSupply       uint64 `json:"max_supply"`                 // Total coin cap in base units
	HalvingInterval uint64 `json:"halving_interval"`           // Blocks between reward halvings
	MinFeeRate      uint64 `json:"min_fee_rate"`                // Minimum fee rate (base units per byte)
}

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "klingnet-mainnet-1",
		ChainName: "Klingnet Mainnet",
		Symbol:    "KGX",
		Timestamp: 1770734103, // 2026-02-10
		ExtraData: "Klingnet Genesis",
		Bits:      0x1d00ffff,
		Alloc:     map[string]uint64{},
		Protocol: ProtocolConfig{
			Consensus: ConsensusRules{
				Type:              ConsensusPoW,
				BlockTime:         TargetBlockTime,
				InitialDifficulty: 0x1d00ffff,
				RetargetInterval:  RetargetInterval,
				BlockReward:       InitialBlockReward,
				MaxSupply:         MaxMoney,
				HalvingInterval:   HalvingInterval,
				MinFeeRate:        MinFeeRate,
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration: same
// economics, much lower starting difficulty so blocks are cheap to mine.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "klingnet-testnet-1"
	g.ChainName = "Klingnet Testnet"
	g.ExtraData = "Klingnet Testnet Genesis"
	g.Bits = 0x1e00ffff
	g.Protocol.Consensus.InitialDifficulty = 0x1e00ffff
	g.Protocol.Consensus.MinFeeRate = 1
	return g
}

// RegtestGenesis returns the regtest genesis configuration: minimal
// difficulty (mines instantly on a single core) and no retargeting
// pressure, for local development and tests.
func RegtestGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "klingnet-regtest-1"
	g.ChainName = "Klingnet Regtest"
	g.ExtraData = "Klingnet Regtest Genesis"
	g.Bits = 0x207fffff
	g.Protocol.Consensus.InitialDifficulty = 0x207fffff
	g.Protocol.Consensus.MinFeeRate = 0
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	case Regtest:
		return RegtestGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Protocol.Consensus.Type != ConsensusPoW {
		return fmt.Errorf("unknown consensus type: %s", g.Protocol.Consensus.Type)
	}
	if g.Protocol.Consensus.InitialDifficulty == 0 {
		return fmt.Errorf("pow requires initial_difficulty")
	}
	if g.Protocol.Consensus.BlockTime <= 0 {
		return fmt.Errorf("block_time must be positive")
	}
	if g.Protocol.Consensus.BlockReward == 0 {
		return fmt.Errorf("block_reward must be positive")
	}
	if g.Bits == 0 {
		return fmt.Errorf("bits must be set")
	}

	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		totalAlloc += v
	}
	if g.Protocol.Consensus.MaxSupply > 0 && totalAlloc > g.Protocol.Consensus.MaxSupply {
		return fmt.Errorf("genesis allocations (%d) exceed max_supply (%d)",
			totalAlloc, g.Protocol.Consensus.MaxSupply)
	}

	return nil
}

// Hash returns the double-SHA256 hash of the genesis configuration. Used
// to identify the chain and detect genesis mismatches between peers.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.DoubleHash(data), nil
}
