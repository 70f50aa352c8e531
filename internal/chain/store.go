package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Key prefixes and state keys for the block store.
var (
	prefixBlock  = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight = []byte("h/") // h/<height(4)> -> hash(32), active chain only
	prefixTx     = []byte("x/") // x/<txhash(32)> -> height(4) + blockHash(32)
	prefixUndo   = []byte("d/") // d/<hash(32)> -> undo data JSON
	prefixMeta   = []byte("m/") // m/<hash(32)> -> height(4), every indexed block

	keyTipHash         = []byte("s/tip")
	keyHeight          = []byte("s/height")
	keySupply          = []byte("s/supply")
	keyCumWork         = []byte("s/cumwork")
	keyReorgCheckpoint = []byte("s/reorg")
)

// BlockStore persists blocks and chain metadata to a storage.DB. Height
// is not a header field (the header carries only proof-of-work
// inputs), so every height-keyed write takes height as an explicit
// parameter supplied by the caller's ChainEntry.
type BlockStore struct {
	db storage.DB
}

// NewBlockStore creates a block store backed by the given database.
func NewBlockStore(db storage.DB) *BlockStore {
	return &BlockStore{db: db}
}

// StoreBlock stores a block by its hash and records its height in the
// meta index, without publishing it to the active-chain height index.
// Use this for blocks that are indexed but not (yet, or no longer) on
// the active chain — side-chain blocks and blocks awaiting reorg
// evaluation.
func (bs *BlockStore) StoreBlock(blk *block.Block, height uint32) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	hash := blk.Hash()
	if err := bs.db.Put(blockKey(hash), data); err != nil {
		return fmt.Errorf("block put: %w", err)
	}
	if err := bs.db.Put(metaKey(hash), heightBytes(height)); err != nil {
		return fmt.Errorf("meta put: %w", err)
	}
	return nil
}

// PutBlock stores a block and publishes it to the active chain: the
// height index and the per-transaction location index both point at
// it. Call this only for a block that is statusConnected.
func (bs *BlockStore) PutBlock(blk *block.Block, height uint32) error {
	if err := bs.StoreBlock(blk, height); err != nil {
		return err
	}

	hash := blk.Hash()
	if err := bs.db.Put(heightKey(height), hash[:]); err != nil {
		return fmt.Errorf("height index put: %w", err)
	}

	for _, t := range blk.Transactions {
		txHash := t.Hash()
		val := make([]byte, 4+types.HashSize)
		binary.BigEndian.PutUint32(val[:4], height)
		copy(val[4:], hash[:])
		if err := bs.db.Put(txKey(txHash), val); err != nil {
			return fmt.Errorf("tx index put %s: %w", txHash, err)
		}
	}

	return nil
}

// UnpublishHeight removes a height's entry from the active-chain height
// index without deleting the block itself (used when a block is
// disconnected during a reorg but stays indexed as a side chain).
func (bs *BlockStore) UnpublishHeight(height uint32) error {
	return bs.db.Delete(heightKey(height))
}

// GetBlock retrieves a block by its hash.
func (bs *BlockStore) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := bs.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// GetHeight returns the indexed height of a block by hash, regardless
// of whether it is on the active chain.
func (bs *BlockStore) GetHeight(hash types.Hash) (uint32, error) {
	data, err := bs.db.Get(metaKey(hash))
	if err != nil {
		return 0, fmt.Errorf("meta get: %w", err)
	}
	if len(data) != 4 {
		return 0, fmt.Errorf("corrupt meta entry: got %d bytes, want 4", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}

// GetBlockByHeight retrieves the active-chain block at the given height.
func (bs *BlockStore) GetBlockByHeight(height uint32) (*block.Block, error) {
	hashBytes, err := bs.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(hashBytes), types.HashSize)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return bs.GetBlock(hash)
}

// HasBlock checks if a block exists by hash.
func (bs *BlockStore) HasBlock(hash types.Hash) (bool, error) {
	return bs.db.Has(blockKey(hash))
}

// SetTip stores the current chain tip hash, height, and supply.
func (bs *BlockStore) SetTip(hash types.Hash, height uint32, supply uint64) error {
	if err := bs.db.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("set tip hash: %w", err)
	}
	if err := bs.db.Put(keyHeight, heightBytes(height)); err != nil {
		return fmt.Errorf("set tip height: %w", err)
	}
	var supplyBuf [8]byte
	binary.BigEndian.PutUint64(supplyBuf[:], supply)
	if err := bs.db.Put(keySupply, supplyBuf[:]); err != nil {
		return fmt.Errorf("set supply: %w", err)
	}
	return nil
}

// GetTip returns the current chain tip hash, height, and supply.
// Returns zero values and ok=false if no tip is set (fresh chain).
func (bs *BlockStore) GetTip() (hash types.Hash, height uint32, supply uint64, ok bool, err error) {
	hashBytes, gerr := bs.db.Get(keyTipHash)
	if gerr != nil {
		return types.Hash{}, 0, 0, false, nil
	}
	if len(hashBytes) != types.HashSize {
		return types.Hash{}, 0, 0, false, fmt.Errorf("corrupt tip hash: got %d bytes", len(hashBytes))
	}

	heightBytes, gerr := bs.db.Get(keyHeight)
	if gerr != nil {
		return types.Hash{}, 0, 0, false, fmt.Errorf("tip height missing: %w", gerr)
	}
	if len(heightBytes) != 4 {
		return types.Hash{}, 0, 0, false, fmt.Errorf("corrupt tip height: got %d bytes", len(heightBytes))
	}

	var sup uint64
	if supplyBytes, gerr := bs.db.Get(keySupply); gerr == nil && len(supplyBytes) == 8 {
		sup = binary.BigEndian.Uint64(supplyBytes)
	}

	copy(hash[:], hashBytes)
	height = binary.BigEndian.Uint32(heightBytes)
	return hash, height, sup, true, nil
}

// GetTxLocation returns the block height and hash that contain the given transaction.
func (bs *BlockStore) GetTxLocation(txHash types.Hash) (uint32, types.Hash, error) {
	data, err := bs.db.Get(txKey(txHash))
	if err != nil {
		return 0, types.Hash{}, fmt.Errorf("tx index get: %w", err)
	}
	if len(data) != 4+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("corrupt tx index: got %d bytes, want %d", len(data), 4+types.HashSize)
	}
	height := binary.BigEndian.Uint32(data[:4])
	var blockHash types.Hash
	copy(blockHash[:], data[4:])
	return height, blockHash, nil
}

// DeleteTxIndex removes the transaction index entry for the given hash.
func (bs *BlockStore) DeleteTxIndex(txHash types.Hash) error {
	return bs.db.Delete(txKey(txHash))
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func metaKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixMeta)+types.HashSize)
	copy(key, prefixMeta)
	copy(key[len(prefixMeta):], hash[:])
	return key
}

func heightBytes(height uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, height)
	return buf
}

func heightKey(height uint32) []byte {
	key := make([]byte, len(prefixHeight)+4)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint32(key[len(prefixHeight):], height)
	return key
}

func txKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixTx)+types.HashSize)
	copy(key, prefixTx)
	copy(key[len(prefixTx):], hash[:])
	return key
}

func undoKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixUndo)+types.HashSize)
	copy(key, prefixUndo)
	copy(key[len(prefixUndo):], hash[:])
	return key
}

// PutUndo stores undo data for a block (used for reorgs).
func (bs *BlockStore) PutUndo(hash types.Hash, data []byte) error {
	if err := bs.db.Put(undoKey(hash), data); err != nil {
		return fmt.Errorf("put undo: %w", err)
	}
	return nil
}

// GetUndo retrieves undo data for a block.
func (bs *BlockStore) GetUndo(hash types.Hash) ([]byte, error) {
	data, err := bs.db.Get(undoKey(hash))
	if err != nil {
		return nil, fmt.Errorf("get undo: %w", err)
	}
	return data, nil
}

// DeleteUndo removes undo data for a block.
func (bs *BlockStore) DeleteUndo(hash types.Hash) error {
	return bs.db.Delete(undoKey(hash))
}

// SetCumulativeWork persists the active tip's cumulative proof-of-work
// as a minimal-length big-endian integer (big.Int.Bytes).
func (bs *BlockStore) SetCumulativeWork(work *big.Int) error {
	return bs.db.Put(keyCumWork, work.Bytes())
}

// GetCumulativeWork retrieves the persisted cumulative work, or zero if unset.
func (bs *BlockStore) GetCumulativeWork() *big.Int {
	data, err := bs.db.Get(keyCumWork)
	if err != nil {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(data)
}

// PutReorgCheckpoint writes a marker indicating a reorg is in progress.
// If the node crashes during reorg, this marker triggers a full
// rebuild-from-genesis on restart.
func (bs *BlockStore) PutReorgCheckpoint(forkHeight uint32) error {
	return bs.db.Put(keyReorgCheckpoint, heightBytes(forkHeight))
}

// GetReorgCheckpoint returns the fork height and true if a reorg checkpoint exists.
func (bs *BlockStore) GetReorgCheckpoint() (uint32, bool) {
	data, err := bs.db.Get(keyReorgCheckpoint)
	if err != nil || len(data) != 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}

// DeleteReorgCheckpoint removes the reorg-in-progress marker.
func (bs *BlockStore) DeleteReorgCheckpoint() error {
	return bs.db.Delete(keyReorgCheckpoint)
}
