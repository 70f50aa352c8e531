package utxo

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Cache overlays a base Set with in-memory (outpoint -> *UTXO) edits.
// An outpoint marked true in deleted denotes a pending delete. Reads fall
// through to base when an outpoint has no overlay entry. Used to stage
// a candidate block or reorg branch without mutating the base set
// until Flush.
type Cache struct {
	base    Set
	edits   map[types.Outpoint]*UTXO
	deleted map[types.Outpoint]bool
}

// NewCache wraps base with an empty overlay.
func NewCache(base Set) *Cache {
	return &Cache{
		base:    base,
		edits:   make(map[types.Outpoint]*UTXO),
		deleted: make(map[types.Outpoint]bool),
	}
}

// Get resolves an outpoint, checking the overlay before falling
// through to the base set.
func (c *Cache) Get(outpoint types.Outpoint) (*UTXO, error) {
	if c.deleted[outpoint] {
		return nil, fmt.Errorf("utxo cache: %s not found", outpoint)
	}
	if u, ok := c.edits[outpoint]; ok {
		return u, nil
	}
	return c.base.Get(outpoint)
}

// Put stages an insert or overwrite in the overlay.
func (c *Cache) Put(u *UTXO) error {
	delete(c.deleted, u.Outpoint)
	cp := *u
	c.edits[u.Outpoint] = &cp
	return nil
}

// Delete stages a removal in the overlay without touching base.
func (c *Cache) Delete(outpoint types.Outpoint) error {
	delete(c.edits, outpoint)
	c.deleted[outpoint] = true
	return nil
}

// Has resolves presence through the overlay, falling through to base.
func (c *Cache) Has(outpoint types.Outpoint) (bool, error) {
	if c.deleted[outpoint] {
		return false, nil
	}
	if _, ok := c.edits[outpoint]; ok {
		return true, nil
	}
	return c.base.Has(outpoint)
}

// Flush applies every staged edit and delete to the base set. It is
// not atomic: the first failure stops the flush and returns the
// error, leaving already-applied edits in base (the caller is
// expected to discard a cache that fails to flush and fall back to
// its own undo log).
func (c *Cache) Flush() error {
	for op := range c.deleted {
		if err := c.base.Delete(op); err != nil {
			return fmt.Errorf("utxo cache flush: delete %s: %w", op, err)
		}
	}
	for op, u := range c.edits {
		if err := c.base.Put(u); err != nil {
			return fmt.Errorf("utxo cache flush: put %s: %w", op, err)
		}
	}
	return nil
}

// Discard drops every staged edit without touching base.
func (c *Cache) Discard() {
	c.edits = make(map[types.Outpoint]*UTXO)
	c.deleted = make(map[types.Outpoint]bool)
}
