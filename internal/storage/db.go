// Package storage provides the key-value abstraction every persistent
// subsystem in this chain is built on. internal/node opens a single DB
// at the chain data directory and shares it between internal/chain
// (blocks, headers, undo data), internal/utxo (the UTXO set and address
// index) and internal/p2p (peer and ban records); each subsystem keeps
// its records under its own key prefix, so a ForEach scan over one
// prefix does not see another subsystem's keys.
package storage

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
