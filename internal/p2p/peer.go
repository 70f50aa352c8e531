package p2p

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Peer represents a connected peer.
type Peer struct {
	ID          peer.ID
	ConnectedAt time.Time
	Source      string // "dht", "mdns", "seed", "gossip"

	// Handshake-reported state. Zero until a successful handshake with
	// this peer completes; BestHeight is a hint from the moment of
	// connection, not a live value — a sync attempt still confirms it
	// with a HeightProtocol round-trip before trusting it.
	BestHeight    uint64
	HandshakeDone bool
}
