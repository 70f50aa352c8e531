package p2p

import (
	"context"
	"time"

	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/libp2p/go-libp2p/core/peer"
)

// discoveryNotifee handles mDNS peer discovery notifications. mDNS finds
// peers on the same local network segment — the same miners/full nodes
// a solo-mining rig or a local testnet cluster would run side by side —
// which is why it's kept alongside DHT discovery rather than replacing
// it; DHT alone would miss peers behind a LAN with no public routing.
type discoveryNotifee struct {
	node *Node
}

// HandlePeerFound is called when a peer is discovered via mDNS.
func (d *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == d.node.host.ID() {
		return // Ignore self.
	}

	ctx, cancel := context.WithTimeout(d.node.ctx, 5*time.Second)
	defer cancel()

	if err := d.node.host.Connect(ctx, pi); err != nil {
		klog.WithComponent(klog.ComponentP2P).Debug().
			Str("peer", pi.ID.String()[:16]).
			Err(err).
			Msg("mdns-discovered peer connect failed")
		return
	}
	d.node.addPeer(pi.ID)
}
