package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/config"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// BroadcastTx publishes a transaction to the gossip network. This is
// the outbound half of the abstract P2P interface's broadcast_inv:
// rather than announcing a txid and waiting for peers to ask for it,
// the full transaction goes out on TopicTransactions and each peer's
// GossipSub layer handles not relaying it back to whoever sent it.
func (n *Node) BroadcastTx(t *tx.Transaction) error {
	if n.topicTx == nil {
		return fmt.Errorf("p2p node not started")
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tx: %w", err)
	}

	if err := n.topicTx.Publish(n.ctx, data); err != nil {
		return err
	}
	klog.WithComponent(klog.ComponentP2P).Debug().
		Str("txid", t.Hash().String()[:16]+"...").
		Int("bytes", len(data)).
		Msg("broadcast tx")
	return nil
}

// BroadcastBlock publishes a block to the gossip network. Blocks above
// config.MaxBlockSize can never have been accepted onto this node's
// own chain, so a bug upstream producing one is a local error worth
// surfacing rather than a valid oversized message to relay.
func (n *Node) BroadcastBlock(b *block.Block) error {
	if n.topicBlock == nil {
		return fmt.Errorf("p2p node not started")
	}

	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	if len(data) > config.MaxBlockSize+64*1024 {
		return fmt.Errorf("block %s encodes to %d bytes, exceeds gossip limit", b.Hash(), len(data))
	}

	if err := n.topicBlock.Publish(n.ctx, data); err != nil {
		return err
	}
	klog.WithComponent(klog.ComponentP2P).Debug().
		Str("hash", b.Hash().String()[:16]+"...").
		Int("bytes", len(data)).
		Msg("broadcast block")
	return nil
}
