package consensus

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/wire"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroBits         = errors.New("header bits must be nonzero")
	ErrNonceExhausted   = errors.New("nonce space exhausted")
)

// PoW mines and verifies proof-of-work blocks. It holds no
// chain state of its own — bits are read from and written to the
// header directly; the expected bits for a height come from
// internal/retarget and are checked by the caller, not here.
type PoW struct {
	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded. Each goroutine searches a strided
	// partition of the nonce space.
	Threads int
}

// NewPoW creates a PoW engine with the given thread count.
func NewPoW(threads int) *PoW {
	return &PoW{Threads: threads}
}

// VerifyHeader checks that the header's hash meets its own stated bits.
// It does NOT check that bits is the expected retarget value for the
// height — that is checked against chain history by the caller.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if header.Bits == 0 {
		return ErrZeroBits
	}
	if !MeetsTarget(header.Hash(), header.Bits) {
		return ErrInsufficientWork
	}
	return nil
}

// Seal mines blk by searching nonces until its hash meets blk.Header.Bits.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines blk with cancellation support.
// When ctx is cancelled, mining stops and ctx.Err() is returned.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if blk.Header.Bits == 0 {
		return ErrZeroBits
	}

	threads := p.Threads
	if threads <= 1 {
		return p.sealSingle(ctx, blk)
	}
	return p.sealParallel(ctx, blk, threads)
}

// noncePrefix returns the header's signing bytes up to (not including)
// the trailing nonce field, so each mining iteration only needs to
// append 4 bytes and re-hash.
func noncePrefix(h *block.Header) []byte {
	buf := make([]byte, 0, block.HeaderSize)
	buf = wire.PutUint32(buf, h.Version)
	buf = wire.PutVarStr(buf, h.PrevHash[:])
	buf = wire.PutVarStr(buf, h.MerkleRoot[:])
	buf = wire.PutUint64(buf, h.Timestamp)
	buf = wire.PutUint32(buf, h.Bits)
	return buf
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) error {
	target := BitsToTarget(blk.Header.Bits)
	prefix := noncePrefix(blk.Header)
	buf := make([]byte, len(prefix)+4)
	copy(buf, prefix)
	hashInt := new(big.Int)

	for nonce := uint32(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		copy(buf[len(prefix):], wire.PutUint32(nil, nonce))
		hash := crypto.DoubleHash(buf)
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(target) <= 0 {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint32(0) {
			return ErrNonceExhausted
		}
	}
}

// sealParallel mines with multiple goroutines, each searching a strided
// partition of the nonce space (goroutine i starts at nonce=i, step=threads).
func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	target := BitsToTarget(blk.Header.Bits)
	prefix := noncePrefix(blk.Header)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint32
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint32(i)
		stride := uint32(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+4)
			copy(buf, prefix)
			hashInt := new(big.Int)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				copy(buf[len(prefix):], wire.PutUint32(nil, nonce))
				hash := crypto.DoubleHash(buf)
				hashInt.SetBytes(hash[:])
				if hashInt.Cmp(target) <= 0 {
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint32(0)-stride {
					select {
					case found <- result{err: ErrNonceExhausted}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return ErrNonceExhausted
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
