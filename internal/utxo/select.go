package utxo

import (
	"sort"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// SelectForAmount greedily picks the smallest-first set of UTXOs
// locked to addr whose sum is >= amount. The second return value is false if addr's
// total balance cannot cover amount, in which case the outpoint slice
// is nil.
func (s *Store) SelectForAmount(addr types.Address, amount uint64) ([]types.Outpoint, bool, error) {
	utxos, err := s.GetByAddress(addr)
	if err != nil {
		return nil, false, err
	}
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Value < utxos[j].Value })

	var total uint64
	var picked []types.Outpoint
	for _, u := range utxos {
		picked = append(picked, u.Outpoint)
		total += u.Value
		if total >= amount {
			return picked, true, nil
		}
	}
	return nil, false, nil
}
