package application

import (
	"context"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
	"github.com/stretchr/testify/require"
)

func makeUtxo(txidByte byte, vout uint32, value uint64, confirmed bool, height int64) domain.Utxo {
	return domain.Utxo{
		Outpoint:    domain.Outpoint{Txid: repeatHex(txidByte, 64), VOut: vout},
		Value:       value,
		Confirmed:   confirmed,
		BlockHeight: height,
	}
}

func TestSelectFundingUtxo(t *testing.T) {
	ctx := context.Background()
	address := testTaprootAddress

	t.Run("picks smallest covering the minimum", func(t *testing.T) {
		chain := newFakeChainSource()
		chain.utxos[address] = []domain.Utxo{
			makeUtxo('a', 0, 2000, true, 100),
			makeUtxo('b', 0, 50000, true, 100),
			makeUtxo('c', 0, 1000, true, 100),
		}
		selector := newUtxoSelector(chain, 0)

		utxo, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.Nil(t, err)
		require.Equal(t, repeatHex('a', 64), utxo.Txid)
		require.EqualValues(t, 2000, utxo.Value)
	})

	t.Run("prefers confirmed over unconfirmed", func(t *testing.T) {
		chain := newFakeChainSource()
		chain.utxos[address] = []domain.Utxo{
			makeUtxo('a', 0, 1600, false, 0),
			makeUtxo('b', 0, 5000, true, 100),
		}
		selector := newUtxoSelector(chain, 0)

		utxo, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.Nil(t, err)
		require.Equal(t, repeatHex('b', 64), utxo.Txid)
	})

	t.Run("falls back to unconfirmed when no confirmed covers", func(t *testing.T) {
		chain := newFakeChainSource()
		chain.utxos[address] = []domain.Utxo{
			makeUtxo('a', 0, 1000, true, 100),
			makeUtxo('b', 0, 1600, false, 0),
		}
		selector := newUtxoSelector(chain, 0)

		utxo, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.Nil(t, err)
		require.Equal(t, repeatHex('b', 64), utxo.Txid)
	})

	t.Run("excluded outpoints are never chosen", func(t *testing.T) {
		charm := makeUtxo('a', 1, 9000, true, 100)
		chain := newFakeChainSource()
		chain.utxos[address] = []domain.Utxo{charm}
		selector := newUtxoSelector(chain, 0)

		exclude := map[string]struct{}{charm.Outpoint.String(): {}}
		_, err := selector.SelectFundingUtxo(ctx, address, exclude, 1500)
		require.NotNil(t, err)
		require.Equal(t, "NO_ELIGIBLE_UTXO", err.CodeName())
	})

	t.Run("insufficient funds is distinct from no utxo", func(t *testing.T) {
		chain := newFakeChainSource()
		chain.utxos[address] = []domain.Utxo{
			makeUtxo('a', 0, 900, true, 100),
		}
		selector := newUtxoSelector(chain, 0)

		_, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.NotNil(t, err)
		require.Equal(t, "INSUFFICIENT_FUNDS", err.CodeName())
		require.Equal(t, "900", err.Metadata()["best_sats"])
	})

	t.Run("lookup failure is an upstream error", func(t *testing.T) {
		chain := newFakeChainSource()
		chain.utxoErr = fmt.Errorf("connection refused")
		selector := newUtxoSelector(chain, 0)

		_, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.NotNil(t, err)
		require.Equal(t, "UPSTREAM_UNAVAILABLE", err.CodeName())
	})
}

func TestSelectFundingUtxoPruneHeight(t *testing.T) {
	ctx := context.Background()
	address := testTaprootAddress
	const pruneHeight = 500

	parentOutpoint := mustOutPoint(0x11, 0)
	creatingTx := makeTx([]wire.OutPoint{parentOutpoint}, 1)
	creatingTxid := creatingTx.TxHash().String()
	parentTxid := parentOutpoint.Hash.String()

	setup := func() (*fakeChainSource, domain.Utxo) {
		chain := newFakeChainSource()
		utxo := domain.Utxo{
			Outpoint:    domain.Outpoint{Txid: creatingTxid, VOut: 0},
			Value:       5000,
			Confirmed:   true,
			BlockHeight: 800,
		}
		chain.utxos[address] = []domain.Utxo{utxo}
		chain.txHexes[creatingTxid] = mustTxHex(creatingTx)
		return chain, utxo
	}

	t.Run("accepted when utxo and ancestors are above prune height", func(t *testing.T) {
		chain, _ := setup()
		chain.statuses[parentTxid] = &ports.TxStatus{Confirmed: true, BlockHeight: 700}
		selector := newUtxoSelector(chain, pruneHeight)

		utxo, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.Nil(t, err)
		require.Equal(t, creatingTxid, utxo.Txid)
	})

	t.Run("rejected when own block is below prune height", func(t *testing.T) {
		chain, utxo := setup()
		utxo.BlockHeight = 400
		chain.utxos[address] = []domain.Utxo{utxo}
		selector := newUtxoSelector(chain, pruneHeight)

		_, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.NotNil(t, err)
		require.Equal(t, "NO_ELIGIBLE_UTXO", err.CodeName())
	})

	t.Run("rejected when an ancestor is below prune height", func(t *testing.T) {
		chain, _ := setup()
		chain.statuses[parentTxid] = &ports.TxStatus{Confirmed: true, BlockHeight: 300}
		selector := newUtxoSelector(chain, pruneHeight)

		_, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.NotNil(t, err)
		require.Equal(t, "NO_ELIGIBLE_UTXO", err.CodeName())
	})

	t.Run("rejected when an ancestor cannot be verified", func(t *testing.T) {
		chain, _ := setup()
		// no status entry for the parent: lookup fails, fail safe
		selector := newUtxoSelector(chain, pruneHeight)

		_, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.NotNil(t, err)
		require.Equal(t, "NO_ELIGIBLE_UTXO", err.CodeName())
	})

	t.Run("unconfirmed utxo rejected under pruning", func(t *testing.T) {
		chain, utxo := setup()
		utxo.Confirmed = false
		utxo.BlockHeight = 0
		chain.utxos[address] = []domain.Utxo{utxo}
		selector := newUtxoSelector(chain, pruneHeight)

		_, err := selector.SelectFundingUtxo(ctx, address, nil, 1500)
		require.NotNil(t, err)
		require.Equal(t, "NO_ELIGIBLE_UTXO", err.CodeName())
	})
}
