package application

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
	"github.com/charmstore/giftd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// utxoSelector picks the funding utxo for an operation. When the backing node
// is pruned below pruneHeight, a candidate is only eligible if its own block
// and the block of every parent transaction we can verify are above that
// height; an unverifiable parent rejects the candidate.
type utxoSelector struct {
	chain       ports.ChainSource
	pruneHeight int64
}

func newUtxoSelector(chain ports.ChainSource, pruneHeight int64) *utxoSelector {
	return &utxoSelector{chain: chain, pruneHeight: pruneHeight}
}

func (s *utxoSelector) SelectFundingUtxo(
	ctx context.Context, address string, exclude map[string]struct{}, minSats uint64,
) (*domain.Utxo, errors.Error) {
	utxos, err := s.chain.GetUtxos(ctx, address)
	if err != nil {
		return nil, errors.UPSTREAM_UNAVAILABLE.Wrap(err).WithMetadata(
			errors.UpstreamMetadata{Service: "utxo lookup", Attempts: 1},
		)
	}

	candidates := make([]domain.Utxo, 0, len(utxos))
	for _, utxo := range utxos {
		if _, excluded := exclude[utxo.Outpoint.String()]; excluded {
			continue
		}
		if s.pruneHeight > 0 && !s.survivesPruning(ctx, utxo) {
			log.WithField("outpoint", utxo.Outpoint.String()).
				Debug("skipping utxo below prune height")
			continue
		}
		candidates = append(candidates, utxo)
	}

	if len(candidates) == 0 {
		return nil, errors.NO_ELIGIBLE_UTXO.New(
			"no eligible utxo for address %s", address,
		).WithMetadata(errors.ShortfallMetadata{
			Address:      address,
			RequiredSats: minSats,
		})
	}

	if selected := pickSmallestCovering(candidates, minSats, true); selected != nil {
		return selected, nil
	}
	if selected := pickSmallestCovering(candidates, minSats, false); selected != nil {
		return selected, nil
	}

	best := uint64(0)
	for _, utxo := range candidates {
		if utxo.Value > best {
			best = utxo.Value
		}
	}
	return nil, errors.INSUFFICIENT_FUNDS.New(
		"no utxo of %s covers %d sats, largest is %d", address, minSats, best,
	).WithMetadata(errors.ShortfallMetadata{
		Address:      address,
		RequiredSats: minSats,
		BestSats:     best,
	})
}

// pickSmallestCovering returns the smallest utxo worth at least minSats,
// considering only (un)confirmed ones. Smallest-first avoids fragmenting
// large utxos into change.
func pickSmallestCovering(utxos []domain.Utxo, minSats uint64, confirmed bool) *domain.Utxo {
	var selected *domain.Utxo
	for i := range utxos {
		utxo := utxos[i]
		if utxo.Confirmed != confirmed || utxo.Value < minSats {
			continue
		}
		if selected == nil || utxo.Value < selected.Value {
			selected = &utxos[i]
		}
	}
	return selected
}

func (s *utxoSelector) survivesPruning(ctx context.Context, utxo domain.Utxo) bool {
	if !utxo.Confirmed || utxo.BlockHeight <= s.pruneHeight {
		return false
	}

	// Walk one level up: every parent of the creating transaction must also be
	// confirmed above the prune height, otherwise the node cannot serve the
	// data needed to verify the chain of ownership. Failing to verify counts
	// as a rejection.
	txHex, err := s.chain.GetTxHex(ctx, utxo.Txid)
	if err != nil {
		return false
	}
	tx, err := deserializeTx(txHex)
	if err != nil {
		return false
	}

	for _, in := range tx.TxIn {
		if in.PreviousOutPoint.Hash == (wire.OutPoint{}).Hash {
			// coinbase parent, nothing to look up
			continue
		}
		status, err := s.chain.GetTxStatus(ctx, in.PreviousOutPoint.Hash.String())
		if err != nil || status == nil {
			return false
		}
		if !status.Confirmed || status.BlockHeight <= s.pruneHeight {
			return false
		}
	}
	return true
}

func deserializeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}
