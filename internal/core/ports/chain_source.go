package ports

import (
	"context"

	"github.com/charmstore/giftd/internal/core/domain"
)

type TxStatus struct {
	Confirmed   bool
	BlockHeight int64
}

// ChainSource is a read-only view of the Bitcoin network backed by an
// esplora-style lookup service.
type ChainSource interface {
	// GetUtxos returns all unspent outputs for the given address. A service
	// that knows nothing about the address reports zero utxos, not an error.
	GetUtxos(ctx context.Context, address string) ([]domain.Utxo, error)

	// GetTxHex returns the raw transaction hex for the given txid.
	GetTxHex(ctx context.Context, txid string) (string, error)

	// GetTxStatus reports whether the transaction is known to the service and,
	// if confirmed, at which height. An unknown txid yields ErrTxNotFound.
	GetTxStatus(ctx context.Context, txid string) (*TxStatus, error)

	// GetFeeRate returns the recommended fee rate in sat/vB.
	GetFeeRate(ctx context.Context) (float64, error)

	BaseUrl() string
}
