package ports

import (
	"context"
	"errors"
)

// ErrTxNotFound is returned by ChainSource.GetTxStatus for unknown txids.
var ErrTxNotFound = errors.New("transaction not found")

// ErrTxRejected wraps a well-formed rejection from a broadcast provider, as
// opposed to a transport failure. Rejections are not retried against the same
// endpoint but do continue the provider fallback chain.
type ErrTxRejected struct {
	Reason string
}

func (e *ErrTxRejected) Error() string {
	return "transaction rejected: " + e.Reason
}

// TxBroadcaster submits a raw transaction to the network through one provider.
// Implementations must normalize "already in mempool" style responses to
// success so that re-broadcasting an accepted transaction is idempotent.
type TxBroadcaster interface {
	Name() string
	Broadcast(ctx context.Context, txHex string) (txid string, err error)
}
