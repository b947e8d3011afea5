package application

import (
	"context"
	"time"

	"github.com/charmstore/giftd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// mempoolPoller waits for a transaction to show up at the lookup service.
// The interval is fixed: acceptance is expected within seconds, so backoff
// would only delay the spell submission.
type mempoolPoller struct {
	chain    ports.ChainSource
	interval time.Duration
}

func newMempoolPoller(chain ports.ChainSource, interval time.Duration) *mempoolPoller {
	return &mempoolPoller{chain: chain, interval: interval}
}

// AwaitAcceptance polls until txid is observed or timeout elapses. Lookup
// errors count as "not yet accepted"; only the timeout ends the wait.
func (p *mempoolPoller) AwaitAcceptance(
	ctx context.Context, txid string, timeout time.Duration,
) (bool, time.Duration) {
	start := time.Now()
	deadline := start.Add(timeout)

	for {
		status, err := p.chain.GetTxStatus(ctx, txid)
		if err == nil && status != nil {
			return true, time.Since(start)
		}
		if err != nil && err != ports.ErrTxNotFound {
			log.WithError(err).WithField("txid", txid).Debug("mempool lookup failed, retrying")
		}

		if time.Now().Add(p.interval).After(deadline) {
			return false, time.Since(start)
		}
		select {
		case <-ctx.Done():
			return false, time.Since(start)
		case <-time.After(p.interval):
		}
	}
}
