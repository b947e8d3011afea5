package application

import (
	"context"
	"testing"
	"time"

	"github.com/charmstore/giftd/internal/core/ports"
	"github.com/stretchr/testify/require"
)

func TestAwaitAcceptance(t *testing.T) {
	txid := repeatHex('a', 64)

	t.Run("accepted once the lookup sees the tx", func(t *testing.T) {
		chain := newFakeChainSource()
		chain.statuses[txid] = &ports.TxStatus{Confirmed: false}
		chain.acceptAfter = 3
		poller := newMempoolPoller(chain, 2*time.Millisecond)

		accepted, elapsed := poller.AwaitAcceptance(context.Background(), txid, time.Second)
		require.True(t, accepted)
		require.Greater(t, elapsed, time.Duration(0))
		require.GreaterOrEqual(t, chain.statusCalls, 3)
	})

	t.Run("times out when never accepted", func(t *testing.T) {
		chain := newFakeChainSource()
		poller := newMempoolPoller(chain, 2*time.Millisecond)

		accepted, _ := poller.AwaitAcceptance(context.Background(), txid, 15*time.Millisecond)
		require.False(t, accepted)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		chain := newFakeChainSource()
		poller := newMempoolPoller(chain, 5*time.Millisecond)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		accepted, _ := poller.AwaitAcceptance(ctx, txid, time.Second)
		require.False(t, accepted)
	})
}
