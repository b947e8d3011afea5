package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
	svcerrors "github.com/charmstore/giftd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type broadcastStage string

const (
	stageIdle             broadcastStage = "idle"
	stageCommitSubmitting broadcastStage = "commit_submitting"
	stageCommitPending    broadcastStage = "commit_pending"
	stageSpellSubmitting  broadcastStage = "spell_submitting"
	stageDone             broadcastStage = "done"
)

type broadcastResult struct {
	CommitTxid  string
	SpellTxid   string
	Attempts    []domain.BroadcastAttempt
	MempoolWait time.Duration
}

// broadcastOrchestrator settles a proof package on-chain: commit first, wait
// for mempool acceptance, then spell. Providers are tried in the configured
// priority order; the first success wins.
type broadcastOrchestrator struct {
	providers      []ports.TxBroadcaster
	poller         *mempoolPoller
	mempoolTimeout time.Duration
}

func newBroadcastOrchestrator(
	providers []ports.TxBroadcaster, poller *mempoolPoller, mempoolTimeout time.Duration,
) *broadcastOrchestrator {
	return &broadcastOrchestrator{
		providers:      providers,
		poller:         poller,
		mempoolTimeout: mempoolTimeout,
	}
}

func (o *broadcastOrchestrator) BroadcastPackage(
	ctx context.Context, pkg domain.ProofPackage,
) (*broadcastResult, svcerrors.Error) {
	result := &broadcastResult{
		CommitTxid: pkg.CommitTxid,
		SpellTxid:  pkg.SpellTxid,
	}

	// The prover may have broadcast the package itself during proof
	// generation. The txids were computed locally from the hex, so an
	// attacker-controlled id cannot sneak through here.
	if pkg.Broadcasted {
		log.WithField("commit_txid", pkg.CommitTxid).
			WithField("spell_txid", pkg.SpellTxid).
			Info("package already broadcast by prover")
		return result, nil
	}

	stage := stageCommitSubmitting
	log.WithField("commit_txid", pkg.CommitTxid).Debugf("broadcast state: %s", stage)

	commitTxid, attempts, err := o.submitWithFallback(ctx, pkg.CommitTxHex)
	result.Attempts = append(result.Attempts, attempts...)
	if err != nil {
		return result, svcerrors.BROADCAST_FAILED.New(
			"commit broadcast failed on all providers: %s", err,
		).WithMetadata(svcerrors.BroadcastMetadata{Attempts: attemptStrings(result.Attempts)})
	}
	result.CommitTxid = commitTxid

	stage = stageCommitPending
	log.WithField("commit_txid", commitTxid).Debugf("broadcast state: %s", stage)

	accepted, waited := o.poller.AwaitAcceptance(ctx, commitTxid, o.mempoolTimeout)
	result.MempoolWait = waited
	if !accepted {
		// The commit may already be propagating; the spell submission is the
		// authoritative accept/reject signal, so carry on.
		log.WithField("commit_txid", commitTxid).
			WithField("waited", waited).
			Warn("commit tx not observed in mempool before timeout, submitting spell anyway")
	}

	stage = stageSpellSubmitting
	log.WithField("spell_txid", pkg.SpellTxid).Debugf("broadcast state: %s", stage)

	spellTxid, attempts, err := o.submitWithFallback(ctx, pkg.SpellTxHex)
	result.Attempts = append(result.Attempts, attempts...)
	if err != nil {
		// The commit is on the network; surfacing its txid is the only way the
		// caller can recover manually.
		return result, svcerrors.PARTIAL_BROADCAST.New(
			"commit tx %s broadcast but spell broadcast failed: %s", commitTxid, err,
		).WithMetadata(svcerrors.BroadcastMetadata{
			CommitTxid: commitTxid,
			Attempts:   attemptStrings(result.Attempts),
		})
	}
	result.SpellTxid = spellTxid

	stage = stageDone
	log.WithField("commit_txid", commitTxid).
		WithField("spell_txid", spellTxid).
		Debugf("broadcast state: %s", stage)
	return result, nil
}

// submitWithFallback tries each provider in order and returns the first
// accepted txid. Every attempt is recorded; rejections move on to the next
// provider instead of aborting.
func (o *broadcastOrchestrator) submitWithFallback(
	ctx context.Context, txHex string,
) (string, []domain.BroadcastAttempt, error) {
	attempts := make([]domain.BroadcastAttempt, 0, len(o.providers))
	var lastErr error

	for _, provider := range o.providers {
		txid, err := provider.Broadcast(ctx, txHex)
		if err == nil {
			attempts = append(attempts, domain.BroadcastAttempt{
				Provider: provider.Name(),
				Outcome:  domain.BroadcastSucceeded,
				Txid:     txid,
			})
			return txid, attempts, nil
		}

		lastErr = err
		outcome := domain.BroadcastTransientError
		var rejected *ports.ErrTxRejected
		if errors.As(err, &rejected) {
			outcome = domain.BroadcastRejected
		}
		attempts = append(attempts, domain.BroadcastAttempt{
			Provider: provider.Name(),
			Outcome:  outcome,
			Reason:   err.Error(),
		})
		log.WithError(err).WithField("provider", provider.Name()).
			Warn("broadcast attempt failed, trying next provider")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no broadcast providers configured")
	}
	return "", attempts, lastErr
}

func attemptStrings(attempts []domain.BroadcastAttempt) []string {
	strs := make([]string, 0, len(attempts))
	for _, a := range attempts {
		strs = append(strs, a.String())
	}
	return strs
}
