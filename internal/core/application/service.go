package application

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
	"github.com/charmstore/giftd/pkg/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type ServiceConfig struct {
	Network        *chaincfg.Params
	AppVK          string
	AppBinary      string // base64 compiled zk-app, empty only in mock mode
	MockProver     bool
	PruneHeight    int64
	SatsPerCent    uint64
	PackageVBytes  uint64 // rough vsize of commit+spell pair, for funding headroom
	ProverTimeout  time.Duration
	LookupTimeout  time.Duration
	MempoolTimeout time.Duration
	PollInterval   time.Duration
}

type service struct {
	cfg          ServiceConfig
	chain        ports.ChainSource
	prover       ports.Prover
	feeSource    ports.FeeSource
	repo         domain.ReceiptRepository
	selector     *utxoSelector
	builder      *spellBuilder
	orchestrator *broadcastOrchestrator
}

func NewService(
	cfg ServiceConfig,
	chain ports.ChainSource,
	providers []ports.TxBroadcaster,
	prover ports.Prover,
	feeSource ports.FeeSource,
	repo domain.ReceiptRepository,
) (Service, error) {
	if cfg.Network == nil {
		return nil, fmt.Errorf("missing network params")
	}
	if !cfg.MockProver && (cfg.AppVK == "" || cfg.AppBinary == "") {
		return nil, fmt.Errorf("app vk and binary are required outside mock mode")
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one broadcast provider is required")
	}
	if cfg.SatsPerCent == 0 {
		return nil, fmt.Errorf("sats-per-cent conversion rate must be positive")
	}

	poller := newMempoolPoller(chain, cfg.PollInterval)
	return &service{
		cfg:          cfg,
		chain:        chain,
		prover:       prover,
		feeSource:    feeSource,
		repo:         repo,
		selector:     newUtxoSelector(chain, cfg.PruneHeight),
		builder:      newSpellBuilder(cfg.Network, cfg.SatsPerCent),
		orchestrator: newBroadcastOrchestrator(providers, poller, cfg.MempoolTimeout),
	}, nil
}

func (s *service) Stop() {
	if s.feeSource != nil {
		s.feeSource.Stop()
	}
	if s.repo != nil {
		s.repo.Close()
	}
}

func (s *service) Mint(ctx context.Context, params MintParams) (*OperationResult, errors.Error) {
	if violations := s.validateMintParams(params); len(violations) > 0 {
		return nil, errors.VALIDATION_ERROR.New("invalid mint parameters").
			WithMetadata(errors.SpellMetadata{Violations: violations})
	}

	feeRate := s.resolveFeeRate(params.FeeRate)
	minSats := s.fundingTarget(s.builder.cardValueSats(params.AmountCents), feeRate)

	funding, selErr := s.selectFunding(ctx, params.FundingAddress, nil, minSats)
	if selErr != nil {
		return nil, selErr
	}

	card := domain.NewGiftCardContent(params.Brand, params.Image, params.AmountCents, params.ExpiresAt)
	spell := s.builder.BuildMintSpell(*funding, params.RecipientAddress, card, s.cfg.AppVK)

	return s.execute(ctx, domain.OperationMint, spell, *funding, params.ChangeAddress, feeRate)
}

func (s *service) Transfer(
	ctx context.Context, params TransferParams,
) (*OperationResult, errors.Error) {
	var cardOutpoint domain.Outpoint
	if err := cardOutpoint.FromString(params.CardUtxoId); err != nil {
		return nil, errors.VALIDATION_ERROR.New("invalid card utxo id").
			WithMetadata(errors.SpellMetadata{Violations: []string{err.Error()}})
	}

	feeRate := s.resolveFeeRate(params.FeeRate)
	minSats := s.fundingTarget(0, feeRate)

	// The card utxo must never double as the fee-funding utxo.
	exclude := map[string]struct{}{cardOutpoint.String(): {}}
	funding, selErr := s.selectFunding(ctx, params.FundingAddress, exclude, minSats)
	if selErr != nil {
		return nil, selErr
	}

	cardSats, err := s.outpointValue(ctx, cardOutpoint)
	if err != nil {
		return nil, err
	}
	spell, buildErr := s.builder.BuildTransferSpell(
		params.CardUtxoId, params.AppId, params.RecipientAddress, params.Card, cardSats,
	)
	if buildErr != nil {
		return nil, errors.VALIDATION_ERROR.New("cannot build transfer spell").
			WithMetadata(errors.SpellMetadata{Violations: []string{buildErr.Error()}})
	}

	return s.execute(ctx, domain.OperationTransfer, spell, *funding, params.ChangeAddress, feeRate)
}

func (s *service) Redeem(
	ctx context.Context, params RedeemParams,
) (*OperationResult, errors.Error) {
	var cardOutpoint domain.Outpoint
	if err := cardOutpoint.FromString(params.CardUtxoId); err != nil {
		return nil, errors.VALIDATION_ERROR.New("invalid card utxo id").
			WithMetadata(errors.SpellMetadata{Violations: []string{err.Error()}})
	}
	if params.Card.Expired(time.Now()) {
		return nil, errors.VALIDATION_ERROR.New("gift card is expired").
			WithMetadata(errors.SpellMetadata{Violations: []string{"card: expired"}})
	}

	feeRate := s.resolveFeeRate(params.FeeRate)
	minSats := s.fundingTarget(0, feeRate)

	exclude := map[string]struct{}{cardOutpoint.String(): {}}
	funding, selErr := s.selectFunding(ctx, params.FundingAddress, exclude, minSats)
	if selErr != nil {
		return nil, selErr
	}

	spell, buildErr := s.builder.BuildRedeemSpell(
		params.CardUtxoId, params.AppId, params.OwnerAddress, params.Card, params.AmountCents,
	)
	if buildErr != nil {
		return nil, errors.VALIDATION_ERROR.New("cannot build redeem spell").
			WithMetadata(errors.SpellMetadata{Violations: []string{buildErr.Error()}})
	}

	return s.execute(ctx, domain.OperationRedeem, spell, *funding, params.ChangeAddress, feeRate)
}

func (s *service) GetReceipt(
	ctx context.Context, id string,
) (*domain.OperationReceipt, errors.Error) {
	receipt, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, errors.RECEIPT_NOT_FOUND.Wrap(err).
			WithMetadata(errors.ReceiptMetadata{ReceiptId: id})
	}
	return receipt, nil
}

func (s *service) ListReceipts(
	ctx context.Context, kind domain.OperationKind, limit int,
) ([]domain.OperationReceipt, errors.Error) {
	receipts, err := s.repo.List(ctx, kind, limit)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.Wrap(err)
	}
	return receipts, nil
}

// execute runs the shared tail of every operation: validate the spell, fetch
// prior transactions, acquire the proof, check the package topology and settle
// it on-chain. A receipt is persisted at every terminal state so a partially
// broadcast commit txid is never lost.
func (s *service) execute(
	ctx context.Context,
	kind domain.OperationKind,
	spell domain.SpellDescription,
	funding domain.Utxo,
	changeAddress string,
	feeRate float64,
) (*OperationResult, errors.Error) {
	receiptId := uuid.NewString()
	logger := log.WithField("operation", string(kind)).WithField("receipt_id", receiptId)

	if violations := s.builder.ValidateSpell(spell); len(violations) > 0 {
		return nil, errors.VALIDATION_ERROR.New("spell validation failed").
			WithMetadata(errors.SpellMetadata{Violations: violations})
	}

	prevTxs, err := s.gatherPrevTxs(ctx, spell)
	if err != nil {
		return nil, err
	}

	binaries := map[string]string{}
	if !s.cfg.MockProver {
		binaries[s.cfg.AppVK] = s.cfg.AppBinary
	}

	proveCtx, cancel := context.WithTimeout(ctx, s.cfg.ProverTimeout)
	defer cancel()
	pkg, proveErr := s.prover.Prove(proveCtx, ports.ProofRequest{
		Spell:         spell,
		Binaries:      binaries,
		PrevTxHexes:   prevTxs,
		FundingUtxo:   funding.Outpoint,
		FundingValue:  funding.Value,
		ChangeAddress: changeAddress,
		FeeRate:       feeRate,
	})
	if proveErr != nil {
		return nil, s.mapProverError(spell, proveErr)
	}

	report, topoErr := ValidateTopology(pkg.CommitTxHex, pkg.SpellTxHex)
	if topoErr != nil {
		logger.WithField("metadata", topoErr.Metadata()).Warn("invalid package topology")
		s.saveReceipt(ctx, domain.OperationReceipt{
			Id: receiptId, Kind: kind, Stage: domain.StageFailed,
			Spell: spell, Error: topoErr.Error(), CreatedAt: time.Now(),
		})
		return nil, topoErr
	}
	// Txids are always recomputed from the hex, never taken from the prover.
	pkg.CommitTxid = report.CommitTxid
	pkg.SpellTxid = report.SpellTxid

	broadcast, bErr := s.orchestrator.BroadcastPackage(ctx, *pkg)
	if bErr != nil {
		stage := domain.StageFailed
		commitTxid := ""
		if bErr.CodeName() == errors.PARTIAL_BROADCAST.Name {
			stage = domain.StagePartialBroadcast
			commitTxid = broadcast.CommitTxid
		}
		s.saveReceipt(ctx, domain.OperationReceipt{
			Id: receiptId, Kind: kind, Stage: stage, Spell: spell,
			CommitTxid: commitTxid, Error: bErr.Error(), CreatedAt: time.Now(),
		})
		return nil, bErr
	}

	s.saveReceipt(ctx, domain.OperationReceipt{
		Id: receiptId, Kind: kind, Stage: domain.StageDone, Spell: spell,
		CommitTxid: broadcast.CommitTxid, SpellTxid: broadcast.SpellTxid,
		Broadcasted: true, CreatedAt: time.Now(),
	})

	logger.WithField("commit_txid", broadcast.CommitTxid).
		WithField("spell_txid", broadcast.SpellTxid).
		Info("operation settled")

	pkg.Broadcasted = true
	return &OperationResult{
		ReceiptId:   receiptId,
		Spell:       spell,
		Package:     *pkg,
		Attempts:    broadcast.Attempts,
		MempoolWait: broadcast.MempoolWait,
	}, nil
}

func (s *service) selectFunding(
	ctx context.Context, address string, exclude map[string]struct{}, minSats uint64,
) (*domain.Utxo, errors.Error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()
	return s.selector.SelectFundingUtxo(lookupCtx, address, exclude, minSats)
}

// gatherPrevTxs fetches the raw transaction that created each spell input, in
// input order. The prover requires exactly one prior tx per input.
func (s *service) gatherPrevTxs(
	ctx context.Context, spell domain.SpellDescription,
) ([]string, errors.Error) {
	outpoints, err := spell.InputOutpoints()
	if err != nil {
		return nil, errors.VALIDATION_ERROR.New("invalid spell inputs").
			WithMetadata(errors.SpellMetadata{Violations: []string{err.Error()}})
	}

	prevTxs := make([]string, 0, len(outpoints))
	for _, outpoint := range outpoints {
		lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
		txHex, err := s.chain.GetTxHex(lookupCtx, outpoint.Txid)
		cancel()
		if err != nil {
			if stderrors.Is(err, ports.ErrTxNotFound) {
				return nil, errors.TX_NOT_FOUND.Wrap(err).
					WithMetadata(errors.TxMetadata{Txid: outpoint.Txid})
			}
			return nil, errors.UPSTREAM_UNAVAILABLE.Wrap(err).WithMetadata(
				errors.UpstreamMetadata{Service: "tx lookup", Attempts: 1},
			)
		}
		prevTxs = append(prevTxs, txHex)
	}
	return prevTxs, nil
}

func (s *service) outpointValue(
	ctx context.Context, outpoint domain.Outpoint,
) (uint64, errors.Error) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.cfg.LookupTimeout)
	defer cancel()
	txHex, err := s.chain.GetTxHex(lookupCtx, outpoint.Txid)
	if err != nil {
		if stderrors.Is(err, ports.ErrTxNotFound) {
			return 0, errors.TX_NOT_FOUND.Wrap(err).
				WithMetadata(errors.TxMetadata{Txid: outpoint.Txid})
		}
		return 0, errors.UPSTREAM_UNAVAILABLE.Wrap(err).WithMetadata(
			errors.UpstreamMetadata{Service: "tx lookup", Attempts: 1},
		)
	}
	tx, err := deserializeTx(txHex)
	if err != nil {
		return 0, errors.INTERNAL_ERROR.Wrap(err)
	}
	if int(outpoint.VOut) >= len(tx.TxOut) {
		return 0, errors.VALIDATION_ERROR.New(
			"outpoint %s references output %d of a transaction with %d outputs",
			outpoint.String(), outpoint.VOut, len(tx.TxOut),
		)
	}
	return uint64(tx.TxOut[outpoint.VOut].Value), nil
}

func (s *service) mapProverError(spell domain.SpellDescription, err error) errors.Error {
	if rejected, ok := err.(*ports.ErrProverRejected); ok {
		// re-run the local validator so the rejection carries field-level
		// hints next to the prover's own message
		return errors.PROVER_REJECTED.New("%s", rejected.Message).WithMetadata(
			errors.ProverMetadata{
				StatusCode:     rejected.StatusCode,
				ProverMessage:  rejected.Message,
				LocalSuspicion: s.builder.ValidateSpell(spell),
			},
		)
	}
	return errors.UPSTREAM_UNAVAILABLE.Wrap(err).WithMetadata(
		errors.UpstreamMetadata{Service: "prover"},
	)
}

func (s *service) resolveFeeRate(override float64) float64 {
	if override > 0 {
		return override
	}
	return s.feeSource.RecommendedFeeRate()
}

// fundingTarget is the satoshi amount the funding utxo must cover: the charm
// outputs plus a rough fee budget for the two-transaction package.
func (s *service) fundingTarget(outSats uint64, feeRate float64) uint64 {
	return outSats + uint64(feeRate*float64(s.cfg.PackageVBytes))
}

func (s *service) validateMintParams(params MintParams) []string {
	violations := make([]string, 0)
	if params.Brand == "" {
		violations = append(violations, "brand: must not be empty")
	}
	if params.AmountCents == 0 {
		violations = append(violations, "amount_cents: must be positive")
	}
	if !params.ExpiresAt.IsZero() && params.ExpiresAt.Before(time.Now()) {
		violations = append(violations, "expires_at: must be in the future")
	}
	if !isTaprootAddress(params.RecipientAddress, s.cfg.Network) {
		violations = append(violations, "recipient_address: not a taproot address")
	}
	return violations
}

func (s *service) saveReceipt(ctx context.Context, receipt domain.OperationReceipt) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, receipt); err != nil {
		log.WithError(err).WithField("receipt_id", receipt.Id).Warn("failed to persist receipt")
	}
}
