package application

import (
	"context"
	"time"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/pkg/errors"
)

type Service interface {
	Mint(ctx context.Context, params MintParams) (*OperationResult, errors.Error)
	Transfer(ctx context.Context, params TransferParams) (*OperationResult, errors.Error)
	Redeem(ctx context.Context, params RedeemParams) (*OperationResult, errors.Error)
	GetReceipt(ctx context.Context, id string) (*domain.OperationReceipt, errors.Error)
	ListReceipts(
		ctx context.Context, kind domain.OperationKind, limit int,
	) ([]domain.OperationReceipt, errors.Error)
	Stop()
}

// MintParams creates a new gift card funded by an utxo of FundingAddress. The
// minted card (NFT charm plus its token balance) lands on RecipientAddress.
type MintParams struct {
	FundingAddress   string
	RecipientAddress string
	ChangeAddress    string
	Brand            string
	Image            string
	AmountCents      uint64
	ExpiresAt        time.Time
	FeeRate          float64 // sat/vB, 0 means use the fee source
}

// TransferParams hands a card over to a new owner. The card utxo and its
// current content are supplied by the caller; the funding utxo paying for fees
// is selected from FundingAddress and never coincides with the card utxo.
type TransferParams struct {
	FundingAddress   string
	RecipientAddress string
	ChangeAddress    string
	CardUtxoId       string
	AppId            string
	Card             domain.GiftCardContent
	FeeRate          float64
}

// RedeemParams spends AmountCents of the card balance. Redeeming the full
// balance consumes the card: the output omits both charm slots. A partial
// redemption keeps the NFT with a decreased balance and matching tokens.
type RedeemParams struct {
	FundingAddress string
	OwnerAddress   string
	ChangeAddress  string
	CardUtxoId     string
	AppId          string
	Card           domain.GiftCardContent
	AmountCents    uint64
	FeeRate        float64
}

type OperationResult struct {
	ReceiptId   string
	Spell       domain.SpellDescription
	Package     domain.ProofPackage
	Attempts    []domain.BroadcastAttempt
	MempoolWait time.Duration
}
