package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmstore/giftd/internal/core/domain"
)

// ErrProverRejected is returned when the prover rejects a spell as structurally
// invalid (HTTP 422). It is never retried.
type ErrProverRejected struct {
	StatusCode int
	Message    string
}

func (e *ErrProverRejected) Error() string {
	return fmt.Sprintf("prover rejected spell (%d): %s", e.StatusCode, e.Message)
}

// ErrProverUnavailable is returned after transient-failure retries are
// exhausted.
var ErrProverUnavailable = errors.New("prover unavailable")

// ProofRequest carries everything the prover needs to turn a spell into a
// proved transaction package. PrevTxHexes holds the raw transactions that
// created every utxo referenced by spell.Ins, in input order.
type ProofRequest struct {
	Spell         domain.SpellDescription
	Binaries      map[string]string // app vk -> base64 compiled binary
	PrevTxHexes   []string
	FundingUtxo   domain.Outpoint
	FundingValue  uint64
	ChangeAddress string
	FeeRate       float64
}

// Prover produces the commit/spell transaction pair for a spell description.
// The order of the returned pair is not trusted; callers must validate the
// package topology independently.
type Prover interface {
	Prove(ctx context.Context, req ProofRequest) (*domain.ProofPackage, error)
}
