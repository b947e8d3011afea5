// Package prover implements the proof acquisition port against the external
// proving service.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	maxAttempts     = 3
	baseRetryDelay  = 2 * time.Second
	chainIdentifier = "bitcoin"
)

type service struct {
	url        string
	httpClient *http.Client
	retryDelay time.Duration
}

func New(url string) *service {
	return &service{
		url: strings.TrimSuffix(url, "/"),
		// per-request deadlines come from the caller's context: proof
		// generation legitimately runs for minutes
		httpClient: &http.Client{},
		retryDelay: baseRetryDelay,
	}
}

type proveRequest struct {
	Spell            domain.SpellDescription `json:"spell"`
	Binaries         map[string]string       `json:"binaries"`
	PrevTxs          []prevTx                `json:"prev_txs"`
	Chain            string                  `json:"chain"`
	FundingUtxo      string                  `json:"funding_utxo"`
	FundingUtxoValue uint64                  `json:"funding_utxo_value"`
	ChangeAddress    string                  `json:"change_address"`
	FeeRate          float64                 `json:"fee_rate"`
}

type prevTx struct {
	Bitcoin string `json:"bitcoin"`
}

func (s *service) Prove(ctx context.Context, req ports.ProofRequest) (*domain.ProofPackage, error) {
	// One prior transaction per spell input, checked before spending any
	// network round trip.
	if len(req.PrevTxHexes) != len(req.Spell.Ins) {
		return nil, fmt.Errorf(
			"prev_txs count (%d) does not match spell input count (%d)",
			len(req.PrevTxHexes), len(req.Spell.Ins),
		)
	}
	if req.Binaries == nil {
		req.Binaries = map[string]string{}
	}

	prevTxs := make([]prevTx, 0, len(req.PrevTxHexes))
	for _, txHex := range req.PrevTxHexes {
		prevTxs = append(prevTxs, prevTx{Bitcoin: txHex})
	}
	body, err := json.Marshal(proveRequest{
		Spell:            req.Spell,
		Binaries:         req.Binaries,
		PrevTxs:          prevTxs,
		Chain:            chainIdentifier,
		FundingUtxo:      req.FundingUtxo.String(),
		FundingUtxoValue: req.FundingValue,
		ChangeAddress:    req.ChangeAddress,
		FeeRate:          req.FeeRate,
	})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pkg, err := s.post(ctx, body)
		if err == nil {
			return pkg, nil
		}

		var rejected *ports.ErrProverRejected
		if errors.As(err, &rejected) {
			// a well-formed rejection will not get better on retry
			return nil, err
		}
		lastErr = err

		if attempt < maxAttempts {
			delay := s.retryDelay * time.Duration(1<<(attempt-1))
			log.WithError(err).
				WithField("attempt", attempt).
				WithField("delay", delay).
				Warn("prover request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %s", ports.ErrProverUnavailable, maxAttempts, lastErr)
}

func (s *service) post(ctx context.Context, body []byte) (*domain.ProofPackage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	// nolint
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &ports.ErrProverRejected{
			StatusCode: resp.StatusCode,
			Message:    proverMessage(respBody),
		}
	default:
		return nil, fmt.Errorf("prover returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	// the response is exactly two transaction hexes in [commit, spell] order;
	// the order is confirmed downstream by the topology validator
	var txs []string
	if err := json.Unmarshal(respBody, &txs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prover response: %w", err)
	}
	if len(txs) != 2 {
		return nil, fmt.Errorf("prover returned %d transactions, expected 2", len(txs))
	}
	return &domain.ProofPackage{
		CommitTxHex: strings.ToLower(txs[0]),
		SpellTxHex:  strings.ToLower(txs[1]),
	}, nil
}

func proverMessage(body []byte) string {
	var structured struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &structured); err == nil {
		if structured.Error != "" {
			return structured.Error
		}
		if structured.Message != "" {
			return structured.Message
		}
	}
	return strings.TrimSpace(string(body))
}
