// Package esplora implements the chain lookup and broadcast ports against an
// esplora-style HTTP API (blockstream.info, mempool.space and compatible
// self-hosted instances).
package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/internal/core/ports"
)

type service struct {
	url        string
	httpClient *http.Client
}

// New creates an esplora client rooted at the given base URL.
func New(url string, timeout time.Duration) *service {
	return &service{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *service) Name() string {
	return fmt.Sprintf("esplora (%s)", s.url)
}

func (s *service) BaseUrl() string {
	return s.url
}

// utxoResponse tolerates the field aliases used by esplora forks.
type utxoResponse struct {
	Txid   string  `json:"txid"`
	TxHash string  `json:"tx_hash"`
	Vout   *uint32 `json:"vout"`
	Index  *uint32 `json:"index"`
	Value  *uint64 `json:"value"`
	Amount *uint64 `json:"amount"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
	} `json:"status"`
}

func (s *service) GetUtxos(ctx context.Context, address string) ([]domain.Utxo, error) {
	data, status, err := s.get(ctx, fmt.Sprintf("/address/%s/utxo", address))
	if err != nil {
		return nil, err
	}
	// an address the service has never seen holds zero utxos
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("utxo lookup failed: HTTP %d: %s", status, string(data))
	}

	var resp []utxoResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal utxo list: %w", err)
	}

	utxos := make([]domain.Utxo, 0, len(resp))
	for _, u := range resp {
		txid := u.Txid
		if txid == "" {
			txid = u.TxHash
		}
		vout := u.Vout
		if vout == nil {
			vout = u.Index
		}
		value := u.Value
		if value == nil {
			value = u.Amount
		}
		if txid == "" || vout == nil || value == nil {
			return nil, fmt.Errorf("utxo entry missing txid, vout or value: %s", string(data))
		}
		utxos = append(utxos, domain.Utxo{
			Outpoint:    domain.Outpoint{Txid: strings.ToLower(txid), VOut: *vout},
			Value:       *value,
			Confirmed:   u.Status.Confirmed,
			BlockHeight: u.Status.BlockHeight,
		})
	}
	return utxos, nil
}

func (s *service) GetTxHex(ctx context.Context, txid string) (string, error) {
	data, status, err := s.get(ctx, fmt.Sprintf("/tx/%s/hex", txid))
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", ports.ErrTxNotFound
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("tx hex lookup failed: HTTP %d: %s", status, string(data))
	}
	return strings.ToLower(strings.TrimSpace(string(data))), nil
}

func (s *service) GetTxStatus(ctx context.Context, txid string) (*ports.TxStatus, error) {
	data, status, err := s.get(ctx, fmt.Sprintf("/tx/%s", txid))
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ports.ErrTxNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("tx lookup failed: HTTP %d: %s", status, string(data))
	}

	var resp struct {
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tx: %w", err)
	}
	return &ports.TxStatus{
		Confirmed:   resp.Status.Confirmed,
		BlockHeight: resp.Status.BlockHeight,
	}, nil
}

func (s *service) GetFeeRate(ctx context.Context) (float64, error) {
	data, status, err := s.get(ctx, "/fee-estimates")
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("fee estimate lookup failed: HTTP %d: %s", status, string(data))
	}

	var estimates map[string]float64
	if err := json.Unmarshal(data, &estimates); err != nil {
		return 0, fmt.Errorf("failed to unmarshal fee estimates: %w", err)
	}
	rate, ok := estimates["1"]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no next-block fee estimate in response")
	}
	return rate, nil
}

// Broadcast submits a raw transaction as a plain-text body. A rejection whose
// reason indicates the transaction is already known is normalized to success.
func (s *service) Broadcast(ctx context.Context, txHex string) (string, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.url+"/tx", strings.NewReader(txHex),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	// nolint
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		reason := strings.TrimSpace(string(body))
		if isAlreadyKnown(reason) {
			return txidFromHex(txHex)
		}
		return "", &ports.ErrTxRejected{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, reason)}
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *service) get(ctx context.Context, endpoint string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url+endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	// nolint
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

// txidFromHex recovers the txid locally when the provider reports the tx as
// already known but echoes no id back.
func txidFromHex(txHex string) (string, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func isAlreadyKnown(reason string) bool {
	lowered := strings.ToLower(reason)
	return strings.Contains(lowered, "already in") ||
		strings.Contains(lowered, "txn-already-known") ||
		strings.Contains(lowered, "txn-already-in-mempool") ||
		strings.Contains(lowered, "transaction already")
}
