// Package blockdaemon implements the broadcast port against providers that
// accept a JSON-wrapped transaction body and return the txid in a JSON
// envelope.
package blockdaemon

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
	"github.com/charmstore/giftd/internal/core/ports"
)

type service struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func New(url, apiKey string, timeout time.Duration) *service {
	return &service{
		url:        strings.TrimSuffix(url, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (s *service) Name() string {
	return fmt.Sprintf("blockdaemon (%s)", s.url)
}

type broadcastRequest struct {
	Data struct {
		Item struct {
			TransactionHex string `json:"transactionHex"`
		} `json:"item"`
	} `json:"data"`
}

type broadcastResponse struct {
	Data struct {
		Item struct {
			TransactionId string `json:"transactionId"`
		} `json:"item"`
	} `json:"data"`
	Txid  string `json:"txid"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (s *service) Broadcast(ctx context.Context, txHex string) (string, error) {
	var payload broadcastRequest
	payload.Data.Item.TransactionHex = txHex
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.url+"/tx", bytes.NewReader(body),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	// nolint
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed broadcastResponse
	// tolerate non-JSON bodies on errors
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		reason := parsed.Error.Message
		if reason == "" {
			reason = strings.TrimSpace(string(respBody))
		}
		if strings.Contains(strings.ToLower(reason), "already") {
			if parsed.Data.Item.TransactionId != "" {
				return parsed.Data.Item.TransactionId, nil
			}
			if parsed.Txid != "" {
				return parsed.Txid, nil
			}
			// not every provider echoes the id back on a duplicate, so
			// recover it from the transaction itself
			return txidFromHex(txHex)
		}
		return "", &ports.ErrTxRejected{
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, reason),
		}
	}

	if parsed.Data.Item.TransactionId != "" {
		return parsed.Data.Item.TransactionId, nil
	}
	if parsed.Txid != "" {
		return parsed.Txid, nil
	}
	return "", fmt.Errorf("no txid in broadcast response: %s", string(respBody))
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
