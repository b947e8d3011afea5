package webservice

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmstore/giftd/internal/core/application"
	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/pkg/errors"
)

type operationHandler struct {
	svc application.Service
}

func newOperationHandler(svc application.Service) *operationHandler {
	return &operationHandler{svc}
}

type mintRequest struct {
	FundingAddress   string  `json:"funding_address"`
	RecipientAddress string  `json:"recipient_address"`
	ChangeAddress    string  `json:"change_address"`
	Brand            string  `json:"brand"`
	Image            string  `json:"image"`
	AmountCents      uint64  `json:"amount_cents"`
	ExpiresAt        int64   `json:"expires_at"` // unix seconds, 0 means never
	FeeRate          float64 `json:"fee_rate"`
}

type transferRequest struct {
	FundingAddress   string                 `json:"funding_address"`
	RecipientAddress string                 `json:"recipient_address"`
	ChangeAddress    string                 `json:"change_address"`
	CardUtxoId       string                 `json:"card_utxo_id"`
	AppId            string                 `json:"app_id"`
	Card             domain.GiftCardContent `json:"card"`
	FeeRate          float64                `json:"fee_rate"`
}

type redeemRequest struct {
	FundingAddress string                 `json:"funding_address"`
	OwnerAddress   string                 `json:"owner_address"`
	ChangeAddress  string                 `json:"change_address"`
	CardUtxoId     string                 `json:"card_utxo_id"`
	AppId          string                 `json:"app_id"`
	Card           domain.GiftCardContent `json:"card"`
	AmountCents    uint64                 `json:"amount_cents"`
	FeeRate        float64                `json:"fee_rate"`
}

type proofResponse struct {
	CommitTx    string `json:"commit_tx"`
	SpellTx     string `json:"spell_tx"`
	CommitTxid  string `json:"commit_txid"`
	SpellTxid   string `json:"spell_txid"`
	Broadcasted bool   `json:"broadcasted"`
}

type attemptResponse struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Txid     string `json:"txid,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type operationResponse struct {
	ReceiptId     string                  `json:"receipt_id"`
	Spell         domain.SpellDescription `json:"spell"`
	Proof         proofResponse           `json:"proof"`
	Attempts      []attemptResponse       `json:"attempts,omitempty"`
	MempoolWaitMs int64                   `json:"mempool_wait_ms,omitempty"`
}

type errorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Status   int               `json:"status"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *operationHandler) mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt > 0 {
		expiresAt = time.Unix(req.ExpiresAt, 0)
	}

	result, err := h.svc.Mint(r.Context(), application.MintParams{
		FundingAddress:   req.FundingAddress,
		RecipientAddress: req.RecipientAddress,
		ChangeAddress:    req.ChangeAddress,
		Brand:            req.Brand,
		Image:            req.Image,
		AmountCents:      req.AmountCents,
		ExpiresAt:        expiresAt,
		FeeRate:          req.FeeRate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (h *operationHandler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Transfer(r.Context(), application.TransferParams{
		FundingAddress:   req.FundingAddress,
		RecipientAddress: req.RecipientAddress,
		ChangeAddress:    req.ChangeAddress,
		CardUtxoId:       req.CardUtxoId,
		AppId:            req.AppId,
		Card:             req.Card,
		FeeRate:          req.FeeRate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (h *operationHandler) redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Redeem(r.Context(), application.RedeemParams{
		FundingAddress: req.FundingAddress,
		OwnerAddress:   req.OwnerAddress,
		ChangeAddress:  req.ChangeAddress,
		CardUtxoId:     req.CardUtxoId,
		AppId:          req.AppId,
		Card:           req.Card,
		AmountCents:    req.AmountCents,
		FeeRate:        req.FeeRate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeResult(w, result)
}

func (h *operationHandler) getOperation(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.svc.GetReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *operationHandler) listOperations(w http.ResponseWriter, r *http.Request) {
	kind := domain.OperationKind(r.URL.Query().Get("kind"))
	limit := 0
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			writeError(w, errors.VALIDATION_ERROR.New("invalid limit %q", rawLimit))
			return
		}
		limit = parsed
	}

	receipts, err := h.svc.ListReceipts(r.Context(), kind, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if receipts == nil {
		receipts = []domain.OperationReceipt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": receipts})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, errors.VALIDATION_ERROR.New("invalid request body: %s", err))
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, result *application.OperationResult) {
	resp := operationResponse{
		ReceiptId: result.ReceiptId,
		Spell:     result.Spell,
		Proof: proofResponse{
			CommitTx:    result.Package.CommitTxHex,
			SpellTx:     result.Package.SpellTxHex,
			CommitTxid:  result.Package.CommitTxid,
			SpellTxid:   result.Package.SpellTxid,
			Broadcasted: result.Package.Broadcasted,
		},
		MempoolWaitMs: result.MempoolWait.Milliseconds(),
	}
	for _, attempt := range result.Attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			Provider: attempt.Provider,
			Outcome:  attempt.Outcome.String(),
			Txid:     attempt.Txid,
			Reason:   attempt.Reason,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeError(w http.ResponseWriter, err errors.Error) {
	err.Log().Warn(err.Error())
	writeJSON(w, err.HTTPStatus(), errorResponse{
		Error:    err.Error(),
		Code:     err.CodeName(),
		Status:   err.HTTPStatus(),
		Metadata: err.Metadata(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nolint
	json.NewEncoder(w).Encode(body)
}
