package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code       uint16
	Name       string
	HTTPStatus int
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	HTTPStatus() int
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		var genericMap map[string]any
		if err := json.Unmarshal(buf, &genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					vStr = fmt.Sprintf("%v", v)
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) HTTPStatus() int {
	return e.code.HTTPStatus
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type ShortfallMetadata struct {
	Address      string `json:"address"`
	RequiredSats uint64 `json:"required_sats"`
	BestSats     uint64 `json:"best_sats"`
}

type SpellMetadata struct {
	Violations []string `json:"violations"`
}

type ProverMetadata struct {
	StatusCode     int      `json:"status_code"`
	ProverMessage  string   `json:"prover_message"`
	LocalSuspicion []string `json:"local_suspicion,omitempty"`
}

type UpstreamMetadata struct {
	Service  string `json:"service"`
	Attempts int    `json:"attempts"`
}

type TopologyMetadata struct {
	CommitTxid     string   `json:"commit_txid"`
	SpellTxid      string   `json:"spell_txid"`
	CommitInputs   int      `json:"commit_inputs"`
	CommitOutputs  int      `json:"commit_outputs"`
	SpellInputs    int      `json:"spell_inputs"`
	SpellOutputs   int      `json:"spell_outputs"`
	SpellOutpoints []string `json:"spell_outpoints"`
	Swapped        bool     `json:"swapped"`
}

type BroadcastMetadata struct {
	CommitTxid string   `json:"commit_txid"`
	Attempts   []string `json:"attempts,omitempty"`
}

type TxMetadata struct {
	Txid string `json:"txid"`
}

type ReceiptMetadata struct {
	ReceiptId string `json:"receipt_id"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", http.StatusInternalServerError}

var VALIDATION_ERROR = Code[SpellMetadata]{1, "VALIDATION_ERROR", http.StatusBadRequest}

var INSUFFICIENT_FUNDS = Code[ShortfallMetadata]{
	2,
	"INSUFFICIENT_FUNDS",
	http.StatusBadRequest,
}

var NO_ELIGIBLE_UTXO = Code[ShortfallMetadata]{3, "NO_ELIGIBLE_UTXO", http.StatusBadRequest}

var PROVER_REJECTED = Code[ProverMetadata]{
	4,
	"PROVER_REJECTED",
	http.StatusUnprocessableEntity,
}

var UPSTREAM_UNAVAILABLE = Code[UpstreamMetadata]{
	5,
	"UPSTREAM_UNAVAILABLE",
	http.StatusServiceUnavailable,
}

var TOPOLOGY_ERROR = Code[TopologyMetadata]{6, "TOPOLOGY_ERROR", http.StatusInternalServerError}

var PARTIAL_BROADCAST = Code[BroadcastMetadata]{7, "PARTIAL_BROADCAST", http.StatusBadGateway}

var BROADCAST_FAILED = Code[BroadcastMetadata]{8, "BROADCAST_FAILED", http.StatusBadGateway}

var TX_NOT_FOUND = Code[TxMetadata]{9, "TX_NOT_FOUND", http.StatusNotFound}

var RECEIPT_NOT_FOUND = Code[ReceiptMetadata]{10, "RECEIPT_NOT_FOUND", http.StatusNotFound}
