package application

import (
	"fmt"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/charmstore/giftd/pkg/errors"
)

// TopologyReport describes the spend relationship between the two transactions
// of a package plus enough context to debug a broken one without re-fetching
// network state.
type TopologyReport struct {
	CommitTxid     string
	SpellTxid      string
	MatchingInputs int
	CommitInputs   int
	CommitOutputs  int
	SpellInputs    int
	SpellOutputs   int
	SpellOutpoints []string
}

// ValidateTopology proves that the spell transaction spends an output of the
// commit transaction. A known prover failure mode is returning the pair in the
// wrong order; that case is diagnosed distinctly from a malformed package.
func ValidateTopology(commitTxHex, spellTxHex string) (*TopologyReport, errors.Error) {
	report, err := buildTopologyReport(commitTxHex, spellTxHex)
	if err != nil {
		return nil, errors.TOPOLOGY_ERROR.Wrap(err)
	}
	if report.MatchingInputs > 0 {
		return report, nil
	}

	metadata := errors.TopologyMetadata{
		CommitTxid:     report.CommitTxid,
		SpellTxid:      report.SpellTxid,
		CommitInputs:   report.CommitInputs,
		CommitOutputs:  report.CommitOutputs,
		SpellInputs:    report.SpellInputs,
		SpellOutputs:   report.SpellOutputs,
		SpellOutpoints: report.SpellOutpoints,
	}

	// Re-run with the pair swapped before declaring the package malformed.
	if swapped, err := buildTopologyReport(spellTxHex, commitTxHex); err == nil &&
		swapped.MatchingInputs > 0 {
		metadata.Swapped = true
		return nil, errors.TOPOLOGY_ERROR.New(
			"commit and spell transactions are swapped",
		).WithMetadata(metadata)
	}

	return nil, errors.TOPOLOGY_ERROR.New(
		"spell transaction does not spend any commit output",
	).WithMetadata(metadata)
}

func buildTopologyReport(commitTxHex, spellTxHex string) (*TopologyReport, error) {
	commitTx, err := deserializeTx(commitTxHex)
	if err != nil {
		return nil, fmt.Errorf("malformed commit tx: %w", err)
	}
	spellTx, err := deserializeTx(spellTxHex)
	if err != nil {
		return nil, fmt.Errorf("malformed spell tx: %w", err)
	}

	commitTxid := commitTx.TxHash().String()
	report := &TopologyReport{
		CommitTxid:     commitTxid,
		SpellTxid:      spellTx.TxHash().String(),
		CommitInputs:   len(commitTx.TxIn),
		CommitOutputs:  len(commitTx.TxOut),
		SpellInputs:    len(spellTx.TxIn),
		SpellOutputs:   len(spellTx.TxOut),
		SpellOutpoints: make([]string, 0, len(spellTx.TxIn)),
	}

	candidates := make(map[string]struct{}, len(commitTx.TxOut))
	for vout := range commitTx.TxOut {
		candidates[domain.Outpoint{Txid: commitTxid, VOut: uint32(vout)}.String()] = struct{}{}
	}

	for _, in := range spellTx.TxIn {
		outpoint := domain.Outpoint{
			Txid: in.PreviousOutPoint.Hash.String(),
			VOut: in.PreviousOutPoint.Index,
		}.String()
		report.SpellOutpoints = append(report.SpellOutpoints, outpoint)
		if _, ok := candidates[outpoint]; ok {
			report.MatchingInputs++
		}
	}
	return report, nil
}
