package domain

// ProofPackage is the two-transaction package returned by the prover. Txids are
// always recomputed locally from the hex, never taken from the remote side.
// A package lives for the duration of one operation and is never persisted.
type ProofPackage struct {
	CommitTxHex string
	SpellTxHex  string
	CommitTxid  string
	SpellTxid   string
	Broadcasted bool
}

type BroadcastOutcome int

const (
	BroadcastSucceeded BroadcastOutcome = iota
	BroadcastRejected
	BroadcastTransientError
)

func (o BroadcastOutcome) String() string {
	switch o {
	case BroadcastSucceeded:
		return "success"
	case BroadcastRejected:
		return "rejected"
	case BroadcastTransientError:
		return "transient_error"
	default:
		return "unknown"
	}
}

// BroadcastAttempt records one submission attempt against one provider
// endpoint. Attempts are accumulated and returned alongside the final outcome
// instead of being overwritten by later ones.
type BroadcastAttempt struct {
	Provider string
	Endpoint string
	Outcome  BroadcastOutcome
	Txid     string
	Reason   string
}

func (a BroadcastAttempt) String() string {
	if a.Outcome == BroadcastSucceeded {
		return a.Provider + ": " + a.Txid
	}
	return a.Provider + ": " + a.Outcome.String() + ": " + a.Reason
}
