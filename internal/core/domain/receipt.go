package domain

import "time"

type OperationKind string

const (
	OperationMint     OperationKind = "mint"
	OperationTransfer OperationKind = "transfer"
	OperationRedeem   OperationKind = "redeem"
	OperationBurn     OperationKind = "burn"
)

type OperationStage string

const (
	StageDone             OperationStage = "done"
	StagePartialBroadcast OperationStage = "partial_broadcast"
	StageFailed           OperationStage = "failed"
)

// OperationReceipt is the persisted outcome of one mint/transfer/redeem/burn
// invocation. It exists so the commit txid of a partially broadcast package
// survives a crash and can be recovered manually.
type OperationReceipt struct {
	Id          string `badgerhold:"key"`
	Kind        OperationKind
	Stage       OperationStage
	Spell       SpellDescription
	CommitTxid  string
	SpellTxid   string
	Broadcasted bool
	Error       string
	CreatedAt   time.Time
}
