package domain

import "context"

type ReceiptRepository interface {
	Save(ctx context.Context, receipt OperationReceipt) error
	Get(ctx context.Context, id string) (*OperationReceipt, error)
	List(ctx context.Context, kind OperationKind, limit int) ([]OperationReceipt, error)
	Close()
}
