package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmstore/giftd/internal/core/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

const (
	receiptStoreDir = "receipts"
	maxRetries      = 5
)

type receiptRepository struct {
	store *badgerhold.Store
}

// NewReceiptRepository opens a badgerhold-backed receipt store under baseDir.
// An empty baseDir opens an in-memory store, used by tests.
func NewReceiptRepository(baseDir string, logger badger.Logger) (domain.ReceiptRepository, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, receiptStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt store: %s", err)
	}

	return &receiptRepository{store}, nil
}

func (r *receiptRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *receiptRepository) Save(ctx context.Context, receipt domain.OperationReceipt) error {
	upsertFn := func() error {
		return r.store.Upsert(receipt.Id, receipt)
	}
	if err := upsertFn(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			attempts := 1
			for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
				time.Sleep(100 * time.Millisecond)
				err = upsertFn()
				attempts++
			}
		}
		return err
	}
	return nil
}

func (r *receiptRepository) Get(
	ctx context.Context, id string,
) (*domain.OperationReceipt, error) {
	var receipt domain.OperationReceipt
	if err := r.store.Get(id, &receipt); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("receipt %s not found", id)
		}
		return nil, err
	}
	return &receipt, nil
}

func (r *receiptRepository) List(
	ctx context.Context, kind domain.OperationKind, limit int,
) ([]domain.OperationReceipt, error) {
	query := &badgerhold.Query{}
	if kind != "" {
		query = badgerhold.Where("Kind").Eq(kind)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var receipts []domain.OperationReceipt
	if err := r.store.Find(&receipts, query); err != nil {
		return nil, err
	}
	return receipts, nil
}

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	return db, nil
}
