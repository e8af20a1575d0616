package repository

import (
	"context"

	"github.com/eaglebank/ledger/shared/models"
	sharedredis "github.com/eaglebank/ledger/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const transactionViewKeyPrefix = "transaction:view:"

// TransactionReadRepository serves transaction views. Records never change,
// so cached views carry no TTL.
type TransactionReadRepository struct {
	store Store
	cache *sharedredis.ViewCache[models.TransactionView]
}

func NewTransactionReadRepository(store Store, redisClient *goredis.Client, log *zap.Logger) *TransactionReadRepository {
	return &TransactionReadRepository{
		store: store,
		cache: sharedredis.NewViewCache[models.TransactionView](redisClient, 0, log),
	}
}

// GetByID returns a TransactionView by attempting Redis first, then the store.
func (r *TransactionReadRepository) GetByID(ctx context.Context, id string) (*models.TransactionView, error) {
	if view, ok := r.cache.Get(ctx, transactionViewKeyPrefix+id); ok {
		return view, nil
	}

	record, err := r.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	view := models.RecordToView(record)
	r.CacheTransactionView(ctx, view)
	return view, nil
}

// ListByAccountNumber returns every transaction touching the account, newest
// first, straight from the store.
func (r *TransactionReadRepository) ListByAccountNumber(ctx context.Context, number int64) ([]models.TransactionView, error) {
	records, err := r.store.ListRecordsByAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	views := make([]models.TransactionView, 0, len(records))
	for _, rec := range records {
		views = append(views, *models.RecordToView(rec))
	}
	return views, nil
}

// CacheTransactionView stores the read model for a transaction in Redis.
// Called by the movement service right after commit.
func (r *TransactionReadRepository) CacheTransactionView(ctx context.Context, view *models.TransactionView) {
	r.cache.Set(ctx, transactionViewKeyPrefix+view.ID, view)
}
