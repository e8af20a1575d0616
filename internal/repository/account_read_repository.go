package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eaglebank/ledger/internal/errs"
	"github.com/eaglebank/ledger/shared/models"
	sharedredis "github.com/eaglebank/ledger/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	accountViewKeyPrefix  = "account:view:"
	accountViewTTL        = 5 * time.Minute
	processedTxnKeyPrefix = "processed:txn:"
	processedTxnTTL       = 72 * time.Hour
)

// accountCacheEntry is the internal Redis representation of an account.
// Unlike models.AccountView, it includes OwnerID so that ownership can be
// resolved from the cache.
type accountCacheEntry struct {
	Number    int64           `json:"number"`
	OwnerID   string          `json:"ownerId"`
	BranchID  string          `json:"branchId,omitempty"`
	BankID    string          `json:"bankId,omitempty"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"createdTimestamp"`
	UpdatedAt time.Time       `json:"updatedTimestamp"`
}

// AccountReadRepository serves account views from Redis and falls back to the
// write store, warming the cache on every cold read.
type AccountReadRepository struct {
	store Store
	redis *goredis.Client
	cache *sharedredis.ViewCache[accountCacheEntry]
	log   *zap.Logger
}

func NewAccountReadRepository(store Store, redisClient *goredis.Client, log *zap.Logger) *AccountReadRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountReadRepository{
		store: store,
		redis: redisClient,
		cache: sharedredis.NewViewCache[accountCacheEntry](redisClient, accountViewTTL, log),
		log:   log,
	}
}

func accountViewKey(number int64) string {
	return fmt.Sprintf("%s%d", accountViewKeyPrefix, number)
}

func cacheEntryToView(e *accountCacheEntry) *models.AccountView {
	return &models.AccountView{
		Number:    e.Number,
		OwnerID:   e.OwnerID,
		BranchID:  e.BranchID,
		BankID:    e.BankID,
		Balance:   e.Balance,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// GetByNumber returns an AccountView, trying Redis first then the store.
func (r *AccountReadRepository) GetByNumber(ctx context.Context, number int64) (*models.AccountView, error) {
	if entry, ok := r.cache.Get(ctx, accountViewKey(number)); ok {
		return cacheEntryToView(entry), nil
	}

	account, err := r.store.GetAccount(ctx, number)
	if err != nil {
		return nil, err
	}
	view, err := r.BuildView(ctx, account)
	if err != nil {
		return nil, err
	}

	r.CacheAccountView(ctx, view)
	return view, nil
}

// BuildView resolves the bank of the account's branch and projects the
// account. Accounts without a branch get an empty bank.
func (r *AccountReadRepository) BuildView(ctx context.Context, account *models.Account) (*models.AccountView, error) {
	var bankID string
	if account.HasBranch() {
		branch, err := r.store.GetBranch(ctx, account.BranchID)
		switch {
		case err == nil:
			bankID = branch.BankID
		case !errors.Is(err, errs.ErrNotFound):
			return nil, fmt.Errorf("failed to resolve bank of account %d: %w", account.Number, err)
		}
	}
	return models.AccountToView(account, bankID), nil
}

// CacheAccountView stores or refreshes the Redis read model for an account.
// Called by the command services after every mutation and on cold reads; the
// view's UpdatedAt versions the entry, so a view older than the cached one is
// dropped.
func (r *AccountReadRepository) CacheAccountView(ctx context.Context, view *models.AccountView) {
	entry := &accountCacheEntry{
		Number:    view.Number,
		OwnerID:   view.OwnerID,
		BranchID:  view.BranchID,
		BankID:    view.BankID,
		Balance:   view.Balance,
		CreatedAt: view.CreatedAt,
		UpdatedAt: view.UpdatedAt,
	}
	r.cache.SetIfNewer(ctx, accountViewKey(view.Number), view.UpdatedAt.UnixMicro(), entry)
}

// InvalidateAccountView removes the Redis read model entry for an account.
func (r *AccountReadRepository) InvalidateAccountView(ctx context.Context, number int64) {
	r.cache.Delete(ctx, accountViewKey(number))
}

// IsTransactionProcessed reports whether a consumer has already handled this
// transaction id. Guards against duplicate delivery under at-least-once
// Redis Streams semantics.
func (r *AccountReadRepository) IsTransactionProcessed(ctx context.Context, transactionID string) bool {
	val, err := r.redis.Exists(ctx, processedTxnKeyPrefix+transactionID).Result()
	return err == nil && val > 0
}

// MarkTransactionProcessed records that a transaction has been handled. The
// marker expires after 72 hours, which covers any realistic redelivery window.
func (r *AccountReadRepository) MarkTransactionProcessed(ctx context.Context, transactionID string) {
	key := processedTxnKeyPrefix + transactionID
	if err := r.redis.Set(ctx, key, "1", processedTxnTTL).Err(); err != nil {
		r.log.Warn("failed to mark transaction processed", zap.String("transactionId", transactionID), zap.Error(err))
	}
}
