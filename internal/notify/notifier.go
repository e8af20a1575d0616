// Package notify tells account owners about transactions on their accounts.
package notify

import (
	"context"
	"time"

	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ConsumerGroup is the Redis Streams consumer group notifications read with.
const ConsumerGroup = "ledger-notify"

// ProcessedMarkers records which transactions have already been notified, so
// redelivered events are skipped.
type ProcessedMarkers interface {
	IsTransactionProcessed(ctx context.Context, transactionID string) bool
	MarkTransactionProcessed(ctx context.Context, transactionID string)
}

type Notifier struct {
	markers ProcessedMarkers
	log     *zap.Logger
}

func NewNotifier(markers ProcessedMarkers, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{markers: markers, log: log}
}

// Handle notifies every owner touched by a transaction.created event. Other
// event types are ignored. A payload that cannot be decoded is logged and
// acknowledged, since redelivering it would fail the same way.
func (n *Notifier) Handle(ctx context.Context, event events.Event) error {
	if event.Type != events.TransactionCreated {
		return nil
	}

	var payload events.TransactionCreatedEvent
	if err := event.Decode(&payload); err != nil {
		n.log.Error("dropping undecodable transaction event", zap.Time("timestamp", event.Timestamp), zap.Error(err))
		return nil
	}
	if n.markers.IsTransactionProcessed(ctx, payload.TransactionID) {
		n.log.Debug("transaction already notified", zap.String("transactionId", payload.TransactionID))
		return nil
	}

	owners := []string{payload.OwnerID}
	if payload.CounterpartOwnerID != "" && payload.CounterpartOwnerID != payload.OwnerID {
		owners = append(owners, payload.CounterpartOwnerID)
	}
	for _, owner := range owners {
		n.log.Info("transaction notification",
			zap.String("ownerId", owner),
			zap.String("transactionId", payload.TransactionID),
			zap.String("kind", payload.Kind),
			zap.Int64("accountNumber", payload.AccountNumber),
			zap.String("amount", payload.Amount.StringFixed(utils.AmountScale)),
		)
	}

	n.markers.MarkTransactionProcessed(ctx, payload.TransactionID)
	return nil
}

// NewConsumer subscribes n to the transaction event stream.
func NewConsumer(client *redis.Client, consumer string, n *Notifier, log *zap.Logger) *events.Subscriber {
	return events.NewSubscriber(client, events.SubscriberConfig{
		Group:         ConsumerGroup,
		Consumer:      consumer,
		Stream:        events.TransactionEventsStream,
		Handler:       n.Handle,
		BlockDuration: 2 * time.Second,
		Logger:        log,
	})
}
