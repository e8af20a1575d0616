package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handler func(ctx context.Context, event Event) error

type Subscriber struct {
	client        *redis.Client
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	reclaimIdle   time.Duration
	log           *zap.Logger
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	// ReclaimIdle is how long a delivered message may stay unacknowledged
	// before Reclaim hands it to this consumer again.
	ReclaimIdle   time.Duration
	Logger        *zap.Logger
}

func NewSubscriber(client *redis.Client, config SubscriberConfig) *Subscriber {
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.BlockDuration == 0 {
		config.BlockDuration = 5 * time.Second
	}
	if config.ReclaimIdle == 0 {
		config.ReclaimIdle = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Subscriber{
		client:        client,
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		reclaimIdle:   config.ReclaimIdle,
		log:           config.Logger.With(zap.String("stream", config.Stream), zap.String("group", config.Group)),
	}
}

// Start creates the consumer group if needed and consumes until ctx is done.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}

	s.log.Info("subscriber started", zap.String("consumer", s.consumer))

	lastReclaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("subscriber stopping")
			return ctx.Err()
		default:
			if time.Since(lastReclaim) >= s.reclaimIdle {
				if err := s.Reclaim(ctx); err != nil && ctx.Err() == nil {
					s.log.Error("error reclaiming messages", zap.Error(err))
				}
				lastReclaim = time.Now()
			}
			if err := s.ReadOnce(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.log.Error("error reading messages", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (s *Subscriber) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// ReadOnce reads and handles a single batch of new messages. Messages whose
// handler fails stay pending until Reclaim picks them up.
func (s *Subscriber) ReadOnce(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		s.handleMessages(ctx, stream.Messages)
	}

	return nil
}

// Reclaim claims messages left pending longer than the reclaim idle time, by
// any consumer of the group, and handles them again.
func (s *Subscriber) Reclaim(ctx context.Context) error {
	start := "0-0"
	for {
		messages, next, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.reclaimIdle,
			Start:    start,
			Count:    s.batchSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to reclaim pending messages: %w", err)
		}

		if len(messages) > 0 {
			s.log.Info("reclaimed pending messages", zap.Int("count", len(messages)))
			s.handleMessages(ctx, messages)
		}
		if next == "0-0" || next == "" {
			return nil
		}
		start = next
	}
}

func (s *Subscriber) handleMessages(ctx context.Context, messages []redis.XMessage) {
	for _, message := range messages {
		if err := s.processMessage(ctx, message); err != nil {
			s.log.Warn("failed to process message", zap.String("messageId", message.ID), zap.Error(err))
			continue
		}

		if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
			s.log.Warn("failed to ack message", zap.String("messageId", message.ID), zap.Error(err))
		}
	}
}

func (s *Subscriber) processMessage(ctx context.Context, message redis.XMessage) error {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return s.handler(ctx, event)
}
