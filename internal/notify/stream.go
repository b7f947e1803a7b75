package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the subset of the Redis client used for publishing.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

const (
	EventPriceChanged   = "PRICE_CHANGED"
	EventProductUpdated = "PRODUCT_UPDATED"
	EventRunCompleted   = "RUN_COMPLETED"

	defaultPublishTimeout = 2 * time.Second
	defaultStreamMaxLen   = 10000
)

// StreamNotifier publishes domain events to a Redis stream. Plain progress
// messages are not published.
type StreamNotifier struct {
	client  StreamClient
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func NewStreamNotifier(client StreamClient, stream string, logger *slog.Logger) *StreamNotifier {
	return &StreamNotifier{
		client:  client,
		stream:  stream,
		maxLen:  defaultStreamMaxLen,
		timeout: defaultPublishTimeout,
		logger:  logger.With("component", "stream_notifier", "stream", stream),
		now:     time.Now,
	}
}

func (n *StreamNotifier) Info(context.Context, string, ...any) {}
func (n *StreamNotifier) Success(context.Context, string, ...any) {}
func (n *StreamNotifier) Warning(context.Context, string, ...any) {}
func (n *StreamNotifier) Error(context.Context, string, ...any) {}

func (n *StreamNotifier) Stats(ctx context.Context, stats Stats) {
	n.publish(ctx, EventRunCompleted, stats.RunID, stats)
}

func (n *StreamNotifier) PriceChange(ctx context.Context, change models.PriceChange) {
	n.publish(ctx, EventPriceChanged, change.Slug, change)
}

func (n *StreamNotifier) ProductUpdate(ctx context.Context, old *models.Product, updated models.Product) {
	n.publish(ctx, EventProductUpdated, updated.Slug, struct {
		Old     *models.Product `json:"old"`
		Updated models.Product  `json:"new"`
	}{old, updated})
}

func (n *StreamNotifier) publish(ctx context.Context, eventType, aggregateID string, payload any) {
	if err := n.xadd(ctx, eventType, aggregateID, payload); err != nil {
		n.logger.WarnContext(ctx, "failed to publish event",
			"event_type", eventType,
			"aggregate_id", aggregateID,
			"error", err)
	}
}

func (n *StreamNotifier) xadd(ctx context.Context, eventType, aggregateID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":           uuid.New().String(),
			"event_type":   eventType,
			"aggregate_id": aggregateID,
			"timestamp":    n.now().UTC().Format(time.RFC3339Nano),
			"source":       "stall-scraper",
			"data":         string(data),
		},
	}

	if _, err := n.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
