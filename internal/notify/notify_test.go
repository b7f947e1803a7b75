package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/maltedev/stall-scraper/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockStreamClient struct {
	mock.Mock
}

func (m *MockStreamClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1234567890-0")
	}
	return cmd
}

type recorder struct {
	Nop
	changes []models.PriceChange
	updates []*models.Product
}

func (r *recorder) PriceChange(_ context.Context, c models.PriceChange) {
	r.changes = append(r.changes, c)
}

func (r *recorder) ProductUpdate(_ context.Context, old *models.Product, _ models.Product) {
	r.updates = append(r.updates, old)
}

func TestStreamNotifier_PriceChange(t *testing.T) {
	ctx := context.Background()
	client := new(MockStreamClient)
	n := NewStreamNotifier(client, "stream:prices", slog.Default())

	change := models.PriceChange{Slug: "oak-chair", Title: "Oak Chair", OldPrice: 100, NewPrice: 150, ChangePercent: 50}

	client.On("XAdd", mock.Anything, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		if args.Stream != "stream:prices" ||
			args.Values.(map[string]interface{})["event_type"] != EventPriceChanged ||
			args.Values.(map[string]interface{})["aggregate_id"] != "oak-chair" {
			return false
		}
		var decoded models.PriceChange
		if err := json.Unmarshal([]byte(args.Values.(map[string]interface{})["data"].(string)), &decoded); err != nil {
			return false
		}
		return decoded == change
	})).Return(nil).Once()

	n.PriceChange(ctx, change)

	client.AssertExpectations(t)
}

func TestStreamNotifier_ProductUpdate(t *testing.T) {
	client := new(MockStreamClient)
	n := NewStreamNotifier(client, "stream:catalog", slog.Default())

	client.On("XAdd", mock.Anything, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(args.Values.(map[string]interface{})["data"].(string)), &decoded))
		return args.Values.(map[string]interface{})["event_type"] == EventProductUpdated &&
			string(decoded["old"]) == "null"
	})).Return(nil).Once()

	n.ProductUpdate(context.Background(), nil, models.Product{Slug: "lamp", Title: "Lamp"})

	client.AssertExpectations(t)
}

func TestStreamNotifier_PublishFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	client := new(MockStreamClient)
	n := NewStreamNotifier(client, "stream:runs", logger)

	client.On("XAdd", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	assert.NotPanics(t, func() {
		n.Stats(context.Background(), Stats{RunID: "run-1", TotalProducts: 3})
	})
	assert.Contains(t, buf.String(), "failed to publish event")
	assert.Contains(t, buf.String(), "connection refused")
}

func TestStreamNotifier_IgnoresMessages(t *testing.T) {
	client := new(MockStreamClient)
	n := NewStreamNotifier(client, "stream:runs", slog.Default())

	n.Info(context.Background(), "starting")
	n.Warning(context.Background(), "image failed")

	client.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	ctx := context.Background()

	n.ProductUpdate(ctx, nil, models.Product{Slug: "lamp", Title: "Lamp", Price: 12})
	assert.Contains(t, buf.String(), `"msg":"new product"`)
	assert.Contains(t, buf.String(), `"component":"notify"`)

	buf.Reset()
	n.ProductUpdate(ctx, &models.Product{Slug: "lamp", Price: 10}, models.Product{Slug: "lamp", Price: 12})
	assert.Contains(t, buf.String(), `"msg":"product updated"`)
	assert.Contains(t, buf.String(), `"old_price":10`)

	buf.Reset()
	n.PriceChange(ctx, models.NewPriceChange(models.Product{Slug: "lamp", Price: 4}, 3))
	assert.Contains(t, buf.String(), `"change_percent":33.33`, "rounded for display only")

	buf.Reset()
	n.Warning(ctx, "image download failed", "slug", "lamp")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, b}

	m.PriceChange(context.Background(), models.PriceChange{Slug: "x"})
	m.ProductUpdate(context.Background(), nil, models.Product{Slug: "x"})

	for _, r := range []*recorder{a, b} {
		assert.Len(t, r.changes, 1)
		require.Len(t, r.updates, 1)
		assert.Nil(t, r.updates[0])
	}
}
