package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is one ledger lifecycle notification pushed to downstream consumers
// (the storefront, operator tooling). Best effort; the ledger never blocks
// or rolls back on a failed publish.
type Event struct {
	Kind      string    `json:"kind"`
	UserId    string    `json:"user_id,omitempty"`
	OrderId   string    `json:"order_id,omitempty"`
	SubjectId string    `json:"subject_id,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Event kinds.
const (
	KindDepositCompleted  = "deposit.completed"
	KindEscrowReleased    = "escrow.released"
	KindEscrowRefunded    = "escrow.refunded"
	KindDisputeOpened     = "dispute.opened"
	KindDisputeResolved   = "dispute.resolved"
	KindWithdrawalCreated = "withdrawal.created"
)

type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// RedisPublisher fans events out on a single pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(addr, password, channel string) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("Failed to marshal notification", zap.Error(err))
		return
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		zap.L().Warn("Failed to publish notification",
			zap.String("kind", event.Kind),
			zap.Error(err))
	}
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// NopPublisher drops every event. Used when no notification sink is
// configured and in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
