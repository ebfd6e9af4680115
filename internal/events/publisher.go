// Package events publishes tenant-scoped live-update notifications over
// Redis pub/sub. The web tier subscribes and forwards them to connected
// browsers; delivery is fire-and-forget.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is the envelope pushed to a tenant channel.
type Event struct {
	Action string `json:"action"`
	Record any    `json:"record"`
}

// Publisher emits events on per-tenant Redis channels.
type Publisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewPublisher creates an event publisher.
func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// Channel returns the pub/sub channel for a tenant event stream.
func Channel(tenantID int64, name string) string {
	return fmt.Sprintf("tenant-%d-%s", tenantID, name)
}

// Publish sends an event to the tenant's channel. Errors are logged, never
// returned: no subscriber acknowledgment is expected and a lost UI update
// must not affect the pipeline.
func (p *Publisher) Publish(ctx context.Context, tenantID int64, name string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal event", zap.String("event", name), zap.Error(err))
		return
	}

	if err := p.rdb.Publish(ctx, Channel(tenantID, name), payload).Err(); err != nil {
		p.logger.Warn("publish event",
			zap.Int64("tenant_id", tenantID),
			zap.String("event", name),
			zap.Error(err),
		)
	}
}
