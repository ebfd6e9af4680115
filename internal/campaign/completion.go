package campaign

import (
	"context"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/events"
	"github.com/disparo-io/disparo/internal/metrics"
)

// verifyAndFinalize flips the campaign to FINISHED once every targeted
// contact has a delivered shipping record, then publishes a tenant-scoped
// update event regardless of the outcome so the UI tracks incremental
// progress.
func (p *Pipeline) verifyAndFinalize(ctx context.Context, c *db.Campaign) {
	logger := p.logger.With(zap.Int64("campaign_id", c.ID))

	targeted, err := p.contacts.CountValidForCampaign(ctx, c.ID)
	if err != nil {
		logger.Error("completion check: count targeted contacts", zap.Error(err))
		return
	}
	delivered, err := p.shippings.CountDelivered(ctx, c.ID)
	if err != nil {
		logger.Error("completion check: count delivered", zap.Error(err))
		return
	}

	if targeted == delivered {
		completedAt := p.now()
		if err := p.campaigns.MarkFinished(ctx, c.ID, completedAt); err != nil {
			logger.Error("completion check: mark finished", zap.Error(err))
			return
		}
		c.Status = db.CampaignFinished
		c.CompletedAt = &completedAt
		metrics.RecordCampaignFinished()
		logger.Info("campaign finished",
			zap.Int("targeted", targeted),
			zap.Int("delivered", delivered))
	}

	p.events.Publish(ctx, c.TenantID, "campaign", events.Event{
		Action: "update",
		Record: c,
	})
}
