package campaign

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/metrics"
)

// HandleVerifyCampaigns is the promotion scan. It runs on a fixed interval
// and enqueues a fan-out job for every SCHEDULED campaign whose start time
// falls inside the lookahead window, delayed until that start time. The scan
// does not mutate campaign status; the deterministic job id makes later
// scans of the same still-SCHEDULED campaign a no-op, and anything that
// slips through collapses downstream on the shipping-record guards.
func (p *Pipeline) HandleVerifyCampaigns(ctx context.Context, _ *jobs.Job) error {
	due, err := p.campaigns.FindDue(ctx, p.cfg.Lookahead)
	if err != nil {
		return fmt.Errorf("find due campaigns: %w", err)
	}

	for _, c := range due {
		delay := c.ScheduledAt.Sub(p.now())
		if delay < 0 {
			delay = 0
		}

		id, created, err := p.queue.EnqueueUnique(ctx, ProcessJobID(c.ID), JobProcessCampaign,
			StartProcessing{CampaignID: c.ID}, jobs.Options{
				Delay:    delay,
				Attempts: maxFanOutAttempts,
				Backoff:  retryBackoff,
			})
		if err != nil {
			p.logger.Error("enqueue campaign fan-out",
				zap.Int64("campaign_id", c.ID),
				zap.Error(err))
			continue
		}
		if !created {
			continue
		}

		metrics.RecordCampaignPromoted()
		p.logger.Info("campaign promoted",
			zap.Int64("campaign_id", c.ID),
			zap.String("job_id", id),
			zap.Duration("delay", delay))
	}

	return nil
}
