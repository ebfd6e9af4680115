package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/metrics"
)

// HandleProcessCampaign is the batch fan-out. It streams the campaign's valid
// contacts in bounded batches, computes each contact's pacing delay from its
// absolute index, enqueues one prepare job per contact and finally flips the
// campaign to IN_PROGRESS. A pause between batches throttles producer-side
// load.
//
// Errors are not returned to the queue: the handler decides retry itself so
// that the terminal log carries the fan-out diagnostics.
func (p *Pipeline) HandleProcessCampaign(ctx context.Context, job *jobs.Job) error {
	var payload StartProcessing
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		p.logger.Error("decode fan-out payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	start := p.now()
	enqueued, err := p.fanOut(ctx, payload.CampaignID)
	duration := time.Since(start)
	metrics.RecordJobDuration("campaign_process", duration)

	if err != nil {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		p.logger.Error("campaign fan-out failed",
			zap.Int64("campaign_id", payload.CampaignID),
			zap.Int("enqueued", enqueued),
			zap.Duration("duration", duration),
			zap.Uint64("heap_alloc", mem.HeapAlloc),
			zap.Int("attempt", job.AttemptsMade),
			zap.Error(err))
		if job.AttemptsMade < maxFanOutAttempts {
			job.Retry()
		} else {
			p.logger.Error("campaign fan-out abandoned, operator intervention required",
				zap.Int64("campaign_id", payload.CampaignID))
		}
		return nil
	}

	p.logger.Info("campaign fan-out finished",
		zap.Int64("campaign_id", payload.CampaignID),
		zap.Int("contacts", enqueued),
		zap.Duration("duration", duration))
	return nil
}

// fanOut runs the batch loop and returns how many prepare jobs it enqueued.
func (p *Pipeline) fanOut(ctx context.Context, campaignID int64) (int, error) {
	c, err := p.campaigns.Get(ctx, campaignID)
	if errors.Is(err, db.ErrNotFound) {
		p.logger.Error("fan-out: campaign not found", zap.Int64("campaign_id", campaignID))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load campaign: %w", err)
	}
	if c.ContactListID == nil {
		p.logger.Error("fan-out: campaign has no contact list", zap.Int64("campaign_id", campaignID))
		return 0, nil
	}

	settings, err := ResolveSettings(ctx, p.settings, c.TenantID)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for offset := 0; ; {
		batch, err := p.contacts.ListValidForCampaign(ctx, campaignID, p.cfg.BatchSize, offset)
		if err != nil {
			return enqueued, fmt.Errorf("list contacts at offset %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}

		for i, contact := range batch {
			// Preparation runs immediately; the pacing delay rides in the
			// payload and is applied once, to the dispatch job.
			delay := ComputeDelay(offset+i, c.ScheduledAt, p.now(), settings)
			_, err := p.queue.Enqueue(ctx, JobPrepareContact, PrepareContact{
				CampaignID: campaignID,
				ContactID:  contact.ID,
				Variables:  settings.Variables,
				DelayMS:    delay.Milliseconds(),
			}, jobs.Options{
				Attempts: maxFanOutAttempts,
				Backoff:  retryBackoff,
			})
			if err != nil {
				return enqueued, fmt.Errorf("enqueue prepare for contact %d: %w", contact.ID, err)
			}
			enqueued++
		}

		offset += len(batch)
		if len(batch) < p.cfg.BatchSize {
			break
		}

		select {
		case <-time.After(p.cfg.BatchPause):
		case <-ctx.Done():
			return enqueued, ctx.Err()
		}
	}

	if err := p.campaigns.SetStatus(ctx, campaignID, db.CampaignInProgress); err != nil {
		return enqueued, fmt.Errorf("set campaign in progress: %w", err)
	}
	return enqueued, nil
}
