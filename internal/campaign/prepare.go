package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/metrics"
)

// HandlePrepareContact builds one contact's message, materializes the
// shipping record and schedules the dispatch job. Every error is logged and
// swallowed: one contact's failure must not block the rest of the campaign,
// and the queue's own redelivery covers transient faults.
func (p *Pipeline) HandlePrepareContact(ctx context.Context, job *jobs.Job) error {
	var payload PrepareContact
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		p.logger.Error("decode prepare payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	logger := p.logger.With(
		zap.Int64("campaign_id", payload.CampaignID),
		zap.Int64("contact_id", payload.ContactID))

	c, err := p.campaigns.Get(ctx, payload.CampaignID)
	if errors.Is(err, db.ErrNotFound) {
		logger.Error("prepare: campaign not found")
		return nil
	}
	if err != nil {
		logger.Error("prepare: load campaign", zap.Error(err))
		return nil
	}

	contact, err := p.contacts.Get(ctx, payload.ContactID)
	if errors.Is(err, db.ErrNotFound) {
		logger.Error("prepare: contact not found")
		return nil
	}
	if err != nil {
		logger.Error("prepare: load contact", zap.Error(err))
		return nil
	}

	// A record that already carries a job id was scheduled by an earlier
	// execution; redelivered prepare jobs stop here.
	existing, err := p.shippings.Find(ctx, payload.CampaignID, payload.ContactID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		logger.Error("prepare: look up shipping record", zap.Error(err))
		return nil
	}
	if existing != nil && existing.JobID != nil {
		logger.Info("prepare: already scheduled", zap.Int64("shipping_id", existing.ID))
		return nil
	}

	var body string
	if msgs := c.Messages(); len(msgs) > 0 {
		template := msgs[p.randInt(len(msgs))]
		body = MarkerPrefix + BuildMessage(template, contact, payload.Variables)
	}

	record, created, err := p.shippings.FindOrCreate(ctx, &db.CampaignShipping{
		CampaignID: payload.CampaignID,
		ContactID:  payload.ContactID,
		Number:     contact.Number,
		Message:    body,
	})
	if err != nil {
		logger.Error("prepare: upsert shipping record", zap.Error(err))
		return nil
	}

	if !created && record.DeliveredAt == nil {
		if err := p.shippings.UpdateContent(ctx, record.ID, contact.Number, body); err != nil {
			logger.Error("prepare: refresh shipping record", zap.Error(err))
			return nil
		}
		record.Number = contact.Number
		record.Message = body
	}

	if record.DeliveredAt == nil {
		delay := time.Duration(payload.DelayMS) * time.Millisecond
		if delay <= 0 {
			logger.Warn("prepare: non-positive delay clamped", zap.Int64("delay_ms", payload.DelayMS))
			delay = minDispatchDelay
		}

		dispatchID, err := p.queue.Enqueue(ctx, JobDispatchCampaign, DispatchCampaign{
			CampaignID: payload.CampaignID,
			ShippingID: record.ID,
			ContactID:  payload.ContactID,
		}, jobs.Options{Delay: delay})
		if err != nil {
			logger.Error("prepare: enqueue dispatch", zap.Error(err))
			return nil
		}
		if err := p.shippings.MarkScheduled(ctx, record.ID, dispatchID); err != nil {
			logger.Error("prepare: store dispatch job id", zap.Error(err))
			return nil
		}

		metrics.RecordContactPrepared()
		logger.Info("contact prepared",
			zap.Int64("shipping_id", record.ID),
			zap.String("dispatch_job_id", dispatchID),
			zap.Duration("delay", delay))
	}

	// Even a no-op preparation can be the last missing piece of a campaign.
	p.verifyAndFinalize(ctx, c)
	return nil
}
