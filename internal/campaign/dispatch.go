package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/metrics"
	"github.com/disparo-io/disparo/internal/transport"
)

// HandleDispatchCampaign sends one prepared shipping record. It fires after
// the pacing delay has elapsed, re-checks every precondition against current
// state, sends attachments and the message, then marks the record delivered
// with this job's id. Like preparation, failures are logged and swallowed;
// the delivered-at and job-id guards keep redelivery safe.
func (p *Pipeline) HandleDispatchCampaign(ctx context.Context, job *jobs.Job) error {
	var payload DispatchCampaign
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		p.logger.Error("decode dispatch payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	logger := p.logger.With(
		zap.Int64("campaign_id", payload.CampaignID),
		zap.Int64("shipping_id", payload.ShippingID),
		zap.String("job_id", job.ID))

	c, err := p.campaigns.Get(ctx, payload.CampaignID)
	if errors.Is(err, db.ErrNotFound) {
		logger.Error("dispatch: campaign not found")
		return nil
	}
	if err != nil {
		logger.Error("dispatch: load campaign", zap.Error(err))
		return nil
	}
	if c.Status == db.CampaignCanceled {
		logger.Info("dispatch: campaign canceled, skipping")
		metrics.RecordDispatch("skipped")
		return nil
	}
	if c.WhatsappID == nil {
		logger.Error("dispatch: campaign has no sending connection")
		return nil
	}

	conn, err := p.campaigns.GetWhatsapp(ctx, *c.WhatsappID)
	if err != nil {
		logger.Error("dispatch: load connection", zap.Int64("whatsapp_id", *c.WhatsappID), zap.Error(err))
		return nil
	}
	session, err := p.sessions.Session(ctx, conn)
	if err != nil {
		logger.Error("dispatch: resolve session", zap.String("session", conn.Session), zap.Error(err))
		return nil
	}
	if !session.Connected() {
		logger.Error("dispatch: session has no authenticated identity", zap.String("session", conn.Session))
		return nil
	}

	record, err := p.shippings.Get(ctx, payload.ShippingID)
	if errors.Is(err, db.ErrNotFound) {
		logger.Error("dispatch: shipping record not found")
		return nil
	}
	if err != nil {
		logger.Error("dispatch: load shipping record", zap.Error(err))
		return nil
	}

	if record.DeliveredAt != nil {
		logger.Info("dispatch: already delivered, skipping")
		metrics.RecordDispatch("skipped")
		return nil
	}
	if record.JobID != nil && *record.JobID != job.ID {
		logger.Info("dispatch: superseded by newer job, skipping",
			zap.String("current_job_id", *record.JobID))
		metrics.RecordDispatch("skipped")
		return nil
	}

	chatID := transport.ChatID(record.Number)

	if c.FileListID != nil {
		p.sendFileList(ctx, logger, session, chatID, *c.FileListID)
	}

	// A campaign with media never falls back to a separate text message;
	// the record's message travels as the media caption.
	if c.MediaPath != nil && c.MediaName != nil {
		opts, err := transport.MessageOptions(*c.MediaName, filepath.Join(p.cfg.PublicDir, *c.MediaPath), record.Message)
		if err != nil {
			logger.Error("dispatch: build media options", zap.String("media", *c.MediaPath), zap.Error(err))
			metrics.RecordDispatch("error")
			return nil
		}
		if opts.IsZero() {
			logger.Warn("dispatch: media yielded nothing sendable, skipping send", zap.String("media", *c.MediaPath))
		} else if err := session.SendMedia(ctx, chatID, opts); err != nil {
			logger.Error("dispatch: send media message", zap.Error(err))
			metrics.RecordDispatch("error")
			return nil
		}
	} else if err := session.SendText(ctx, chatID, record.Message); err != nil {
		logger.Error("dispatch: send text message", zap.Error(err))
		metrics.RecordDispatch("error")
		return nil
	}

	delivered, err := p.shippings.MarkDelivered(ctx, record.ID, job.ID, p.now())
	if err != nil {
		logger.Error("dispatch: mark delivered", zap.Error(err))
		return nil
	}
	if !delivered {
		logger.Warn("dispatch: delivery mark lost race, record already updated")
		metrics.RecordDispatch("skipped")
		return nil
	}

	metrics.RecordDispatch("delivered")
	logger.Info("campaign message delivered", zap.Int64("contact_id", record.ContactID))

	p.verifyAndFinalize(ctx, c)
	return nil
}

// sendFileList fans out a campaign's attachment list as discrete media
// messages, in list order. A failed attachment is logged and must not block
// the primary message.
func (p *Pipeline) sendFileList(ctx context.Context, logger *zap.Logger, session Sender, chatID string, fileListID int64) {
	list, err := p.campaigns.GetFileList(ctx, fileListID)
	if err != nil {
		logger.Error("dispatch: load file list", zap.Int64("file_list_id", fileListID), zap.Error(err))
		return
	}

	folder := filepath.Join(p.cfg.PublicDir, "fileList", strconv.FormatInt(list.ID, 10))
	for _, opt := range list.Options {
		opts, err := transport.MessageOptions(opt.Path, filepath.Join(folder, opt.Path), opt.Name)
		if err != nil {
			logger.Error("dispatch: build file-list options", zap.String("file", opt.Path), zap.Error(err))
			metrics.RecordMediaSend("error")
			continue
		}
		if err := session.SendMedia(ctx, chatID, opts); err != nil {
			logger.Error("dispatch: send file-list media", zap.String("file", opt.Path), zap.Error(err))
			metrics.RecordMediaSend("error")
			continue
		}
		metrics.RecordMediaSend("sent")
		logger.Info("file-list media sent", zap.String("file", opt.Path))
	}
}
