// Package schedule delivers one-off scheduled messages: single contacts,
// fixed send times, no fan-out. It shares the campaign pipeline's transport
// and queue but runs its own monitor and send handlers.
package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/disparo-io/disparo/internal/campaign"
	"github.com/disparo-io/disparo/internal/db"
	"github.com/disparo-io/disparo/internal/events"
	"github.com/disparo-io/disparo/internal/jobs"
	"github.com/disparo-io/disparo/internal/metrics"
	"github.com/disparo-io/disparo/internal/transport"
)

// Job names for the scheduled-message flow.
const (
	JobVerifySchedules = "schedule:verify"
	JobSendSchedule    = "schedule:send"
)

// Marker prefixes scheduled sends. Distinct from the campaign marker so the
// receiving side can tell the two automated flows apart.
const Marker = "⁤"

// SendPayload identifies one due schedule.
type SendPayload struct {
	ScheduleID int64 `json:"schedule_id"`
}

// Store reads and mutates schedule rows.
type Store interface {
	Get(ctx context.Context, id int64) (*db.Schedule, error)
	FindDue(ctx context.Context, window time.Duration) ([]*db.Schedule, error)
	SetStatus(ctx context.Context, id int64, status string) error
	MarkSent(ctx context.Context, id int64, at time.Time) error
}

// ContactStore resolves the schedule's target contact.
type ContactStore interface {
	Get(ctx context.Context, id int64) (*db.ContactListItem, error)
}

// ConnectionStore resolves sending connections, by id or tenant default.
type ConnectionStore interface {
	GetWhatsapp(ctx context.Context, id int64) (*db.Whatsapp, error)
	DefaultWhatsapp(ctx context.Context, tenantID int64) (*db.Whatsapp, error)
}

// Limiter throttles sends per connection.
type Limiter interface {
	Wait(ctx context.Context, whatsappID int64) error
}

// Config tunes the schedule monitor.
type Config struct {
	// Window bounds how far ahead the monitor promotes pending schedules.
	Window time.Duration
	// SendDelay is the fixed delay between promotion and the send job.
	SendDelay time.Duration
	// ScanInterval is the monitor period.
	ScanInterval time.Duration
	// PublicDir is the root of tenant-uploaded media on disk.
	PublicDir string
}

// Monitor promotes pending schedules into send jobs and executes the sends.
type Monitor struct {
	store    Store
	contacts ContactStore
	conns    ConnectionStore
	queue    campaign.Enqueuer
	sessions campaign.SessionResolver
	limiter  Limiter
	events   campaign.EventSink
	logger   *zap.Logger
	cfg      Config

	now func() time.Time
}

// NewMonitor creates a Monitor with a real clock.
func NewMonitor(
	store Store,
	contacts ContactStore,
	conns ConnectionStore,
	queue campaign.Enqueuer,
	sessions campaign.SessionResolver,
	limiter Limiter,
	sink campaign.EventSink,
	logger *zap.Logger,
	cfg Config,
) *Monitor {
	return &Monitor{
		store:    store,
		contacts: contacts,
		conns:    conns,
		queue:    queue,
		sessions: sessions,
		limiter:  limiter,
		events:   sink,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Register binds the monitor's handlers to the queue.
func (m *Monitor) Register(q *jobs.Queue) {
	q.Handle(JobVerifySchedules, m.HandleVerifySchedules)
	q.Handle(JobSendSchedule, m.HandleSendSchedule)
}

// HandleVerifySchedules promotes PENDING schedules due inside the window to
// SCHEDULED and enqueues their send jobs with the fixed send delay. The
// status flip keeps later scans from promoting the same row twice.
func (m *Monitor) HandleVerifySchedules(ctx context.Context, _ *jobs.Job) error {
	due, err := m.store.FindDue(ctx, m.cfg.Window)
	if err != nil {
		return fmt.Errorf("find due schedules: %w", err)
	}

	for _, s := range due {
		if err := m.store.SetStatus(ctx, s.ID, db.ScheduleScheduled); err != nil {
			m.logger.Error("promote schedule", zap.Int64("schedule_id", s.ID), zap.Error(err))
			continue
		}
		if _, err := m.queue.Enqueue(ctx, JobSendSchedule, SendPayload{ScheduleID: s.ID}, jobs.Options{
			Delay: m.cfg.SendDelay,
		}); err != nil {
			m.logger.Error("enqueue schedule send", zap.Int64("schedule_id", s.ID), zap.Error(err))
			continue
		}
		m.logger.Info("schedule promoted",
			zap.Int64("schedule_id", s.ID),
			zap.Time("send_at", s.SendAt))
	}

	return nil
}

// HandleSendSchedule delivers one scheduled message. Send failures flip the
// schedule to ERROR; they are not retried automatically.
func (m *Monitor) HandleSendSchedule(ctx context.Context, job *jobs.Job) error {
	var payload SendPayload
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		m.logger.Error("decode schedule payload", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	logger := m.logger.With(zap.Int64("schedule_id", payload.ScheduleID))

	s, err := m.store.Get(ctx, payload.ScheduleID)
	if errors.Is(err, db.ErrNotFound) {
		logger.Error("send: schedule not found")
		return nil
	}
	if err != nil {
		logger.Error("send: load schedule", zap.Error(err))
		return nil
	}
	if s.SentAt != nil {
		logger.Info("send: already sent, skipping")
		return nil
	}

	if err := m.send(ctx, logger, s); err != nil {
		logger.Error("send: scheduled message failed", zap.Error(err))
		metrics.RecordScheduledSend("error")
		if serr := m.store.SetStatus(ctx, s.ID, db.ScheduleError); serr != nil {
			logger.Error("send: flag schedule error", zap.Error(serr))
		}
		return nil
	}

	sentAt := m.now()
	if err := m.store.MarkSent(ctx, s.ID, sentAt); err != nil {
		logger.Error("send: mark sent", zap.Error(err))
		return nil
	}
	s.Status = db.ScheduleSent
	s.SentAt = &sentAt

	metrics.RecordScheduledSend("sent")
	m.events.Publish(ctx, s.TenantID, "schedule", events.Event{Action: "update", Record: s})
	logger.Info("scheduled message sent", zap.Int64("contact_id", s.ContactID))
	return nil
}

func (m *Monitor) send(ctx context.Context, logger *zap.Logger, s *db.Schedule) error {
	contact, err := m.contacts.Get(ctx, s.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	var conn *db.Whatsapp
	if s.WhatsappID != nil {
		conn, err = m.conns.GetWhatsapp(ctx, *s.WhatsappID)
	} else {
		conn, err = m.conns.DefaultWhatsapp(ctx, s.TenantID)
	}
	if err != nil {
		return fmt.Errorf("resolve connection: %w", err)
	}

	session, err := m.sessions.Session(ctx, conn)
	if err != nil {
		return fmt.Errorf("resolve session: %w", err)
	}
	if !session.Connected() {
		return fmt.Errorf("session %q has no authenticated identity", conn.Session)
	}

	if err := m.limiter.Wait(ctx, conn.ID); err != nil {
		return fmt.Errorf("send limiter: %w", err)
	}

	chatID := transport.ChatID(contact.Number)
	body := Marker + campaign.BuildMessage(s.Body, contact, nil)

	if s.MediaPath != nil {
		opts, err := transport.MessageOptions(filepath.Base(*s.MediaPath), filepath.Join(m.cfg.PublicDir, *s.MediaPath), body)
		if err != nil {
			return fmt.Errorf("build media options: %w", err)
		}
		if !opts.IsZero() {
			return session.SendMedia(ctx, chatID, opts)
		}
	}

	return session.SendText(ctx, chatID, body)
}
