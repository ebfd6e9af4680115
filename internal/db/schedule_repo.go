package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ScheduleRepository handles one-off scheduled messages.
type ScheduleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db *DB, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{
		db:     db,
		logger: logger,
	}
}

const scheduleColumns = `
	id, tenant_id, contact_id, whatsapp_id, body, media_path, send_at, sent_at, status
`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.ContactID,
		&s.WhatsappID,
		&s.Body,
		&s.MediaPath,
		&s.SendAt,
		&s.SentAt,
		&s.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}

// Get retrieves a schedule by ID.
func (r *ScheduleRepository) Get(ctx context.Context, id int64) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`
	return scanSchedule(r.db.Pool().QueryRow(ctx, query, id))
}

// FindDue returns PENDING, unsent schedules whose send_at falls within
// [now, now+window]. The monitor promotes these to SCHEDULED.
func (r *ScheduleRepository) FindDue(ctx context.Context, window time.Duration) ([]*Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE status = $1
		  AND sent_at IS NULL
		  AND send_at BETWEEN now() AND now() + make_interval(secs => $2)
		ORDER BY send_at
	`

	rows, err := r.db.Pool().Query(ctx, query, SchedulePending, window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return schedules, nil
}

// SetStatus updates a schedule's status.
func (r *ScheduleRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE schedules SET status = $1 WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkSent stamps sent_at and flips the schedule to SENT.
func (r *ScheduleRepository) MarkSent(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE schedules SET status = $1, sent_at = $2 WHERE id = $3`

	result, err := r.db.Pool().Exec(ctx, query, ScheduleSent, at, id)
	if err != nil {
		return fmt.Errorf("mark schedule sent: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
