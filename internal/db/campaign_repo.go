package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist. Handlers treat
// it as a non-retryable abort.
var ErrNotFound = errors.New("not found")

// DueCampaign is the projection returned by the promotion scan.
type DueCampaign struct {
	ID          int64
	ScheduledAt time.Time
}

// CampaignRepository handles database operations for campaigns and their
// sending connections.
type CampaignRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *DB, logger *zap.Logger) *CampaignRepository {
	return &CampaignRepository{
		db:     db,
		logger: logger,
	}
}

const campaignColumns = `
	id, tenant_id, name, status, scheduled_at, completed_at,
	message1, message2, message3, message4, message5,
	media_path, media_name, file_list_id, contact_list_id, whatsapp_id,
	created_at, updated_at
`

func scanCampaign(row pgx.Row) (*Campaign, error) {
	var c Campaign
	err := row.Scan(
		&c.ID,
		&c.TenantID,
		&c.Name,
		&c.Status,
		&c.ScheduledAt,
		&c.CompletedAt,
		&c.Message1,
		&c.Message2,
		&c.Message3,
		&c.Message4,
		&c.Message5,
		&c.MediaPath,
		&c.MediaName,
		&c.FileListID,
		&c.ContactListID,
		&c.WhatsappID,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	return &c, nil
}

// Get retrieves a campaign by ID with all template and attachment fields.
func (r *CampaignRepository) Get(ctx context.Context, id int64) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaign(r.db.Pool().QueryRow(ctx, query, id))
}

// FindDue selects SCHEDULED campaigns whose scheduled_at falls inside the
// lookahead window starting now. Used by the promotion scan.
func (r *CampaignRepository) FindDue(ctx context.Context, lookahead time.Duration) ([]DueCampaign, error) {
	query := `
		SELECT id, scheduled_at
		FROM campaigns
		WHERE scheduled_at BETWEEN now() AND now() + make_interval(secs => $1)
		  AND status = $2
		ORDER BY scheduled_at
	`

	rows, err := r.db.Pool().Query(ctx, query, lookahead.Seconds(), CampaignScheduled)
	if err != nil {
		return nil, fmt.Errorf("query due campaigns: %w", err)
	}
	defer rows.Close()

	var due []DueCampaign
	for rows.Next() {
		var d DueCampaign
		if err := rows.Scan(&d.ID, &d.ScheduledAt); err != nil {
			return nil, fmt.Errorf("scan due campaign: %w", err)
		}
		due = append(due, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// SetStatus updates a campaign's status.
func (r *CampaignRepository) SetStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE campaigns SET status = $1, updated_at = now() WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, status, id)
	if err != nil {
		r.logger.Error("failed to update campaign status",
			zap.Error(err),
			zap.Int64("campaign_id", id),
		)
		return fmt.Errorf("update campaign status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkFinished flips a campaign to FINISHED and stamps completed_at.
func (r *CampaignRepository) MarkFinished(ctx context.Context, id int64, completedAt time.Time) error {
	query := `
		UPDATE campaigns
		SET status = $1, completed_at = $2, updated_at = now()
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, CampaignFinished, completedAt, id)
	if err != nil {
		return fmt.Errorf("mark campaign finished: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("campaign finished",
		zap.Int64("campaign_id", id),
		zap.Time("completed_at", completedAt),
	)

	return nil
}

// GetWhatsapp retrieves a sending connection by ID.
func (r *CampaignRepository) GetWhatsapp(ctx context.Context, id int64) (*Whatsapp, error) {
	query := `SELECT id, tenant_id, name, status, session FROM whatsapps WHERE id = $1`

	var w Whatsapp
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.TenantID,
		&w.Name,
		&w.Status,
		&w.Session,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query whatsapp: %w", err)
	}

	return &w, nil
}

// DefaultWhatsapp retrieves the tenant's default sending connection.
func (r *CampaignRepository) DefaultWhatsapp(ctx context.Context, tenantID int64) (*Whatsapp, error) {
	query := `
		SELECT id, tenant_id, name, status, session
		FROM whatsapps
		WHERE tenant_id = $1 AND is_default = true
	`

	var w Whatsapp
	err := r.db.Pool().QueryRow(ctx, query, tenantID).Scan(
		&w.ID,
		&w.TenantID,
		&w.Name,
		&w.Status,
		&w.Session,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query default whatsapp: %w", err)
	}

	return &w, nil
}

// GetFileList retrieves a file list and its options, in insertion order.
func (r *CampaignRepository) GetFileList(ctx context.Context, id int64) (*FileList, error) {
	query := `SELECT id, tenant_id, name FROM file_lists WHERE id = $1`

	var fl FileList
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(&fl.ID, &fl.TenantID, &fl.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query file list: %w", err)
	}

	optQuery := `
		SELECT id, file_list_id, name, path
		FROM file_options
		WHERE file_list_id = $1
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, optQuery, id)
	if err != nil {
		return nil, fmt.Errorf("query file options: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var opt FileOption
		if err := rows.Scan(&opt.ID, &opt.FileListID, &opt.Name, &opt.Path); err != nil {
			return nil, fmt.Errorf("scan file option: %w", err)
		}
		fl.Options = append(fl.Options, opt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &fl, nil
}
