package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ShippingRepository handles campaign shipping records, one row per
// (campaign, contact) pair. The unique constraint on that pair is the only
// mutual exclusion across concurrent preparation attempts; no other locking
// is used.
type ShippingRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewShippingRepository creates a new shipping repository
func NewShippingRepository(db *DB, logger *zap.Logger) *ShippingRepository {
	return &ShippingRepository{
		db:     db,
		logger: logger,
	}
}

const shippingColumns = `
	id, campaign_id, contact_id, number, message, job_id, delivered_at,
	created_at, updated_at
`

func scanShipping(row pgx.Row) (*CampaignShipping, error) {
	var s CampaignShipping
	err := row.Scan(
		&s.ID,
		&s.CampaignID,
		&s.ContactID,
		&s.Number,
		&s.Message,
		&s.JobID,
		&s.DeliveredAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan shipping record: %w", err)
	}
	return &s, nil
}

// Get retrieves a shipping record by ID.
func (r *ShippingRepository) Get(ctx context.Context, id int64) (*CampaignShipping, error) {
	query := `SELECT ` + shippingColumns + ` FROM campaign_shippings WHERE id = $1`
	return scanShipping(r.db.Pool().QueryRow(ctx, query, id))
}

// Find retrieves the shipping record for a (campaign, contact) pair, or
// ErrNotFound.
func (r *ShippingRepository) Find(ctx context.Context, campaignID, contactID int64) (*CampaignShipping, error) {
	query := `SELECT ` + shippingColumns + ` FROM campaign_shippings WHERE campaign_id = $1 AND contact_id = $2`
	return scanShipping(r.db.Pool().QueryRow(ctx, query, campaignID, contactID))
}

// FindOrCreate inserts a shipping record for the (campaign, contact) pair or
// returns the existing one. The insert relies on ON CONFLICT DO NOTHING, so a
// duplicate-create race collapses to the follow-up lookup.
func (r *ShippingRepository) FindOrCreate(ctx context.Context, defaults *CampaignShipping) (*CampaignShipping, bool, error) {
	insert := `
		INSERT INTO campaign_shippings (campaign_id, contact_id, number, message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (campaign_id, contact_id) DO NOTHING
		RETURNING ` + shippingColumns

	record, err := scanShipping(r.db.Pool().QueryRow(ctx, insert,
		defaults.CampaignID,
		defaults.ContactID,
		defaults.Number,
		defaults.Message,
	))
	if err == nil {
		r.logger.Info("shipping record created",
			zap.Int64("campaign_id", defaults.CampaignID),
			zap.Int64("contact_id", defaults.ContactID),
		)
		return record, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("insert shipping record: %w", err)
	}

	record, err = r.Find(ctx, defaults.CampaignID, defaults.ContactID)
	if err != nil {
		return nil, false, err
	}

	return record, false, nil
}

// UpdateContent overwrites the stored number and message of an undelivered
// record with freshly computed values.
func (r *ShippingRepository) UpdateContent(ctx context.Context, id int64, number, message string) error {
	query := `
		UPDATE campaign_shippings
		SET number = $1, message = $2, updated_at = now()
		WHERE id = $3 AND delivered_at IS NULL
	`

	if _, err := r.db.Pool().Exec(ctx, query, number, message, id); err != nil {
		return fmt.Errorf("update shipping content: %w", err)
	}

	return nil
}

// MarkScheduled records the job id of the currently scheduled dispatch
// attempt for this record.
func (r *ShippingRepository) MarkScheduled(ctx context.Context, id int64, jobID string) error {
	query := `UPDATE campaign_shippings SET job_id = $1, updated_at = now() WHERE id = $2`

	result, err := r.db.Pool().Exec(ctx, query, jobID, id)
	if err != nil {
		return fmt.Errorf("mark shipping scheduled: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkDelivered stamps delivered_at, but only when the record has not been
// delivered yet and its stored job id does not point at a different
// (superseding) job. The condition lives in the WHERE clause so the write is
// a compare-and-swap; a false return means a duplicate or stale job fired.
func (r *ShippingRepository) MarkDelivered(ctx context.Context, id int64, jobID string, at time.Time) (bool, error) {
	query := `
		UPDATE campaign_shippings
		SET delivered_at = $1, job_id = $2, updated_at = now()
		WHERE id = $3
		  AND delivered_at IS NULL
		  AND (job_id IS NULL OR job_id = $2)
	`

	result, err := r.db.Pool().Exec(ctx, query, at, jobID, id)
	if err != nil {
		return false, fmt.Errorf("mark shipping delivered: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// CountDelivered counts shipping records with a non-null delivered_at for a
// campaign.
func (r *ShippingRepository) CountDelivered(ctx context.Context, campaignID int64) (int, error) {
	query := `
		SELECT count(*)
		FROM campaign_shippings
		WHERE campaign_id = $1 AND delivered_at IS NOT NULL
	`

	var n int
	if err := r.db.Pool().QueryRow(ctx, query, campaignID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count delivered: %w", err)
	}

	return n, nil
}
