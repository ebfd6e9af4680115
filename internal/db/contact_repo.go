package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ContactRepository reads contact-list items. The campaign pipeline never
// writes contacts; lists are owned by the web tier.
type ContactRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewContactRepository creates a new contact repository
func NewContactRepository(db *DB, logger *zap.Logger) *ContactRepository {
	return &ContactRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves a single contact-list item by ID.
func (r *ContactRepository) Get(ctx context.Context, id int64) (*ContactListItem, error) {
	query := `
		SELECT id, contact_list_id, tenant_id, name, number, email, is_whatsapp_valid
		FROM contact_list_items
		WHERE id = $1
	`

	var c ContactListItem
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.ContactListID,
		&c.TenantID,
		&c.Name,
		&c.Number,
		&c.Email,
		&c.IsWhatsappValid,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query contact: %w", err)
	}

	return &c, nil
}

// ListValidForCampaign returns one page of valid contacts from the campaign's
// contact list, ordered by id so pagination is stable. A campaign without a
// contact list yields an empty page. The final page returns fewer than limit
// items, which is the caller's termination signal.
func (r *ContactRepository) ListValidForCampaign(ctx context.Context, campaignID int64, limit, offset int) ([]*ContactListItem, error) {
	var contactListID *int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT contact_list_id FROM campaigns WHERE id = $1`, campaignID,
	).Scan(&contactListID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign contact list: %w", err)
	}
	if contactListID == nil {
		return nil, nil
	}

	query := `
		SELECT id, contact_list_id, tenant_id, name, number, email, is_whatsapp_valid
		FROM contact_list_items
		WHERE contact_list_id = $1 AND is_whatsapp_valid = true
		ORDER BY id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, *contactListID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*ContactListItem
	for rows.Next() {
		var c ContactListItem
		err := rows.Scan(
			&c.ID,
			&c.ContactListID,
			&c.TenantID,
			&c.Name,
			&c.Number,
			&c.Email,
			&c.IsWhatsappValid,
		)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return contacts, nil
}

// CountValidForCampaign counts the valid contacts targeted by a campaign.
// Used together with the delivered count to detect completion.
func (r *ContactRepository) CountValidForCampaign(ctx context.Context, campaignID int64) (int, error) {
	query := `
		SELECT count(*)
		FROM contact_list_items i
		JOIN campaigns c ON c.contact_list_id = i.contact_list_id
		WHERE c.id = $1 AND i.is_whatsapp_valid = true
	`

	var n int
	if err := r.db.Pool().QueryRow(ctx, query, campaignID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count valid contacts: %w", err)
	}

	return n, nil
}
