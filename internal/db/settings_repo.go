package db

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SettingsRepository reads per-tenant campaign pacing settings. Settings are
// written by the web tier and read-only here.
type SettingsRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
	}
}

// ListByTenant returns all settings rows for a tenant.
func (r *SettingsRepository) ListByTenant(ctx context.Context, tenantID int64) ([]CampaignSetting, error) {
	query := `
		SELECT id, tenant_id, key, value
		FROM campaign_settings
		WHERE tenant_id = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query campaign settings: %w", err)
	}
	defer rows.Close()

	var settings []CampaignSetting
	for rows.Next() {
		var s CampaignSetting
		if err := rows.Scan(&s.ID, &s.TenantID, &s.Key, &s.Value); err != nil {
			return nil, fmt.Errorf("scan campaign setting: %w", err)
		}
		settings = append(settings, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return settings, nil
}
