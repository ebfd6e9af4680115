// Package campaign implements the dispatch pipeline: a promotion scan that
// picks up due campaigns, a batch fan-out that expands them into per-contact
// preparation jobs, and the prepare/dispatch handlers that build and send the
// individual messages. All state lives in Postgres and the job queue, so the
// pipeline resumes after a crash without losing pacing.
package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/disparo-io/disparo/internal/db"
)

// Variable is one tenant-defined {key} -> value substitution pair.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Settings is the per-tenant pacing configuration.
type Settings struct {
	// MessageInterval paces consecutive contacts below the threshold.
	MessageInterval time.Duration
	// LongerIntervalAfter is the contact index from which the greater
	// interval applies.
	LongerIntervalAfter int
	// GreaterInterval paces contacts at or beyond the threshold.
	GreaterInterval time.Duration
	// Variables are tenant-defined substitutions applied to every message.
	Variables []Variable
}

// DefaultSettings applies when a tenant has no stored configuration.
func DefaultSettings() Settings {
	return Settings{
		MessageInterval:     20 * time.Second,
		LongerIntervalAfter: 20,
		GreaterInterval:     60 * time.Second,
	}
}

// SettingsSource lists a tenant's stored campaign settings.
type SettingsSource interface {
	ListByTenant(ctx context.Context, tenantID int64) ([]db.CampaignSetting, error)
}

// ResolveSettings loads a tenant's pacing settings. Stored values are JSON;
// absent keys fall back to defaults, but a present-and-malformed value is an
// error rather than a silent fallback.
func ResolveSettings(ctx context.Context, source SettingsSource, tenantID int64) (Settings, error) {
	settings := DefaultSettings()

	rows, err := source.ListByTenant(ctx, tenantID)
	if err != nil {
		return Settings{}, fmt.Errorf("load campaign settings: %w", err)
	}

	for _, row := range rows {
		switch row.Key {
		case "messageInterval":
			var seconds float64
			if err := json.Unmarshal([]byte(row.Value), &seconds); err != nil {
				return Settings{}, fmt.Errorf("parse messageInterval %q: %w", row.Value, err)
			}
			settings.MessageInterval = time.Duration(seconds * float64(time.Second))
		case "longerIntervalAfter":
			var n int
			if err := json.Unmarshal([]byte(row.Value), &n); err != nil {
				return Settings{}, fmt.Errorf("parse longerIntervalAfter %q: %w", row.Value, err)
			}
			settings.LongerIntervalAfter = n
		case "greaterInterval":
			var seconds float64
			if err := json.Unmarshal([]byte(row.Value), &seconds); err != nil {
				return Settings{}, fmt.Errorf("parse greaterInterval %q: %w", row.Value, err)
			}
			settings.GreaterInterval = time.Duration(seconds * float64(time.Second))
		case "variables":
			var vars []Variable
			if err := json.Unmarshal([]byte(row.Value), &vars); err != nil {
				return Settings{}, fmt.Errorf("parse variables %q: %w", row.Value, err)
			}
			settings.Variables = vars
		}
	}

	return settings, nil
}
