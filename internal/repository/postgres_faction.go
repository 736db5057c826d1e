package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
)

// PostgresFactionRepository implements the faction-scoped CRUD around
// the claim protocol: config, permissions, alert history, monitoring
// state and CPR data.
type PostgresFactionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresFactionRepository(db *sql.DB, logger *zap.Logger) *PostgresFactionRepository {
	return &PostgresFactionRepository{
		db:     db,
		logger: logger,
	}
}

var _ FactionRepository = (*PostgresFactionRepository)(nil)

// GetConfig returns the stored config, or nil when the faction has never
// saved one (callers fall back to defaults).
func (r *PostgresFactionRepository) GetConfig(ctx context.Context, factionID int64) (*domain.FactionConfig, error) {
	if factionID <= 0 {
		return nil, fmt.Errorf("faction_id is required")
	}

	query := `
		SELECT faction_id, config_version, webhooks, enabled_alerts, thresholds,
		       quiet_hours, cooldowns, last_updated, updated_by
		FROM faction_config
		WHERE faction_id = $1
	`

	cfg := &domain.FactionConfig{}
	var webhooks, enabledAlerts, thresholds, cooldowns []byte
	var quietHours sql.NullString
	var lastUpdated sql.NullTime
	var updatedBy sql.NullInt64

	err := r.db.QueryRowContext(ctx, query, factionID).Scan(
		&cfg.FactionID,
		&cfg.Version,
		&webhooks,
		&enabledAlerts,
		&thresholds,
		&quietHours,
		&cooldowns,
		&lastUpdated,
		&updatedBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get faction config: %w", err)
	}

	if err := json.Unmarshal(webhooks, &cfg.Webhooks); err != nil {
		return nil, fmt.Errorf("failed to parse webhooks: %w", err)
	}
	if err := json.Unmarshal(enabledAlerts, &cfg.EnabledAlerts); err != nil {
		return nil, fmt.Errorf("failed to parse enabled_alerts: %w", err)
	}
	if err := json.Unmarshal(thresholds, &cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("failed to parse thresholds: %w", err)
	}
	if err := json.Unmarshal(cooldowns, &cfg.Cooldowns); err != nil {
		return nil, fmt.Errorf("failed to parse cooldowns: %w", err)
	}
	if quietHours.Valid && quietHours.String != "" {
		var qh domain.QuietHours
		if err := json.Unmarshal([]byte(quietHours.String), &qh); err != nil {
			return nil, fmt.Errorf("failed to parse quiet_hours: %w", err)
		}
		cfg.QuietHours = &qh
	}
	if lastUpdated.Valid {
		cfg.LastUpdated = &lastUpdated.Time
	}
	if updatedBy.Valid {
		cfg.UpdatedBy = &updatedBy.Int64
	}

	return cfg, nil
}

// SaveConfig upserts the config; the stored config_version is bumped on
// every save so clients can detect stale copies.
func (r *PostgresFactionRepository) SaveConfig(ctx context.Context, factionID int64, cfg *domain.FactionConfig, userID int64) error {
	if factionID <= 0 {
		return fmt.Errorf("faction_id is required")
	}
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	webhooks, err := json.Marshal(cfg.Webhooks)
	if err != nil {
		return fmt.Errorf("failed to marshal webhooks: %w", err)
	}
	enabledAlerts, err := json.Marshal(cfg.EnabledAlerts)
	if err != nil {
		return fmt.Errorf("failed to marshal enabled_alerts: %w", err)
	}
	thresholds, err := json.Marshal(cfg.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}
	cooldowns, err := json.Marshal(cfg.Cooldowns)
	if err != nil {
		return fmt.Errorf("failed to marshal cooldowns: %w", err)
	}
	var quietHours any
	if cfg.QuietHours != nil {
		data, err := json.Marshal(cfg.QuietHours)
		if err != nil {
			return fmt.Errorf("failed to marshal quiet_hours: %w", err)
		}
		quietHours = string(data)
	}

	query := `
		INSERT INTO faction_config
			(faction_id, webhooks, enabled_alerts, thresholds, quiet_hours, cooldowns, updated_by, config_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1)
		ON CONFLICT (faction_id) DO UPDATE SET
			webhooks = EXCLUDED.webhooks,
			enabled_alerts = EXCLUDED.enabled_alerts,
			thresholds = EXCLUDED.thresholds,
			quiet_hours = EXCLUDED.quiet_hours,
			cooldowns = EXCLUDED.cooldowns,
			updated_by = EXCLUDED.updated_by,
			config_version = faction_config.config_version + 1,
			last_updated = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, factionID, webhooks, enabledAlerts, thresholds, quietHours, cooldowns, userID); err != nil {
		return fmt.Errorf("failed to save faction config: %w", err)
	}

	return nil
}

// GetUserPermission returns the stored level, defaulting to view.
func (r *PostgresFactionRepository) GetUserPermission(ctx context.Context, factionID, userID int64) (domain.PermissionLevel, error) {
	query := `
		SELECT permission_level
		FROM faction_permissions
		WHERE faction_id = $1 AND user_id = $2
	`

	var level string
	err := r.db.QueryRowContext(ctx, query, factionID, userID).Scan(&level)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.PermissionView, nil
		}
		return "", fmt.Errorf("failed to get user permission: %w", err)
	}

	return domain.PermissionLevel(level), nil
}

func (r *PostgresFactionRepository) ListPermissions(ctx context.Context, factionID int64) ([]domain.FactionPermission, error) {
	query := `
		SELECT faction_id, user_id, permission_level, granted_by, granted_at
		FROM faction_permissions
		WHERE faction_id = $1
		ORDER BY permission_level DESC, granted_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, factionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	perms := []domain.FactionPermission{}
	for rows.Next() {
		var p domain.FactionPermission
		var grantedBy sql.NullInt64
		if err := rows.Scan(&p.FactionID, &p.UserID, &p.PermissionLevel, &grantedBy, &p.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		if grantedBy.Valid {
			p.GrantedBy = &grantedBy.Int64
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}

	return perms, nil
}

func (r *PostgresFactionRepository) SetUserPermission(ctx context.Context, factionID, userID int64, level domain.PermissionLevel, grantedBy int64) error {
	if !level.Valid() {
		return fmt.Errorf("invalid permission level: %s", level)
	}

	query := `
		INSERT INTO faction_permissions (faction_id, user_id, permission_level, granted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (faction_id, user_id) DO UPDATE SET
			permission_level = EXCLUDED.permission_level,
			granted_by = EXCLUDED.granted_by,
			granted_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, factionID, userID, string(level), grantedBy); err != nil {
		return fmt.Errorf("failed to set user permission: %w", err)
	}

	return nil
}

func (r *PostgresFactionRepository) RemoveUserPermission(ctx context.Context, factionID, userID int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM faction_permissions WHERE faction_id = $1 AND user_id = $2`,
		factionID, userID,
	); err != nil {
		return fmt.Errorf("failed to remove user permission: %w", err)
	}
	return nil
}

// LogAlert appends one delivery attempt to alert_history.
func (r *PostgresFactionRepository) LogAlert(ctx context.Context, factionID int64, alertType string, alertData json.RawMessage, webhookURL string, success bool, errorMessage *string) error {
	if len(alertData) == 0 {
		alertData = json.RawMessage("{}")
	}

	query := `
		INSERT INTO alert_history (faction_id, alert_type, alert_data, webhook_url, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if _, err := r.db.ExecContext(ctx, query, factionID, alertType, []byte(alertData), webhookURL, success, errorMessage); err != nil {
		return fmt.Errorf("failed to log alert: %w", err)
	}

	return nil
}

// WasRecentlySent reports whether a successful delivery for this alert
// type was logged inside the cooldown lookback.
func (r *PostgresFactionRepository) WasRecentlySent(ctx context.Context, factionID int64, alertType string, cooldownMinutes int) (bool, error) {
	threshold := time.Now().Add(-time.Duration(cooldownMinutes) * time.Minute)

	query := `
		SELECT COUNT(*)
		FROM alert_history
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND sent_at > $3
		  AND success = TRUE
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, factionID, alertType, threshold).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check alert history: %w", err)
	}

	return count > 0, nil
}

func (r *PostgresFactionRepository) GetMonitoringState(ctx context.Context, factionID int64) (*domain.MonitoringState, error) {
	query := `
		SELECT faction_id, last_check, last_oc_ready, last_pa_ready,
		       current_chain_count, check_failures, last_error
		FROM monitoring_state
		WHERE faction_id = $1
	`

	state := &domain.MonitoringState{}
	var lastCheck, lastOCReady, lastPAReady sql.NullTime
	var lastError sql.NullString

	err := r.db.QueryRowContext(ctx, query, factionID).Scan(
		&state.FactionID,
		&lastCheck,
		&lastOCReady,
		&lastPAReady,
		&state.CurrentChainCount,
		&state.CheckFailures,
		&lastError,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return &domain.MonitoringState{FactionID: factionID}, nil
		}
		return nil, fmt.Errorf("failed to get monitoring state: %w", err)
	}

	if lastCheck.Valid {
		state.LastCheck = &lastCheck.Time
	}
	if lastOCReady.Valid {
		state.LastOCReady = &lastOCReady.Time
	}
	if lastPAReady.Valid {
		state.LastPAReady = &lastPAReady.Time
	}
	if lastError.Valid {
		state.LastError = &lastError.String
	}

	return state, nil
}

// UpdateMonitoringState upserts only the fields present in updates.
func (r *PostgresFactionRepository) UpdateMonitoringState(ctx context.Context, factionID int64, updates StateUpdates) error {
	if factionID <= 0 {
		return fmt.Errorf("faction_id is required")
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	addSet := func(field string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}

	if updates.LastCheck != nil {
		addSet("last_check", *updates.LastCheck)
	}
	if updates.LastOCReady != nil {
		addSet("last_oc_ready", *updates.LastOCReady)
	}
	if updates.LastPAReady != nil {
		addSet("last_pa_ready", *updates.LastPAReady)
	}
	if updates.CurrentChainCount != nil {
		addSet("current_chain_count", *updates.CurrentChainCount)
	}
	if updates.CheckFailures != nil {
		addSet("check_failures", *updates.CheckFailures)
	}
	if updates.LastError != nil {
		addSet("last_error", *updates.LastError)
	}

	if len(setParts) == 0 {
		return fmt.Errorf("updates cannot be empty")
	}

	args = append(args, factionID)
	query := fmt.Sprintf(`
		INSERT INTO monitoring_state (faction_id) VALUES ($%d)
		ON CONFLICT (faction_id) DO UPDATE SET %s
	`, argN, strings.Join(setParts, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update monitoring state: %w", err)
	}

	return nil
}

func (r *PostgresFactionRepository) ListCPRData(ctx context.Context, factionID int64) ([]domain.CPREntry, error) {
	query := `
		SELECT faction_id, crime_name, role_name, cpr_value, updated_by_user_id, last_updated
		FROM faction_cpr_data
		WHERE faction_id = $1
		ORDER BY crime_name, role_name
	`

	rows, err := r.db.QueryContext(ctx, query, factionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cpr data: %w", err)
	}
	defer rows.Close()

	entries := []domain.CPREntry{}
	for rows.Next() {
		var e domain.CPREntry
		if err := rows.Scan(&e.FactionID, &e.CrimeName, &e.RoleName, &e.CPRValue, &e.UpdatedByUserID, &e.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan cpr entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cpr data: %w", err)
	}

	return entries, nil
}

func (r *PostgresFactionRepository) UpsertCPRData(ctx context.Context, entry *domain.CPREntry) (*domain.CPREntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry is required")
	}
	if entry.CrimeName == "" || entry.RoleName == "" {
		return nil, fmt.Errorf("crime_name and role_name are required")
	}
	if entry.CPRValue < 0 || entry.CPRValue > 100 {
		return nil, fmt.Errorf("cpr_value must be between 0 and 100, got %.2f", entry.CPRValue)
	}

	query := `
		INSERT INTO faction_cpr_data
			(faction_id, crime_name, role_name, cpr_value, updated_by_user_id, last_updated)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (faction_id, crime_name, role_name) DO UPDATE SET
			cpr_value = EXCLUDED.cpr_value,
			updated_by_user_id = EXCLUDED.updated_by_user_id,
			last_updated = NOW()
		RETURNING last_updated
	`

	saved := *entry
	if err := r.db.QueryRowContext(ctx, query,
		entry.FactionID, entry.CrimeName, entry.RoleName, entry.CPRValue, entry.UpdatedByUserID,
	).Scan(&saved.LastUpdated); err != nil {
		return nil, fmt.Errorf("failed to upsert cpr data: %w", err)
	}

	return &saved, nil
}
