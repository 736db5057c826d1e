package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
)

// PostgresClaimsRepository persists alert claims in the alert_claims
// relation, keyed by a generated id and indexed on
// (faction_id, alert_type, claimed_at).
type PostgresClaimsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresClaimsRepository(db *sql.DB, logger *zap.Logger) *PostgresClaimsRepository {
	return &PostgresClaimsRepository{
		db:     db,
		logger: logger,
	}
}

var _ ClaimsRepository = (*PostgresClaimsRepository)(nil)

// LastDelivered returns the most recent successfully delivered claim
// inside the lookback window.
func (r *PostgresClaimsRepository) LastDelivered(ctx context.Context, factionID int64, alertType string, lookback time.Duration) (*domain.AlertClaim, error) {
	if factionID <= 0 {
		return nil, fmt.Errorf("faction_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}

	threshold := time.Now().Add(-lookback)

	query := `
		SELECT id, faction_id, alert_type, client_id, claimed_at, resolved, winner, webhook_sent
		FROM alert_claims
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND webhook_sent = TRUE
		  AND claimed_at > $3
		ORDER BY claimed_at DESC
		LIMIT 1
	`

	claim, err := scanClaim(r.db.QueryRowContext(ctx, query, factionID, alertType, threshold))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last delivered claim: %w", err)
	}

	return claim, nil
}

// CountUnresolved counts open claims in the active race window.
func (r *PostgresClaimsRepository) CountUnresolved(ctx context.Context, factionID int64, alertType string, window time.Duration) (int, error) {
	threshold := time.Now().Add(-window)

	query := `
		SELECT COUNT(*)
		FROM alert_claims
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND resolved = FALSE
		  AND claimed_at > $3
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, factionID, alertType, threshold).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unresolved claims: %w", err)
	}

	return count, nil
}

// InsertClaim stakes a new claim. claimed_at comes back from the store,
// not the caller's clock: it is the race's ordering key.
func (r *PostgresClaimsRepository) InsertClaim(ctx context.Context, factionID int64, alertType, clientID string) (*domain.AlertClaim, error) {
	if factionID <= 0 {
		return nil, fmt.Errorf("faction_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}

	query := `
		INSERT INTO alert_claims (faction_id, alert_type, client_id)
		VALUES ($1, $2, $3)
		RETURNING id, claimed_at
	`

	claim := &domain.AlertClaim{
		FactionID: factionID,
		AlertType: alertType,
		ClientID:  clientID,
	}
	if err := r.db.QueryRowContext(ctx, query, factionID, alertType, clientID).Scan(&claim.ID, &claim.ClaimedAt); err != nil {
		return nil, fmt.Errorf("failed to insert claim: %w", err)
	}

	return claim, nil
}

// ResolveRace settles the active window atomically. The unresolved rows
// are locked with FOR UPDATE so that a concurrent resolver either waits
// and then finds them already resolved, or holds the lock itself; two
// resolvers can never commit different winners for the same window.
func (r *PostgresClaimsRepository) ResolveRace(ctx context.Context, factionID int64, alertType string, window time.Duration, pick func([]domain.AlertClaim) string) (*domain.RaceOutcome, error) {
	if factionID <= 0 {
		return nil, fmt.Errorf("faction_id is required")
	}
	if alertType == "" {
		return nil, fmt.Errorf("alert_type is required")
	}

	threshold := time.Now().Add(-window)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin resolve transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, client_id, claimed_at
		FROM alert_claims
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND resolved = FALSE
		  AND claimed_at > $3
		ORDER BY claimed_at ASC
		FOR UPDATE
	`

	rows, err := tx.QueryContext(ctx, query, factionID, alertType, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to lock race window: %w", err)
	}

	var claims []domain.AlertClaim
	for rows.Next() {
		claim := domain.AlertClaim{FactionID: factionID, AlertType: alertType}
		if err := rows.Scan(&claim.ID, &claim.ClientID, &claim.ClaimedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, claim)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate claims: %w", err)
	}
	rows.Close()

	if len(claims) == 0 {
		return nil, nil
	}

	winnerClientID := pick(claims)
	found := false
	for _, c := range claims {
		if c.ClientID == winnerClientID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("selected winner %q is not part of the race window", winnerClientID)
	}

	// Every claim in the window is resolved in one statement; winner is
	// set only where the client_id matches. The resolved = FALSE guard
	// keeps a second resolve run a no-op even if it slipped past the lock.
	update := `
		UPDATE alert_claims
		SET resolved = TRUE,
		    winner = (client_id = $4)
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND resolved = FALSE
		  AND claimed_at > $3
	`

	if _, err := tx.ExecContext(ctx, update, factionID, alertType, threshold, winnerClientID); err != nil {
		return nil, fmt.Errorf("failed to resolve race window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit race resolution: %w", err)
	}

	return &domain.RaceOutcome{
		WinnerClientID: winnerClientID,
		TotalClaims:    len(claims),
	}, nil
}

// SettledOutcome reads back the result of a window that was already
// resolved, so a late caller gets the true outcome instead of an empty
// race.
func (r *PostgresClaimsRepository) SettledOutcome(ctx context.Context, factionID int64, alertType string, window time.Duration) (*domain.RaceOutcome, error) {
	threshold := time.Now().Add(-window)

	query := `
		SELECT MAX(CASE WHEN winner THEN client_id END), COUNT(*)
		FROM alert_claims
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND resolved = TRUE
		  AND claimed_at > $3
	`

	var winnerClientID sql.NullString
	var total int
	if err := r.db.QueryRowContext(ctx, query, factionID, alertType, threshold).Scan(&winnerClientID, &total); err != nil {
		return nil, fmt.Errorf("failed to query settled outcome: %w", err)
	}

	if total == 0 || !winnerClientID.Valid {
		return nil, nil
	}

	return &domain.RaceOutcome{
		WinnerClientID: winnerClientID.String,
		TotalClaims:    total,
		AlreadySettled: true,
	}, nil
}

// ConfirmDelivery records the winner's webhook result. The predicate
// does not exclude already-confirmed rows, so a repeated confirm simply
// re-affirms the same row.
func (r *PostgresClaimsRepository) ConfirmDelivery(ctx context.Context, factionID int64, alertType, clientID string, success bool) (bool, error) {
	if factionID <= 0 {
		return false, fmt.Errorf("faction_id is required")
	}
	if alertType == "" {
		return false, fmt.Errorf("alert_type is required")
	}
	if clientID == "" {
		return false, fmt.Errorf("client_id is required")
	}

	query := `
		UPDATE alert_claims
		SET webhook_sent = $4
		WHERE faction_id = $1
		  AND alert_type = $2
		  AND client_id = $3
		  AND winner = TRUE
		  AND resolved = TRUE
	`

	result, err := r.db.ExecContext(ctx, query, factionID, alertType, clientID, success)
	if err != nil {
		return false, fmt.Errorf("failed to confirm delivery: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// DeleteOlderThan is the reaper sweep: claims past the horizon go away
// regardless of resolved/winner/webhook_sent state.
func (r *PostgresClaimsRepository) DeleteOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	threshold := time.Now().Add(-horizon)

	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_claims WHERE claimed_at < $1`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired claims: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		r.logger.Info("Deleted expired claims", zap.Int64("count", deleted))
	}

	return deleted, nil
}

func scanClaim(row *sql.Row) (*domain.AlertClaim, error) {
	var claim domain.AlertClaim
	var webhookSent sql.NullBool

	err := row.Scan(
		&claim.ID,
		&claim.FactionID,
		&claim.AlertType,
		&claim.ClientID,
		&claim.ClaimedAt,
		&claim.Resolved,
		&claim.Winner,
		&webhookSent,
	)
	if err != nil {
		return nil, err
	}

	if webhookSent.Valid {
		claim.WebhookSent = &webhookSent.Bool
	}

	return &claim, nil
}
