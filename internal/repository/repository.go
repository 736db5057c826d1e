package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
)

// ClaimsRepository is the durable coordination medium for the alert
// claim protocol. All cross-client ordering happens through these rows;
// nothing in the protocol may rely on process-local state.
type ClaimsRepository interface {
	// LastDelivered returns the most recent claim with webhook_sent = TRUE
	// inside the lookback, or nil when none qualifies. Failed deliveries
	// never count toward cooldown.
	LastDelivered(ctx context.Context, factionID int64, alertType string, lookback time.Duration) (*domain.AlertClaim, error)

	// CountUnresolved counts unresolved claims inside the race window.
	// Advisory only: it is returned to clients, it never blocks a stake.
	CountUnresolved(ctx context.Context, factionID int64, alertType string, window time.Duration) (int, error)

	// InsertClaim stakes a claim. claimed_at is assigned by the store.
	InsertClaim(ctx context.Context, factionID int64, alertType, clientID string) (*domain.AlertClaim, error)

	// ResolveRace settles the active race window in a single transaction:
	// unresolved claims in the window are locked, pick chooses the winning
	// client, and every locked row is marked resolved with winner set only
	// on the chosen client's row. Returns nil when no unresolved claims
	// exist (the window is empty or already settled).
	ResolveRace(ctx context.Context, factionID int64, alertType string, window time.Duration, pick func([]domain.AlertClaim) string) (*domain.RaceOutcome, error)

	// SettledOutcome reads back the outcome of an already-resolved window,
	// so late resolvers see the true result instead of an empty race.
	SettledOutcome(ctx context.Context, factionID int64, alertType string, window time.Duration) (*domain.RaceOutcome, error)

	// ConfirmDelivery records the winner's delivery result. False when no
	// winning resolved claim matches (caller did not win this window).
	ConfirmDelivery(ctx context.Context, factionID int64, alertType, clientID string, success bool) (bool, error)

	// DeleteOlderThan removes claims past the retention horizon regardless
	// of their state, returning the number deleted.
	DeleteOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// StateUpdates is the partial-update set for monitoring_state. Only the
// fields the poller actually touches are allowed through.
type StateUpdates struct {
	LastCheck         *time.Time
	LastOCReady       *time.Time
	LastPAReady       *time.Time
	CurrentChainCount *int
	CheckFailures     *int
	LastError         *string
}

// FactionRepository covers the surrounding CRUD: per-faction config,
// permission grants, delivery history, poll state, and shared CPR data.
type FactionRepository interface {
	GetConfig(ctx context.Context, factionID int64) (*domain.FactionConfig, error)
	SaveConfig(ctx context.Context, factionID int64, cfg *domain.FactionConfig, userID int64) error

	GetUserPermission(ctx context.Context, factionID, userID int64) (domain.PermissionLevel, error)
	ListPermissions(ctx context.Context, factionID int64) ([]domain.FactionPermission, error)
	SetUserPermission(ctx context.Context, factionID, userID int64, level domain.PermissionLevel, grantedBy int64) error
	RemoveUserPermission(ctx context.Context, factionID, userID int64) error

	LogAlert(ctx context.Context, factionID int64, alertType string, alertData json.RawMessage, webhookURL string, success bool, errorMessage *string) error
	WasRecentlySent(ctx context.Context, factionID int64, alertType string, cooldownMinutes int) (bool, error)

	GetMonitoringState(ctx context.Context, factionID int64) (*domain.MonitoringState, error)
	UpdateMonitoringState(ctx context.Context, factionID int64, updates StateUpdates) error

	ListCPRData(ctx context.Context, factionID int64) ([]domain.CPREntry, error)
	UpsertCPRData(ctx context.Context, entry *domain.CPREntry) (*domain.CPREntry, error)
}
