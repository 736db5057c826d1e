package domain

import "time"

// AlertClaim is one client's declared intent to deliver an alert for a
// (faction, alert type) occurrence. Rows are only ever mutated by race
// resolution (resolved/winner), delivery confirmation (webhook_sent) and
// the cleanup sweep (deletion).
type AlertClaim struct {
	ID          int64     `json:"id"`
	FactionID   int64     `json:"faction_id"`
	AlertType   string    `json:"alert_type"`
	ClientID    string    `json:"client_id"`
	ClaimedAt   time.Time `json:"claimed_at"`
	Resolved    bool      `json:"resolved"`
	Winner      bool      `json:"winner"`
	WebhookSent *bool     `json:"webhook_sent,omitempty"` // nil until the winner confirms
}

// RaceOutcome is the settled result of one claim race window.
type RaceOutcome struct {
	WinnerClientID string `json:"winner_client_id"`
	TotalClaims    int    `json:"total_claims"`
	// AlreadySettled is true when the window had been resolved by an
	// earlier caller and the outcome was read back rather than decided.
	AlreadySettled bool `json:"already_settled"`
}

// Well-known alert types. The set is open: the claim protocol treats
// alert_type as an opaque tag and the extension may introduce new ones
// without a server deploy.
const (
	AlertTypeOCReady   = "oc_ready"
	AlertTypePAReady   = "pa_ready"
	AlertTypeChain     = "chain"
	AlertTypeTerritory = "territory"
	AlertTypeArmory    = "armory"
)
