package domain

import (
	"encoding/json"
	"time"
)

// PermissionLevel is the faction-scoped capability tier for settings access.
type PermissionLevel string

const (
	PermissionView   PermissionLevel = "view"
	PermissionModify PermissionLevel = "modify"
	PermissionManage PermissionLevel = "manage"
)

// Valid reports whether the level is one of the three known tiers.
func (p PermissionLevel) Valid() bool {
	return p == PermissionView || p == PermissionModify || p == PermissionManage
}

// CanModify reports whether the level allows config/CPR writes.
func (p PermissionLevel) CanModify() bool {
	return p == PermissionModify || p == PermissionManage
}

// Webhook is one configured Discord webhook. Type matches an alert type,
// or "general" as the fallback target.
type Webhook struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// QuietHours suppresses outbound alerts inside a daily window.
// Start/End are "HH:MM"; overnight ranges (start > end) are supported.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// FactionConfig is the per-faction monitoring configuration.
type FactionConfig struct {
	FactionID     int64           `json:"factionId"`
	Version       int             `json:"version"`
	Webhooks      []Webhook       `json:"webhooks"`
	EnabledAlerts map[string]bool `json:"enabledAlerts"`
	Thresholds    map[string]int  `json:"thresholds"`
	QuietHours    *QuietHours     `json:"quietHours"`
	Cooldowns     map[string]int  `json:"cooldowns"` // minutes, per alert type
	LastUpdated   *time.Time      `json:"lastUpdated,omitempty"`
	UpdatedBy     *int64          `json:"updatedBy,omitempty"`
}

// DefaultFactionConfig is what a faction gets before anyone saves anything.
func DefaultFactionConfig(factionID int64) *FactionConfig {
	return &FactionConfig{
		FactionID: factionID,
		Version:   1,
		Webhooks:  []Webhook{},
		EnabledAlerts: map[string]bool{
			AlertTypeOCReady:   false,
			AlertTypePAReady:   false,
			AlertTypeChain:     false,
			AlertTypeTerritory: false,
			AlertTypeArmory:    false,
		},
		Thresholds: map[string]int{
			"oc_crimes":             10,
			"pa_crimes":             5,
			"chain_warning":         25,
			"chain_timeout_warning": 5,
		},
		QuietHours: nil,
		Cooldowns: map[string]int{
			AlertTypeOCReady:   60,
			AlertTypePAReady:   60,
			AlertTypeChain:     15,
			AlertTypeTerritory: 30,
			AlertTypeArmory:    120,
		},
	}
}

// FactionPermission is one stored user permission grant.
type FactionPermission struct {
	FactionID       int64           `json:"faction_id"`
	UserID          int64           `json:"user_id"`
	PermissionLevel PermissionLevel `json:"permission_level"`
	GrantedBy       *int64          `json:"granted_by,omitempty"`
	GrantedAt       time.Time       `json:"granted_at"`
}

// AlertHistoryEntry records one webhook delivery attempt.
type AlertHistoryEntry struct {
	ID           int64           `json:"id"`
	FactionID    int64           `json:"faction_id"`
	AlertType    string          `json:"alert_type"`
	AlertData    json.RawMessage `json:"alert_data"`
	WebhookURL   string          `json:"webhook_url"`
	Success      bool            `json:"success"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	SentAt       time.Time       `json:"sent_at"`
}

// MonitoringState is the per-faction poll bookkeeping.
type MonitoringState struct {
	FactionID         int64      `json:"factionId"`
	LastCheck         *time.Time `json:"lastCheck"`
	LastOCReady       *time.Time `json:"lastOcReady,omitempty"`
	LastPAReady       *time.Time `json:"lastPaReady,omitempty"`
	CurrentChainCount int        `json:"currentChainCount"`
	CheckFailures     int        `json:"checkFailures"`
	LastError         *string    `json:"lastError,omitempty"`
}

// CPREntry is one crowd-sourced crime-position rating shared within a faction.
type CPREntry struct {
	FactionID       int64     `json:"faction_id"`
	CrimeName       string    `json:"crime_name"`
	RoleName        string    `json:"role_name"`
	CPRValue        float64   `json:"cpr_value"`
	UpdatedByUserID int64     `json:"updated_by_user_id"`
	LastUpdated     time.Time `json:"last_updated"`
}
