package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
	"github.com/wiber2065939-droid/torn-extension-server/internal/repository"
)

// MonitorRunSummary is the result of one server-side poll cycle.
type MonitorRunSummary struct {
	FactionsChecked int `json:"factionsChecked"`
	AlertsSent      int `json:"alertsSent"`
	Failures        int `json:"failures"`
}

// MonitorService is the server-side poll loop: it fetches faction data
// from the Torn API on the cron schedule and dispatches webhook alerts
// directly. It runs in a single process, so it does not race through
// the claim protocol; it respects cooldowns via alert_history instead.
type MonitorService interface {
	RunOnce(ctx context.Context) *MonitorRunSummary
}

type monitorService struct {
	factions repository.FactionRepository
	torn     *TornClient
	discord  *DiscordClient
	watched  []int64
	logger   *zap.Logger
}

func NewMonitorService(factions repository.FactionRepository, torn *TornClient, discord *DiscordClient, watched []int64, logger *zap.Logger) MonitorService {
	return &monitorService{
		factions: factions,
		torn:     torn,
		discord:  discord,
		watched:  watched,
		logger:   logger,
	}
}

// RunOnce checks every watched faction. One faction failing never stops
// the rest of the sweep.
func (s *monitorService) RunOnce(ctx context.Context) *MonitorRunSummary {
	summary := &MonitorRunSummary{}

	for _, factionID := range s.watched {
		sent, err := s.monitorFaction(ctx, factionID)
		summary.FactionsChecked++
		summary.AlertsSent += sent
		if err != nil {
			summary.Failures++
			s.logger.Error("Faction monitoring failed",
				zap.Int64("faction_id", factionID),
				zap.Error(err),
			)
		}
	}

	return summary
}

func (s *monitorService) monitorFaction(ctx context.Context, factionID int64) (int, error) {
	cfg, err := s.factions.GetConfig(ctx, factionID)
	if err != nil {
		return 0, err
	}
	if cfg == nil {
		cfg = domain.DefaultFactionConfig(factionID)
	}

	anyEnabled := false
	for _, enabled := range cfg.EnabledAlerts {
		if enabled {
			anyEnabled = true
			break
		}
	}
	if !anyEnabled {
		return 0, nil
	}

	if isQuietHours(cfg.QuietHours, time.Now()) {
		s.logger.Debug("Quiet hours active", zap.Int64("faction_id", factionID))
		return 0, nil
	}

	state, err := s.factions.GetMonitoringState(ctx, factionID)
	if err != nil {
		return 0, err
	}

	data, err := s.torn.FetchFaction(ctx, factionID)
	if err != nil {
		failures := state.CheckFailures + 1
		msg := err.Error()
		now := time.Now()
		if updErr := s.factions.UpdateMonitoringState(ctx, factionID, repository.StateUpdates{
			LastCheck:     &now,
			CheckFailures: &failures,
			LastError:     &msg,
		}); updErr != nil {
			s.logger.Warn("Failed to record check failure", zap.Error(updErr))
		}
		return 0, err
	}

	sent := 0

	if cfg.EnabledAlerts[domain.AlertTypeOCReady] {
		if n, err := s.checkOrganizedCrimes(ctx, factionID, cfg, data); err != nil {
			s.logger.Warn("OC check failed", zap.Int64("faction_id", factionID), zap.Error(err))
		} else {
			sent += n
		}
	}

	if cfg.EnabledAlerts[domain.AlertTypeChain] {
		if n, err := s.checkChain(ctx, factionID, cfg, state, data); err != nil {
			s.logger.Warn("Chain check failed", zap.Int64("faction_id", factionID), zap.Error(err))
		} else {
			sent += n
		}
	}

	now := time.Now()
	zero := 0
	empty := ""
	if err := s.factions.UpdateMonitoringState(ctx, factionID, repository.StateUpdates{
		LastCheck:         &now,
		CurrentChainCount: &data.Chain.Current,
		CheckFailures:     &zero,
		LastError:         &empty,
	}); err != nil {
		s.logger.Warn("Failed to update monitoring state", zap.Error(err))
	}

	return sent, nil
}

// checkOrganizedCrimes alerts when enough crimes are ready to initiate.
func (s *monitorService) checkOrganizedCrimes(ctx context.Context, factionID int64, cfg *domain.FactionConfig, data *TornFaction) (int, error) {
	threshold := cfg.Thresholds["oc_crimes"]
	if threshold <= 0 {
		return 0, nil
	}

	now := time.Now().Unix()
	ready := 0
	for _, crime := range data.Crimes {
		if crime.Initiated == 0 && crime.TimeReady > 0 && crime.TimeReady <= now {
			ready++
		}
	}
	if ready < threshold {
		return 0, nil
	}

	embed := DiscordEmbed{
		Title:       "Organized Crimes Ready",
		Description: fmt.Sprintf("%d organized crimes are ready to initiate.", ready),
		Color:       0x2ecc71,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}

	return s.sendAlert(ctx, factionID, domain.AlertTypeOCReady, cfg, embed)
}

// checkChain alerts on chain milestones, only when the chain grew past
// the warning threshold since the last check.
func (s *monitorService) checkChain(ctx context.Context, factionID int64, cfg *domain.FactionConfig, state *domain.MonitoringState, data *TornFaction) (int, error) {
	warning := cfg.Thresholds["chain_warning"]
	if warning <= 0 || data.Chain.Current < warning {
		return 0, nil
	}
	if data.Chain.Current <= state.CurrentChainCount {
		return 0, nil
	}

	embed := DiscordEmbed{
		Title:       "Chain Milestone",
		Description: fmt.Sprintf("Chain is at %d hits.", data.Chain.Current),
		Color:       0xe67e22,
		Fields: []DiscordEmbedField{
			{Name: "Timeout", Value: fmt.Sprintf("%ds", data.Chain.Timeout), Inline: true},
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	return s.sendAlert(ctx, factionID, domain.AlertTypeChain, cfg, embed)
}

// sendAlert applies the cooldown, picks the type-specific webhook with
// "general" as fallback, delivers, and logs the attempt either way.
func (s *monitorService) sendAlert(ctx context.Context, factionID int64, alertType string, cfg *domain.FactionConfig, embed DiscordEmbed) (int, error) {
	cooldown := cfg.Cooldowns[alertType]
	if cooldown <= 0 {
		cooldown = 60
	}
	recent, err := s.factions.WasRecentlySent(ctx, factionID, alertType, cooldown)
	if err != nil {
		return 0, err
	}
	if recent {
		return 0, nil
	}

	webhook := findWebhook(cfg.Webhooks, alertType)
	if webhook == nil {
		s.logger.Debug("No webhook configured",
			zap.Int64("faction_id", factionID),
			zap.String("alert_type", alertType),
		)
		return 0, nil
	}

	alertData, _ := json.Marshal(embed)

	if err := s.discord.SendEmbed(ctx, webhook.URL, embed); err != nil {
		msg := err.Error()
		if logErr := s.factions.LogAlert(ctx, factionID, alertType, alertData, webhook.URL, false, &msg); logErr != nil {
			s.logger.Warn("Failed to log alert failure", zap.Error(logErr))
		}
		return 0, err
	}

	if err := s.factions.LogAlert(ctx, factionID, alertType, alertData, webhook.URL, true, nil); err != nil {
		s.logger.Warn("Failed to log alert", zap.Error(err))
	}

	s.logger.Info("Alert delivered",
		zap.Int64("faction_id", factionID),
		zap.String("alert_type", alertType),
	)
	return 1, nil
}

func findWebhook(webhooks []domain.Webhook, alertType string) *domain.Webhook {
	for i := range webhooks {
		if webhooks[i].Type == alertType {
			return &webhooks[i]
		}
	}
	for i := range webhooks {
		if webhooks[i].Type == "general" {
			return &webhooks[i]
		}
	}
	return nil
}

// isQuietHours reports whether now falls inside the configured daily
// window. Overnight ranges (e.g. 22:00-07:00) wrap midnight.
func isQuietHours(qh *domain.QuietHours, now time.Time) bool {
	if qh == nil || !qh.Enabled {
		return false
	}

	start, ok1 := parseClock(qh.Start)
	end, ok2 := parseClock(qh.End)
	if !ok1 || !ok2 {
		return false
	}

	current := now.Hour()*60 + now.Minute()
	if start < end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, false
	}
	hour, err1 := strconv.Atoi(parts[0])
	minute, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
