package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
	"github.com/wiber2065939-droid/torn-extension-server/internal/repository"
	"github.com/wiber2065939-droid/torn-extension-server/internal/store"
)

// ErrPermissionDenied marks settings operations the caller's tier does
// not allow. The HTTP layer maps it to 403.
var ErrPermissionDenied = errors.New("insufficient permissions")

const hiddenWebhookURL = "***HIDDEN***"

// SettingsService covers faction config, permission grants and shared
// CPR data. Permission tiers sit outside the claim core: the claim
// protocol never consults them.
type SettingsService interface {
	EffectivePermission(ctx context.Context, factionID, userID int64) (domain.PermissionLevel, error)

	GetConfig(ctx context.Context, factionID, userID int64) (*domain.FactionConfig, domain.PermissionLevel, error)
	UpdateConfig(ctx context.Context, factionID, userID int64, cfg *domain.FactionConfig) error
	UpdateWebhook(ctx context.Context, factionID, userID int64, webhookURL string) error

	GetPermissions(ctx context.Context, factionID, userID int64) ([]domain.FactionPermission, domain.PermissionLevel, error)
	GrantPermission(ctx context.Context, factionID, userID, targetUserID int64, level domain.PermissionLevel) error
	RevokePermission(ctx context.Context, factionID, userID, targetUserID int64) error

	GetCPRData(ctx context.Context, factionID int64) ([]domain.CPREntry, error)
	WriteCPRData(ctx context.Context, factionID, userID int64, crimeName, roleName string, cprValue float64) (*domain.CPREntry, error)
}

type settingsService struct {
	factions  repository.FactionRepository
	cache     store.KV
	cacheTTL  time.Duration
	godUserID int64
	logger    *zap.Logger
}

func NewSettingsService(factions repository.FactionRepository, cache store.KV, cacheTTL time.Duration, godUserID int64, logger *zap.Logger) SettingsService {
	return &settingsService{
		factions:  factions,
		cache:     cache,
		cacheTTL:  cacheTTL,
		godUserID: godUserID,
		logger:    logger,
	}
}

// isLeader reports whether the user holds faction leadership.
// TODO: check Leader/Co-leader via the Torn API faction endpoint; until
// then only the operator account resolves to leadership.
func (s *settingsService) isLeader(_ context.Context, userID, _ int64) bool {
	return userID == s.godUserID
}

// EffectivePermission is the capability lookup the handlers run before
// any settings write: leadership overrides stored grants, absence of a
// grant means view.
func (s *settingsService) EffectivePermission(ctx context.Context, factionID, userID int64) (domain.PermissionLevel, error) {
	if s.isLeader(ctx, userID, factionID) {
		return domain.PermissionManage, nil
	}
	return s.factions.GetUserPermission(ctx, factionID, userID)
}

func (s *settingsService) GetConfig(ctx context.Context, factionID, userID int64) (*domain.FactionConfig, domain.PermissionLevel, error) {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return nil, "", err
	}

	cfg, err := s.loadConfig(ctx, factionID)
	if err != nil {
		return nil, "", err
	}

	// Webhook URLs are secrets; only manage-tier users see them.
	if perm != domain.PermissionManage {
		masked := make([]domain.Webhook, len(cfg.Webhooks))
		for i, w := range cfg.Webhooks {
			masked[i] = w
			if w.URL != "" {
				masked[i].URL = hiddenWebhookURL
			}
		}
		cfg.Webhooks = masked
	}

	return cfg, perm, nil
}

func (s *settingsService) UpdateConfig(ctx context.Context, factionID, userID int64, cfg *domain.FactionConfig) error {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return err
	}
	if !perm.CanModify() {
		return fmt.Errorf("%w: config update requires modify or manage", ErrPermissionDenied)
	}
	if cfg == nil || cfg.Webhooks == nil {
		return fmt.Errorf("config with webhooks is required")
	}

	if err := s.factions.SaveConfig(ctx, factionID, cfg, userID); err != nil {
		return err
	}
	s.invalidateConfig(ctx, factionID)

	s.logger.Info("Faction config updated",
		zap.Int64("faction_id", factionID),
		zap.Int64("user_id", userID),
	)
	return nil
}

// UpdateWebhook replaces the faction's webhook list with a single
// general-purpose webhook. Manage tier only.
func (s *settingsService) UpdateWebhook(ctx context.Context, factionID, userID int64, webhookURL string) error {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return err
	}
	if perm != domain.PermissionManage {
		return fmt.Errorf("%w: only faction leaders can update webhooks", ErrPermissionDenied)
	}
	if webhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}

	cfg, err := s.loadConfig(ctx, factionID)
	if err != nil {
		return err
	}
	cfg.Webhooks = []domain.Webhook{{Type: "general", URL: webhookURL}}

	if err := s.factions.SaveConfig(ctx, factionID, cfg, userID); err != nil {
		return err
	}
	s.invalidateConfig(ctx, factionID)
	return nil
}

func (s *settingsService) GetPermissions(ctx context.Context, factionID, userID int64) ([]domain.FactionPermission, domain.PermissionLevel, error) {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return nil, "", err
	}
	perms, err := s.factions.ListPermissions(ctx, factionID)
	if err != nil {
		return nil, "", err
	}
	return perms, perm, nil
}

func (s *settingsService) GrantPermission(ctx context.Context, factionID, userID, targetUserID int64, level domain.PermissionLevel) error {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return err
	}
	if perm != domain.PermissionManage {
		return fmt.Errorf("%w: only faction leaders can grant permissions", ErrPermissionDenied)
	}
	if !level.Valid() {
		return fmt.Errorf("invalid permission level: %s", level)
	}

	if err := s.factions.SetUserPermission(ctx, factionID, targetUserID, level, userID); err != nil {
		return err
	}

	s.logger.Info("Permission granted",
		zap.Int64("faction_id", factionID),
		zap.Int64("target_user_id", targetUserID),
		zap.String("level", string(level)),
		zap.Int64("granted_by", userID),
	)
	return nil
}

func (s *settingsService) RevokePermission(ctx context.Context, factionID, userID, targetUserID int64) error {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return err
	}
	if perm != domain.PermissionManage {
		return fmt.Errorf("%w: only faction leaders can revoke permissions", ErrPermissionDenied)
	}
	return s.factions.RemoveUserPermission(ctx, factionID, targetUserID)
}

func (s *settingsService) GetCPRData(ctx context.Context, factionID int64) ([]domain.CPREntry, error) {
	return s.factions.ListCPRData(ctx, factionID)
}

func (s *settingsService) WriteCPRData(ctx context.Context, factionID, userID int64, crimeName, roleName string, cprValue float64) (*domain.CPREntry, error) {
	perm, err := s.EffectivePermission(ctx, factionID, userID)
	if err != nil {
		return nil, err
	}
	if !perm.CanModify() {
		return nil, fmt.Errorf("%w: cpr write requires modify or manage", ErrPermissionDenied)
	}

	return s.factions.UpsertCPRData(ctx, &domain.CPREntry{
		FactionID:       factionID,
		CrimeName:       crimeName,
		RoleName:        roleName,
		CPRValue:        cprValue,
		UpdatedByUserID: userID,
	})
}

// loadConfig reads the faction config through the Redis cache, falling
// back to defaults when the faction never saved one. Cache failures are
// logged and ignored: the database stays authoritative.
func (s *settingsService) loadConfig(ctx context.Context, factionID int64) (*domain.FactionConfig, error) {
	key := configCacheKey(factionID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			var cfg domain.FactionConfig
			if err := json.Unmarshal([]byte(cached), &cfg); err == nil {
				return &cfg, nil
			}
		} else if err != store.ErrMiss {
			s.logger.Warn("Config cache read failed", zap.Error(err))
		}
	}

	cfg, err := s.factions.GetConfig(ctx, factionID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = domain.DefaultFactionConfig(factionID)
	}

	if s.cache != nil {
		if data, err := json.Marshal(cfg); err == nil {
			if err := s.cache.Set(ctx, key, string(data), s.cacheTTL); err != nil {
				s.logger.Warn("Config cache write failed", zap.Error(err))
			}
		}
	}

	return cfg, nil
}

func (s *settingsService) invalidateConfig(ctx context.Context, factionID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, configCacheKey(factionID)); err != nil {
		s.logger.Warn("Config cache invalidation failed", zap.Error(err))
	}
}

func configCacheKey(factionID int64) string {
	return fmt.Sprintf("faction:config:%d", factionID)
}
