package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
	"github.com/wiber2065939-droid/torn-extension-server/internal/repository"
	"github.com/wiber2065939-droid/torn-extension-server/internal/store"
)

const testGodUserID = int64(2065939)

type fakeFactionRepo struct {
	config      *domain.FactionConfig
	permissions map[int64]domain.PermissionLevel
	savedConfig *domain.FactionConfig
	savedBy     int64
	cprEntries  []domain.CPREntry
}

var _ repository.FactionRepository = (*fakeFactionRepo)(nil)

func (f *fakeFactionRepo) GetConfig(_ context.Context, _ int64) (*domain.FactionConfig, error) {
	return f.config, nil
}

func (f *fakeFactionRepo) SaveConfig(_ context.Context, _ int64, cfg *domain.FactionConfig, userID int64) error {
	f.savedConfig = cfg
	f.savedBy = userID
	return nil
}

func (f *fakeFactionRepo) GetUserPermission(_ context.Context, _ int64, userID int64) (domain.PermissionLevel, error) {
	if level, ok := f.permissions[userID]; ok {
		return level, nil
	}
	return domain.PermissionView, nil
}

func (f *fakeFactionRepo) ListPermissions(_ context.Context, factionID int64) ([]domain.FactionPermission, error) {
	perms := []domain.FactionPermission{}
	for userID, level := range f.permissions {
		perms = append(perms, domain.FactionPermission{FactionID: factionID, UserID: userID, PermissionLevel: level})
	}
	return perms, nil
}

func (f *fakeFactionRepo) SetUserPermission(_ context.Context, _ int64, userID int64, level domain.PermissionLevel, _ int64) error {
	if f.permissions == nil {
		f.permissions = map[int64]domain.PermissionLevel{}
	}
	f.permissions[userID] = level
	return nil
}

func (f *fakeFactionRepo) RemoveUserPermission(_ context.Context, _ int64, userID int64) error {
	delete(f.permissions, userID)
	return nil
}

func (f *fakeFactionRepo) LogAlert(_ context.Context, _ int64, _ string, _ json.RawMessage, _ string, _ bool, _ *string) error {
	return nil
}

func (f *fakeFactionRepo) WasRecentlySent(_ context.Context, _ int64, _ string, _ int) (bool, error) {
	return false, nil
}

func (f *fakeFactionRepo) GetMonitoringState(_ context.Context, factionID int64) (*domain.MonitoringState, error) {
	return &domain.MonitoringState{FactionID: factionID}, nil
}

func (f *fakeFactionRepo) UpdateMonitoringState(_ context.Context, _ int64, _ repository.StateUpdates) error {
	return nil
}

func (f *fakeFactionRepo) ListCPRData(_ context.Context, _ int64) ([]domain.CPREntry, error) {
	return f.cprEntries, nil
}

func (f *fakeFactionRepo) UpsertCPRData(_ context.Context, entry *domain.CPREntry) (*domain.CPREntry, error) {
	saved := *entry
	saved.LastUpdated = time.Now()
	f.cprEntries = append(f.cprEntries, saved)
	return &saved, nil
}

// fakeKV is an in-memory KV; TTLs are ignored.
type fakeKV struct {
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", store.ErrMiss
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func newTestSettingsService(repo *fakeFactionRepo, kv store.KV) SettingsService {
	return NewSettingsService(repo, kv, 30*time.Second, testGodUserID, zap.NewNop())
}

func configWithWebhook() *domain.FactionConfig {
	cfg := domain.DefaultFactionConfig(12345)
	cfg.Webhooks = []domain.Webhook{{Type: "general", URL: "https://discord.example/secret-hook"}}
	return cfg
}

func TestGetConfig_MasksWebhooksBelowManage(t *testing.T) {
	repo := &fakeFactionRepo{
		config:      configWithWebhook(),
		permissions: map[int64]domain.PermissionLevel{100: domain.PermissionModify},
	}
	svc := newTestSettingsService(repo, nil)

	cfg, perm, err := svc.GetConfig(context.Background(), 12345, 100)

	require.NoError(t, err)
	assert.Equal(t, domain.PermissionModify, perm)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, "***HIDDEN***", cfg.Webhooks[0].URL)
}

func TestGetConfig_ManageSeesURLs(t *testing.T) {
	repo := &fakeFactionRepo{
		config:      configWithWebhook(),
		permissions: map[int64]domain.PermissionLevel{100: domain.PermissionManage},
	}
	svc := newTestSettingsService(repo, nil)

	cfg, perm, err := svc.GetConfig(context.Background(), 12345, 100)

	require.NoError(t, err)
	assert.Equal(t, domain.PermissionManage, perm)
	assert.Equal(t, "https://discord.example/secret-hook", cfg.Webhooks[0].URL)
}

func TestGetConfig_DefaultsWhenNeverSaved(t *testing.T) {
	repo := &fakeFactionRepo{}
	svc := newTestSettingsService(repo, nil)

	cfg, perm, err := svc.GetConfig(context.Background(), 12345, 100)

	require.NoError(t, err)
	assert.Equal(t, domain.PermissionView, perm)
	assert.Equal(t, int64(12345), cfg.FactionID)
	assert.False(t, cfg.EnabledAlerts[domain.AlertTypeOCReady])
	assert.Equal(t, 10, cfg.Thresholds["oc_crimes"])
}

func TestGetConfig_GodUserIsManage(t *testing.T) {
	repo := &fakeFactionRepo{config: configWithWebhook()}
	svc := newTestSettingsService(repo, nil)

	_, perm, err := svc.GetConfig(context.Background(), 12345, testGodUserID)

	require.NoError(t, err)
	assert.Equal(t, domain.PermissionManage, perm)
}

func TestUpdateConfig_RequiresModify(t *testing.T) {
	repo := &fakeFactionRepo{config: configWithWebhook()}
	svc := newTestSettingsService(repo, nil)

	err := svc.UpdateConfig(context.Background(), 12345, 100, configWithWebhook())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))
	assert.Nil(t, repo.savedConfig)
}

func TestUpdateConfig_ModifySaves(t *testing.T) {
	repo := &fakeFactionRepo{
		config:      configWithWebhook(),
		permissions: map[int64]domain.PermissionLevel{100: domain.PermissionModify},
	}
	kv := newFakeKV()
	svc := newTestSettingsService(repo, kv)

	// Warm the cache, then update; the cached copy must go away.
	_, _, err := svc.GetConfig(context.Background(), 12345, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, kv.data)

	err = svc.UpdateConfig(context.Background(), 12345, 100, configWithWebhook())

	require.NoError(t, err)
	assert.NotNil(t, repo.savedConfig)
	assert.Equal(t, int64(100), repo.savedBy)
	assert.Empty(t, kv.data)
}

func TestUpdateWebhook_ManageOnly(t *testing.T) {
	repo := &fakeFactionRepo{
		config:      configWithWebhook(),
		permissions: map[int64]domain.PermissionLevel{100: domain.PermissionModify},
	}
	svc := newTestSettingsService(repo, nil)

	err := svc.UpdateWebhook(context.Background(), 12345, 100, "https://discord.example/new-hook")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	err = svc.UpdateWebhook(context.Background(), 12345, testGodUserID, "https://discord.example/new-hook")
	require.NoError(t, err)
	require.NotNil(t, repo.savedConfig)
	require.Len(t, repo.savedConfig.Webhooks, 1)
	assert.Equal(t, "general", repo.savedConfig.Webhooks[0].Type)
	assert.Equal(t, "https://discord.example/new-hook", repo.savedConfig.Webhooks[0].URL)
}

func TestGrantPermission(t *testing.T) {
	repo := &fakeFactionRepo{permissions: map[int64]domain.PermissionLevel{}}
	svc := newTestSettingsService(repo, nil)

	// Non-leaders cannot grant.
	err := svc.GrantPermission(context.Background(), 12345, 100, 200, domain.PermissionModify)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	// Leaders can, but only valid levels.
	err = svc.GrantPermission(context.Background(), 12345, testGodUserID, 200, "owner")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermissionDenied))

	err = svc.GrantPermission(context.Background(), 12345, testGodUserID, 200, domain.PermissionModify)
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionModify, repo.permissions[200])
}

func TestRevokePermission(t *testing.T) {
	repo := &fakeFactionRepo{permissions: map[int64]domain.PermissionLevel{200: domain.PermissionModify}}
	svc := newTestSettingsService(repo, nil)

	err := svc.RevokePermission(context.Background(), 12345, 200, 200)
	require.Error(t, err)

	err = svc.RevokePermission(context.Background(), 12345, testGodUserID, 200)
	require.NoError(t, err)
	_, ok := repo.permissions[200]
	assert.False(t, ok)
}

func TestWriteCPRData(t *testing.T) {
	repo := &fakeFactionRepo{permissions: map[int64]domain.PermissionLevel{100: domain.PermissionModify}}
	svc := newTestSettingsService(repo, nil)

	// View tier cannot write.
	_, err := svc.WriteCPRData(context.Background(), 12345, 999, "Break the Bank", "Muscle", 72.5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionDenied))

	entry, err := svc.WriteCPRData(context.Background(), 12345, 100, "Break the Bank", "Muscle", 72.5)
	require.NoError(t, err)
	assert.Equal(t, "Break the Bank", entry.CrimeName)
	assert.Equal(t, 72.5, entry.CPRValue)
	assert.Equal(t, int64(100), entry.UpdatedByUserID)
	assert.False(t, entry.LastUpdated.IsZero())
}

func TestLoadConfig_CacheRoundTrip(t *testing.T) {
	repo := &fakeFactionRepo{
		config:      configWithWebhook(),
		permissions: map[int64]domain.PermissionLevel{100: domain.PermissionManage},
	}
	kv := newFakeKV()
	svc := newTestSettingsService(repo, kv)

	cfg1, _, err := svc.GetConfig(context.Background(), 12345, 100)
	require.NoError(t, err)

	// Second read is served from cache; mutating the repo copy must not
	// leak through.
	repo.config = nil
	cfg2, _, err := svc.GetConfig(context.Background(), 12345, 100)
	require.NoError(t, err)
	assert.Equal(t, cfg1.Webhooks, cfg2.Webhooks)
}
