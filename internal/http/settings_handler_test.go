package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
	"github.com/wiber2065939-droid/torn-extension-server/internal/service"
)

type fakeSettingsService struct {
	config      *domain.FactionConfig
	perm        domain.PermissionLevel
	permissions []domain.FactionPermission
	cprEntries  []domain.CPREntry
	err         error

	grantedLevel domain.PermissionLevel
	revokedUser  int64
}

var _ service.SettingsService = (*fakeSettingsService)(nil)

func (f *fakeSettingsService) EffectivePermission(_ context.Context, _, _ int64) (domain.PermissionLevel, error) {
	return f.perm, f.err
}

func (f *fakeSettingsService) GetConfig(_ context.Context, _, _ int64) (*domain.FactionConfig, domain.PermissionLevel, error) {
	return f.config, f.perm, f.err
}

func (f *fakeSettingsService) UpdateConfig(_ context.Context, _, _ int64, _ *domain.FactionConfig) error {
	return f.err
}

func (f *fakeSettingsService) UpdateWebhook(_ context.Context, _, _ int64, _ string) error {
	return f.err
}

func (f *fakeSettingsService) GetPermissions(_ context.Context, _, _ int64) ([]domain.FactionPermission, domain.PermissionLevel, error) {
	return f.permissions, f.perm, f.err
}

func (f *fakeSettingsService) GrantPermission(_ context.Context, _, _, _ int64, level domain.PermissionLevel) error {
	f.grantedLevel = level
	return f.err
}

func (f *fakeSettingsService) RevokePermission(_ context.Context, _, _, targetUserID int64) error {
	f.revokedUser = targetUserID
	return f.err
}

func (f *fakeSettingsService) GetCPRData(_ context.Context, _ int64) ([]domain.CPREntry, error) {
	return f.cprEntries, f.err
}

func (f *fakeSettingsService) WriteCPRData(_ context.Context, factionID, userID int64, crimeName, roleName string, cprValue float64) (*domain.CPREntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CPREntry{FactionID: factionID, CrimeName: crimeName, RoleName: roleName, CPRValue: cprValue, UpdatedByUserID: userID}, nil
}

func newTestSettingsHandler(svc service.SettingsService) *SettingsHandler {
	return NewSettingsHandler(svc, []int64{12345}, zap.NewNop())
}

func TestSettings_GetConfigViaQuery(t *testing.T) {
	svc := &fakeSettingsService{
		config: domain.DefaultFactionConfig(12345),
		perm:   domain.PermissionView,
	}
	h := newTestSettingsHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings?action=get_config&factionId=12345&userId=100", nil)
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "view", resp["permission"])
	assert.NotNil(t, resp["config"])
}

func TestSettings_FactionNotAllowlisted(t *testing.T) {
	h := newTestSettingsHandler(&fakeSettingsService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings?action=get_config&factionId=99999&userId=100", nil)
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettings_MissingIDs(t *testing.T) {
	h := newTestSettingsHandler(&fakeSettingsService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings?action=get_config&factionId=12345", nil)
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings_UnknownAction(t *testing.T) {
	h := newTestSettingsHandler(&fakeSettingsService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings?action=self_destruct&factionId=12345&userId=100", nil)
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown action")
}

func TestSettings_PermissionDeniedMapsTo403(t *testing.T) {
	svc := &fakeSettingsService{
		err: fmt.Errorf("%w: only faction leaders can update webhooks", service.ErrPermissionDenied),
	}
	h := newTestSettingsHandler(svc)

	body := `{"action":"update_webhook","factionId":12345,"userId":100,"webhookUrl":"https://discord.example/hook"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettings_GrantPermission(t *testing.T) {
	svc := &fakeSettingsService{}
	h := newTestSettingsHandler(svc)

	body := `{"action":"grant_permission","factionId":12345,"userId":100,"targetUserId":200,"permissionLevel":"modify"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PermissionModify, svc.grantedLevel)
}

func TestSettings_GrantPermissionMissingTarget(t *testing.T) {
	h := newTestSettingsHandler(&fakeSettingsService{})

	body := `{"action":"grant_permission","factionId":12345,"userId":100,"permissionLevel":"modify"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettings_WriteCPRData(t *testing.T) {
	h := newTestSettingsHandler(&fakeSettingsService{})

	body := `{"action":"write_cpr_data","factionId":12345,"userId":100,"crimeName":"Break the Bank","roleName":"Muscle","cprValue":72.5}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	entry, ok := resp["entry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Break the Bank", entry["crime_name"])
	assert.Equal(t, 72.5, entry["cpr_value"])
}

func TestSettings_Preflight(t *testing.T) {
	h := newTestSettingsHandler(&fakeSettingsService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/settings", nil)
	rec := httptest.NewRecorder()

	h.Handle(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
