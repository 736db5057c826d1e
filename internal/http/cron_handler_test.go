package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/service"
)

type fakeMonitorService struct {
	summary *service.MonitorRunSummary
	runs    int
}

func (f *fakeMonitorService) RunOnce(_ context.Context) *service.MonitorRunSummary {
	f.runs++
	return f.summary
}

type sweepingClaimService struct {
	fakeClaimService
	swept int64
}

func (s *sweepingClaimService) SweepExpired(_ context.Context) (int64, error) {
	return s.swept, s.err
}

func TestCronRun_Unauthorized(t *testing.T) {
	h := NewCronHandler(&fakeClaimService{}, nil, "cron-secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron", nil)
	rec := httptest.NewRecorder()
	h.Run(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/cron", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.Run(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCronRun_EmptySecretStaysClosed(t *testing.T) {
	h := NewCronHandler(&fakeClaimService{}, nil, "", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()

	h.Run(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCronRun_SweepsAndReportsMonitor(t *testing.T) {
	claims := &sweepingClaimService{swept: 12}
	monitor := &fakeMonitorService{summary: &service.MonitorRunSummary{FactionsChecked: 2, AlertsSent: 1}}
	h := NewCronHandler(claims, monitor, "cron-secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()

	h.Run(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, monitor.runs)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, float64(12), resp["cleanedClaims"])
	assert.NotEmpty(t, resp["runId"])

	summary, ok := resp["monitor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), summary["factionsChecked"])
}

func TestCronRun_MonitorDisabled(t *testing.T) {
	claims := &sweepingClaimService{swept: 3}
	h := NewCronHandler(claims, nil, "cron-secret", zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cron", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()

	h.Run(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, hasMonitor := resp["monitor"]
	assert.False(t, hasMonitor)
}
