package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy-engine/internal/audit"
	"github.com/eddiefleurent/strategy-engine/internal/models"
)

type fakeStore struct {
	strategies []*models.Strategy
}

func (f *fakeStore) LoadAll() ([]*models.Strategy, error) { return f.strategies, nil }

type fakeHealth struct {
	healthy bool
	owner   string
}

func (f *fakeHealth) EngineHealthy() bool { return f.healthy }
func (f *fakeHealth) LockOwner() string   { return f.owner }

func newTestServer(t *testing.T, authToken string) (*Server, *fakeStore) {
	t.Helper()
	dir := t.TempDir()
	log, err := audit.NewLog(filepath.Join(dir, "audit"), "audit", 0, nil)
	require.NoError(t, err)

	st := &fakeStore{strategies: []*models.Strategy{
		{ID: "s1", Symbol: "ACME", Variant: models.VariantTrailingStop, Phase: models.PhasePositionOpen, Enabled: true},
	}}
	health := &fakeHealth{healthy: true, owner: "engine-1"}

	srv := New(Config{Port: 0, AuthToken: authToken}, st, log, health, nil)
	return srv, st
}

func TestHealthz_ReportsHealthyByDefault(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "engine-1", resp.LockOwner)
}

func TestStrategies_ReturnsRedactedSnapshot(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var views []StrategySnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "s1", views[0].ID)
	assert.Equal(t, "trailing_stop", views[0].Variant)
}

func TestStrategies_RequiresAuthTokenWhenConfigured(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/strategies", nil)
	req2.Header.Set("X-Auth-Token", "secret")
	rec2 := httptest.NewRecorder()
	srv.router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHealthz_NeverRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditTail_ReturnsEmptyWhenNoRecords(t *testing.T) {
	srv, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodGet, "/audit/tail", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var records []models.AuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Empty(t, records)
}
