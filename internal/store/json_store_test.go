package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/eddiefleurent/strategy-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStrategy(id string) *models.Strategy {
	now := time.Now().UTC()
	return &models.Strategy{
		ID:        id,
		Symbol:    "SPY",
		Variant:   models.VariantTrailingStop,
		Quantity:  10,
		Phase:     models.PhasePending,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
		VariantParams: models.VariantParams{
			TrailingStop: &models.TrailingStopParams{TrailingPct: 0.05},
		},
	}
}

func TestJSONStore_UpsertAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)

	strat := newTestStrategy("s1")
	require.NoError(t, s.Upsert(strat))

	loaded, err := s.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, "SPY", loaded.Symbol)
}

func TestJSONStore_LoadUnknownReturnsErrNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)

	_, err = s.Load("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJSONStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(newTestStrategy("s1")))

	reopened, err := NewJSONStore(path)
	require.NoError(t, err)
	loaded, err := reopened.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", loaded.ID)
}

func TestJSONStore_AcceptsHyphenatedVariantOnRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)

	strat := newTestStrategy("s1")
	strat.Variant = "trailing-stop" // hyphenated; bypasses UnmarshalJSON since set directly
	require.NoError(t, s.Upsert(strat))

	loaded, err := s.Load("s1")
	require.NoError(t, err)
	assert.Equal(t, models.VariantTrailingStop, loaded.Variant)
}

func TestJSONStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(newTestStrategy("s1")))

	require.NoError(t, s.Delete("s1"))
	_, err = s.Load("s1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestJSONStore_DeleteUnknownIsNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)
	assert.NoError(t, s.Delete("never-existed"))
}

func TestJSONStore_ListActiveFiltersDisabledAndScheduled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s, err := NewJSONStore(path)
	require.NoError(t, err)

	active := newTestStrategy("active")
	disabled := newTestStrategy("disabled")
	disabled.Enabled = false
	future := time.Now().Add(time.Hour)
	scheduled := newTestStrategy("scheduled")
	scheduled.Enabled = true
	scheduled.ScheduleEnabled = true
	scheduled.ScheduleAt = &future

	require.NoError(t, s.Upsert(active))
	require.NoError(t, s.Upsert(disabled))
	require.NoError(t, s.Upsert(scheduled))

	results, err := s.ListActive(time.Now())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "active", results[0].ID)
}

func TestJSONStore_LoadAllReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.json")
	s1, err := NewJSONStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(newTestStrategy("s1")))

	s2, err := NewJSONStore(path)
	require.NoError(t, err)
	require.NoError(t, s1.Upsert(newTestStrategy("s2")))

	all, err := s2.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
