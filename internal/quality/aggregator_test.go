package quality

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/store"
)

var testNow = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, fields []model.FieldSpec) (*Aggregator, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	agg := New(st, model.NewFieldRegistry(fields), DefaultConfig()).
		WithNow(func() time.Time { return testNow })
	return agg, st
}

func putConsensus(t *testing.T, st *store.SQLiteStore, entity, field string, conf float64, verified bool, status model.ConsensusStatus, resolvedAt time.Time) {
	t.Helper()
	require.NoError(t, st.PutConsensus(context.Background(), &model.Consensus{
		EntityID:       entity,
		FieldKey:       field,
		ResolvedValue:  "v",
		Confidence:     conf,
		Tier:           model.TierFor(conf),
		Verified:       verified,
		Status:         status,
		LastResolvedAt: resolvedAt,
	}))
}

func addObservation(t *testing.T, st *store.SQLiteStore, entity, field string, observedAt time.Time) {
	t.Helper()
	_, err := st.AddObservation(context.Background(), model.Observation{
		EntityID:   entity,
		FieldKey:   field,
		RawValue:   "v",
		NormValue:  "v",
		SourceKind: model.SourceWebsiteScrape,
		ObservedAt: observedAt,
	})
	require.NoError(t, err)
}

func twoFields() []model.FieldSpec {
	return []model.FieldSpec{
		{Key: "price", Type: model.FieldTypeNumeric},
		{Key: "headcount", Type: model.FieldTypeNumeric},
	}
}

func TestSnapshot_Completeness(t *testing.T) {
	agg, st := newTestAggregator(t, twoFields())

	putConsensus(t, st, "acme", "price", 80, true, model.StatusResolved, testNow)

	snap, err := agg.Snapshot(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 2, snap.FieldsTracked)
	assert.Equal(t, 1, snap.FieldsPopulated)
	assert.Equal(t, 50.0, snap.CompletenessPct)
	assert.Equal(t, 80.0, snap.AverageConfidence)
	assert.Equal(t, 1.0, snap.VerifiedFraction)
	assert.Equal(t, model.EntityTierGood, snap.Tier)
}

func TestSnapshot_StaleIndependentOfConfidence(t *testing.T) {
	agg, st := newTestAggregator(t, twoFields())

	// Highly confident but 45 days old with a 30-day threshold.
	putConsensus(t, st, "acme", "price", 95, true, model.StatusResolved, testNow.AddDate(0, 0, -45))
	putConsensus(t, st, "acme", "headcount", 95, true, model.StatusResolved, testNow)

	snap, err := agg.Snapshot(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 1, snap.StaleFieldCount)
	assert.Equal(t, model.EntityTierExcellent, snap.Tier)
}

func TestSnapshot_NeverReconciledFieldUsesObservationAge(t *testing.T) {
	agg, st := newTestAggregator(t, twoFields())

	// A field with raw evidence 45 days old and no consensus record.
	addObservation(t, st, "acme", "price", testNow.AddDate(0, 0, -45))

	snap, err := agg.Snapshot(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, 1, snap.FieldsPopulated)
	assert.Equal(t, 1, snap.StaleFieldCount)
}

func TestSnapshot_ConflictedFieldsFlagged(t *testing.T) {
	agg, st := newTestAggregator(t, twoFields())

	putConsensus(t, st, "acme", "price", 50, false, model.StatusConflicted, testNow)

	snap, err := agg.Snapshot(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"price"}, snap.ConflictedFieldKeys)
}

func TestSnapshot_EmptyEntity(t *testing.T) {
	agg, _ := newTestAggregator(t, twoFields())

	snap, err := agg.Snapshot(context.Background(), "ghost")
	require.NoError(t, err)

	assert.Equal(t, 0, snap.FieldsPopulated)
	assert.Equal(t, 0.0, snap.CompletenessPct)
	assert.Equal(t, model.EntityTierPoor, snap.Tier)
}

func TestCorpus_AggregatesEntities(t *testing.T) {
	agg, st := newTestAggregator(t, twoFields())
	ctx := context.Background()

	// Two entities with observations so they appear in the corpus.
	addObservation(t, st, "acme", "price", testNow)
	addObservation(t, st, "globex", "price", testNow)

	putConsensus(t, st, "acme", "price", 95, true, model.StatusResolved, testNow)
	putConsensus(t, st, "acme", "headcount", 95, true, model.StatusResolved, testNow)
	putConsensus(t, st, "globex", "price", 30, false, model.StatusConflicted, testNow)

	corpus, err := agg.Corpus(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, corpus.Entities)
	assert.Equal(t, 1, corpus.ConflictedCount)
	assert.Equal(t, 1, corpus.TierCounts[model.EntityTierExcellent])
	assert.Equal(t, 1, corpus.TierCounts[model.EntityTierPoor])
	assert.InDelta(t, (95.0+30.0)/2, corpus.AverageConfidence, 0.01)
}
