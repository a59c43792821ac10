package reconcile

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/compintel/internal/ingest"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/reliability"
	"github.com/sells-group/compintel/internal/store"
)

var testNow = time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store      *store.SQLiteStore
	ingestor   *ingest.Ingestor
	reconciler *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	profiles := reliability.DefaultRegistry()
	fields := model.NewFieldRegistry(model.DefaultFields())
	cfg := DefaultConfig()

	ing := ingest.New(st, profiles, fields, cfg.Scoring).WithNow(func() time.Time { return testNow })
	rec := New(st, profiles, fields, ing, cfg).WithNow(func() time.Time { return testNow })

	return &testEnv{store: st, ingestor: ing, reconciler: rec}
}

func (e *testEnv) submit(t *testing.T, entity, field, value string, kind model.SourceKind) {
	t.Helper()
	_, err := e.ingestor.Submit(context.Background(), ingest.Request{
		EntityID:   entity,
		FieldKey:   field,
		Value:      value,
		SourceKind: kind,
		ObservedAt: testNow,
	})
	require.NoError(t, err)
}

func TestReconcile_CanonicalTriangulation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Three sources within tolerance of each other; the filing wins on
	// authority and the other two corroborate it to the cap.
	env.submit(t, "acme", "customer_count", "3000", model.SourceWebsiteScrape)
	env.submit(t, "acme", "customer_count", "3200", model.SourceNewsMention)
	env.submit(t, "acme", "customer_count", "3500", model.SourceRegulatoryFiling)

	c, err := env.reconciler.Reconcile(ctx, "acme", "customer_count")
	require.NoError(t, err)

	assert.Equal(t, "3500", c.ResolvedValue)
	assert.Equal(t, 100.0, c.Confidence)
	assert.Equal(t, model.TierHigh, c.Tier)
	assert.True(t, c.Verified)
	assert.Equal(t, 3, c.AgreementCount)
	assert.Equal(t, model.StatusResolved, c.Status)
	assert.Len(t, c.ContributingIDs, 3)
}

func TestReconcile_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "headcount", "120", model.SourceWebsiteScrape)
	env.submit(t, "acme", "headcount", "130", model.SourceVerifiedAPI)

	first, err := env.reconciler.Reconcile(ctx, "acme", "headcount")
	require.NoError(t, err)
	second, err := env.reconciler.Reconcile(ctx, "acme", "headcount")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestReconcile_SingleHighAuthorityIsVerified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "revenue", "42M", model.SourceRegulatoryFiling)

	c, err := env.reconciler.Reconcile(ctx, "acme", "revenue")
	require.NoError(t, err)

	assert.True(t, c.Verified, "a regulatory filing standing alone is self-verifying")
	assert.Equal(t, 1, c.AgreementCount)
	filing := reliability.DefaultRegistry().Get(model.SourceRegulatoryFiling)
	assert.GreaterOrEqual(t, c.Confidence, filing.BaseConfidence)
}

func TestReconcile_SingleLowAuthorityNotVerified(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "headcount", "150", model.SourceWebsiteScrape)

	c, err := env.reconciler.Reconcile(ctx, "acme", "headcount")
	require.NoError(t, err)
	assert.False(t, c.Verified)
}

func TestReconcile_CorroborationBoostsAndVerifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two low-authority kinds agreeing within tolerance.
	env.submit(t, "acme", "price", "99", model.SourceWebsiteScrape)
	env.submit(t, "acme", "price", "95", model.SourceNewsMention)

	c, err := env.reconciler.Reconcile(ctx, "acme", "price")
	require.NoError(t, err)

	assert.True(t, c.Verified)
	assert.Equal(t, 2, c.AgreementCount)

	profiles := reliability.DefaultRegistry()
	scrape := profiles.Get(model.SourceWebsiteScrape).BaseConfidence
	news := profiles.Get(model.SourceNewsMention).BaseConfidence
	assert.Greater(t, c.Confidence, scrape)
	assert.Greater(t, c.Confidence, news)

	// The specific winning claim is the scrape's value, not an average.
	assert.Equal(t, "99", c.ResolvedValue)
}

func TestReconcile_ConflictRetainsPreviousValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Establish a resolved consensus first.
	env.submit(t, "globex", "price", "100", model.SourceWebsiteScrape)
	c, err := env.reconciler.Reconcile(ctx, "globex", "price")
	require.NoError(t, err)
	require.Equal(t, model.StatusResolved, c.Status)
	prevConfidence := c.Confidence

	// A second scrape disagrees far beyond tolerance: equal authority on
	// both sides, no dominant cluster.
	env.submit(t, "globex", "price", "500", model.SourceWebsiteScrape)

	c, err = env.reconciler.Reconcile(ctx, "globex", "price")
	require.NoError(t, err)

	assert.Equal(t, model.StatusConflicted, c.Status)
	assert.False(t, c.Verified)
	assert.Equal(t, "100", c.ResolvedValue, "previous value retained, not guessed")
	assert.Equal(t, prevConfidence, c.Confidence)
	assert.Equal(t, 0, c.AgreementCount)
	assert.Len(t, c.ContributingIDs, 2, "both tied clusters flagged for attention")
}

func TestReconcile_ConflictWithoutPriorConsensus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "globex", "headcount", "10", model.SourceManualEntry)
	env.submit(t, "globex", "headcount", "900", model.SourceManualEntry)

	c, err := env.reconciler.Reconcile(ctx, "globex", "headcount")
	require.NoError(t, err)

	assert.Equal(t, model.StatusConflicted, c.Status)
	assert.Empty(t, c.ResolvedValue)
	assert.Equal(t, 0.0, c.Confidence)
	assert.Equal(t, model.TierLow, c.Tier)
}

func TestReconcile_SupersetCorroborationDominates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Cluster A: scrape + news agree near 100. Cluster B: a lone scrape at
	// 500. Equal top authority, but A's kind set strictly contains B's.
	env.submit(t, "initech", "price", "100", model.SourceWebsiteScrape)
	env.submit(t, "initech", "price", "105", model.SourceNewsMention)
	env.submit(t, "initech", "price", "500", model.SourceWebsiteScrape)

	c, err := env.reconciler.Reconcile(ctx, "initech", "price")
	require.NoError(t, err)

	assert.Equal(t, model.StatusResolved, c.Status)
	assert.Equal(t, "100", c.ResolvedValue)
	assert.Equal(t, 2, c.AgreementCount)
	assert.True(t, c.Verified)
}

func TestReconcile_ManualCorrectionResolvesConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "globex", "price", "100", model.SourceWebsiteScrape)
	env.submit(t, "globex", "price", "500", model.SourceWebsiteScrape)

	c, err := env.reconciler.Reconcile(ctx, "globex", "price")
	require.NoError(t, err)
	require.Equal(t, model.StatusConflicted, c.Status)

	c, err = env.reconciler.RecordCorrection(ctx, "globex", "price", "450", "confirmed with vendor pricing page", "analyst@example.com")
	require.NoError(t, err)

	assert.Equal(t, model.StatusResolved, c.Status)
	assert.Equal(t, "450", c.ResolvedValue)
	assert.True(t, c.Verified, "manual-verified corrections are self-verifying")
}

func TestReconcile_UnknownSourceKindParticipates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "headcount", "200", model.SourceKind("carrier-pigeon"))

	c, err := env.reconciler.Reconcile(ctx, "acme", "headcount")
	require.NoError(t, err)

	assert.Equal(t, "200", c.ResolvedValue)
	assert.Equal(t, model.StatusResolved, c.Status)
	assert.False(t, c.Verified)
	// Fallback profile carries a low base confidence.
	assert.InDelta(t, 30, c.Confidence, 0.01)
}

func TestReconcile_ParseErrorsExcludedFromClustering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "headcount", "about two hundred", model.SourceNewsMention)
	env.submit(t, "acme", "headcount", "210", model.SourceVerifiedAPI)

	c, err := env.reconciler.Reconcile(ctx, "acme", "headcount")
	require.NoError(t, err)

	assert.Equal(t, "210", c.ResolvedValue)
	assert.Equal(t, 1, c.AgreementCount)
}

func TestReconcile_OnlyParseErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "headcount", "unknown", model.SourceNewsMention)

	_, err := env.reconciler.Reconcile(ctx, "acme", "headcount")
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestReconcile_NoObservations(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.reconciler.Reconcile(context.Background(), "ghost", "headcount")
	assert.ErrorIs(t, err, ErrNoObservations)
}

func TestReconcile_LookbackWindowExcludesOld(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	profiles := reliability.DefaultRegistry()
	fields := model.NewFieldRegistry([]model.FieldSpec{
		{Key: "price", Type: model.FieldTypeNumeric, LookbackDays: 90},
	})
	cfg := DefaultConfig()
	ing := ingest.New(st, profiles, fields, cfg.Scoring).WithNow(func() time.Time { return testNow })
	rec := New(st, profiles, fields, ing, cfg).WithNow(func() time.Time { return testNow })

	ctx := context.Background()
	_, err = ing.Submit(ctx, ingest.Request{
		EntityID: "acme", FieldKey: "price", Value: "50",
		SourceKind: model.SourceVerifiedAPI,
		ObservedAt: testNow.AddDate(0, 0, -120),
	})
	require.NoError(t, err)

	// The only observation is outside the 90-day lookback.
	_, err = rec.Reconcile(ctx, "acme", "price")
	assert.ErrorIs(t, err, ErrNoObservations)

	// A fresh observation brings the key back.
	_, err = ing.Submit(ctx, ingest.Request{
		EntityID: "acme", FieldKey: "price", Value: "60",
		SourceKind: model.SourceVerifiedAPI,
		ObservedAt: testNow.AddDate(0, 0, -1),
	})
	require.NoError(t, err)

	c, err := rec.Reconcile(ctx, "acme", "price")
	require.NoError(t, err)
	assert.Equal(t, "60", c.ResolvedValue)
}

func TestReconcile_TextFieldNormalizedAgreement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "ceo", "Jane Smith", model.SourceWebsiteScrape)
	env.submit(t, "acme", "ceo", "  jane   smith ", model.SourceNewsMention)

	c, err := env.reconciler.Reconcile(ctx, "acme", "ceo")
	require.NoError(t, err)

	assert.Equal(t, 2, c.AgreementCount)
	assert.True(t, c.Verified)
	// Display form comes from the winning observation's raw value.
	assert.Equal(t, "Jane Smith", c.ResolvedValue)
}

func TestReconcile_SuffixedValuesClusterTogether(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// "3K" and "3,000+" normalize into the same numeric neighborhood.
	env.submit(t, "acme", "customer_count", "3K", model.SourceWebsiteScrape)
	env.submit(t, "acme", "customer_count", "3,000+", model.SourceVerifiedAPI)

	c, err := env.reconciler.Reconcile(ctx, "acme", "customer_count")
	require.NoError(t, err)
	assert.Equal(t, 2, c.AgreementCount)
	assert.Equal(t, "3,000+", c.ResolvedValue)
}

func TestSweep_ReconcilesAllKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.submit(t, "acme", "price", "100", model.SourceVerifiedAPI)
	env.submit(t, "acme", "headcount", "50", model.SourceWebsiteScrape)
	env.submit(t, "globex", "price", "10", model.SourceWebsiteScrape)
	env.submit(t, "globex", "price", "90", model.SourceWebsiteScrape)

	res, err := env.reconciler.Sweep(ctx, 4)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 2, res.Resolved)
	assert.Equal(t, 1, res.Conflicted)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Errors)

	c, err := env.store.GetConsensus(ctx, "acme", "price")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, model.StatusResolved, c.Status)
}
