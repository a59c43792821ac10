package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/compintel/internal/config"
	"github.com/sells-group/compintel/internal/ingest"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/quality"
	"github.com/sells-group/compintel/internal/reconcile"
	"github.com/sells-group/compintel/internal/reliability"
	"github.com/sells-group/compintel/internal/scorer"
	"github.com/sells-group/compintel/internal/store"
)

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()

	cfg = &config.Config{}
	cfg.Reconcile.Concurrency = 5

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	profiles := reliability.DefaultRegistry()
	fields := model.NewFieldRegistry(model.DefaultFields())
	scoring := scorer.DefaultConfig()
	ing := ingest.New(st, profiles, fields, scoring)
	rec := reconcile.New(st, profiles, fields, ing, reconcile.DefaultConfig())
	agg := quality.New(st, fields, quality.DefaultConfig())

	return &appEnv{
		store:      st,
		profiles:   profiles,
		fields:     fields,
		ingestor:   ing,
		reconciler: rec,
		quality:    agg,
	}
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := buildMux(newTestEnv(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_PostObservation(t *testing.T) {
	mux := buildMux(newTestEnv(t), nil)

	rr := postJSON(t, mux, "/observations", ingest.Request{
		EntityID:   "acme",
		FieldKey:   "customer_count",
		Value:      "3,500",
		SourceKind: model.SourceVerifiedAPI,
		ObservedAt: time.Now().UTC(),
	})

	assert.Equal(t, http.StatusCreated, rr.Code)

	var obs model.Observation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &obs))
	assert.NotEmpty(t, obs.ID)
	require.NotNil(t, obs.NumericValue)
	assert.Equal(t, 3500.0, *obs.NumericValue)
}

func TestBuildMux_PostObservation_Invalid(t *testing.T) {
	mux := buildMux(newTestEnv(t), nil)

	rr := postJSON(t, mux, "/observations", ingest.Request{FieldKey: "price", Value: "1"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBuildMux_PostObservation_RateLimited(t *testing.T) {
	// Burst of one: the second request in the same instant is rejected.
	mux := buildMux(newTestEnv(t), rate.NewLimiter(1, 1))

	req := ingest.Request{
		EntityID:   "acme",
		FieldKey:   "price",
		Value:      "49",
		SourceKind: model.SourceVerifiedAPI,
		ObservedAt: time.Now().UTC(),
	}

	rr := postJSON(t, mux, "/observations", req)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = postJSON(t, mux, "/observations", req)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestBuildMux_ReconcileRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env, nil)

	for _, v := range []string{"3000", "3200"} {
		rr := postJSON(t, mux, "/observations", ingest.Request{
			EntityID:   "acme",
			FieldKey:   "customer_count",
			Value:      v,
			SourceKind: model.SourceVerifiedAPI,
			ObservedAt: time.Now().UTC(),
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := postJSON(t, mux, "/reconcile", map[string]string{
		"entity_id": "acme",
		"field_key": "customer_count",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var consensus model.Consensus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &consensus))
	assert.Equal(t, model.StatusResolved, consensus.Status)
	assert.Equal(t, 2, consensus.AgreementCount)

	// And readable back through GET /consensus.
	getReq := httptest.NewRequest(http.MethodGet, "/consensus?entity=acme&field=customer_count", nil)
	getRR := httptest.NewRecorder()
	mux.ServeHTTP(getRR, getReq)
	assert.Equal(t, http.StatusOK, getRR.Code)
}

func TestBuildMux_ReconcileMissingKey(t *testing.T) {
	mux := buildMux(newTestEnv(t), nil)

	rr := postJSON(t, mux, "/reconcile", map[string]string{
		"entity_id": "ghost",
		"field_key": "price",
	})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildMux_ReconcileAll(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env, nil)

	rr := postJSON(t, mux, "/observations", ingest.Request{
		EntityID:   "acme",
		FieldKey:   "price",
		Value:      "49",
		SourceKind: model.SourceWebsiteScrape,
		ObservedAt: time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = postJSON(t, mux, "/reconcile", map[string]any{"all": true})
	require.Equal(t, http.StatusOK, rr.Code)

	var result reconcile.SweepResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Resolved)
}

func TestBuildMux_ConsensusNotFound(t *testing.T) {
	mux := buildMux(newTestEnv(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/consensus?entity=ghost&field=price", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestBuildMux_QualityEndpoints(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env, nil)

	rr := postJSON(t, mux, "/observations", ingest.Request{
		EntityID:   "acme",
		FieldKey:   "price",
		Value:      "49",
		SourceKind: model.SourceVerifiedAPI,
		ObservedAt: time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/quality/acme", nil)
	snapRR := httptest.NewRecorder()
	mux.ServeHTTP(snapRR, req)
	require.Equal(t, http.StatusOK, snapRR.Code)

	var snap model.QualitySnapshot
	require.NoError(t, json.Unmarshal(snapRR.Body.Bytes(), &snap))
	assert.Equal(t, "acme", snap.EntityID)
	assert.Equal(t, 1, snap.FieldsPopulated)

	req = httptest.NewRequest(http.MethodGet, "/quality", nil)
	corpusRR := httptest.NewRecorder()
	mux.ServeHTTP(corpusRR, req)
	require.Equal(t, http.StatusOK, corpusRR.Code)

	var corpus model.CorpusSnapshot
	require.NoError(t, json.Unmarshal(corpusRR.Body.Bytes(), &corpus))
	assert.Equal(t, 1, corpus.Entities)
}

func TestBuildMux_Corrections(t *testing.T) {
	env := newTestEnv(t)
	mux := buildMux(env, nil)

	rr := postJSON(t, mux, "/observations", ingest.Request{
		EntityID:   "acme",
		FieldKey:   "headcount",
		Value:      "500",
		SourceKind: model.SourceWebsiteScrape,
		ObservedAt: time.Now().UTC(),
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = postJSON(t, mux, "/corrections", map[string]string{
		"entity_id":  "acme",
		"field_key":  "headcount",
		"value":      "450",
		"reason":     "confirmed on investor call",
		"entered_by": "analyst@example.com",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var consensus model.Consensus
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &consensus))
	assert.Equal(t, "450", consensus.ResolvedValue)
	assert.True(t, consensus.Verified)
}

func TestBuildMux_CorrectionsMissingFields(t *testing.T) {
	mux := buildMux(newTestEnv(t), nil)

	rr := postJSON(t, mux, "/corrections", map[string]string{"entity_id": "acme"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
