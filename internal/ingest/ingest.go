// Package ingest accepts raw observations from collectors, normalizes their
// values, and appends them to the observation log with an initial confidence
// score. Ingestion never mutates existing rows, so any number of collectors
// can submit concurrently.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/normalize"
	"github.com/sells-group/compintel/internal/reliability"
	"github.com/sells-group/compintel/internal/scorer"
	"github.com/sells-group/compintel/internal/store"
)

// Request is the shape collectors submit. Collectors map their own raw
// formats into this and pick the source kind.
type Request struct {
	EntityID   string           `json:"entity_id"`
	FieldKey   string           `json:"field_key"`
	Value      string           `json:"value"`
	SourceKind model.SourceKind `json:"source_kind"`
	OriginRef  string           `json:"origin_ref,omitempty"`
	EnteredBy  string           `json:"entered_by,omitempty"`
	ObservedAt time.Time        `json:"observed_at,omitempty"`
}

// Ingestor validates, normalizes, and appends observations.
type Ingestor struct {
	store    store.Store
	profiles *reliability.Registry
	fields   *model.FieldRegistry
	scoring  scorer.Config
	now      func() time.Time
}

// New creates an Ingestor.
func New(st store.Store, profiles *reliability.Registry, fields *model.FieldRegistry, scoring scorer.Config) *Ingestor {
	return &Ingestor{
		store:    st,
		profiles: profiles,
		fields:   fields,
		scoring:  scoring,
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (i *Ingestor) WithNow(fn func() time.Time) *Ingestor {
	i.now = fn
	return i
}

// Submit normalizes and appends a single observation. Values that cannot be
// coerced to the field's expected type are stored with a parse-error marker
// rather than rejected, so the claim stays auditable. Unknown source kinds
// fall back to the lowest-authority profile rather than failing the ingest.
func (i *Ingestor) Submit(ctx context.Context, req Request) (*model.Observation, error) {
	obs, err := i.build(req)
	if err != nil {
		return nil, err
	}
	return i.store.AddObservation(ctx, *obs)
}

// SubmitBatch normalizes and appends many observations in one store round
// trip. Rows that fail validation are skipped and logged; valid rows are
// never held back by invalid neighbors.
func (i *Ingestor) SubmitBatch(ctx context.Context, reqs []Request) (int, error) {
	batch := make([]model.Observation, 0, len(reqs))
	for idx, req := range reqs {
		obs, err := i.build(req)
		if err != nil {
			zap.L().Warn("ingest: skipping invalid observation",
				zap.Int("row", idx),
				zap.String("entity", req.EntityID),
				zap.String("field", req.FieldKey),
				zap.Error(err),
			)
			continue
		}
		batch = append(batch, *obs)
	}
	return i.store.AddObservations(ctx, batch)
}

func (i *Ingestor) build(req Request) (*model.Observation, error) {
	if req.EntityID == "" || req.FieldKey == "" {
		return nil, eris.New("ingest: entity_id and field_key are required")
	}
	if req.Value == "" {
		return nil, eris.Errorf("ingest: empty value for %s/%s", req.EntityID, req.FieldKey)
	}

	kind := req.SourceKind
	if kind == "" {
		kind = model.SourceUnknown
	}

	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = i.now().UTC()
	}

	obs := &model.Observation{
		EntityID:   req.EntityID,
		FieldKey:   req.FieldKey,
		RawValue:   req.Value,
		NormValue:  normalize.Text(req.Value),
		SourceKind: kind,
		OriginRef:  req.OriginRef,
		EnteredBy:  req.EnteredBy,
		ObservedAt: observedAt,
	}

	if i.numericField(req.FieldKey) {
		n, err := normalize.Numeric(req.Value)
		if err != nil {
			obs.ParseError = err.Error()
		} else {
			obs.NumericValue = &n
		}
	} else if n, err := normalize.Numeric(req.Value); err == nil {
		// Untracked or text fields keep a numeric form when one parses, so
		// clustering can still use tolerance agreement where it applies.
		obs.NumericValue = &n
	}

	profile := i.profiles.Get(kind)
	obs.Confidence = scorer.Score(profile.BaseConfidence, observedAt, i.now().UTC(), 0, i.scoring)

	return obs, nil
}

// numericField reports whether the field registry declares this key numeric.
func (i *Ingestor) numericField(key string) bool {
	if i.fields == nil {
		return false
	}
	spec := i.fields.ByKey(key)
	return spec != nil && spec.Type == model.FieldTypeNumeric
}
