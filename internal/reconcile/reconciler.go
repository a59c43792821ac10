// Package reconcile implements the multi-source triangulation engine: it
// clusters conflicting observations for one (entity, field) pair by value
// agreement, picks an authoritative value, and writes the consensus record
// every report and dashboard reads from.
package reconcile

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/ingest"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/reliability"
	"github.com/sells-group/compintel/internal/scorer"
	"github.com/sells-group/compintel/internal/store"
)

// ErrNoObservations is returned when a key has no live observations to
// reconcile (none stored, none inside the lookback window, or only
// parse-error rows).
var ErrNoObservations = eris.New("reconcile: no live observations")

// Config holds reconciliation parameters.
type Config struct {
	// Tolerance is the default relative difference under which two numeric
	// values agree. Fields may override it in the field registry.
	Tolerance float64 `yaml:"tolerance" mapstructure:"tolerance"`
	// Scoring configures the confidence scorer.
	Scoring scorer.Config `yaml:"scoring" mapstructure:"scoring"`
}

// DefaultConfig returns the standard reconciliation parameters.
func DefaultConfig() Config {
	return Config{
		Tolerance: 0.20,
		Scoring:   scorer.DefaultConfig(),
	}
}

// Reconciler computes consensus records from the observation log. Safe for
// concurrent use: distinct (entity, field) keys reconcile in parallel while
// a keyed mutex serializes work on the same key.
type Reconciler struct {
	store    store.Store
	profiles *reliability.Registry
	fields   *model.FieldRegistry
	ingestor *ingest.Ingestor
	cfg      Config
	locks    *keyedLocks
	now      func() time.Time
}

// New creates a Reconciler.
func New(st store.Store, profiles *reliability.Registry, fields *model.FieldRegistry, ing *ingest.Ingestor, cfg Config) *Reconciler {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultConfig().Tolerance
	}
	return &Reconciler{
		store:    st,
		profiles: profiles,
		fields:   fields,
		ingestor: ing,
		cfg:      cfg,
		locks:    newKeyedLocks(),
		now:      time.Now,
	}
}

// WithNow sets a fixed clock for testing. Reconciliation output depends only
// on the observation set and this clock, which is what makes repeat runs
// byte-identical.
func (r *Reconciler) WithNow(fn func() time.Time) *Reconciler {
	r.now = fn
	return r
}

// Reconcile gathers all live observations for the key, clusters them by
// value agreement, and replaces the consensus record with the outcome.
func (r *Reconciler) Reconcile(ctx context.Context, entityID, fieldKey string) (*model.Consensus, error) {
	unlock := r.locks.acquire(store.Key{EntityID: entityID, FieldKey: fieldKey})
	defer unlock()

	now := r.now().UTC()
	spec := r.fieldSpec(fieldKey)

	filter := store.ObservationFilter{EntityID: entityID, FieldKey: fieldKey}
	if spec != nil && spec.LookbackDays > 0 {
		filter.Since = now.AddDate(0, 0, -spec.LookbackDays)
	}

	obs, err := r.store.ListObservations(ctx, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: list observations %s/%s", entityID, fieldKey)
	}

	clusters := r.clusterFor(obs, spec)
	if len(clusters) == 0 {
		return nil, ErrNoObservations
	}

	consensus := r.resolve(ctx, entityID, fieldKey, clusters, now)

	if err := r.store.PutConsensus(ctx, consensus); err != nil {
		return nil, eris.Wrapf(err, "reconcile: put consensus %s/%s", entityID, fieldKey)
	}

	zap.L().Debug("reconcile: consensus updated",
		zap.String("entity", entityID),
		zap.String("field", fieldKey),
		zap.String("status", string(consensus.Status)),
		zap.Float64("confidence", consensus.Confidence),
		zap.Int("agreement", consensus.AgreementCount),
	)
	return consensus, nil
}

// RecordCorrection inserts a manual-verified observation for the key and
// triggers an immediate reconciliation, the override path for fields stuck
// in conflict.
func (r *Reconciler) RecordCorrection(ctx context.Context, entityID, fieldKey, value, reason, enteredBy string) (*model.Consensus, error) {
	if r.ingestor == nil {
		return nil, eris.New("reconcile: no ingestor configured for corrections")
	}

	_, err := r.ingestor.Submit(ctx, ingest.Request{
		EntityID:   entityID,
		FieldKey:   fieldKey,
		Value:      value,
		SourceKind: model.SourceManualVerified,
		OriginRef:  reason,
		EnteredBy:  enteredBy,
		ObservedAt: r.now().UTC(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile: record correction %s/%s", entityID, fieldKey)
	}

	return r.Reconcile(ctx, entityID, fieldKey)
}

// fieldSpec returns the registry entry for the key, or nil when untracked.
func (r *Reconciler) fieldSpec(fieldKey string) *model.FieldSpec {
	if r.fields == nil {
		return nil
	}
	return r.fields.ByKey(fieldKey)
}

// clusterFor picks the clustering mode for the field and applies it.
// Numeric fields exclude parse-error rows; untracked fields cluster
// numerically when every live row carries a numeric value.
func (r *Reconciler) clusterFor(obs []model.Observation, spec *model.FieldSpec) []*cluster {
	if len(obs) == 0 {
		return nil
	}

	tolerance := r.cfg.Tolerance
	numeric := false
	switch {
	case spec != nil && spec.Type == model.FieldTypeNumeric:
		numeric = true
		if spec.Tolerance > 0 {
			tolerance = spec.Tolerance
		}
	case spec == nil:
		numeric = true
		for _, o := range obs {
			if !o.Numeric() {
				numeric = false
				break
			}
		}
	}

	if numeric {
		return clusterNumeric(obs, tolerance, r.profiles)
	}
	return clusterText(obs, r.profiles)
}

// resolve applies the authority rules to the clusters and builds the new
// consensus record.
func (r *Reconciler) resolve(ctx context.Context, entityID, fieldKey string, clusters []*cluster, now time.Time) *model.Consensus {
	maxRank := 0
	for _, c := range clusters {
		if c.topRank > maxRank {
			maxRank = c.topRank
		}
	}

	var candidates []*cluster
	for _, c := range clusters {
		if c.topRank == maxRank {
			candidates = append(candidates, c)
		}
	}

	winner := candidates[0]
	if len(candidates) > 1 {
		winner = dominant(candidates)
		if winner == nil {
			return r.conflicted(ctx, entityID, fieldKey, candidates, now)
		}
	}

	top := winner.topObservation(r.profiles)
	profile := r.profiles.Get(top.SourceKind)
	corroboration := winner.kindCount() - 1
	confidence := scorer.Score(profile.BaseConfidence, top.ObservedAt, now, corroboration, r.cfg.Scoring)

	verified := winner.kindCount() >= 2 ||
		profile.SelfVerifying ||
		profile.AuthorityRank >= r.profiles.MaxRank()

	return &model.Consensus{
		EntityID:        entityID,
		FieldKey:        fieldKey,
		ResolvedValue:   top.RawValue,
		NumericValue:    top.NumericValue,
		Confidence:      confidence,
		Tier:            model.TierFor(confidence),
		Verified:        verified,
		ContributingIDs: observationIDs(winner),
		AgreementCount:  winner.kindCount(),
		Status:          model.StatusResolved,
		LastResolvedAt:  now,
	}
}

// conflicted builds the consensus for a key where no cluster dominates: the
// previous resolved value is retained rather than guessed, verification is
// forced off, and the key is left flagged for manual attention.
func (r *Reconciler) conflicted(ctx context.Context, entityID, fieldKey string, candidates []*cluster, now time.Time) *model.Consensus {
	c := &model.Consensus{
		EntityID:       entityID,
		FieldKey:       fieldKey,
		Status:         model.StatusConflicted,
		Verified:       false,
		AgreementCount: 0,
		Tier:           model.TierLow,
		LastResolvedAt: now,
	}

	var ids []string
	for _, cand := range candidates {
		ids = append(ids, observationIDs(cand)...)
	}
	sort.Strings(ids)
	c.ContributingIDs = ids

	prev, err := r.store.GetConsensus(ctx, entityID, fieldKey)
	if err != nil {
		zap.L().Warn("reconcile: previous consensus unavailable during conflict",
			zap.String("entity", entityID),
			zap.String("field", fieldKey),
			zap.Error(err),
		)
	}
	if prev != nil {
		c.ResolvedValue = prev.ResolvedValue
		c.NumericValue = prev.NumericValue
		c.Confidence = prev.Confidence
		c.Tier = model.TierFor(prev.Confidence)
	}

	zap.L().Info("reconcile: conflict unresolved",
		zap.String("entity", entityID),
		zap.String("field", fieldKey),
		zap.Int("tied_clusters", len(candidates)),
	)
	return c
}

// dominant returns the candidate whose source-kind set strictly contains
// every rival's, or nil when no such cluster exists.
func dominant(candidates []*cluster) *cluster {
	for _, c := range candidates {
		dominates := true
		for _, other := range candidates {
			if other == c {
				continue
			}
			if !c.supersetOf(other) {
				dominates = false
				break
			}
		}
		if dominates {
			return c
		}
	}
	return nil
}

func observationIDs(c *cluster) []string {
	ids := make([]string, 0, len(c.observations))
	for _, o := range c.observations {
		ids = append(ids, o.ID)
	}
	sort.Strings(ids)
	return ids
}
