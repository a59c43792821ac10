// Package quality computes read-side rollups of consensus state: per-entity
// completeness, freshness, and confidence tiers, plus corpus-wide aggregates
// for reporting. It performs no writes.
package quality

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/store"
)

// Config holds quality rollup parameters.
type Config struct {
	// StaleAfterDays flags a field whose last evidence is older than this,
	// independent of its confidence. Default 30.
	StaleAfterDays int `yaml:"stale_after_days" mapstructure:"stale_after_days"`
}

// DefaultConfig returns the standard quality parameters.
func DefaultConfig() Config {
	return Config{StaleAfterDays: 30}
}

// Aggregator rolls consensus records up into quality snapshots.
type Aggregator struct {
	store  store.Store
	fields *model.FieldRegistry
	cfg    Config
	now    func() time.Time
}

// New creates an Aggregator.
func New(st store.Store, fields *model.FieldRegistry, cfg Config) *Aggregator {
	if cfg.StaleAfterDays <= 0 {
		cfg.StaleAfterDays = DefaultConfig().StaleAfterDays
	}
	return &Aggregator{
		store:  st,
		fields: fields,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithNow sets a fixed clock for testing.
func (a *Aggregator) WithNow(fn func() time.Time) *Aggregator {
	a.now = fn
	return a
}

// Snapshot computes the quality rollup for one entity across its tracked
// fields.
func (a *Aggregator) Snapshot(ctx context.Context, entityID string) (*model.QualitySnapshot, error) {
	now := a.now().UTC()
	cutoff := now.AddDate(0, 0, -a.cfg.StaleAfterDays)

	consensus, err := a.store.ListConsensus(ctx, entityID)
	if err != nil {
		return nil, eris.Wrapf(err, "quality: list consensus %s", entityID)
	}

	byField := make(map[string]*model.Consensus, len(consensus))
	for i := range consensus {
		byField[consensus[i].FieldKey] = &consensus[i]
	}

	snap := &model.QualitySnapshot{
		EntityID:      entityID,
		FieldsTracked: len(a.fields.Fields),
		CollectedAt:   now,
	}

	var confidenceSum float64
	var verified int
	for _, key := range a.fields.Keys() {
		c, ok := byField[key]
		if !ok {
			// Never reconciled: the field may still have raw evidence, whose
			// age alone decides staleness.
			observedAt, found, err := a.latestObservation(ctx, entityID, key)
			if err != nil {
				return nil, err
			}
			if found {
				snap.FieldsPopulated++
				if observedAt.Before(cutoff) {
					snap.StaleFieldCount++
				}
			}
			continue
		}

		snap.FieldsPopulated++
		confidenceSum += c.Confidence
		if c.Verified {
			verified++
		}
		// A highly confident but old value is still stale.
		if c.LastResolvedAt.Before(cutoff) {
			snap.StaleFieldCount++
		}
		if c.Status == model.StatusConflicted {
			snap.ConflictedFieldKeys = append(snap.ConflictedFieldKeys, key)
		}
	}

	if snap.FieldsTracked > 0 {
		snap.CompletenessPct = 100 * float64(snap.FieldsPopulated) / float64(snap.FieldsTracked)
	}
	if snap.FieldsPopulated > 0 {
		snap.AverageConfidence = confidenceSum / float64(snap.FieldsPopulated)
		snap.VerifiedFraction = float64(verified) / float64(snap.FieldsPopulated)
	}
	snap.Tier = model.EntityTierFor(snap.AverageConfidence)

	return snap, nil
}

// Corpus aggregates quality across every entity with observations.
func (a *Aggregator) Corpus(ctx context.Context) (*model.CorpusSnapshot, error) {
	entities, err := a.store.ListEntities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "quality: list entities")
	}

	corpus := &model.CorpusSnapshot{
		Entities:    len(entities),
		TierCounts:  make(map[model.EntityTier]int),
		CollectedAt: a.now().UTC(),
	}

	var confidenceSum, completenessSum, verifiedSum float64
	for _, entityID := range entities {
		snap, err := a.Snapshot(ctx, entityID)
		if err != nil {
			return nil, err
		}
		confidenceSum += snap.AverageConfidence
		completenessSum += snap.CompletenessPct
		verifiedSum += snap.VerifiedFraction
		corpus.StaleFieldCount += snap.StaleFieldCount
		corpus.ConflictedCount += len(snap.ConflictedFieldKeys)
		corpus.TierCounts[snap.Tier]++
	}

	if len(entities) > 0 {
		n := float64(len(entities))
		corpus.AverageConfidence = confidenceSum / n
		corpus.AvgCompleteness = completenessSum / n
		corpus.VerifiedFraction = verifiedSum / n
	}

	return corpus, nil
}

// latestObservation returns the newest observed_at for a key, with found
// false when the key has no observations at all.
func (a *Aggregator) latestObservation(ctx context.Context, entityID, fieldKey string) (time.Time, bool, error) {
	obs, err := a.store.ListObservations(ctx, store.ObservationFilter{
		EntityID: entityID,
		FieldKey: fieldKey,
	})
	if err != nil {
		return time.Time{}, false, eris.Wrapf(err, "quality: list observations %s/%s", entityID, fieldKey)
	}
	if len(obs) == 0 {
		return time.Time{}, false, nil
	}
	return obs[len(obs)-1].ObservedAt, true, nil
}
