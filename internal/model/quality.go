package model

import "time"

// EntityTier buckets an entity by average confidence across tracked fields.
type EntityTier string

const (
	EntityTierExcellent EntityTier = "excellent"
	EntityTierGood      EntityTier = "good"
	EntityTierFair      EntityTier = "fair"
	EntityTierPoor      EntityTier = "poor"
)

// EntityTierFor maps an average confidence to its quality tier.
func EntityTierFor(avgConfidence float64) EntityTier {
	switch {
	case avgConfidence >= 90:
		return EntityTierExcellent
	case avgConfidence >= 70:
		return EntityTierGood
	case avgConfidence >= 50:
		return EntityTierFair
	default:
		return EntityTierPoor
	}
}

// QualitySnapshot is a per-entity read-side rollup of consensus state.
type QualitySnapshot struct {
	EntityID            string     `json:"entity_id"`
	FieldsTracked       int        `json:"fields_tracked"`
	FieldsPopulated     int        `json:"fields_populated"`
	CompletenessPct     float64    `json:"completeness_pct"`
	AverageConfidence   float64    `json:"average_confidence"`
	VerifiedFraction    float64    `json:"verified_fraction"`
	StaleFieldCount     int        `json:"stale_field_count"`
	ConflictedFieldKeys []string   `json:"conflicted_field_keys,omitempty"`
	Tier                EntityTier `json:"tier"`
	CollectedAt         time.Time  `json:"collected_at"`
}

// CorpusSnapshot aggregates quality across all tracked entities.
type CorpusSnapshot struct {
	Entities          int                `json:"entities"`
	AverageConfidence float64            `json:"average_confidence"`
	AvgCompleteness   float64            `json:"avg_completeness_pct"`
	VerifiedFraction  float64            `json:"verified_fraction"`
	StaleFieldCount   int                `json:"stale_field_count"`
	ConflictedCount   int                `json:"conflicted_count"`
	TierCounts        map[EntityTier]int `json:"tier_counts"`
	CollectedAt       time.Time          `json:"collected_at"`
}
