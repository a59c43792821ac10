package model

import "time"

// ConsensusStatus represents the outcome of the most recent reconciliation.
type ConsensusStatus string

const (
	StatusResolved   ConsensusStatus = "resolved"
	StatusConflicted ConsensusStatus = "conflicted"
	StatusStale      ConsensusStatus = "stale"
)

// ConfidenceTier buckets a consensus confidence score.
type ConfidenceTier string

const (
	TierHigh     ConfidenceTier = "high"
	TierModerate ConfidenceTier = "moderate"
	TierLow      ConfidenceTier = "low"
)

// TierFor maps a 0-100 confidence score to its tier.
func TierFor(score float64) ConfidenceTier {
	switch {
	case score >= 70:
		return TierHigh
	case score >= 40:
		return TierModerate
	default:
		return TierLow
	}
}

// Consensus is the current resolved state for one (entity, field) pair.
// At most one exists per pair; each reconciliation run replaces it. Full
// claim history lives in the observation log, not here.
type Consensus struct {
	EntityID        string          `json:"entity_id"`
	FieldKey        string          `json:"field_key"`
	ResolvedValue   string          `json:"resolved_value"`
	NumericValue    *float64        `json:"numeric_value,omitempty"`
	Confidence      float64         `json:"confidence"`
	Tier            ConfidenceTier  `json:"tier"`
	Verified        bool            `json:"verified"`
	ContributingIDs []string        `json:"contributing_ids"`
	AgreementCount  int             `json:"agreement_count"`
	Status          ConsensusStatus `json:"status"`
	LastResolvedAt  time.Time       `json:"last_resolved_at"`
}
