package store

import (
	"context"
	"time"

	"github.com/sells-group/compintel/internal/model"
)

// Key identifies one (entity, field) pair.
type Key struct {
	EntityID string `json:"entity_id"`
	FieldKey string `json:"field_key"`
}

// ObservationFilter specifies criteria for listing observations.
type ObservationFilter struct {
	EntityID string
	FieldKey string
	Since    time.Time // zero = unbounded
	Limit    int
}

// Store defines persistence for the reconciliation engine. The observation
// log is append-only: nothing ever updates or deletes a stored observation.
// Consensus rows are a derived projection and are replaced wholesale by each
// reconciliation run.
type Store interface {
	// Observations
	AddObservation(ctx context.Context, obs model.Observation) (*model.Observation, error)
	AddObservations(ctx context.Context, obs []model.Observation) (int, error)
	ListObservations(ctx context.Context, filter ObservationFilter) ([]model.Observation, error)

	// Consensus
	GetConsensus(ctx context.Context, entityID, fieldKey string) (*model.Consensus, error)
	PutConsensus(ctx context.Context, c *model.Consensus) error
	ListConsensus(ctx context.Context, entityID string) ([]model.Consensus, error)
	ListLowConfidence(ctx context.Context, threshold float64, limit int) ([]model.Consensus, error)

	// Corpus
	ListEntities(ctx context.Context) ([]string, error)
	ListKeys(ctx context.Context) ([]Key, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
