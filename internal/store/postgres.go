package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/compintel/internal/db"
	"github.com/sells-group/compintel/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS observations (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	field_key     TEXT NOT NULL,
	raw_value     TEXT NOT NULL,
	norm_value    TEXT NOT NULL DEFAULT '',
	numeric_value DOUBLE PRECISION,
	source_kind   TEXT NOT NULL,
	origin_ref    TEXT NOT NULL DEFAULT '',
	entered_by    TEXT NOT NULL DEFAULT '',
	parse_error   TEXT NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	observed_at   TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS consensus (
	entity_id        TEXT NOT NULL,
	field_key        TEXT NOT NULL,
	resolved_value   TEXT NOT NULL DEFAULT '',
	numeric_value    DOUBLE PRECISION,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	tier             TEXT NOT NULL DEFAULT 'low',
	verified         BOOLEAN NOT NULL DEFAULT false,
	contributing     JSONB NOT NULL DEFAULT '[]',
	agreement_count  INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'resolved',
	last_resolved_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (entity_id, field_key)
);

CREATE INDEX IF NOT EXISTS idx_observations_key ON observations(entity_id, field_key, observed_at);
CREATE INDEX IF NOT EXISTS idx_consensus_confidence ON consensus(confidence);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const observationColumnsSQL = `id, entity_id, field_key, raw_value, norm_value, numeric_value, source_kind, origin_ref, entered_by, parse_error, confidence, observed_at, created_at`

func (s *PostgresStore) AddObservation(ctx context.Context, obs model.Observation) (*model.Observation, error) {
	stamp(&obs)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO observations (`+observationColumnsSQL+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		obs.ID, obs.EntityID, obs.FieldKey, obs.RawValue, obs.NormValue, obs.NumericValue,
		string(obs.SourceKind), obs.OriginRef, obs.EnteredBy, obs.ParseError, obs.Confidence, obs.ObservedAt, obs.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert observation %s/%s", obs.EntityID, obs.FieldKey)
	}
	return &obs, nil
}

func (s *PostgresStore) AddObservations(ctx context.Context, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(obs))
	for i := range obs {
		o := obs[i]
		stamp(&o)
		rows = append(rows, []any{
			o.ID, o.EntityID, o.FieldKey, o.RawValue, o.NormValue, o.NumericValue,
			string(o.SourceKind), o.OriginRef, o.EnteredBy, o.ParseError, o.Confidence, o.ObservedAt, o.CreatedAt,
		})
	}

	columns := []string{
		"id", "entity_id", "field_key", "raw_value", "norm_value", "numeric_value",
		"source_kind", "origin_ref", "entered_by", "parse_error", "confidence", "observed_at", "created_at",
	}
	n, err := db.CopyFrom(ctx, s.pool, "observations", columns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: bulk insert observations")
	}
	return int(n), nil
}

func (s *PostgresStore) ListObservations(ctx context.Context, filter ObservationFilter) ([]model.Observation, error) {
	query := `SELECT ` + observationColumnsSQL + ` FROM observations WHERE entity_id = $1 AND field_key = $2`
	args := []any{filter.EntityID, filter.FieldKey}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += ` AND observed_at >= $3`
	}
	query += ` ORDER BY observed_at ASC, created_at ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list observations")
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var kind string
		if err := rows.Scan(&o.ID, &o.EntityID, &o.FieldKey, &o.RawValue, &o.NormValue, &o.NumericValue,
			&kind, &o.OriginRef, &o.EnteredBy, &o.ParseError, &o.Confidence, &o.ObservedAt, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		o.SourceKind = model.SourceKind(kind)
		out = append(out, o)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, eris.Wrap(rows.Err(), "postgres: list observations iterate")
}

const consensusColumnsSQL = `entity_id, field_key, resolved_value, numeric_value, confidence, tier, verified, contributing, agreement_count, status, last_resolved_at`

func (s *PostgresStore) GetConsensus(ctx context.Context, entityID, fieldKey string) (*model.Consensus, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+consensusColumnsSQL+` FROM consensus WHERE entity_id = $1 AND field_key = $2`,
		entityID, fieldKey,
	)

	c, err := scanConsensusPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get consensus %s/%s", entityID, fieldKey)
	}
	return c, nil
}

func (s *PostgresStore) PutConsensus(ctx context.Context, c *model.Consensus) error {
	contributing, err := json.Marshal(c.ContributingIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contributing ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO consensus (`+consensusColumnsSQL+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (entity_id, field_key) DO UPDATE SET
		   resolved_value = EXCLUDED.resolved_value,
		   numeric_value = EXCLUDED.numeric_value,
		   confidence = EXCLUDED.confidence,
		   tier = EXCLUDED.tier,
		   verified = EXCLUDED.verified,
		   contributing = EXCLUDED.contributing,
		   agreement_count = EXCLUDED.agreement_count,
		   status = EXCLUDED.status,
		   last_resolved_at = EXCLUDED.last_resolved_at`,
		c.EntityID, c.FieldKey, c.ResolvedValue, c.NumericValue, c.Confidence, string(c.Tier),
		c.Verified, string(contributing), c.AgreementCount, string(c.Status), c.LastResolvedAt,
	)
	return eris.Wrapf(err, "postgres: put consensus %s/%s", c.EntityID, c.FieldKey)
}

func (s *PostgresStore) ListConsensus(ctx context.Context, entityID string) ([]model.Consensus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+consensusColumnsSQL+` FROM consensus WHERE entity_id = $1 ORDER BY field_key ASC`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list consensus")
	}
	defer rows.Close()
	return collectConsensusPG(rows)
}

func (s *PostgresStore) ListLowConfidence(ctx context.Context, threshold float64, limit int) ([]model.Consensus, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+consensusColumnsSQL+` FROM consensus WHERE confidence < $1 ORDER BY confidence ASC, entity_id ASC, field_key ASC LIMIT $2`,
		threshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list low confidence")
	}
	defer rows.Close()
	return collectConsensusPG(rows)
}

func (s *PostgresStore) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT entity_id FROM observations ORDER BY entity_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list entities")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list entities iterate")
}

func (s *PostgresStore) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT entity_id, field_key FROM observations ORDER BY entity_id ASC, field_key ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list keys")
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.EntityID, &k.FieldKey); err != nil {
			return nil, eris.Wrap(err, "postgres: scan key")
		}
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list keys iterate")
}

func scanConsensusPG(row pgx.Row) (*model.Consensus, error) {
	var c model.Consensus
	var tier, status string
	var contributing []byte

	err := row.Scan(&c.EntityID, &c.FieldKey, &c.ResolvedValue, &c.NumericValue, &c.Confidence,
		&tier, &c.Verified, &contributing, &c.AgreementCount, &status, &c.LastResolvedAt)
	if err != nil {
		return nil, err
	}

	c.Tier = model.ConfidenceTier(tier)
	c.Status = model.ConsensusStatus(status)
	if err := json.Unmarshal(contributing, &c.ContributingIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal contributing ids")
	}
	return &c, nil
}

func collectConsensusPG(rows pgx.Rows) ([]model.Consensus, error) {
	var out []model.Consensus
	for rows.Next() {
		c, err := scanConsensusPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan consensus")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate consensus")
}
