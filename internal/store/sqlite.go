package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/compintel/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS observations (
	id            TEXT PRIMARY KEY,
	entity_id     TEXT NOT NULL,
	field_key     TEXT NOT NULL,
	raw_value     TEXT NOT NULL,
	norm_value    TEXT NOT NULL DEFAULT '',
	numeric_value REAL,
	source_kind   TEXT NOT NULL,
	origin_ref    TEXT NOT NULL DEFAULT '',
	entered_by    TEXT NOT NULL DEFAULT '',
	parse_error   TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL DEFAULT 0,
	observed_at   DATETIME NOT NULL,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS consensus (
	entity_id        TEXT NOT NULL,
	field_key        TEXT NOT NULL,
	resolved_value   TEXT NOT NULL DEFAULT '',
	numeric_value    REAL,
	confidence       REAL NOT NULL DEFAULT 0,
	tier             TEXT NOT NULL DEFAULT 'low',
	verified         INTEGER NOT NULL DEFAULT 0,
	contributing     TEXT NOT NULL DEFAULT '[]',
	agreement_count  INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'resolved',
	last_resolved_at DATETIME NOT NULL,
	PRIMARY KEY (entity_id, field_key)
);

CREATE INDEX IF NOT EXISTS idx_observations_key ON observations(entity_id, field_key, observed_at);
CREATE INDEX IF NOT EXISTS idx_consensus_confidence ON consensus(confidence);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AddObservation(ctx context.Context, obs model.Observation) (*model.Observation, error) {
	stamp(&obs)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations
		 (id, entity_id, field_key, raw_value, norm_value, numeric_value, source_kind, origin_ref, entered_by, parse_error, confidence, observed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.EntityID, obs.FieldKey, obs.RawValue, obs.NormValue, nullFloat(obs.NumericValue),
		string(obs.SourceKind), obs.OriginRef, obs.EnteredBy, obs.ParseError, obs.Confidence, obs.ObservedAt, obs.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert observation %s/%s", obs.EntityID, obs.FieldKey)
	}
	return &obs, nil
}

func (s *SQLiteStore) AddObservations(ctx context.Context, obs []model.Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO observations
		 (id, entity_id, field_key, raw_value, norm_value, numeric_value, source_kind, origin_ref, entered_by, parse_error, confidence, observed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare batch insert")
	}
	defer stmt.Close()

	for i := range obs {
		o := obs[i]
		stamp(&o)
		if _, err := stmt.ExecContext(ctx,
			o.ID, o.EntityID, o.FieldKey, o.RawValue, o.NormValue, nullFloat(o.NumericValue),
			string(o.SourceKind), o.OriginRef, o.EnteredBy, o.ParseError, o.Confidence, o.ObservedAt, o.CreatedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: batch insert observation %s/%s", o.EntityID, o.FieldKey)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit batch")
	}
	return len(obs), nil
}

func (s *SQLiteStore) ListObservations(ctx context.Context, filter ObservationFilter) ([]model.Observation, error) {
	query := `SELECT id, entity_id, field_key, raw_value, norm_value, numeric_value, source_kind, origin_ref, entered_by, parse_error, confidence, observed_at, created_at
	          FROM observations WHERE entity_id = ? AND field_key = ?`
	args := []any{filter.EntityID, filter.FieldKey}

	if !filter.Since.IsZero() {
		query += ` AND observed_at >= ?`
		args = append(args, filter.Since)
	}
	query += ` ORDER BY observed_at ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list observations")
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		var o model.Observation
		var numeric sql.NullFloat64
		var kind string
		if err := rows.Scan(&o.ID, &o.EntityID, &o.FieldKey, &o.RawValue, &o.NormValue, &numeric,
			&kind, &o.OriginRef, &o.EnteredBy, &o.ParseError, &o.Confidence, &o.ObservedAt, &o.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		o.SourceKind = model.SourceKind(kind)
		if numeric.Valid {
			v := numeric.Float64
			o.NumericValue = &v
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list observations iterate")
}

func (s *SQLiteStore) GetConsensus(ctx context.Context, entityID, fieldKey string) (*model.Consensus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entity_id, field_key, resolved_value, numeric_value, confidence, tier, verified, contributing, agreement_count, status, last_resolved_at
		 FROM consensus WHERE entity_id = ? AND field_key = ?`,
		entityID, fieldKey,
	)

	c, err := scanConsensus(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get consensus %s/%s", entityID, fieldKey)
	}
	return c, nil
}

func (s *SQLiteStore) PutConsensus(ctx context.Context, c *model.Consensus) error {
	contributing, err := json.Marshal(c.ContributingIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contributing ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO consensus
		 (entity_id, field_key, resolved_value, numeric_value, confidence, tier, verified, contributing, agreement_count, status, last_resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (entity_id, field_key) DO UPDATE SET
		   resolved_value = excluded.resolved_value,
		   numeric_value = excluded.numeric_value,
		   confidence = excluded.confidence,
		   tier = excluded.tier,
		   verified = excluded.verified,
		   contributing = excluded.contributing,
		   agreement_count = excluded.agreement_count,
		   status = excluded.status,
		   last_resolved_at = excluded.last_resolved_at`,
		c.EntityID, c.FieldKey, c.ResolvedValue, nullFloat(c.NumericValue), c.Confidence, string(c.Tier),
		boolInt(c.Verified), string(contributing), c.AgreementCount, string(c.Status), c.LastResolvedAt,
	)
	return eris.Wrapf(err, "sqlite: put consensus %s/%s", c.EntityID, c.FieldKey)
}

func (s *SQLiteStore) ListConsensus(ctx context.Context, entityID string) ([]model.Consensus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, field_key, resolved_value, numeric_value, confidence, tier, verified, contributing, agreement_count, status, last_resolved_at
		 FROM consensus WHERE entity_id = ? ORDER BY field_key ASC`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list consensus")
	}
	defer rows.Close()
	return collectConsensus(rows)
}

func (s *SQLiteStore) ListLowConfidence(ctx context.Context, threshold float64, limit int) ([]model.Consensus, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, field_key, resolved_value, numeric_value, confidence, tier, verified, contributing, agreement_count, status, last_resolved_at
		 FROM consensus WHERE confidence < ? ORDER BY confidence ASC, entity_id ASC, field_key ASC LIMIT ?`,
		threshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list low confidence")
	}
	defer rows.Close()
	return collectConsensus(rows)
}

func (s *SQLiteStore) ListEntities(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id FROM observations ORDER BY entity_id ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list entities")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list entities iterate")
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT entity_id, field_key FROM observations ORDER BY entity_id ASC, field_key ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list keys")
	}
	defer rows.Close()

	var out []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.EntityID, &k.FieldKey); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan key")
		}
		out = append(out, k)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list keys iterate")
}

// helpers

// stamp assigns the id and created-at timestamp for a new observation.
func stamp(o *model.Observation) {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.ObservedAt.IsZero() {
		o.ObservedAt = now
	}
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanConsensus(row scannable) (*model.Consensus, error) {
	var c model.Consensus
	var numeric sql.NullFloat64
	var tier, status, contributing string
	var verified int

	err := row.Scan(&c.EntityID, &c.FieldKey, &c.ResolvedValue, &numeric, &c.Confidence,
		&tier, &verified, &contributing, &c.AgreementCount, &status, &c.LastResolvedAt)
	if err != nil {
		return nil, err
	}

	if numeric.Valid {
		v := numeric.Float64
		c.NumericValue = &v
	}
	c.Tier = model.ConfidenceTier(tier)
	c.Status = model.ConsensusStatus(status)
	c.Verified = verified != 0
	if err := json.Unmarshal([]byte(contributing), &c.ContributingIDs); err != nil {
		return nil, eris.Wrap(err, "unmarshal contributing ids")
	}
	return &c, nil
}

func collectConsensus(rows *sql.Rows) ([]model.Consensus, error) {
	var out []model.Consensus
	for rows.Next() {
		c, err := scanConsensus(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan consensus")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate consensus")
}
