package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/compintel/internal/ingest"
	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/quality"
	"github.com/sells-group/compintel/internal/reconcile"
	"github.com/sells-group/compintel/internal/reliability"
	"github.com/sells-group/compintel/internal/scorer"
	"github.com/sells-group/compintel/internal/store"
)

// appEnv bundles the wired engine components shared by every command.
type appEnv struct {
	store      store.Store
	profiles   *reliability.Registry
	fields     *model.FieldRegistry
	ingestor   *ingest.Ingestor
	reconciler *reconcile.Reconciler
	quality    *quality.Aggregator
}

func (e *appEnv) Close() {
	if err := e.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates configuration, opens the store, and wires the ingest,
// reconcile, and quality components from it.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}

	profiles := reliability.DefaultRegistry()
	if cfg.Sources.ProfilesPath != "" {
		profiles, err = reliability.LoadFromFile(cfg.Sources.ProfilesPath)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "load source profiles")
		}
		zap.L().Info("source profiles loaded", zap.String("path", cfg.Sources.ProfilesPath))
	}

	fields := model.NewFieldRegistry(model.DefaultFields())
	if cfg.Sources.FieldsPath != "" {
		fields, err = model.LoadFieldsFromFile(cfg.Sources.FieldsPath)
		if err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "load field registry")
		}
		zap.L().Info("field registry loaded",
			zap.String("path", cfg.Sources.FieldsPath),
			zap.Int("fields", len(fields.Fields)),
		)
	}

	scoring := scorer.Config{
		FreshnessWindowDays: cfg.Scoring.FreshnessWindowDays,
		DecayStepDays:       cfg.Scoring.DecayStepDays,
		Floor:               cfg.Scoring.Floor,
		CorroborationBoost:  cfg.Scoring.CorroborationBoost,
	}

	ing := ingest.New(st, profiles, fields, scoring)
	rec := reconcile.New(st, profiles, fields, ing, reconcile.Config{
		Tolerance: cfg.Reconcile.Tolerance,
		Scoring:   scoring,
	})
	agg := quality.New(st, fields, quality.Config{StaleAfterDays: cfg.Quality.StaleAfterDays})

	return &appEnv{
		store:      st,
		profiles:   profiles,
		fields:     fields,
		ingestor:   ing,
		reconciler: rec,
		quality:    agg,
	}, nil
}
