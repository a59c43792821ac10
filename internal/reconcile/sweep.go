package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/resilience"
)

// SweepResult summarizes a batch reconciliation pass. A failure on one key
// never prevents reconciliation of any other; per-key errors are collected
// here and reported in aggregate.
type SweepResult struct {
	Total      int               `json:"total"`
	Resolved   int               `json:"resolved"`
	Conflicted int               `json:"conflicted"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Errors     map[string]string `json:"errors,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Sweep reconciles every (entity, field) key present in the observation log,
// fanning out across a bounded worker pool. Transient store errors are
// retried before a key is marked failed.
func (r *Reconciler) Sweep(ctx context.Context, concurrency int) (*SweepResult, error) {
	if concurrency <= 0 {
		concurrency = 5
	}

	keys, err := r.store.ListKeys(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "sweep: list keys")
	}

	start := r.now()
	result := &SweepResult{
		Total:  len(keys),
		Errors: make(map[string]string),
	}
	var mu sync.Mutex

	retryCfg := resilience.DefaultRetryConfig()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, key := range keys {
		g.Go(func() error {
			var consensus *model.Consensus
			err := resilience.Do(gctx, retryCfg, func(ctx context.Context) error {
				var innerErr error
				consensus, innerErr = r.Reconcile(ctx, key.EntityID, key.FieldKey)
				return innerErr
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case eris.Is(err, ErrNoObservations):
				result.Skipped++
			case err != nil:
				result.Failed++
				result.Errors[fmt.Sprintf("%s/%s", key.EntityID, key.FieldKey)] = err.Error()
			case consensus.Status == model.StatusConflicted:
				result.Conflicted++
			default:
				result.Resolved++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, eris.Wrap(err, "sweep: wait")
	}

	result.Duration = r.now().Sub(start)
	zap.L().Info("sweep complete",
		zap.Int("total", result.Total),
		zap.Int("resolved", result.Resolved),
		zap.Int("conflicted", result.Conflicted),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}
