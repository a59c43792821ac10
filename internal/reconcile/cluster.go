package reconcile

import (
	"math"

	"github.com/sells-group/compintel/internal/model"
	"github.com/sells-group/compintel/internal/reliability"
)

// cluster groups observations that agree on a value, together with the
// distinct source kinds backing them.
type cluster struct {
	observations []model.Observation
	kinds        map[model.SourceKind]struct{}
	topRank      int
}

func (c *cluster) add(obs model.Observation, rank int) {
	c.observations = append(c.observations, obs)
	if c.kinds == nil {
		c.kinds = make(map[model.SourceKind]struct{})
	}
	c.kinds[obs.SourceKind] = struct{}{}
	if rank > c.topRank {
		c.topRank = rank
	}
}

// kindCount is the number of independent source kinds corroborating the
// cluster's value.
func (c *cluster) kindCount() int {
	return len(c.kinds)
}

// supersetOf reports whether this cluster's kind set strictly contains the
// other cluster's kind set.
func (c *cluster) supersetOf(other *cluster) bool {
	if len(c.kinds) <= len(other.kinds) {
		return false
	}
	for k := range other.kinds {
		if _, ok := c.kinds[k]; !ok {
			return false
		}
	}
	return true
}

// relDiff is the relative difference between two values, scaled by the
// larger magnitude so the comparison is symmetric.
func relDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}

// clusterNumeric greedily groups observations whose values fall within the
// relative tolerance of a cluster's seed value. Observations arrive ordered
// by observed_at, which makes the grouping deterministic.
func clusterNumeric(obs []model.Observation, tolerance float64, profiles *reliability.Registry) []*cluster {
	var clusters []*cluster
	for _, o := range obs {
		if !o.Numeric() {
			continue
		}
		rank := profiles.Get(o.SourceKind).AuthorityRank

		placed := false
		for _, c := range clusters {
			seed := c.observations[0]
			if relDiff(*o.NumericValue, *seed.NumericValue) <= tolerance {
				c.add(o, rank)
				placed = true
				break
			}
		}
		if !placed {
			c := &cluster{}
			c.add(o, rank)
			clusters = append(clusters, c)
		}
	}
	return clusters
}

// clusterText groups observations by exact match of their normalized value.
func clusterText(obs []model.Observation, profiles *reliability.Registry) []*cluster {
	byNorm := make(map[string]*cluster)
	var clusters []*cluster
	for _, o := range obs {
		rank := profiles.Get(o.SourceKind).AuthorityRank
		c, ok := byNorm[o.NormValue]
		if !ok {
			c = &cluster{}
			byNorm[o.NormValue] = c
			clusters = append(clusters, c)
		}
		c.add(o, rank)
	}
	return clusters
}

// topObservation returns the cluster member with the highest authority rank,
// breaking rank ties by most recent observed_at, then by id for determinism.
func (c *cluster) topObservation(profiles *reliability.Registry) model.Observation {
	best := c.observations[0]
	bestRank := profiles.Get(best.SourceKind).AuthorityRank
	for _, o := range c.observations[1:] {
		rank := profiles.Get(o.SourceKind).AuthorityRank
		switch {
		case rank > bestRank:
			best, bestRank = o, rank
		case rank == bestRank && o.ObservedAt.After(best.ObservedAt):
			best = o
		case rank == bestRank && o.ObservedAt.Equal(best.ObservedAt) && o.ID > best.ID:
			best = o
		}
	}
	return best
}
