package reliability

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/compintel/internal/model"
)

// Profile holds the trust parameters for one source kind. Profiles are data,
// not logic: operators can reclassify a kind without touching the reconciler.
type Profile struct {
	Kind           model.SourceKind `yaml:"kind"`
	AuthorityRank  int              `yaml:"authority_rank"`
	BaseConfidence float64          `yaml:"base_confidence"`
	// SelfVerifying marks kinds whose lone claim counts as verified
	// (a regulatory filing standing alone is self-verifying).
	SelfVerifying bool `yaml:"self_verifying"`
}

// fallback is returned for kinds with no registered profile, so ingest of an
// unrecognized source degrades gracefully instead of failing closed.
var fallback = Profile{
	Kind:           model.SourceUnknown,
	AuthorityRank:  10,
	BaseConfidence: 30,
}

// Registry maps source kinds to their reliability profiles.
type Registry struct {
	profiles map[model.SourceKind]Profile
	maxRank  int
}

// NewRegistry builds a registry from the given profiles.
func NewRegistry(profiles []Profile) *Registry {
	r := &Registry{profiles: make(map[model.SourceKind]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Kind] = p
		if p.AuthorityRank > r.maxRank {
			r.maxRank = p.AuthorityRank
		}
	}
	return r
}

// DefaultRegistry returns the built-in source reliability table.
func DefaultRegistry() *Registry {
	return NewRegistry([]Profile{
		{Kind: model.SourceRegulatoryFiling, AuthorityRank: 100, BaseConfidence: 95, SelfVerifying: true},
		{Kind: model.SourceManualVerified, AuthorityRank: 90, BaseConfidence: 90, SelfVerifying: true},
		{Kind: model.SourceVerifiedAPI, AuthorityRank: 80, BaseConfidence: 85},
		{Kind: model.SourceVerifiedManual, AuthorityRank: 70, BaseConfidence: 75},
		{Kind: model.SourceManualEntry, AuthorityRank: 50, BaseConfidence: 60},
		{Kind: model.SourceWebsiteScrape, AuthorityRank: 40, BaseConfidence: 50},
		{Kind: model.SourceNewsMention, AuthorityRank: 30, BaseConfidence: 40},
		{Kind: model.SourceUnknown, AuthorityRank: fallback.AuthorityRank, BaseConfidence: fallback.BaseConfidence},
	})
}

// Get returns the profile for a source kind. Unregistered kinds resolve to
// the lowest-authority fallback rather than erroring.
func (r *Registry) Get(kind model.SourceKind) Profile {
	if p, ok := r.profiles[kind]; ok {
		return p
	}
	return fallback
}

// MaxRank returns the highest authority rank in the table.
func (r *Registry) MaxRank() int {
	return r.maxRank
}

// Kinds returns all registered kinds ordered by descending authority.
func (r *Registry) Kinds() []model.SourceKind {
	kinds := make([]model.SourceKind, 0, len(r.profiles))
	for k := range r.profiles {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		pi, pj := r.profiles[kinds[i]], r.profiles[kinds[j]]
		if pi.AuthorityRank != pj.AuthorityRank {
			return pi.AuthorityRank > pj.AuthorityRank
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

// LoadFromFile reads a YAML profile table and overlays it on the defaults,
// so a partial file can promote or add kinds without restating the table.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reliability: read profiles %s", path)
	}

	var wrapper struct {
		Sources []Profile `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "reliability: parse profiles")
	}

	reg := DefaultRegistry()
	for _, p := range wrapper.Sources {
		if p.Kind == "" {
			return nil, eris.New("reliability: profile missing kind")
		}
		reg.profiles[p.Kind] = p
		if p.AuthorityRank > reg.maxRank {
			reg.maxRank = p.AuthorityRank
		}
	}
	return reg, nil
}
