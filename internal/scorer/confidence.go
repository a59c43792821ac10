package scorer

import "time"

// Config holds the confidence scoring parameters.
type Config struct {
	// FreshnessWindowDays is the age below which no decay applies.
	FreshnessWindowDays int `yaml:"freshness_window_days" mapstructure:"freshness_window_days"`
	// DecayStepDays is the interval past the window that costs one point.
	DecayStepDays int `yaml:"decay_step_days" mapstructure:"decay_step_days"`
	// Floor is the minimum score decay can reach.
	Floor float64 `yaml:"floor" mapstructure:"floor"`
	// CorroborationBoost is added per additional independent agreeing kind.
	CorroborationBoost float64 `yaml:"corroboration_boost" mapstructure:"corroboration_boost"`
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		FreshnessWindowDays: 30,
		DecayStepDays:       7,
		Floor:               25,
		CorroborationBoost:  10,
	}
}

// Score computes a 0-100 confidence for an observation. The base comes from
// the source profile; age past the freshness window decays it linearly, one
// point per step, never below the floor; each corroborating independent
// source kind adds a boost. Pure and deterministic given its inputs, which
// is what makes reconciliation idempotent.
func Score(base float64, observedAt, now time.Time, corroboration int, cfg Config) float64 {
	score := base

	if !observedAt.IsZero() && now.After(observedAt) {
		ageDays := now.Sub(observedAt).Hours() / 24
		past := ageDays - float64(cfg.FreshnessWindowDays)
		if past > 0 && cfg.DecayStepDays > 0 {
			score -= past / float64(cfg.DecayStepDays)
			if score < cfg.Floor {
				score = cfg.Floor
			}
		}
	}

	if corroboration > 0 {
		score += float64(corroboration) * cfg.CorroborationBoost
	}

	return clamp(score)
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
