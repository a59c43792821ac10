package model

import "time"

// SourceKind categorizes where an observation came from. Each kind carries a
// default trust level via the reliability registry; unregistered kinds are
// accepted and fall back to the lowest authority profile.
type SourceKind string

const (
	SourceRegulatoryFiling SourceKind = "regulatory-filing"
	SourceManualVerified   SourceKind = "manual-verified"
	SourceVerifiedAPI      SourceKind = "verified-api"
	SourceVerifiedManual   SourceKind = "verified-manual"
	SourceManualEntry      SourceKind = "manual-entry"
	SourceWebsiteScrape    SourceKind = "website-scrape"
	SourceNewsMention      SourceKind = "news-mention"
	SourceUnknown          SourceKind = "unknown"
)

// Observation is one timestamped, source-attributed claim about an entity's
// field value. Observations are immutable once stored; corrections are new
// observations, never edits.
type Observation struct {
	ID           string     `json:"id"`
	EntityID     string     `json:"entity_id"`
	FieldKey     string     `json:"field_key"`
	RawValue     string     `json:"raw_value"`
	NormValue    string     `json:"norm_value"`
	NumericValue *float64   `json:"numeric_value,omitempty"`
	SourceKind   SourceKind `json:"source_kind"`
	OriginRef    string     `json:"origin_ref,omitempty"`
	EnteredBy    string     `json:"entered_by,omitempty"`
	ParseError   string     `json:"parse_error,omitempty"`
	Confidence   float64    `json:"confidence"`
	ObservedAt   time.Time  `json:"observed_at"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Numeric reports whether the observation carries a usable numeric value.
// Observations with a parse error are retained for audit but excluded from
// numeric clustering.
func (o *Observation) Numeric() bool {
	return o.NumericValue != nil && o.ParseError == ""
}
