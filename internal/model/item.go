package model

// Role classifies an ingredient as active or inactive. Marketing claims are
// always recorded as active.
type Role string

const (
	RoleActive   Role = "active"
	RoleInactive Role = "inactive"
)

// Defaults applied when the extraction capability omits a field.
const (
	DefaultUnit   = "n/a"
	DefaultAmount = 0.0
)

// ExtractedItem is one candidate ingredient or claim pulled out of a single
// raw fragment by the extraction adapter.
type ExtractedItem struct {
	RawName          string     `json:"raw_name"`
	Unit             string     `json:"unit"`
	Amount           float64    `json:"amount"`
	Role             Role       `json:"role"`
	ServingIndicator string     `json:"serving_indicator,omitempty"`
	SourceKind       SourceKind `json:"source_kind"`
	Note             string     `json:"note,omitempty"`
}

// MatchMethod records how a raw name was resolved against the vocabulary.
type MatchMethod string

const (
	MatchExact     MatchMethod = "exact"
	MatchAlias     MatchMethod = "alias"
	MatchFuzzy     MatchMethod = "fuzzy"
	MatchUnmatched MatchMethod = "unmatched"
)

// MatchedItem is an ExtractedItem resolved against the canonical vocabulary.
// CanonicalName is empty when no entry cleared the similarity threshold;
// MatchScore then holds the best score found, for diagnostics.
type MatchedItem struct {
	ExtractedItem
	CanonicalName string      `json:"canonical_name,omitempty"`
	MatchScore    float64     `json:"match_score"`
	MatchMethod   MatchMethod `json:"match_method"`
	MatchNote     string      `json:"match_note,omitempty"`
}

// NormalizedItem is the reconciled, per-(canonical name, role) view of an
// ingredient or claim across all sources that observed it.
type NormalizedItem struct {
	CanonicalName     string       `json:"canonical_name"`
	Unit              string       `json:"unit"`
	Amount            float64      `json:"amount"`
	Role              Role         `json:"role"`
	ServingIndicator  string       `json:"serving_indicator,omitempty"`
	SupportingSources []SourceKind `json:"supporting_sources"`
	Confidence        float64      `json:"confidence"`
	Flagged           bool         `json:"flagged"`
	Notes             []string     `json:"notes"`
}

// ProductRecord is the final per-product artifact handed to downstream
// consumers. RecordFlagged is true iff any child item is flagged.
type ProductRecord struct {
	ProductID     string           `json:"product_id"`
	ProductName   string           `json:"product_name"`
	Ingredients   []NormalizedItem `json:"ingredients"`
	Claims        []NormalizedItem `json:"claims"`
	RecordFlagged bool             `json:"record_flagged"`
	Notes         []string         `json:"notes"`
}
