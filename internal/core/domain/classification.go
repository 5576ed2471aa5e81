package domain

// Category is the fixed ticket taxonomy. Values the inference service
// returns outside this set are normalized to CategoryOther.
type Category string

const (
	CategoryBilling   Category = "billing"
	CategoryTechnical Category = "technical"
	CategoryAccount   Category = "account"
	CategoryShipping  Category = "shipping"
	CategoryOther     Category = "other"
)

// NormalizeCategory maps an arbitrary category string into the taxonomy.
func NormalizeCategory(s string) Category {
	switch Category(s) {
	case CategoryBilling, CategoryTechnical, CategoryAccount, CategoryShipping, CategoryOther:
		return Category(s)
	default:
		return CategoryOther
	}
}

// Priority is the ticket urgency level.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// NormalizePriority maps an arbitrary priority string into the known levels,
// defaulting to medium.
func NormalizePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityLow:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// ClassificationResult is produced once per ticket and never mutated.
// Sentiment is in [-1, 1]; Confidence is in [0, 1].
type ClassificationResult struct {
	Category         Category `json:"category"`
	Priority         Priority `json:"priority"`
	Department       string   `json:"department"`
	Sentiment        float64  `json:"sentiment"`
	Confidence       float64  `json:"confidence"`
	ReasoningSnippet string   `json:"reasoning_snippet"`
}
