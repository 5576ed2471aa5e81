package domain

// SafetyFlag annotates a draft or guardrail verdict.
type SafetyFlag string

const (
	FlagPIIDetected          SafetyFlag = "pii_detected"
	FlagOffBrand             SafetyFlag = "off_brand"
	FlagUnsafeContent        SafetyFlag = "unsafe_content"
	FlagHallucinationRisk    SafetyFlag = "hallucination_risk"
	FlagLowContextConfidence SafetyFlag = "low_context_confidence"
	FlagFallbackTemplate     SafetyFlag = "fallback_template"
)

// Blocking reports whether this flag alone fails guardrail evaluation.
func (f SafetyFlag) Blocking() bool {
	return f == FlagPIIDetected || f == FlagUnsafeContent
}

// ResponseDraft is one candidate reply, immutable once produced.
type ResponseDraft struct {
	Text        string       `json:"text"`
	Citations   []string     `json:"citations"`
	Confidence  float64      `json:"confidence"`
	SafetyFlags []SafetyFlag `json:"safety_flags"`
}

// HasFlag reports whether the draft carries the given flag.
func (d ResponseDraft) HasFlag(flag SafetyFlag) bool {
	for _, f := range d.SafetyFlags {
		if f == flag {
			return true
		}
	}
	return false
}

// GuardrailVerdict is the outcome of evaluating a set of drafts.
type GuardrailVerdict struct {
	Pass  bool         `json:"pass"`
	Flags []SafetyFlag `json:"flags"`
}
