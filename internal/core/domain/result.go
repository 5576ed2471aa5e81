package domain

import "time"

// State names that appear in an execution's state trace.
type State string

const (
	StateClassify               State = "classify"
	StateRetrieve               State = "retrieve"
	StateConfidenceGate         State = "confidence_gate"
	StateGenerate               State = "generate"
	StateEscalatedLowConfidence State = "escalated_low_confidence"
	StateGuardrailGate          State = "guardrail_gate"
	StateFallbackGuardrail      State = "fallback_guardrail_failure"
	StateAssembleOutput         State = "assemble_output"
)

// OrchestrationResult is the single externally visible output of one
// pipeline execution, assembled exactly once.
type OrchestrationResult struct {
	Classification ClassificationResult `json:"classification"`
	ContextPackage ContextPackage       `json:"context_package"`
	Drafts         []ResponseDraft      `json:"drafts"`
	NextActions    []string             `json:"next_actions"`
	StateTrace     []State              `json:"state_trace"`
	TimingsMS      map[string]int64     `json:"timings_ms"`
	CorrelationID  string               `json:"correlation_id"`
	NeedsReview    bool                 `json:"needs_review"`
	CompletedAt    time.Time            `json:"completed_at"`
}

// TerminalState returns the last state visited, or empty when the trace is
// empty.
func (r *OrchestrationResult) TerminalState() State {
	if len(r.StateTrace) == 0 {
		return ""
	}
	return r.StateTrace[len(r.StateTrace)-1]
}

// Visited reports whether the trace contains the given state.
func (r *OrchestrationResult) Visited(s State) bool {
	for _, st := range r.StateTrace {
		if st == s {
			return true
		}
	}
	return false
}
