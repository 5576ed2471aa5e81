package ports

import (
	"context"

	"github.com/solvent-ai/triagekit/internal/core/domain"
)

// Classifier maps raw ticket text to a classification result. It absorbs
// inference failures with a degraded heuristic result rather than erroring;
// only invalid input is returned as an error.
type Classifier interface {
	Classify(ctx context.Context, ticket *domain.Ticket) (domain.ClassificationResult, error)
}

// Retriever assembles the ranked context package. Sub-lookup failures
// contribute zero items; the stage itself does not fail.
type Retriever interface {
	Retrieve(ctx context.Context, ticket *domain.Ticket, classification domain.ClassificationResult) (domain.ContextPackage, error)
}

// GenerateOptions tune a single generation call.
type GenerateOptions struct {
	// Tier overrides the model tier; empty means cost-optimized.
	Tier ModelTier
	// MaxDrafts caps the number of drafts; values below 1 use the default.
	MaxDrafts int
}

// Generator produces response drafts conditioned on ticket and context.
// On inference failure it returns a single safe-template draft.
type Generator interface {
	Generate(ctx context.Context, ticket *domain.Ticket, pkg domain.ContextPackage, customer *domain.CustomerContext, opts GenerateOptions) ([]domain.ResponseDraft, error)
}

// GuardrailEvaluator inspects drafts for policy violations. It is a pure
// function of its input.
type GuardrailEvaluator interface {
	Evaluate(drafts []domain.ResponseDraft) domain.GuardrailVerdict
}

// ContextAggregator builds the customer 360 view.
type ContextAggregator interface {
	Build(ctx context.Context, externalID string) (*domain.CustomerContext, error)
}
