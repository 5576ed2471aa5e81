// Package generate implements the generation stage: 1..max drafts
// conditioned on ticket and context, annotated with safety flags.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

const (
	defaultMaxDrafts = 3

	// SafeTemplateText is the pre-approved draft used when generation is
	// unavailable or a guardrail fails downstream.
	SafeTemplateText = "We have received your request and are reviewing it. " +
		"A specialist will follow up with you shortly."
)

var citationPattern = regexp.MustCompile(`\(cite:\s*([^)\s]+)\)`)

// Options tune the generation stage.
type Options struct {
	// MaxDrafts is the default draft cap when the caller does not override.
	MaxDrafts int
	// ContextTokenBudget caps the prompt's context block.
	ContextTokenBudget int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{MaxDrafts: defaultMaxDrafts, ContextTokenBudget: 1200}
}

// Generator implements ports.Generator.
type Generator struct {
	inference ports.InferenceClient
	budgeter  *promptBudgeter
	opts      Options
	logger    *slog.Logger
}

// New creates the generation stage.
func New(inference ports.InferenceClient, opts Options, logger *slog.Logger) *Generator {
	def := DefaultOptions()
	if opts.MaxDrafts < 1 {
		opts.MaxDrafts = def.MaxDrafts
	}
	if opts.ContextTokenBudget < 1 {
		opts.ContextTokenBudget = def.ContextTokenBudget
	}
	return &Generator{
		inference: inference,
		budgeter:  newPromptBudgeter(),
		opts:      opts,
		logger:    logger,
	}
}

var _ ports.Generator = (*Generator)(nil)

// Generate produces between 1 and max drafts. Against a non-empty context
// package, a draft must cite at least one of the package's citation URIs or
// it is flagged hallucination_risk; suppression is the guardrail evaluator's
// job, not this stage's. Inference failure yields the single safe-template
// draft.
func (g *Generator) Generate(ctx context.Context, ticket *domain.Ticket, pkg domain.ContextPackage, customer *domain.CustomerContext, opts ports.GenerateOptions) ([]domain.ResponseDraft, error) {
	maxDrafts := opts.MaxDrafts
	if maxDrafts < 1 {
		maxDrafts = g.opts.MaxDrafts
	}
	tier := opts.Tier
	if tier == "" {
		tier = ports.TierCostOptimized
	}

	prompt := g.buildPrompt(ticket, pkg, customer, maxDrafts)

	texts, err := g.inference.GenerateDrafts(ctx, prompt, tier, maxDrafts)
	if err != nil || len(texts) == 0 {
		if err != nil {
			g.logger.Warn("model generation failed, using safe template",
				slog.String("ticket_id", ticket.ID),
				slog.String("error_kind", string(domain.KindOf(err))))
		}
		return []domain.ResponseDraft{FallbackDraft()}, nil
	}
	if len(texts) > maxDrafts {
		texts = texts[:maxDrafts]
	}

	known := make(map[string]bool)
	for _, uri := range pkg.Citations() {
		known[uri] = true
	}

	drafts := make([]domain.ResponseDraft, 0, len(texts))
	for i, text := range texts {
		draft := domain.ResponseDraft{
			Text:       strings.TrimSpace(text),
			Citations:  extractCitations(text),
			Confidence: draftConfidence(i, pkg.AggregateConfidence),
		}
		if len(pkg.Items) > 0 && !citesKnown(draft.Citations, known) {
			draft.SafetyFlags = append(draft.SafetyFlags, domain.FlagHallucinationRisk)
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

// citesKnown reports whether at least one citation refers to a context item
// actually in the package. Invented URIs do not count as grounding.
func citesKnown(citations []string, known map[string]bool) bool {
	for _, uri := range citations {
		if known[uri] {
			return true
		}
	}
	return false
}

// FallbackDraft returns the pre-approved safe-template draft.
func FallbackDraft() domain.ResponseDraft {
	return domain.ResponseDraft{
		Text:        SafeTemplateText,
		Citations:   nil,
		Confidence:  0.4,
		SafetyFlags: []domain.SafetyFlag{domain.FlagFallbackTemplate},
	}
}

func (g *Generator) buildPrompt(ticket *domain.Ticket, pkg domain.ContextPackage, customer *domain.CustomerContext, maxDrafts int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a concise, empathetic support assistant. ")
	fmt.Fprintf(&b, "Write %d response drafts separated by a line containing only '---'. ", maxDrafts)
	b.WriteString("Each draft must cite its sources inline as (cite: URI). ")
	b.WriteString("Tone: professional, empathetic, solution-focused. Never promise refunds or guarantees.\n")

	fmt.Fprintf(&b, "Ticket subject: %s\nTicket description: %s\n", ticket.Subject, ticket.Description)
	if customer != nil {
		fmt.Fprintf(&b, "Customer tier: %s. High value: %t. Churn risk: %s.\n",
			customer.Tier, customer.IsHighValue, customer.ChurnRisk)
	}

	b.WriteString("Context:\n")
	b.WriteString(g.budgeter.contextBlock(pkg, g.opts.ContextTokenBudget))
	return b.String()
}

// draftConfidence degrades mildly for later alternatives.
func draftConfidence(index int, aggregateConfidence float64) float64 {
	base := 0.5 + aggregateConfidence/3
	c := base - 0.1*float64(index)
	if c < 0.1 {
		c = 0.1
	}
	if c > 1 {
		c = 1
	}
	return c
}

// extractCitations pulls every (cite: URI) reference, deduplicated in order
// of first appearance.
func extractCitations(text string) []string {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	uris := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			uris = append(uris, m[1])
		}
	}
	return uris
}
