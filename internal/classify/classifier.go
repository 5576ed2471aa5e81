// Package classify implements the classification stage: ticket text in,
// structured classification out, with caching and a heuristic fallback.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/solvent-ai/triagekit/internal/cache"
	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

// fallbackConfidenceCap signals degraded quality to the confidence gate when
// the heuristic path was taken.
const fallbackConfidenceCap = 0.4

const promptTemplate = `You are a support triage assistant. ` +
	`Return a single JSON object with fields: category (billing|technical|account|shipping|other), ` +
	`priority (critical|high|medium|low), department, sentiment (number in [-1,1]), ` +
	`confidence (number in [0,1]), reasoning_snippet.
Subject: %s
Description: %s
Channel: %s
Priority hint: %s`

// resultSchema validates the inference output before it is trusted.
const resultSchema = `{
	"type": "object",
	"required": ["category", "priority", "department", "sentiment", "confidence"],
	"properties": {
		"category": {"type": "string"},
		"priority": {"type": "string"},
		"department": {"type": "string"},
		"sentiment": {"type": "number", "minimum": -1, "maximum": 1},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reasoning_snippet": {"type": "string"}
	}
}`

// Classifier is a thin wrapper over the inference collaborator.
type Classifier struct {
	inference ports.InferenceClient
	cache     *cache.Cache[domain.ClassificationResult]
	schema    *jsonschema.Schema
	logger    *slog.Logger
}

// New creates the classification stage.
func New(inference ports.InferenceClient, c *cache.Cache[domain.ClassificationResult], logger *slog.Logger) (*Classifier, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(resultSchema))
	if err != nil {
		return nil, fmt.Errorf("compile classification schema: %w", err)
	}
	return &Classifier{inference: inference, cache: c, schema: schema, logger: logger}, nil
}

var _ ports.Classifier = (*Classifier)(nil)

// Classify validates the ticket, consults the cache, and otherwise asks the
// inference collaborator. Inference failures degrade to the keyword
// heuristic; only invalid input is an error.
func (c *Classifier) Classify(ctx context.Context, ticket *domain.Ticket) (domain.ClassificationResult, error) {
	if err := ticket.Validate(); err != nil {
		return domain.ClassificationResult{}, err
	}

	key, err := cache.Key("classify", map[string]string{
		"subject":     ticket.Subject,
		"description": ticket.Description,
		"tier":        ticket.Metadata["tier"],
	})
	if err != nil {
		return domain.ClassificationResult{}, domain.ErrInternal("derive classification cache key").WithCause(err)
	}
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	prompt := fmt.Sprintf(promptTemplate, ticket.Subject, ticket.Description, ticket.Channel, ticket.PriorityHint)
	raw, err := c.inference.Classify(ctx, prompt, ports.TierCostOptimized)
	if err != nil {
		c.logger.Warn("model classification failed, using heuristic",
			slog.String("ticket_id", ticket.ID),
			slog.String("error_kind", string(domain.KindOf(err))))
		result := Heuristic(ticket)
		c.cache.Set(key, result)
		return result, nil
	}

	result, err := c.parse(raw)
	if err != nil {
		c.logger.Warn("model returned unparseable classification, using heuristic",
			slog.String("ticket_id", ticket.ID))
		result = Heuristic(ticket)
	}

	c.cache.Set(key, result)
	return result, nil
}

// parse extracts and validates the JSON object in the model output.
func (c *Classifier) parse(raw string) (domain.ClassificationResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.ClassificationResult{}, fmt.Errorf("no JSON object in model output")
	}
	payload := []byte(raw[start : end+1])

	if result := c.schema.ValidateJSON(payload); !result.IsValid() {
		return domain.ClassificationResult{}, fmt.Errorf("classification schema validation failed: %v", result.Errors)
	}

	var parsed struct {
		Category         string  `json:"category"`
		Priority         string  `json:"priority"`
		Department       string  `json:"department"`
		Sentiment        float64 `json:"sentiment"`
		Confidence       float64 `json:"confidence"`
		ReasoningSnippet string  `json:"reasoning_snippet"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return domain.ClassificationResult{}, err
	}

	return domain.ClassificationResult{
		Category:         domain.NormalizeCategory(strings.ToLower(parsed.Category)),
		Priority:         domain.NormalizePriority(strings.ToLower(parsed.Priority)),
		Department:       parsed.Department,
		Sentiment:        parsed.Sentiment,
		Confidence:       parsed.Confidence,
		ReasoningSnippet: parsed.ReasoningSnippet,
	}, nil
}

// Heuristic is the keyword fallback classifier used when inference is
// unavailable. Its confidence is capped so the confidence gate sees the
// degraded quality.
func Heuristic(ticket *domain.Ticket) domain.ClassificationResult {
	text := strings.ToLower(ticket.Subject + " " + ticket.Description)

	category, department := domain.CategoryOther, "Support"
	switch {
	case strings.Contains(text, "billing"), strings.Contains(text, "invoice"), strings.Contains(text, "charge"):
		category, department = domain.CategoryBilling, "Billing"
	case strings.Contains(text, "password"), strings.Contains(text, "login"), strings.Contains(text, "log in"):
		category, department = domain.CategoryAccount, "Account"
	case strings.Contains(text, "shipping"), strings.Contains(text, "delivery"):
		category, department = domain.CategoryShipping, "Logistics"
	case strings.Contains(text, "error"), strings.Contains(text, "fail"), strings.Contains(text, "crash"):
		category, department = domain.CategoryTechnical, "Support"
	}

	priority := domain.PriorityMedium
	hint := strings.ToLower(ticket.PriorityHint)
	switch {
	case strings.Contains(text, "outage"), strings.Contains(text, "down"), hint == string(domain.PriorityCritical):
		priority = domain.PriorityCritical
	case strings.Contains(text, "urgent"), strings.Contains(text, "asap"), hint == string(domain.PriorityHigh):
		priority = domain.PriorityHigh
	case hint == string(domain.PriorityLow):
		priority = domain.PriorityLow
	}

	sentiment := 0.0
	if strings.Contains(text, "angry") || strings.Contains(text, "frustrated") || strings.Contains(text, "unacceptable") {
		sentiment = -0.6
	}

	return domain.ClassificationResult{
		Category:         category,
		Priority:         priority,
		Department:       department,
		Sentiment:        sentiment,
		Confidence:       fallbackConfidenceCap,
		ReasoningSnippet: "keyword heuristic fallback",
	}
}
