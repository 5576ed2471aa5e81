package classify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/solvent-ai/triagekit/internal/cache"
	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

type mockInference struct {
	classifyOut   string
	classifyErr   error
	classifyCalls int
}

func (m *mockInference) Classify(ctx context.Context, prompt string, tier ports.ModelTier) (string, error) {
	m.classifyCalls++
	if m.classifyErr != nil {
		return "", m.classifyErr
	}
	return m.classifyOut, nil
}

func (m *mockInference) GenerateDrafts(ctx context.Context, prompt string, tier ports.ModelTier, maxDrafts int) ([]string, error) {
	return nil, nil
}

func newClassifier(t *testing.T, inf ports.InferenceClient) *Classifier {
	t.Helper()
	c, err := New(inf, cache.New[domain.ClassificationResult](16, time.Minute),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func ticket() *domain.Ticket {
	return &domain.Ticket{
		ID:                 "t-1",
		CustomerExternalID: "cust-1",
		Subject:            "Can't log in",
		Description:        "Password reset link returns 500",
		Channel:            domain.ChannelEmail,
	}
}

func TestClassify_InvalidInputBeforeExternalCall(t *testing.T) {
	inf := &mockInference{}
	c := newClassifier(t, inf)

	bad := ticket()
	bad.Subject = "  "
	_, err := c.Classify(context.Background(), bad)
	if !domain.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if inf.classifyCalls != 0 {
		t.Error("inference must not be called for invalid input")
	}
}

func TestClassify_ParsesModelOutput(t *testing.T) {
	inf := &mockInference{classifyOut: `Here you go:
{"category":"account","priority":"high","department":"Account","sentiment":-0.4,"confidence":0.87,"reasoning_snippet":"login failure"}`}
	c := newClassifier(t, inf)

	got, err := c.Classify(context.Background(), ticket())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != domain.CategoryAccount || got.Priority != domain.PriorityHigh {
		t.Errorf("unexpected classification: %+v", got)
	}
	if got.Confidence != 0.87 {
		t.Errorf("confidence = %v, want 0.87", got.Confidence)
	}
}

func TestClassify_CacheShortCircuits(t *testing.T) {
	inf := &mockInference{classifyOut: `{"category":"billing","priority":"medium","department":"Billing","sentiment":0,"confidence":0.9,"reasoning_snippet":"x"}`}
	c := newClassifier(t, inf)

	for i := 0; i < 3; i++ {
		if _, err := c.Classify(context.Background(), ticket()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inf.classifyCalls != 1 {
		t.Errorf("inference called %d times, want 1", inf.classifyCalls)
	}
}

func TestClassify_UnknownCategoryNormalized(t *testing.T) {
	inf := &mockInference{classifyOut: `{"category":"mystery","priority":"medium","department":"Support","sentiment":0,"confidence":0.8,"reasoning_snippet":"x"}`}
	c := newClassifier(t, inf)

	got, err := c.Classify(context.Background(), ticket())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != domain.CategoryOther {
		t.Errorf("category = %v, want other", got.Category)
	}
}

func TestClassify_HeuristicFallbackOnInferenceFailure(t *testing.T) {
	inf := &mockInference{classifyErr: domain.ErrTransient("inference timeout")}
	c := newClassifier(t, inf)

	got, err := c.Classify(context.Background(), ticket())
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if got.Category != domain.CategoryAccount {
		t.Errorf("heuristic category = %v, want account", got.Category)
	}
	if got.Confidence > 0.4 {
		t.Errorf("fallback confidence = %v, must be capped at 0.4", got.Confidence)
	}
}

func TestClassify_SchemaRejectsOutOfRangeConfidence(t *testing.T) {
	inf := &mockInference{classifyOut: `{"category":"billing","priority":"medium","department":"Billing","sentiment":0,"confidence":1.7,"reasoning_snippet":"x"}`}
	c := newClassifier(t, inf)

	got, err := c.Classify(context.Background(), ticket())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid payload falls through to the heuristic.
	if got.ReasoningSnippet != "keyword heuristic fallback" {
		t.Errorf("expected heuristic result, got %+v", got)
	}
}

func TestHeuristic_PriorityKeywords(t *testing.T) {
	tk := ticket()
	tk.Subject = "Site is down"
	tk.Description = "Complete outage since 9am"

	got := Heuristic(tk)
	if got.Priority != domain.PriorityCritical {
		t.Errorf("priority = %v, want critical", got.Priority)
	}
}
