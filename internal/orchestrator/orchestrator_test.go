package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
	"github.com/solvent-ai/triagekit/internal/generate"
	"github.com/solvent-ai/triagekit/internal/guardrail"
)

type mockClassifier struct {
	result domain.ClassificationResult
	calls  atomic.Int64
}

func (m *mockClassifier) Classify(ctx context.Context, ticket *domain.Ticket) (domain.ClassificationResult, error) {
	m.calls.Add(1)
	return m.result, nil
}

type mockRetriever struct {
	pkg   domain.ContextPackage
	err   error
	calls atomic.Int64
}

func (m *mockRetriever) Retrieve(ctx context.Context, ticket *domain.Ticket, classification domain.ClassificationResult) (domain.ContextPackage, error) {
	m.calls.Add(1)
	if m.err != nil {
		return domain.ContextPackage{}, m.err
	}
	return m.pkg, nil
}

type mockGenerator struct {
	drafts []domain.ResponseDraft
	err    error
	calls  atomic.Int64
}

func (m *mockGenerator) Generate(ctx context.Context, ticket *domain.Ticket, pkg domain.ContextPackage, customer *domain.CustomerContext, opts ports.GenerateOptions) ([]domain.ResponseDraft, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.drafts, nil
}

type mockAggregator struct{}

func (m *mockAggregator) Build(ctx context.Context, externalID string) (*domain.CustomerContext, error) {
	return nil, domain.ErrNotFound("no profile")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev ports.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func packageWithConfidence(score float64) domain.ContextPackage {
	return domain.NewContextPackage([]domain.ContextItem{
		{SourceID: "kb-1", Excerpt: "a", Score: score, CitationURI: "kb://a", Kind: domain.ContextKindKB},
	})
}

func goodDrafts() []domain.ResponseDraft {
	return []domain.ResponseDraft{
		{Text: "Fix per docs (cite: kb://a).", Citations: []string{"kb://a"}, Confidence: 0.7},
		{Text: "Alternative fix (cite: kb://a).", Citations: []string{"kb://a"}, Confidence: 0.6},
	}
}

func ticket() *domain.Ticket {
	return &domain.Ticket{
		ID:                 "t-1",
		CustomerExternalID: "cust-1",
		Subject:            "Can't log in",
		Description:        "Password reset link returns 500",
	}
}

func newOrchestrator(c ports.Classifier, r ports.Retriever, g ports.Generator) *Orchestrator {
	return New(c, r, g, guardrail.New(), &mockAggregator{}, nil, DefaultOptions(), testLogger())
}

func TestRun_HappyPath(t *testing.T) {
	o := newOrchestrator(
		&mockClassifier{result: domain.ClassificationResult{Category: domain.CategoryAccount, Priority: domain.PriorityHigh, Confidence: 0.9}},
		&mockRetriever{pkg: packageWithConfidence(0.8)},
		&mockGenerator{drafts: goodDrafts()},
	)

	result, err := o.Run(context.Background(), ticket(), RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.TerminalState() != domain.StateAssembleOutput {
		t.Errorf("terminal state = %v", result.TerminalState())
	}
	if len(result.Drafts) != 2 {
		t.Errorf("got %d drafts, want 2", len(result.Drafts))
	}
	if result.CorrelationID == "" {
		t.Error("missing correlation id")
	}
	if len(result.StateTrace) == 0 {
		t.Error("missing state trace")
	}
	if result.NeedsReview {
		t.Error("happy path must not need review")
	}
	for _, state := range []domain.State{domain.StateClassify, domain.StateRetrieve, domain.StateConfidenceGate, domain.StateGenerate, domain.StateGuardrailGate} {
		if !result.Visited(state) {
			t.Errorf("trace missing %v: %v", state, result.StateTrace)
		}
	}
	if _, ok := result.TimingsMS["classify"]; !ok {
		t.Error("missing classify timing")
	}
}

func TestRun_InvalidInputFailsFast(t *testing.T) {
	classifier := &mockClassifier{}
	o := newOrchestrator(classifier, &mockRetriever{}, &mockGenerator{})

	bad := ticket()
	bad.Description = ""
	_, err := o.Run(context.Background(), bad, RunOptions{})
	if !domain.IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if classifier.calls.Load() != 0 {
		t.Error("no stage may run for invalid input")
	}
}

func TestRun_ConfidenceGateInclusive(t *testing.T) {
	tests := []struct {
		name         string
		confidence   float64
		wantEscalate bool
	}{
		{"just below threshold", 0.59, true},
		{"exactly at threshold", 0.6, false},
		{"above threshold", 0.8, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{drafts: goodDrafts()}
			o := newOrchestrator(
				&mockClassifier{result: domain.ClassificationResult{Confidence: 0.9}},
				&mockRetriever{pkg: packageWithConfidence(tt.confidence)},
				gen,
			)

			result, err := o.Run(context.Background(), ticket(), RunOptions{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if tt.wantEscalate {
				if !result.Visited(domain.StateEscalatedLowConfidence) {
					t.Errorf("trace missing escalation: %v", result.StateTrace)
				}
				if len(result.Drafts) != 0 {
					t.Errorf("escalated run must have no drafts, got %d", len(result.Drafts))
				}
				if gen.calls.Load() != 0 {
					t.Error("generation must not run on escalation")
				}
				if !result.NeedsReview {
					t.Error("escalation must flag human review")
				}
			} else {
				if !result.Visited(domain.StateGenerate) {
					t.Errorf("trace missing generate: %v", result.StateTrace)
				}
			}
		})
	}
}

func TestRun_GuardrailFailureReplacesDrafts(t *testing.T) {
	// A draft leaking an email address trips the blocking pii_detected
	// flag regardless of its siblings.
	o := newOrchestrator(
		&mockClassifier{result: domain.ClassificationResult{Confidence: 0.9}},
		&mockRetriever{pkg: packageWithConfidence(0.8)},
		&mockGenerator{drafts: []domain.ResponseDraft{
			{Text: "Contact jane@example.com for help (cite: kb://a).", Citations: []string{"kb://a"}},
		}},
	)

	result, err := o.Run(context.Background(), ticket(), RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.Visited(domain.StateFallbackGuardrail) {
		t.Errorf("trace missing fallback_guardrail_failure: %v", result.StateTrace)
	}
	if len(result.Drafts) != 1 || result.Drafts[0].Text != generate.SafeTemplateText {
		t.Errorf("expected single safe template draft, got %+v", result.Drafts)
	}
	if !result.NeedsReview {
		t.Error("guardrail fallback must flag human review")
	}
}

func TestRun_RetrievalFailureEscalates(t *testing.T) {
	o := newOrchestrator(
		&mockClassifier{result: domain.ClassificationResult{Confidence: 0.9}},
		&mockRetriever{err: domain.ErrTransient("search down")},
		&mockGenerator{drafts: goodDrafts()},
	)

	result, err := o.Run(context.Background(), ticket(), RunOptions{})
	if err != nil {
		t.Fatalf("collaborator failure must not fail the run: %v", err)
	}
	if !result.Visited(domain.StateEscalatedLowConfidence) {
		t.Errorf("empty package should escalate: %v", result.StateTrace)
	}
}

func TestRun_GenerationFailureUsesSafeTemplate(t *testing.T) {
	o := newOrchestrator(
		&mockClassifier{result: domain.ClassificationResult{Confidence: 0.9}},
		&mockRetriever{pkg: packageWithConfidence(0.8)},
		&mockGenerator{err: domain.ErrTransient("inference down")},
	)

	result, err := o.Run(context.Background(), ticket(), RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Drafts) != 1 || !result.Drafts[0].HasFlag(domain.FlagFallbackTemplate) {
		t.Errorf("expected fallback template draft, got %+v", result.Drafts)
	}
}

func TestRun_ConcurrentSameTicketRunsOnce(t *testing.T) {
	classifier := &mockClassifier{result: domain.ClassificationResult{Confidence: 0.9}}
	retriever := &mockRetriever{pkg: packageWithConfidence(0.8)}
	o := newOrchestrator(classifier, retriever, &mockGenerator{drafts: goodDrafts()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Run(context.Background(), ticket(), RunOptions{}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if classifier.calls.Load() > 1 {
		t.Errorf("classify ran %d times for one in-flight ticket", classifier.calls.Load())
	}
	if retriever.calls.Load() > 1 {
		t.Errorf("retrieve ran %d times for one in-flight ticket", retriever.calls.Load())
	}
}

func TestRun_PublishesCompletionEvent(t *testing.T) {
	pub := &recordingPublisher{}
	o := New(
		&mockClassifier{result: domain.ClassificationResult{Confidence: 0.9}},
		&mockRetriever{pkg: packageWithConfidence(0.8)},
		&mockGenerator{drafts: goodDrafts()},
		guardrail.New(), &mockAggregator{}, pub, DefaultOptions(), testLogger(),
	)

	result, err := o.Run(context.Background(), ticket(), RunOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Publishing is async; poll briefly.
	deadlineLoop(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.events) == 1
	})

	pub.mu.Lock()
	defer pub.mu.Unlock()
	ev := pub.events[0]
	if ev.CorrelationID != result.CorrelationID || ev.TicketID != "t-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

// deadlineLoop polls cond for up to a second before failing the test.
func deadlineLoop(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestClassifyEntryPoint(t *testing.T) {
	classifier := &mockClassifier{result: domain.ClassificationResult{Category: domain.CategoryBilling, Confidence: 0.8}}
	retriever := &mockRetriever{}
	o := newOrchestrator(classifier, retriever, &mockGenerator{})

	got, err := o.Classify(context.Background(), ticket())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Category != domain.CategoryBilling {
		t.Errorf("category = %v", got.Category)
	}
	if retriever.calls.Load() != 0 {
		t.Error("classify-only must not retrieve")
	}
}
