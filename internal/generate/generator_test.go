package generate

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

type mockInference struct {
	drafts    []string
	err       error
	lastTier  ports.ModelTier
	lastMax   int
	lastInput string
}

func (m *mockInference) Classify(ctx context.Context, prompt string, tier ports.ModelTier) (string, error) {
	return "", nil
}

func (m *mockInference) GenerateDrafts(ctx context.Context, prompt string, tier ports.ModelTier, maxDrafts int) ([]string, error) {
	m.lastTier = tier
	m.lastMax = maxDrafts
	m.lastInput = prompt
	if m.err != nil {
		return nil, m.err
	}
	return m.drafts, nil
}

func newGenerator(inf ports.InferenceClient) *Generator {
	return New(inf, DefaultOptions(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ticket() *domain.Ticket {
	return &domain.Ticket{
		ID:                 "t-1",
		CustomerExternalID: "cust-1",
		Subject:            "Can't log in",
		Description:        "Password reset link returns 500",
	}
}

func contextPackage() domain.ContextPackage {
	return domain.NewContextPackage([]domain.ContextItem{
		{SourceID: "kb-1", Excerpt: "Reset links expire after 24h.", Score: 0.9, CitationURI: "kb://reset", Kind: domain.ContextKindKB},
	})
}

func TestGenerate_CitedDrafts(t *testing.T) {
	inf := &mockInference{drafts: []string{
		"Your reset link expired (cite: kb://reset). Request a new one.",
		"Please request a fresh link (cite: kb://reset) and retry.",
	}}
	g := newGenerator(inf)

	drafts, err := g.Generate(context.Background(), ticket(), contextPackage(), nil, ports.GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	for i, d := range drafts {
		if len(d.Citations) != 1 || d.Citations[0] != "kb://reset" {
			t.Errorf("draft %d citations = %v", i, d.Citations)
		}
		if d.HasFlag(domain.FlagHallucinationRisk) {
			t.Errorf("cited draft %d flagged hallucination_risk", i)
		}
	}
}

func TestGenerate_UncitedDraftFlaggedNotDiscarded(t *testing.T) {
	inf := &mockInference{drafts: []string{"We will look into this right away."}}
	g := newGenerator(inf)

	drafts, err := g.Generate(context.Background(), ticket(), contextPackage(), nil, ports.GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("uncited draft must be kept, got %d drafts", len(drafts))
	}
	if !drafts[0].HasFlag(domain.FlagHallucinationRisk) {
		t.Error("uncited draft against non-empty context must carry hallucination_risk")
	}
}

func TestGenerate_InventedCitationFlagged(t *testing.T) {
	inf := &mockInference{drafts: []string{
		"Per policy this is covered (cite: kb://made-up).",
		"Your reset link expired (cite: kb://reset).",
	}}
	g := newGenerator(inf)

	drafts, err := g.Generate(context.Background(), ticket(), contextPackage(), nil, ports.GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(drafts) != 2 {
		t.Fatalf("got %d drafts, want 2", len(drafts))
	}
	if !drafts[0].HasFlag(domain.FlagHallucinationRisk) {
		t.Error("citation of a URI absent from the package must carry hallucination_risk")
	}
	if drafts[1].HasFlag(domain.FlagHallucinationRisk) {
		t.Error("draft citing a package URI must not be flagged")
	}
}

func TestGenerate_EmptyContextNotFlagged(t *testing.T) {
	inf := &mockInference{drafts: []string{"We will look into this right away."}}
	g := newGenerator(inf)

	drafts, err := g.Generate(context.Background(), ticket(), domain.ContextPackage{}, nil, ports.GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if drafts[0].HasFlag(domain.FlagHallucinationRisk) {
		t.Error("no context means no hallucination baseline to flag against")
	}
}

func TestGenerate_FallbackTemplateOnFailure(t *testing.T) {
	inf := &mockInference{err: domain.ErrTransient("inference down")}
	g := newGenerator(inf)

	drafts, err := g.Generate(context.Background(), ticket(), contextPackage(), nil, ports.GenerateOptions{})
	if err != nil {
		t.Fatalf("stage must absorb inference failure, got %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("got %d drafts, want 1", len(drafts))
	}
	if !drafts[0].HasFlag(domain.FlagFallbackTemplate) {
		t.Error("fallback draft must carry fallback_template")
	}
	if drafts[0].Text != SafeTemplateText {
		t.Errorf("fallback text = %q", drafts[0].Text)
	}
}

func TestGenerate_TierAndDraftCapForwarded(t *testing.T) {
	inf := &mockInference{drafts: []string{"a (cite: kb://reset)", "b (cite: kb://reset)", "c (cite: kb://reset)"}}
	g := newGenerator(inf)

	drafts, err := g.Generate(context.Background(), ticket(), contextPackage(), nil,
		ports.GenerateOptions{Tier: ports.TierCapable, MaxDrafts: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inf.lastTier != ports.TierCapable {
		t.Errorf("tier = %v, want capable", inf.lastTier)
	}
	if inf.lastMax != 2 {
		t.Errorf("max drafts = %d, want 2", inf.lastMax)
	}
	if len(drafts) != 2 {
		t.Errorf("got %d drafts, want cap of 2 enforced", len(drafts))
	}
}

func TestGenerate_PromptCarriesContext(t *testing.T) {
	inf := &mockInference{drafts: []string{"ok (cite: kb://reset)"}}
	g := newGenerator(inf)

	if _, err := g.Generate(context.Background(), ticket(), contextPackage(), nil, ports.GenerateOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(inf.lastInput, "kb://reset") {
		t.Error("prompt missing context citation URI")
	}
	if !strings.Contains(inf.lastInput, "Can't log in") {
		t.Error("prompt missing ticket subject")
	}
}

func TestContextBlock_HonorsBudget(t *testing.T) {
	long := strings.Repeat("support detail ", 200)
	pkg := domain.NewContextPackage([]domain.ContextItem{
		{SourceID: "a", Excerpt: long, Score: 0.9, CitationURI: "kb://a", Kind: domain.ContextKindKB},
		{SourceID: "b", Excerpt: long, Score: 0.8, CitationURI: "kb://b", Kind: domain.ContextKindKB},
	})

	p := newPromptBudgeter()
	block := p.contextBlock(pkg, 450)

	if !strings.Contains(block, "kb://a") {
		t.Error("highest ranked item must always be included")
	}
	if strings.Contains(block, "kb://b") {
		t.Error("second item should not fit in the budget")
	}
}
