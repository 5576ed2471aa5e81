package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/solvent-ai/triagekit/internal/core/ports"
)

// Stub is a deterministic offline inference collaborator for local runs and
// tests. Selecting it is a wiring-time decision; pipeline stages never
// branch on whether inference is "real".
type Stub struct{}

// NewStub creates a stub inference client.
func NewStub() *Stub { return &Stub{} }

var _ ports.InferenceClient = (*Stub)(nil)

// Classify returns a fixed account/medium classification so downstream
// behavior is reproducible.
func (s *Stub) Classify(ctx context.Context, prompt string, tier ports.ModelTier) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sentiment := 0.0
	if strings.Contains(strings.ToLower(prompt), "frustrated") {
		sentiment = -0.5
	}
	return fmt.Sprintf(`{"category":"account","priority":"medium","department":"Account",`+
		`"sentiment":%.1f,"confidence":0.82,"reasoning_snippet":"stubbed classification"}`, sentiment), nil
}

// GenerateDrafts returns two fixed drafts citing whatever URIs appear in
// the prompt's context block.
func (s *Stub) GenerateDrafts(ctx context.Context, prompt string, tier ports.ModelTier, maxDrafts int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cite := firstCitation(prompt)
	drafts := []string{
		fmt.Sprintf("Thanks for reaching out. Based on our records this is a known issue and the documented fix applies (cite: %s).", cite),
		fmt.Sprintf("We are sorry for the trouble. Please follow the documented steps (cite: %s) and let us know if the problem persists.", cite),
	}
	if maxDrafts < len(drafts) {
		drafts = drafts[:maxDrafts]
	}
	return drafts, nil
}

func firstCitation(prompt string) string {
	if i := strings.Index(prompt, "(cite: "); i >= 0 {
		rest := prompt[i+len("(cite: "):]
		if j := strings.IndexByte(rest, ')'); j > 0 {
			return rest[:j]
		}
	}
	return "kb://welcome"
}
