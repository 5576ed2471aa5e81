package generate

import (
	"fmt"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/solvent-ai/triagekit/internal/core/domain"
)

// promptBudgeter renders the context block of the generation prompt while
// holding it under a token budget, so a fat context package cannot blow the
// inference cost envelope.
type promptBudgeter struct {
	codec tokenizer.Codec
}

func newPromptBudgeter() *promptBudgeter {
	// Cl100kBase is close enough for budgeting across the model tiers we
	// route to; budgeting needs consistency, not exactness.
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return &promptBudgeter{}
	}
	return &promptBudgeter{codec: codec}
}

// contextBlock renders items in ranked order, stopping before the budget is
// exceeded. Items are whole: a partially quoted excerpt invites misquoting.
func (p *promptBudgeter) contextBlock(pkg domain.ContextPackage, budget int) string {
	if len(pkg.Items) == 0 {
		return "No context available.\n"
	}

	var b strings.Builder
	used := 0
	for _, item := range pkg.Items {
		line := fmt.Sprintf("- [%s] (%.2f) %s (cite: %s)\n", item.Kind, item.Score, item.Excerpt, item.CitationURI)
		cost := p.count(line)
		if used+cost > budget && b.Len() > 0 {
			break
		}
		b.WriteString(line)
		used += cost
	}
	return b.String()
}

func (p *promptBudgeter) count(text string) int {
	if p.codec == nil {
		// Rough fallback: ~4 bytes per token for English text.
		return len(text) / 4
	}
	n, err := p.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}
