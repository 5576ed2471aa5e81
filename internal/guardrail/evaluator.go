// Package guardrail evaluates generated drafts against content policy.
// Evaluation is a pure function: no external calls, no caching, same drafts
// always yield the same verdict.
package guardrail

import (
	"regexp"
	"strings"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

// PII patterns. These run against outbound draft text only; matches block
// the drafts from leaving the pipeline.
var piiPatterns = []*regexp.Regexp{
	// Email addresses.
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// US social security numbers.
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// Payment card numbers, 13-16 digits with optional separators.
	regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`),
	// Phone numbers in common formats.
	regexp.MustCompile(`\b(?:\+?\d{1,2}[ \-.])?\(?\d{3}\)?[ \-.]\d{3}[ \-.]\d{4}\b`),
}

// offBrandTerms are tone violations: overpromising or adversarial language
// the brand voice forbids. Non-blocking on their own.
var offBrandTerms = []string{
	"guarantee",
	"guaranteed",
	"promise you",
	"100% certain",
	"no questions asked",
	"your fault",
	"stupid",
}

// unsafeTerms are content the pipeline must never send. Blocking.
var unsafeTerms = []string{
	"lawsuit",
	"legal action",
	"kill",
	"violence",
	"harm yourself",
}

// Evaluator implements ports.GuardrailEvaluator with deterministic rule
// checks.
type Evaluator struct{}

// New creates the evaluator.
func New() *Evaluator { return &Evaluator{} }

var _ ports.GuardrailEvaluator = (*Evaluator)(nil)

// Evaluate accumulates flags across all drafts and decides pass/fail.
// Blocking flags (pii_detected, unsafe_content) fail the verdict, as does
// every draft carrying hallucination_risk. off_brand alone only fails in
// combination with low context confidence.
func (e *Evaluator) Evaluate(drafts []domain.ResponseDraft) domain.GuardrailVerdict {
	if len(drafts) == 0 {
		return domain.GuardrailVerdict{Pass: false}
	}

	flags := newFlagSet()
	hallucinated := 0

	for _, draft := range drafts {
		text := strings.ToLower(draft.Text)

		if matchesAny(draft.Text, piiPatterns) {
			flags.add(domain.FlagPIIDetected)
		}
		if containsAny(text, offBrandTerms) {
			flags.add(domain.FlagOffBrand)
		}
		if containsAny(text, unsafeTerms) {
			flags.add(domain.FlagUnsafeContent)
		}
		if draft.HasFlag(domain.FlagHallucinationRisk) {
			hallucinated++
			flags.add(domain.FlagLowContextConfidence)
		}
		if draft.HasFlag(domain.FlagLowContextConfidence) {
			flags.add(domain.FlagLowContextConfidence)
		}
	}

	pass := true
	for _, f := range flags.ordered {
		if f.Blocking() {
			pass = false
		}
	}
	if hallucinated == len(drafts) {
		pass = false
	}
	// The combination check keys off the verdict-level flag, so hallucinated
	// drafts count as low context confidence too.
	if flags.has(domain.FlagOffBrand) && flags.has(domain.FlagLowContextConfidence) {
		pass = false
	}

	return domain.GuardrailVerdict{Pass: pass, Flags: flags.ordered}
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// flagSet keeps flags unique while preserving first-seen order, so the
// verdict is deterministic for a given draft sequence.
type flagSet struct {
	seen    map[domain.SafetyFlag]bool
	ordered []domain.SafetyFlag
}

func newFlagSet() *flagSet {
	return &flagSet{seen: make(map[domain.SafetyFlag]bool)}
}

func (s *flagSet) add(f domain.SafetyFlag) {
	if !s.seen[f] {
		s.seen[f] = true
		s.ordered = append(s.ordered, f)
	}
}

func (s *flagSet) has(f domain.SafetyFlag) bool { return s.seen[f] }
