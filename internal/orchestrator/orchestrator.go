// Package orchestrator sequences the triage pipeline as a strict
// linear/branching state machine: classify, retrieve, confidence gate,
// generate or escalate, guardrail gate, assemble. No state repeats and no
// retries happen at this layer.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
	"github.com/solvent-ai/triagekit/internal/generate"
)

// Options are the orchestrator's fixed, startup-time tunables.
type Options struct {
	// ConfidenceThreshold gates generation on retrieval quality. The gate
	// is inclusive: aggregate confidence equal to the threshold proceeds.
	ConfidenceThreshold float64
	// TotalBudget bounds one end-to-end execution.
	TotalBudget time.Duration
	// ClassifyBudget, RetrieveBudget, GenerateBudget bound single stages.
	ClassifyBudget time.Duration
	RetrieveBudget time.Duration
	GenerateBudget time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: 0.6,
		TotalBudget:         6 * time.Second,
		ClassifyBudget:      2 * time.Second,
		RetrieveBudget:      time.Second,
		GenerateBudget:      3 * time.Second,
	}
}

// RunOptions are per-execution caller options.
type RunOptions struct {
	// CorrelationID ties the execution's stages together; generated when
	// empty.
	CorrelationID string
	// ModelTier opts generation into a higher-capability model.
	ModelTier ports.ModelTier
	// MaxDrafts caps the generation stage's draft count.
	MaxDrafts int
}

// Orchestrator wires the stages together. All dependencies are injected;
// the orchestrator holds no ambient global state.
type Orchestrator struct {
	classifier ports.Classifier
	retriever  ports.Retriever
	generator  ports.Generator
	guardrail  ports.GuardrailEvaluator
	aggregator ports.ContextAggregator
	publisher  ports.EventPublisher
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer

	// group collapses concurrent executions for the same ticket so each
	// stage is invoked at most once per ticket.
	group singleflight.Group
}

// New creates an orchestrator.
func New(
	classifier ports.Classifier,
	retriever ports.Retriever,
	generator ports.Generator,
	guardrail ports.GuardrailEvaluator,
	aggregator ports.ContextAggregator,
	publisher ports.EventPublisher,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	def := DefaultOptions()
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if opts.TotalBudget <= 0 {
		opts.TotalBudget = def.TotalBudget
	}
	if opts.ClassifyBudget <= 0 {
		opts.ClassifyBudget = def.ClassifyBudget
	}
	if opts.RetrieveBudget <= 0 {
		opts.RetrieveBudget = def.RetrieveBudget
	}
	if opts.GenerateBudget <= 0 {
		opts.GenerateBudget = def.GenerateBudget
	}
	return &Orchestrator{
		classifier: classifier,
		retriever:  retriever,
		generator:  generator,
		guardrail:  guardrail,
		aggregator: aggregator,
		publisher:  publisher,
		opts:       opts,
		logger:     logger,
		tracer:     otel.Tracer("triagekit/orchestrator"),
	}
}

// Run executes the full state machine for one ticket. The result is
// all-or-nothing: an error means no result, and every non-error outcome is a
// fully assembled OrchestrationResult. Only invalid input and programming
// errors are returned as errors; collaborator failures resolve into fallback
// branches within the result.
func (o *Orchestrator) Run(ctx context.Context, ticket *domain.Ticket, opts RunOptions) (*domain.OrchestrationResult, error) {
	if err := ticket.Validate(); err != nil {
		return nil, err
	}

	key := ticket.ID
	if key == "" {
		key = ticket.CustomerExternalID + "/" + ticket.Subject
	}
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.run(ctx, ticket, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.OrchestrationResult), nil
}

func (o *Orchestrator) run(ctx context.Context, ticket *domain.Ticket, opts RunOptions) (*domain.OrchestrationResult, error) {
	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(ctx, o.opts.TotalBudget)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "orchestrate",
		trace.WithAttributes(
			attribute.String("correlation_id", correlationID),
			attribute.String("ticket_id", ticket.ID),
		))
	defer span.End()

	ex := newExecution(correlationID)

	// Classify. Stage-internal fallbacks mean the only possible errors are
	// invalid input (pre-validated above) and programming faults.
	classification, err := o.classifyStage(ctx, ex, ticket)
	if err != nil {
		return nil, err
	}

	// Retrieve.
	pkg := o.retrieveStage(ctx, ex, ticket, classification)

	// Confidence gate, inclusive threshold.
	ex.visit(domain.StateConfidenceGate)
	if pkg.AggregateConfidence < o.opts.ConfidenceThreshold {
		result := o.escalate(ex, ticket, classification, pkg)
		o.publish(ticket, result)
		return result, nil
	}

	// Generate.
	drafts := o.generateStage(ctx, ex, ticket, pkg, opts)

	// Guardrail gate.
	ex.visit(domain.StateGuardrailGate)
	verdict := o.guardrail.Evaluate(drafts)
	if !verdict.Pass {
		ex.visit(domain.StateFallbackGuardrail)
		o.logger.Warn("guardrail blocked drafts",
			slog.String("correlation_id", correlationID),
			slog.Any("flags", verdict.Flags))
		result := ex.assemble(classification, pkg, []domain.ResponseDraft{generate.FallbackDraft()},
			[]string{"send_safe_template", "flag_for_human_review"}, true)
		o.publish(ticket, result)
		return result, nil
	}

	result := ex.assemble(classification, pkg, drafts, nextActions(classification), false)
	o.publish(ticket, result)
	o.logger.Info("orchestration complete",
		slog.String("correlation_id", correlationID),
		slog.String("terminal_state", string(result.TerminalState())),
		slog.Int("drafts", len(result.Drafts)))
	return result, nil
}

// Classify runs only the classification prefix of the state machine.
func (o *Orchestrator) Classify(ctx context.Context, ticket *domain.Ticket) (domain.ClassificationResult, error) {
	if err := ticket.Validate(); err != nil {
		return domain.ClassificationResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.ClassifyBudget)
	defer cancel()
	return o.classifier.Classify(ctx, ticket)
}

// Retrieve runs the classify+retrieve prefix and returns the context
// package.
func (o *Orchestrator) Retrieve(ctx context.Context, ticket *domain.Ticket) (domain.ContextPackage, error) {
	classification, err := o.Classify(ctx, ticket)
	if err != nil {
		return domain.ContextPackage{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.RetrieveBudget)
	defer cancel()
	return o.retriever.Retrieve(ctx, ticket, classification)
}

// Respond runs the full machine; it exists as a named entry point for
// callers that only consume the drafts.
func (o *Orchestrator) Respond(ctx context.Context, ticket *domain.Ticket, opts RunOptions) ([]domain.ResponseDraft, error) {
	result, err := o.Run(ctx, ticket, opts)
	if err != nil {
		return nil, err
	}
	return result.Drafts, nil
}

func (o *Orchestrator) classifyStage(ctx context.Context, ex *execution, ticket *domain.Ticket) (domain.ClassificationResult, error) {
	ctx, span := o.tracer.Start(ctx, "stage.classify")
	defer span.End()

	stop := ex.enter(domain.StateClassify)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, o.opts.ClassifyBudget)
	defer cancel()
	return o.classifier.Classify(ctx, ticket)
}

func (o *Orchestrator) retrieveStage(ctx context.Context, ex *execution, ticket *domain.Ticket, classification domain.ClassificationResult) domain.ContextPackage {
	ctx, span := o.tracer.Start(ctx, "stage.retrieve")
	defer span.End()

	stop := ex.enter(domain.StateRetrieve)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, o.opts.RetrieveBudget)
	defer cancel()

	pkg, err := o.retriever.Retrieve(ctx, ticket, classification)
	if err != nil {
		// A failed retrieval degrades to an empty package, which the
		// confidence gate then routes to escalation.
		o.logger.Warn("retrieval failed, using empty context package",
			slog.String("correlation_id", ex.correlationID),
			slog.String("error_kind", string(domain.KindOf(err))))
		return domain.NewContextPackage(nil)
	}
	return pkg
}

func (o *Orchestrator) generateStage(ctx context.Context, ex *execution, ticket *domain.Ticket, pkg domain.ContextPackage, opts RunOptions) []domain.ResponseDraft {
	ctx, span := o.tracer.Start(ctx, "stage.generate")
	defer span.End()

	stop := ex.enter(domain.StateGenerate)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, o.opts.GenerateBudget)
	defer cancel()

	// The customer context is served from the aggregator's cache populated
	// during retrieval; a miss here is tolerable and non-fatal.
	var customer *domain.CustomerContext
	if cc, err := o.aggregator.Build(ctx, ticket.CustomerExternalID); err == nil {
		customer = cc
	}

	drafts, err := o.generator.Generate(ctx, ticket, pkg, customer, ports.GenerateOptions{
		Tier:      opts.ModelTier,
		MaxDrafts: opts.MaxDrafts,
	})
	if err != nil || len(drafts) == 0 {
		if err != nil {
			o.logger.Warn("generation failed, using safe template",
				slog.String("correlation_id", ex.correlationID),
				slog.String("error_kind", string(domain.KindOf(err))))
		}
		return []domain.ResponseDraft{generate.FallbackDraft()}
	}
	return drafts
}

// escalate synthesizes the low-confidence escalation result. No model call
// is made and the guardrail gate is skipped: the synthetic draft is
// pre-approved.
func (o *Orchestrator) escalate(ex *execution, ticket *domain.Ticket, classification domain.ClassificationResult, pkg domain.ContextPackage) *domain.OrchestrationResult {
	ex.visit(domain.StateEscalatedLowConfidence)
	o.logger.Info("escalating on low retrieval confidence",
		slog.String("correlation_id", ex.correlationID),
		slog.Float64("aggregate_confidence", pkg.AggregateConfidence),
		slog.Float64("threshold", o.opts.ConfidenceThreshold))

	return ex.assemble(classification, pkg, nil,
		[]string{"escalate_to_l2", "flag_for_human_review"}, true)
}

func (o *Orchestrator) publish(ticket *domain.Ticket, result *domain.OrchestrationResult) {
	if o.publisher == nil {
		return
	}
	// Fire and forget with a short independent deadline: the caller's
	// context may already be exhausted, and publishing must never delay or
	// fail the pipeline.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ev := ports.Event{
			Type:          "orchestration_completed",
			CorrelationID: result.CorrelationID,
			CustomerID:    ticket.CustomerExternalID,
			TicketID:      ticket.ID,
			State:         string(result.TerminalState()),
			Sentiment:     result.Classification.Sentiment,
			OccurredAt:    result.CompletedAt,
		}
		if err := o.publisher.Publish(ctx, ev); err != nil {
			o.logger.Warn("event publish failed",
				slog.String("correlation_id", result.CorrelationID),
				slog.String("error", err.Error()))
		}
	}()
}

// nextActions derives follow-ups from the classification.
func nextActions(classification domain.ClassificationResult) []string {
	actions := []string{"send_draft_to_agent_queue"}
	if classification.Priority == domain.PriorityCritical {
		actions = append(actions, "page_on_call")
	}
	if classification.Sentiment < -0.5 {
		actions = append(actions, "notify_customer_success")
	}
	actions = append(actions, "notify_customer")
	return actions
}

// execution tracks one run's trace and per-stage timings.
type execution struct {
	correlationID string
	trace         []domain.State
	timings       map[string]int64
	startedAt     time.Time
}

func newExecution(correlationID string) *execution {
	return &execution{
		correlationID: correlationID,
		timings:       make(map[string]int64),
		startedAt:     time.Now(),
	}
}

func (e *execution) visit(s domain.State) {
	e.trace = append(e.trace, s)
}

// enter records the state visit and returns a stop function capturing the
// stage duration in milliseconds.
func (e *execution) enter(s domain.State) func() {
	e.visit(s)
	start := time.Now()
	return func() {
		e.timings[string(s)] = time.Since(start).Milliseconds()
	}
}

// assemble is the terminal state. It runs exactly once per execution and
// makes no external calls.
func (e *execution) assemble(classification domain.ClassificationResult, pkg domain.ContextPackage, drafts []domain.ResponseDraft, actions []string, needsReview bool) *domain.OrchestrationResult {
	e.visit(domain.StateAssembleOutput)
	e.timings["total"] = time.Since(e.startedAt).Milliseconds()
	return &domain.OrchestrationResult{
		Classification: classification,
		ContextPackage: pkg,
		Drafts:         drafts,
		NextActions:    actions,
		StateTrace:     e.trace,
		TimingsMS:      e.timings,
		CorrelationID:  e.correlationID,
		NeedsReview:    needsReview,
		CompletedAt:    time.Now().UTC(),
	}
}

// String implements fmt.Stringer for debug logging without leaking ticket
// content.
func (e *execution) String() string {
	return fmt.Sprintf("execution(%s, %d states)", e.correlationID, len(e.trace))
}
