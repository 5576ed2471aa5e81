// Package ports defines the interfaces between the triage pipeline and its
// external collaborators. The pipeline depends only on these contracts,
// never on a collaborator's internals.
package ports

import (
	"context"
	"time"

	"github.com/solvent-ai/triagekit/internal/core/domain"
)

// ModelTier selects the inference model by cost/capability tradeoff.
type ModelTier string

const (
	// TierCostOptimized is the default tier for routine tickets.
	TierCostOptimized ModelTier = "cost_optimized"
	// TierCapable is the higher-capability tier for complex tickets.
	TierCapable ModelTier = "capable"
)

// InferenceClient is the language-model collaborator. Implementations must
// honor the request context deadline and report transient failures as
// domain.KindTransient so stage fallbacks can distinguish them from
// permanent ones.
type InferenceClient interface {
	// Classify sends a classification prompt and returns the raw structured
	// output text.
	Classify(ctx context.Context, prompt string, tier ModelTier) (string, error)

	// GenerateDrafts sends a drafting prompt and returns up to maxDrafts
	// raw draft texts.
	GenerateDrafts(ctx context.Context, prompt string, tier ModelTier, maxDrafts int) ([]string, error)
}

// VectorHit is one ranked result from the document retrieval collaborator.
type VectorHit struct {
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	SourceURI string  `json:"source_uri"`
}

// VectorSearcher is the vector/document retrieval collaborator.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, queryText string, k int) ([]VectorHit, error)
}

// CustomerStore is the relational customer-profile collaborator.
type CustomerStore interface {
	// GetProfile returns domain.KindNotFound when no profile matches.
	GetProfile(ctx context.Context, externalID string) (*domain.CustomerProfile, error)
	GetRecentOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
	CountOrders(ctx context.Context, customerID string) (int, error)
	GetSimilarTickets(ctx context.Context, category domain.Category, sentiment float64, limit int) ([]domain.ContextItem, error)
}

// InteractionLog is the append-only interaction event collaborator.
type InteractionLog interface {
	QueryRecent(ctx context.Context, customerID string, since time.Time, limit int) ([]domain.InteractionEvent, error)
}

// TicketStore persists accepted tickets.
type TicketStore interface {
	SaveTicket(ctx context.Context, t *domain.Ticket) error
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
}

// Event is an interaction event emitted after pipeline completion.
type Event struct {
	Type          string    `json:"type"`
	CorrelationID string    `json:"correlation_id"`
	CustomerID    string    `json:"customer_id"`
	TicketID      string    `json:"ticket_id"`
	State         string    `json:"state"`
	Sentiment     float64   `json:"sentiment"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventPublisher appends pipeline events to the interaction stream.
// Publishing failures must never fail the pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}
