// Package retrieve implements the retrieval stage: three independent
// sub-lookups merged into one ranked context package.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solvent-ai/triagekit/internal/cache"
	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

// Options tune the retrieval stage.
type Options struct {
	// TopK is the number of vector search results requested.
	TopK int
	// MinScore discards vector hits below this relevance before merging.
	MinScore float64
	// LookupTimeout bounds each sub-lookup independently.
	LookupTimeout time.Duration
	// SimilarTicketLimit caps the similar-ticket lookup.
	SimilarTicketLimit int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TopK:               3,
		MinScore:           0.5,
		LookupTimeout:      time.Second,
		SimilarTicketLimit: 3,
	}
}

// Retriever implements ports.Retriever. Each sub-lookup is independently
// cached and independently fault tolerant: a failing lookup contributes zero
// items and the aggregate confidence is computed from what was gathered.
type Retriever struct {
	searcher   ports.VectorSearcher
	store      ports.CustomerStore
	aggregator ports.ContextAggregator
	cache      *cache.Cache[[]domain.ContextItem]
	opts       Options
	logger     *slog.Logger
}

// New creates the retrieval stage.
func New(searcher ports.VectorSearcher, store ports.CustomerStore, aggregator ports.ContextAggregator, c *cache.Cache[[]domain.ContextItem], opts Options, logger *slog.Logger) *Retriever {
	def := DefaultOptions()
	if opts.TopK < 1 {
		opts.TopK = def.TopK
	}
	if opts.MinScore <= 0 {
		opts.MinScore = def.MinScore
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = def.LookupTimeout
	}
	if opts.SimilarTicketLimit < 1 {
		opts.SimilarTicketLimit = def.SimilarTicketLimit
	}
	return &Retriever{
		searcher:   searcher,
		store:      store,
		aggregator: aggregator,
		cache:      c,
		opts:       opts,
		logger:     logger,
	}
}

var _ ports.Retriever = (*Retriever)(nil)

// Retrieve runs the vector, structured, and similar-ticket lookups
// concurrently, each under its own timeout, and merges the survivors into a
// deterministically ordered package.
func (r *Retriever) Retrieve(ctx context.Context, ticket *domain.Ticket, classification domain.ClassificationResult) (domain.ContextPackage, error) {
	var kbItems, orderItems, similarItems []domain.ContextItem

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		kbItems = r.vectorLookup(gctx, ticket)
		return nil
	})
	g.Go(func() error {
		orderItems = r.structuredLookup(gctx, ticket, classification)
		return nil
	})
	g.Go(func() error {
		similarItems = r.similarTicketLookup(gctx, classification)
		return nil
	})
	// Lookups swallow their own failures, so the only join error would be a
	// programming mistake.
	if err := g.Wait(); err != nil {
		return domain.ContextPackage{}, err
	}

	items := make([]domain.ContextItem, 0, len(kbItems)+len(orderItems)+len(similarItems))
	items = append(items, kbItems...)
	items = append(items, orderItems...)
	items = append(items, similarItems...)

	pkg := domain.NewContextPackage(items)
	r.logger.Info("context package built",
		slog.String("ticket_id", ticket.ID),
		slog.Int("kb_items", len(kbItems)),
		slog.Int("order_items", len(orderItems)),
		slog.Int("similar_items", len(similarItems)),
		slog.Float64("aggregate_confidence", pkg.AggregateConfidence))
	return pkg, nil
}

// vectorLookup queries the document index, filtering low-relevance hits.
func (r *Retriever) vectorLookup(ctx context.Context, ticket *domain.Ticket) []domain.ContextItem {
	query := ticket.Subject + "\n\n" + ticket.Description

	key, keyErr := cache.Key("retrieve", map[string]any{"query": query, "k": r.opts.TopK})
	if keyErr == nil {
		if cached, ok := r.cache.Get(key); ok {
			return cached
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
	defer cancel()

	hits, err := r.searcher.VectorSearch(ctx, query, r.opts.TopK)
	if err != nil {
		r.logger.Warn("vector search failed",
			slog.String("ticket_id", ticket.ID),
			slog.String("error_kind", string(domain.KindOf(err))))
		return nil
	}

	items := make([]domain.ContextItem, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < r.opts.MinScore {
			continue
		}
		items = append(items, domain.ContextItem{
			SourceID:    hit.SourceURI,
			Excerpt:     hit.Text,
			Score:       hit.Score,
			CitationURI: hit.SourceURI,
			Kind:        domain.ContextKindKB,
		})
	}

	if keyErr == nil {
		r.cache.Set(key, items)
	}
	return items
}

// structuredLookup reuses the customer aggregator (and its cache) to turn
// the latest order into a context item carrying the tier/priority SLA rule.
// A customer without orders still yields the SLA item.
func (r *Retriever) structuredLookup(ctx context.Context, ticket *domain.Ticket, classification domain.ClassificationResult) []domain.ContextItem {
	ctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
	defer cancel()

	customer, err := r.aggregator.Build(ctx, ticket.CustomerExternalID)
	if err != nil {
		if !domain.IsNotFound(err) {
			r.logger.Warn("structured lookup failed",
				slog.String("ticket_id", ticket.ID),
				slog.String("error_kind", string(domain.KindOf(err))))
		}
		return nil
	}

	sla := deriveSLA(customer.Tier, classification.Priority)
	if len(customer.RecentOrders) == 0 {
		return []domain.ContextItem{{
			SourceID:    "sla-policy",
			Excerpt:     sla,
			Score:       0.55,
			CitationURI: "policy://sla",
			Kind:        domain.ContextKindOrder,
		}}
	}

	order := customer.RecentOrders[0]
	excerpt := fmt.Sprintf("Latest order %s: status=%s, total=%.2f, placed=%s. Tier: %s. %s",
		order.OrderNumber, order.Status, order.TotalAmount,
		order.OrderDate.Format("2006-01-02"), customer.Tier, sla)

	return []domain.ContextItem{{
		SourceID:    order.OrderID,
		Excerpt:     excerpt,
		Score:       0.6,
		CitationURI: "order://" + order.OrderNumber,
		Kind:        domain.ContextKindOrder,
	}}
}

// slaByPriority maps ticket priority to the committed response/resolution
// window.
var slaByPriority = map[domain.Priority]string{
	domain.PriorityCritical: "1h response, 4h resolution",
	domain.PriorityHigh:     "4h response, 1d resolution",
	domain.PriorityMedium:   "1d response, 2d resolution",
	domain.PriorityLow:      "2d response, 5d resolution",
}

// deriveSLA renders the SLA sentence for a tier/priority pair.
func deriveSLA(tier string, priority domain.Priority) string {
	window, ok := slaByPriority[priority]
	if !ok {
		window = "1d response"
	}
	if tier == "enterprise" {
		return fmt.Sprintf("SLA: %s. Expedite for enterprise tier.", window)
	}
	return fmt.Sprintf("SLA: %s.", window)
}

// similarTicketLookup finds past tickets matching the classification.
func (r *Retriever) similarTicketLookup(ctx context.Context, classification domain.ClassificationResult) []domain.ContextItem {
	ctx, cancel := context.WithTimeout(ctx, r.opts.LookupTimeout)
	defer cancel()

	items, err := r.store.GetSimilarTickets(ctx, classification.Category, classification.Sentiment, r.opts.SimilarTicketLimit)
	if err != nil {
		r.logger.Warn("similar ticket lookup failed",
			slog.String("category", string(classification.Category)),
			slog.String("error_kind", string(domain.KindOf(err))))
		return nil
	}
	return items
}
