// Package customer builds the aggregated 360 view of a customer from the
// profile store and the interaction log.
package customer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solvent-ai/triagekit/internal/cache"
	"github.com/solvent-ai/triagekit/internal/core/domain"
	"github.com/solvent-ai/triagekit/internal/core/ports"
)

const (
	maxRecentOrders       = 5
	maxInteractionEvents  = 20
	interactionWindowDays = 90
)

// Options tune the aggregator.
type Options struct {
	// HighValueThreshold is the lifetime value above which a customer is
	// considered high value.
	HighValueThreshold float64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{HighValueThreshold: 10000}
}

// Aggregator implements ports.ContextAggregator with a write-through cache.
type Aggregator struct {
	store  ports.CustomerStore
	log    ports.InteractionLog
	cache  *cache.Cache[*domain.CustomerContext]
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates an aggregator. The cache is owned by the caller so it can be
// shared with the retrieval stage's structured lookup.
func New(store ports.CustomerStore, log ports.InteractionLog, c *cache.Cache[*domain.CustomerContext], opts Options, logger *slog.Logger) *Aggregator {
	if opts.HighValueThreshold <= 0 {
		opts.HighValueThreshold = DefaultOptions().HighValueThreshold
	}
	return &Aggregator{
		store:  store,
		log:    log,
		cache:  c,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

var _ ports.ContextAggregator = (*Aggregator)(nil)

// Build returns the customer context for externalID, serving from cache when
// possible. A missing profile is domain.KindNotFound; store outages surface
// as transient errors and are never cached.
func (a *Aggregator) Build(ctx context.Context, externalID string) (*domain.CustomerContext, error) {
	cacheKey := CacheKeyFor(externalID)
	if cached, ok := a.cache.Get(cacheKey); ok {
		a.logger.Debug("customer cache hit", slog.String("external_id", externalID))
		return cached, nil
	}

	profile, err := a.store.GetProfile(ctx, externalID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, domain.ErrTransient("customer profile lookup failed").WithCause(err)
	}

	orders, err := a.store.GetRecentOrders(ctx, profile.CustomerID, maxRecentOrders)
	if err != nil {
		return nil, domain.ErrTransient("recent orders lookup failed").WithCause(err)
	}
	total, err := a.store.CountOrders(ctx, profile.CustomerID)
	if err != nil {
		return nil, domain.ErrTransient("order count lookup failed").WithCause(err)
	}

	now := a.now()
	since := now.AddDate(0, 0, -interactionWindowDays)
	events, err := a.log.QueryRecent(ctx, profile.CustomerID, since, maxInteractionEvents)
	if err != nil {
		// The interaction log is advisory; a failed query degrades the
		// derived fields instead of failing the build.
		a.logger.Warn("interaction log query failed",
			slog.String("customer_id", profile.CustomerID),
			slog.String("error", err.Error()))
		events = nil
	}

	avgSentiment, lastInteraction := summarizeInteractions(events)

	cc := &domain.CustomerContext{
		CustomerProfile: *profile,
		RecentOrders:    orders,
		TotalOrders:     total,
		AvgSentiment:    avgSentiment,
		LastInteraction: lastInteraction,
		IsHighValue:     profile.LifetimeValue > a.opts.HighValueThreshold,
		ChurnRisk:       domain.ScoreChurnRisk(avgSentiment, lastInteraction, profile.Tier, now),
	}

	a.cache.Set(cacheKey, cc)
	a.logger.Info("customer context built",
		slog.String("external_id", externalID),
		slog.String("tier", cc.Tier),
		slog.Bool("is_high_value", cc.IsHighValue),
		slog.String("churn_risk", string(cc.ChurnRisk)))
	return cc, nil
}

// summarizeInteractions derives the mean sentiment and most recent timestamp
// from an interaction window. Zero sentiment and nil timestamp when empty.
func summarizeInteractions(events []domain.InteractionEvent) (float64, *time.Time) {
	if len(events) == 0 {
		return 0, nil
	}
	var sum float64
	latest := events[0].Timestamp
	for _, ev := range events {
		sum += ev.Sentiment
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}
	return sum / float64(len(events)), &latest
}

// CacheKeyFor returns the cache key used for a customer, exposed so the
// retrieval stage can share the same namespace.
func CacheKeyFor(externalID string) string {
	return fmt.Sprintf("customer:%s", externalID)
}
