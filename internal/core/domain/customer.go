package domain

import "time"

// ChurnRisk buckets the additive churn score.
type ChurnRisk string

const (
	ChurnRiskLow    ChurnRisk = "low"
	ChurnRiskMedium ChurnRisk = "medium"
	ChurnRiskHigh   ChurnRisk = "high"
)

// Order is a single purchase record attached to a customer context.
type Order struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      string    `json:"status"`
	TotalAmount float64   `json:"total_amount"`
	OrderDate   time.Time `json:"order_date"`
}

// InteractionEvent is one entry from the append-only interaction log.
type InteractionEvent struct {
	CustomerID string    `json:"customer_id"`
	Sentiment  float64   `json:"sentiment"`
	Timestamp  time.Time `json:"timestamp"`
}

// CustomerProfile is the structured-store view of a customer.
type CustomerProfile struct {
	CustomerID    string  `json:"customer_id"`
	ExternalID    string  `json:"external_id"`
	Name          string  `json:"name"`
	Email         string  `json:"email"`
	Company       string  `json:"company,omitempty"`
	Tier          string  `json:"tier"`
	LifetimeValue float64 `json:"lifetime_value"`
}

// CustomerContext is the aggregated 360 view. It is rebuilt whole on every
// cache miss and never partially mutated.
type CustomerContext struct {
	CustomerProfile

	RecentOrders    []Order    `json:"recent_orders"`
	TotalOrders     int        `json:"total_orders"`
	AvgSentiment    float64    `json:"avg_sentiment"`
	LastInteraction *time.Time `json:"last_interaction,omitempty"`
	IsHighValue     bool       `json:"is_high_value"`
	ChurnRisk       ChurnRisk  `json:"churn_risk"`
}

// ScoreChurnRisk computes the additive churn score and maps it to a bucket.
// Boundaries are strict: avg sentiment of exactly -0.3 contributes 1 point,
// and exactly 60 days since last interaction contributes 1 point.
func ScoreChurnRisk(avgSentiment float64, lastInteraction *time.Time, tier string, now time.Time) ChurnRisk {
	score := 0

	if avgSentiment < -0.3 {
		score += 3
	} else if avgSentiment < 0 {
		score++
	}

	if lastInteraction != nil {
		days := int(now.Sub(*lastInteraction).Hours() / 24)
		if days > 60 {
			score += 3
		} else if days > 30 {
			score++
		}
	} else {
		score += 2
	}

	if tier == "enterprise" && score > 0 {
		score++
	}

	switch {
	case score >= 4:
		return ChurnRiskHigh
	case score >= 2:
		return ChurnRiskMedium
	default:
		return ChurnRiskLow
	}
}
