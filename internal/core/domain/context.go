package domain

import "sort"

// ContextKind identifies the source of a context item.
type ContextKind string

const (
	ContextKindKB            ContextKind = "kb"
	ContextKindOrder         ContextKind = "order"
	ContextKindSimilarTicket ContextKind = "similar_ticket"
)

// kind priority for merge ordering and reliability weight for confidence
// aggregation. KB articles are the most trusted source, similar tickets the
// least.
var (
	kindRank = map[ContextKind]int{
		ContextKindKB:            0,
		ContextKindOrder:         1,
		ContextKindSimilarTicket: 2,
	}
	kindWeight = map[ContextKind]float64{
		ContextKindKB:            1.0,
		ContextKindOrder:         0.8,
		ContextKindSimilarTicket: 0.6,
	}
)

// ReliabilityWeight returns the source reliability weight for the kind.
// Unknown kinds weigh like similar tickets.
func (k ContextKind) ReliabilityWeight() float64 {
	if w, ok := kindWeight[k]; ok {
		return w
	}
	return kindWeight[ContextKindSimilarTicket]
}

// ContextItem is one piece of supporting evidence for response generation.
// Score is in [0, 1].
type ContextItem struct {
	SourceID    string      `json:"source_id"`
	Excerpt     string      `json:"excerpt"`
	Score       float64     `json:"score"`
	CitationURI string      `json:"citation_uri"`
	Kind        ContextKind `json:"kind"`
}

// ContextPackage is the ranked evidence set assembled for one execution.
type ContextPackage struct {
	Items               []ContextItem `json:"items"`
	AggregateConfidence float64       `json:"aggregate_confidence"`
}

// NewContextPackage orders items deterministically (score descending, kind
// rank as tiebreak) and computes the reliability-weighted mean confidence.
// An empty package has confidence zero.
func NewContextPackage(items []ContextItem) ContextPackage {
	sorted := make([]ContextItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return kindRank[sorted[i].Kind] < kindRank[sorted[j].Kind]
	})

	var weighted, weights float64
	for _, it := range sorted {
		w := it.Kind.ReliabilityWeight()
		weighted += it.Score * w
		weights += w
	}
	confidence := 0.0
	if weights > 0 {
		confidence = weighted / weights
	}

	return ContextPackage{Items: sorted, AggregateConfidence: confidence}
}

// Citations returns the citation URIs of all items, in package order.
func (p ContextPackage) Citations() []string {
	uris := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if it.CitationURI != "" {
			uris = append(uris, it.CitationURI)
		}
	}
	return uris
}
