package proposal

import (
	"context"
	"fmt"

	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// SearchMatch is one vector-search hit against the run's index.
// Distance is the raw vector distance, lower is closer.
type SearchMatch struct {
	Text       string
	PageNumber int
	Distance   float64
}

// Searcher is the vector-search capability the refiner consumes.
type Searcher interface {
	Search(ctx context.Context, runID string, query string, topK int) ([]SearchMatch, error)
}

// Refiner performs reverse-RAG enrichment: each requirement item's
// search query is matched against the run-scoped index and the best
// hit is attached as provenance when confident enough.
type Refiner struct {
	log           *logger.Logger
	searcher      Searcher
	minConfidence float64
	topK          int
}

func NewRefiner(log *logger.Logger, searcher Searcher, minConfidence float64, topK int) (*Refiner, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher required")
	}
	if topK < 1 {
		topK = 1
	}
	return &Refiner{
		log:           log.With("service", "Refiner"),
		searcher:      searcher,
		minConfidence: minConfidence,
		topK:          topK,
	}, nil
}

// Confidence derives a [0,1] confidence from a vector distance.
func Confidence(distance float64) float64 {
	c := 1 - distance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Refine enriches items in order. A failed lookup for one item logs
// and passes that item through unchanged; it never aborts the rest.
func (r *Refiner) Refine(ctx context.Context, runID string, items []RequirementItem) []RequirementItem {
	out := make([]RequirementItem, len(items))
	copy(out, items)

	for i := range out {
		query := out[i].SearchQuery
		if query == "" {
			continue
		}

		matches, err := r.searcher.Search(ctx, runID, query, r.topK)
		if err != nil {
			r.log.Warn("requirement lookup failed, item left unenriched",
				"run_id", runID, "summary", out[i].Summary, "error", err)
			continue
		}
		if len(matches) == 0 {
			continue
		}

		best := matches[0]
		confidence := Confidence(best.Distance)
		if confidence < r.minConfidence {
			continue
		}

		out[i].SourceText = best.Text
		out[i].PageNumber = best.PageNumber
		out[i].Confidence = confidence
	}
	return out
}
