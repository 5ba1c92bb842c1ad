package pinecone

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
	"github.com/kpforge/proposal-backend/internal/utils"
)

// Entry is one indexable fragment of a parsed document.
type Entry struct {
	Text       string
	PageNumber int
	SourceFile string
}

// Match is a search hit. Distance is 1-score for a cosine index, so
// lower means closer.
type Match struct {
	Text       string
	PageNumber int
	SourceFile string
	Distance   float64
}

// VectorStore indexes document fragments into a per-run namespace and
// searches them by natural-language query.
type VectorStore interface {
	Index(ctx context.Context, runID string, entries []Entry) error
	Search(ctx context.Context, runID string, query string, topK int) ([]Match, error)
	Drop(ctx context.Context, runID string) error
}

type vectorStore struct {
	log       *logger.Logger
	client    Client
	llm       openai.Client
	indexName string

	upsertBatch int
	embedBatch  int
	parallelism int

	mu   sync.Mutex
	host string
}

func NewVectorStore(log *logger.Logger, client Client, llm openai.Client) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("pinecone client required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	indexName := strings.TrimSpace(utils.GetEnv("PINECONE_INDEX", "proposal-docs", log))
	return &vectorStore{
		log:         log.With("service", "VectorStore"),
		client:      client,
		llm:         llm,
		indexName:   indexName,
		upsertBatch: utils.GetEnvAsInt("PINECONE_UPSERT_BATCH", 100, log),
		embedBatch:  utils.GetEnvAsInt("PINECONE_EMBED_BATCH", 64, log),
		parallelism: utils.GetEnvAsInt("PINECONE_EMBED_PARALLELISM", 4, log),
	}, nil
}

// Namespace returns the run-scoped namespace all of a run's vectors
// live under.
func Namespace(runID string) string {
	return "kp:" + strings.TrimSpace(runID)
}

func (s *vectorStore) resolveHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}
	desc, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return "", fmt.Errorf("resolve index host: %w", err)
	}
	s.host = desc.Host
	return s.host, nil
}

func (s *vectorStore) Index(ctx context.Context, runID string, entries []Entry) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("runID required")
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Text) != "" {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		s.log.Info("nothing to index", "run_id", runID)
		return nil
	}

	host, err := s.resolveHost(ctx)
	if err != nil {
		return err
	}

	started := time.Now()
	vectors := make([]Vector, len(kept))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for start := 0; start < len(kept); start += s.embedBatch {
		start := start
		end := start + s.embedBatch
		if end > len(kept) {
			end = len(kept)
		}
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, e := range kept[start:end] {
				texts = append(texts, e.Text)
			}
			embs, err := s.llm.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			if len(embs) != end-start {
				return fmt.Errorf("embed batch [%d:%d]: got %d vectors", start, end, len(embs))
			}
			for i, e := range kept[start:end] {
				vectors[start+i] = Vector{
					ID:     fmt.Sprintf("%s:%d", runID, start+i),
					Values: embs[i],
					Metadata: map[string]any{
						"text":        e.Text,
						"page_number": e.PageNumber,
						"source_file": e.SourceFile,
					},
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ns := Namespace(runID)
	for start := 0; start < len(vectors); start += s.upsertBatch {
		end := start + s.upsertBatch
		if end > len(vectors) {
			end = len(vectors)
		}
		if _, err := s.client.UpsertVectors(ctx, host, UpsertRequest{
			Vectors:   vectors[start:end],
			Namespace: ns,
		}); err != nil {
			return fmt.Errorf("upsert batch [%d:%d]: %w", start, end, err)
		}
	}

	s.log.Info("indexed run fragments",
		"run_id", runID,
		"count", len(vectors),
		"elapsed", time.Since(started).String(),
	)
	return nil
}

func (s *vectorStore) Search(ctx context.Context, runID string, query string, topK int) ([]Match, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("runID required")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	host, err := s.resolveHost(ctx)
	if err != nil {
		return nil, err
	}

	embs, err := s.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(embs))
	}

	resp, err := s.client.Query(ctx, host, QueryRequest{
		Namespace:       Namespace(runID),
		Vector:          embs[0],
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		match := Match{Distance: 1 - m.Score}
		if m.Metadata != nil {
			if v, ok := m.Metadata["text"].(string); ok {
				match.Text = v
			}
			if v, ok := m.Metadata["page_number"].(float64); ok {
				match.PageNumber = int(v)
			}
			if v, ok := m.Metadata["source_file"].(string); ok {
				match.SourceFile = v
			}
		}
		out = append(out, match)
	}
	return out, nil
}

func (s *vectorStore) Drop(ctx context.Context, runID string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("runID required")
	}
	host, err := s.resolveHost(ctx)
	if err != nil {
		return err
	}
	return s.client.DeleteNamespace(ctx, host, Namespace(runID))
}
