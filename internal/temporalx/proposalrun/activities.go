package proposalrun

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpforge/proposal-backend/internal/clients/gcp"
	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/clients/pinecone"
	"github.com/kpforge/proposal-backend/internal/convert"
	"github.com/kpforge/proposal-backend/internal/data/repos"
	types "github.com/kpforge/proposal-backend/internal/domain"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
	"github.com/kpforge/proposal-backend/internal/proposal"
)

// Activities bundles the pipeline collaborators behind the workflow's
// named activities. Content failures are soft: the activity returns a
// zero value and logs, so the workflow decides how the run degrades.
type Activities struct {
	Log *logger.Logger

	LLM       openai.Client
	Converter convert.Converter
	Store     pinecone.VectorStore
	Splitter  *proposal.Splitter
	Extractor *proposal.Extractor
	Refiner   *proposal.Refiner
	Analyzer  *proposal.Analyzer
	Estimator *proposal.Estimator
	Generator *proposal.Generator

	Runs    repos.ProposalRunRepo
	Budgets repos.ProposalBudgetRepo
}

// NewStoreSearcher adapts the vector store to the refiner's search
// interface.
func NewStoreSearcher(store pinecone.VectorStore) proposal.Searcher {
	return storeSearcher{store: store}
}

type storeSearcher struct {
	store pinecone.VectorStore
}

func (s storeSearcher) Search(ctx context.Context, runID string, query string, topK int) ([]proposal.SearchMatch, error) {
	matches, err := s.store.Search(ctx, runID, query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]proposal.SearchMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, proposal.SearchMatch{
			Text:       m.Text,
			PageNumber: m.PageNumber,
			Distance:   m.Distance,
		})
	}
	return out, nil
}

func (a *Activities) ParseDocument(ctx context.Context, in ParseInput) (ParseResult, error) {
	if a == nil || a.Converter == nil {
		return ParseResult{}, fmt.Errorf("proposalrun: parse activity not configured")
	}
	res, err := a.Converter.Convert(ctx, in.FilePath)
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("Document conversion failed", "file", in.FilePath, "error", err)
		}
		return ParseResult{}, nil
	}
	return ParseResult{
		MarkdownPath: res.MarkdownPath,
		LayoutPath:   res.LayoutPath,
		PageCount:    res.PageCount,
	}, nil
}

var ocrMimes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

// OCRDocument is the fallback path for documents the converter could
// not read: the raw bytes go to the multimodal completion backend and
// the transcript is written next to the upload.
func (a *Activities) OCRDocument(ctx context.Context, in ParseInput) (ParseResult, error) {
	if a == nil || a.LLM == nil {
		return ParseResult{}, fmt.Errorf("proposalrun: ocr activity not configured")
	}
	data, err := os.ReadFile(in.FilePath)
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("OCR read failed", "file", in.FilePath, "error", err)
		}
		return ParseResult{}, nil
	}

	mime := ocrMimes[strings.ToLower(filepath.Ext(in.FilePath))]
	if mime == "" {
		mime = "application/pdf"
	}

	text, err := a.LLM.TranscribeImage(ctx, data, mime)
	if err != nil || strings.TrimSpace(text) == "" {
		if a.Log != nil {
			a.Log.Warn("OCR transcription failed", "file", in.FilePath, "error", err)
		}
		return ParseResult{}, nil
	}

	stem := strings.TrimSuffix(in.FilePath, filepath.Ext(in.FilePath))
	mdPath := stem + "_ocr.md"
	if err := os.WriteFile(mdPath, []byte(text), 0o644); err != nil {
		return ParseResult{}, fmt.Errorf("write ocr blob: %w", err)
	}
	return ParseResult{MarkdownPath: mdPath, PageCount: 1}, nil
}

// IndexDocument loads the markdown blob, feeds the page-attributed
// layout items into the per-run vector namespace, and returns the
// byte-range chunk definitions for the map phase. A missing or empty
// source yields an empty list, not an error.
func (a *Activities) IndexDocument(ctx context.Context, in IndexInput) ([]proposal.ChunkDef, error) {
	if a == nil || a.Splitter == nil {
		return nil, fmt.Errorf("proposalrun: index activity not configured")
	}

	raw, err := os.ReadFile(in.MarkdownPath)
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("Index read failed", "file", in.MarkdownPath, "error", err)
		}
		return nil, nil
	}
	if strings.TrimSpace(string(raw)) == "" {
		return nil, nil
	}

	entries := a.layoutEntries(in.LayoutPath)
	if len(entries) == 0 {
		entries = []pinecone.Entry{{Text: string(raw), PageNumber: 1, SourceFile: in.MarkdownPath}}
	}
	if a.Store != nil {
		// Index failures degrade refinement only; the run continues.
		if err := a.Store.Index(ctx, in.RunID, entries); err != nil && a.Log != nil {
			a.Log.Warn("Vector indexing failed", "run_id", in.RunID, "error", err)
		}
	}

	return a.Splitter.Split(in.MarkdownPath, raw), nil
}

func (a *Activities) layoutEntries(layoutPath string) []pinecone.Entry {
	if strings.TrimSpace(layoutPath) == "" {
		return nil
	}
	raw, err := os.ReadFile(layoutPath)
	if err != nil {
		if a.Log != nil {
			a.Log.Warn("Layout read failed", "file", layoutPath, "error", err)
		}
		return nil
	}
	var items []gcp.LayoutItem
	if err := json.Unmarshal(raw, &items); err != nil {
		if a.Log != nil {
			a.Log.Warn("Layout decode failed", "file", layoutPath, "error", err)
		}
		return nil
	}
	entries := make([]pinecone.Entry, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		entries = append(entries, pinecone.Entry{
			Text:       it.Text,
			PageNumber: it.PageNumber,
			SourceFile: layoutPath,
		})
	}
	return entries
}

func (a *Activities) ExtractChunk(ctx context.Context, def proposal.ChunkDef) (proposal.ExtractedFacts, error) {
	if a == nil || a.Extractor == nil {
		return proposal.ExtractedFacts{}, fmt.Errorf("proposalrun: extract activity not configured")
	}
	return a.Extractor.ExtractChunk(ctx, def), nil
}

func (a *Activities) AnalyzeRequirementsChunk(ctx context.Context, def proposal.ChunkDef) ([]proposal.RequirementItem, error) {
	if a == nil || a.Extractor == nil {
		return nil, fmt.Errorf("proposalrun: analyze activity not configured")
	}
	return a.Extractor.AnalyzeChunk(ctx, def), nil
}

func (a *Activities) RefineRequirements(ctx context.Context, in RefineInput) ([]proposal.RequirementItem, error) {
	if a == nil || a.Refiner == nil {
		return nil, fmt.Errorf("proposalrun: refine activity not configured")
	}
	return a.Refiner.Refine(ctx, in.RunID, in.Items), nil
}

func (a *Activities) MergeExtractions(ctx context.Context, parts []proposal.ExtractedFacts) (proposal.ExtractedFacts, error) {
	return proposal.Merge(parts), nil
}

func (a *Activities) AnalyzeProject(ctx context.Context, in AnalyzeInput) (proposal.ExtractedFacts, error) {
	if a == nil || a.Analyzer == nil {
		return proposal.ExtractedFacts{}, fmt.Errorf("proposalrun: project analysis activity not configured")
	}
	return a.Analyzer.Analyze(ctx, in.Facts, in.Requirements), nil
}

func (a *Activities) EstimateBudget(ctx context.Context, in EstimateInput) (proposal.BudgetMatrix, error) {
	if a == nil || a.Estimator == nil {
		return nil, fmt.Errorf("proposalrun: estimate activity not configured")
	}
	return a.Estimator.Estimate(ctx, in.Facts, in.Stages, in.Roles), nil
}

func (a *Activities) GenerateProposal(ctx context.Context, in GenerateInput) (string, error) {
	if a == nil || a.Generator == nil {
		return "", fmt.Errorf("proposalrun: generate activity not configured")
	}
	return a.Generator.Generate(ctx, in.Facts, in.Budget, in.Rates), nil
}

func (a *Activities) SaveBudget(ctx context.Context, in SaveBudgetInput) error {
	if a == nil || a.Budgets == nil {
		return nil
	}
	matrix := make(map[string]map[string]float64, len(in.Budget))
	for stage, roles := range in.Budget {
		row := make(map[string]float64, len(roles))
		for role, hours := range roles {
			row[role] = float64(hours)
		}
		matrix[stage] = row
	}
	_, err := a.Budgets.Save(ctx, in.WorkflowID, matrix, in.Rates)
	return err
}

// DropIndex deletes the run-scoped vector namespace so finished runs
// do not accumulate in the index. An unconfigured store is a no-op.
func (a *Activities) DropIndex(ctx context.Context, in DropIndexInput) error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Drop(ctx, in.RunID)
}

func (a *Activities) RecordRunStatus(ctx context.Context, in RunStatusInput) error {
	if a == nil || a.Runs == nil {
		return nil
	}
	if in.Status == StatusProcessing {
		return a.Runs.Upsert(ctx, &types.ProposalRun{
			WorkflowID: in.WorkflowID,
			SourceFile: in.SourceFile,
			Status:     in.Status,
		})
	}
	return a.Runs.MarkStatus(ctx, in.WorkflowID, in.Status, in.Error)
}
