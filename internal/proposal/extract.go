package proposal

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// Extractor runs the per-chunk completion passes. Both passes apply
// the same soft-failure policy: one bad chunk degrades to a zero value
// and never aborts the document.
type Extractor struct {
	log *logger.Logger
	llm openai.Client
}

func NewExtractor(log *logger.Logger, llm openai.Client) (*Extractor, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &Extractor{log: log.With("service", "Extractor"), llm: llm}, nil
}

// ReadChunk opens the chunk's source file, slices its byte range and
// decodes best-effort. Overlap boundaries may cut multi-byte sequences
// even after chunk-level alignment; stray invalid bytes are dropped.
func ReadChunk(def ChunkDef) (string, error) {
	f, err := os.Open(def.SourceRef)
	if err != nil {
		return "", fmt.Errorf("open chunk source: %w", err)
	}
	defer f.Close()

	size := def.End - def.Start
	if size <= 0 {
		return "", nil
	}
	buf := make([]byte, size)
	n, err := f.ReadAt(buf, int64(def.Start))
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read chunk [%d:%d): %w", def.Start, def.End, err)
	}
	return decodeLossy(buf[:n]), nil
}

// ExtractChunk runs the structured-fact extraction pass over one
// chunk. Any failure returns the zero ExtractedFacts.
func (e *Extractor) ExtractChunk(ctx context.Context, def ChunkDef) ExtractedFacts {
	text, err := ReadChunk(def)
	if err != nil {
		e.log.Error("chunk read failed, returning empty facts", "source", def.SourceRef, "start", def.Start, "error", err)
		return ExtractedFacts{}
	}
	if text == "" {
		return ExtractedFacts{}
	}

	raw, err := e.llm.CompleteJSON(ctx,
		extractionSystemPrompt,
		"Document part:\n\n"+text,
		"extract_tz_chunk",
		extractionSchema(),
	)
	if err != nil {
		e.log.Error("chunk extraction failed, returning empty facts",
			"start", def.Start, "end", def.End, "error", err)
		return ExtractedFacts{}
	}
	return NormalizeFacts(raw)
}

// AnalyzeChunk runs the requirement-analysis pass over one chunk. Any
// failure returns an empty list.
func (e *Extractor) AnalyzeChunk(ctx context.Context, def ChunkDef) []RequirementItem {
	text, err := ReadChunk(def)
	if err != nil {
		e.log.Error("chunk read failed, returning no requirements", "source", def.SourceRef, "start", def.Start, "error", err)
		return []RequirementItem{}
	}
	if text == "" {
		return []RequirementItem{}
	}

	raw, err := e.llm.CompleteJSON(ctx,
		requirementSystemPrompt,
		"Document part:\n\n"+text,
		"analyze_requirements_chunk",
		requirementsSchema(),
	)
	if err != nil {
		e.log.Error("chunk requirement analysis failed, returning no requirements",
			"start", def.Start, "end", def.End, "error", err)
		return []RequirementItem{}
	}
	items := NormalizeRequirementItems(raw["items"])
	if items == nil {
		items = []RequirementItem{}
	}
	return items
}
