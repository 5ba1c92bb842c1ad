package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kpforge/proposal-backend/internal/platform/logger"
	"github.com/kpforge/proposal-backend/internal/utils"
)

// Pipeline holds the tunables of the document-analysis pipeline. Values come
// from an optional YAML file (PIPELINE_CONFIG_PATH) with env overrides on top.
type Pipeline struct {
	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	NewlineWindow int `yaml:"newline_window"`
	BatchSize     int `yaml:"batch_size"`

	RAGTopK          int     `yaml:"rag_top_k"`
	RAGMinConfidence float64 `yaml:"rag_min_confidence"`
	RAGContextItems  int     `yaml:"rag_context_items"`

	DefaultFeatureHours int `yaml:"default_feature_hours"`

	DefaultStages []string `yaml:"default_stages"`
	DefaultRoles  []string `yaml:"default_roles"`
}

func DefaultPipeline() Pipeline {
	return Pipeline{
		ChunkSize:           12000,
		ChunkOverlap:        1000,
		NewlineWindow:       500,
		BatchSize:           1,
		RAGTopK:             1,
		RAGMinConfidence:    0.3,
		RAGContextItems:     15,
		DefaultFeatureHours: 5,
		DefaultStages:       []string{"Discovery", "Prototype", "Development", "Testing"},
		DefaultRoles:        []string{"Manager", "Frontend", "Backend", "Designer"},
	}
}

func LoadPipeline(log *logger.Logger) (Pipeline, error) {
	cfg := DefaultPipeline()

	path := strings.TrimSpace(os.Getenv("PIPELINE_CONFIG_PATH"))
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read pipeline config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse pipeline config %s: %w", path, err)
		}
		if log != nil {
			log.Info("Pipeline config loaded", "path", path)
		}
	}

	cfg.ChunkSize = utils.GetEnvAsInt("PIPELINE_CHUNK_SIZE", cfg.ChunkSize, log)
	cfg.ChunkOverlap = utils.GetEnvAsInt("PIPELINE_CHUNK_OVERLAP", cfg.ChunkOverlap, log)
	cfg.BatchSize = utils.GetEnvAsInt("PIPELINE_BATCH_SIZE", cfg.BatchSize, log)
	cfg.RAGTopK = utils.GetEnvAsInt("PIPELINE_RAG_TOP_K", cfg.RAGTopK, log)
	cfg.RAGMinConfidence = utils.GetEnvAsFloat("PIPELINE_RAG_MIN_CONFIDENCE", cfg.RAGMinConfidence, log)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would stall the splitter loop.
func (p Pipeline) Validate() error {
	if p.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 {
		return fmt.Errorf("chunk_overlap must be non-negative, got %d", p.ChunkOverlap)
	}
	if p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)", p.ChunkOverlap, p.ChunkSize)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", p.BatchSize)
	}
	if p.RAGMinConfidence < 0 || p.RAGMinConfidence > 1 {
		return fmt.Errorf("rag_min_confidence must be within [0,1], got %f", p.RAGMinConfidence)
	}
	return nil
}
