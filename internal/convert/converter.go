package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpforge/proposal-backend/internal/clients/gcp"
	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// Result points at the markdown and layout blobs written next to the
// upload. Downstream stages re-open these by path.
type Result struct {
	MarkdownPath string `json:"markdown_path"`
	LayoutPath   string `json:"layout_path"`
	PageCount    int    `json:"page_count"`
}

// Converter turns an uploaded file into a markdown blob plus a layout
// JSON blob of page-attributed text items.
type Converter interface {
	Convert(ctx context.Context, path string) (*Result, error)
}

type converter struct {
	log *logger.Logger
	doc gcp.Document
	llm openai.Client
}

func NewConverter(log *logger.Logger, doc gcp.Document, llm openai.Client) (Converter, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &converter{
		log: log.With("service", "Converter"),
		doc: doc,
		llm: llm,
	}, nil
}

var imageMimes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

func (c *converter) Convert(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))

	var markdown string
	var items []gcp.LayoutItem

	switch {
	case ext == ".md" || ext == ".markdown" || ext == ".txt":
		markdown = strings.TrimSpace(string(data))
		if markdown != "" {
			items = []gcp.LayoutItem{{Text: markdown, PageNumber: 1, Kind: "primary_text"}}
		}

	case ext == ".docx":
		markdown, items, err = c.convertDOCX(ctx, data)
		if err != nil {
			return nil, err
		}

	case imageMimes[ext] != "":
		markdown, err = c.llm.TranscribeImage(ctx, data, imageMimes[ext])
		if err != nil {
			return nil, fmt.Errorf("image transcription: %w", err)
		}
		markdown = strings.TrimSpace(markdown)
		if markdown != "" {
			items = []gcp.LayoutItem{{Text: markdown, PageNumber: 1, Kind: "ocr_text"}}
		}

	default:
		// PDFs and anything else we hand to Document AI.
		if c.doc == nil {
			return nil, fmt.Errorf("no parser configured for %q", ext)
		}
		mime := "application/pdf"
		parsed, perr := c.doc.ProcessBytes(ctx, gcp.ProcessBytesRequest{MimeType: mime, Data: data})
		if perr != nil {
			return nil, perr
		}
		markdown = parsed.Markdown
		items = parsed.Items
	}

	res, err := c.writeBlobs(path, markdown, items)
	if err != nil {
		return nil, err
	}

	c.log.Info("converted upload",
		"path", path,
		"markdown_bytes", len(markdown),
		"items", len(items),
	)
	return res, nil
}

func (c *converter) convertDOCX(ctx context.Context, data []byte) (string, []gcp.LayoutItem, error) {
	// Document AI handles docx when configured; the zip extractor is
	// the fallback.
	if c.doc != nil {
		parsed, err := c.doc.ProcessBytes(ctx, gcp.ProcessBytesRequest{
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			Data:     data,
		})
		if err == nil && strings.TrimSpace(parsed.Markdown) != "" {
			return parsed.Markdown, parsed.Items, nil
		}
		if err != nil {
			c.log.Warn("document ai docx parse failed, falling back to local extraction", "error", err)
		}
	}

	text, err := ExtractDOCX(data)
	if err != nil {
		return "", nil, err
	}
	var items []gcp.LayoutItem
	if text != "" {
		items = []gcp.LayoutItem{{Text: text, PageNumber: 1, Kind: "primary_text"}}
	}
	return text, items, nil
}

func (c *converter) writeBlobs(uploadPath string, markdown string, items []gcp.LayoutItem) (*Result, error) {
	stem := strings.TrimSuffix(uploadPath, filepath.Ext(uploadPath))
	mdPath := stem + "_parsed.md"
	layoutPath := stem + "_parsed.json"

	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("write markdown blob: %w", err)
	}

	layout, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode layout: %w", err)
	}
	if err := os.WriteFile(layoutPath, layout, 0o644); err != nil {
		return nil, fmt.Errorf("write layout blob: %w", err)
	}

	pages := 0
	for _, it := range items {
		if it.PageNumber > pages {
			pages = it.PageNumber
		}
	}

	return &Result{MarkdownPath: mdPath, LayoutPath: layoutPath, PageCount: pages}, nil
}
