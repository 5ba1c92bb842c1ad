package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/kpforge/proposal-backend/internal/platform/ctxutil"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// Document converts uploaded files into markdown plus page-attributed
// layout items.
type Document interface {
	ProcessBytes(ctx context.Context, req ProcessBytesRequest) (*ParsedDocument, error)
	Close() error
}

type ProcessBytesRequest struct {
	MimeType string
	Data     []byte
}

// LayoutItem is one page-scoped fragment of the parsed document.
type LayoutItem struct {
	Text       string `json:"text"`
	PageNumber int    `json:"page_number"`
	Kind       string `json:"kind"`
}

type ParsedDocument struct {
	Provider     string       `json:"provider"`
	Processor    string       `json:"processor"`
	MimeType     string       `json:"mime_type"`
	Markdown     string       `json:"markdown"`
	Items        []LayoutItem `json:"items,omitempty"`
	DocumentJSON []byte       `json:"document_json,omitempty"`
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	processor string
	timeout   time.Duration
}

func NewDocument(log *logger.Logger) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "gcp.Document")

	ctx := context.Background()

	project := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	version := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_VERSION"))
	if project == "" || processorID == "" {
		return nil, fmt.Errorf("DOCUMENTAI_PROJECT_ID and DOCUMENTAI_PROCESSOR_ID required")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &documentService{
		log:       slog,
		docClient: c,
		processor: processorName(project, location, processorID, version),
		timeout:   3 * time.Minute,
	}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ProcessBytes(ctx context.Context, req ProcessBytesRequest) (*ParsedDocument, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(req.Data) == 0 {
		return &ParsedDocument{Provider: "gcp_documentai", MimeType: req.MimeType}, nil
	}
	if req.MimeType == "" {
		req.MimeType = "application/pdf"
	}

	r := &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  req.Data,
				MimeType: req.MimeType,
			},
		},
	}

	resp, err := s.docClient.ProcessDocument(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &ParsedDocument{Provider: "gcp_documentai", Processor: s.processor, MimeType: req.MimeType}, nil
	}

	return buildParsedDocument(resp.Document, s.processor, req.MimeType), nil
}

// ---------- parsing into markdown + items ----------

func buildParsedDocument(doc *documentaipb.Document, processor string, mimeType string) *ParsedDocument {
	out := &ParsedDocument{
		Provider:  "gcp_documentai",
		Processor: processor,
		MimeType:  mimeType,
	}
	if doc == nil {
		return out
	}

	items := []LayoutItem{}
	var md strings.Builder

	for _, p := range doc.Pages {
		if p == nil {
			continue
		}
		pageNum := int(p.PageNumber)

		var pageText strings.Builder
		for _, para := range p.Paragraphs {
			if para == nil || para.Layout == nil || para.Layout.TextAnchor == nil {
				continue
			}
			t := strings.TrimSpace(textFromAnchor(doc.Text, para.Layout.TextAnchor))
			if t == "" {
				continue
			}
			pageText.WriteString(t)
			pageText.WriteString("\n")
		}

		if pt := strings.TrimSpace(pageText.String()); pt != "" {
			items = append(items, LayoutItem{Text: pt, PageNumber: pageNum, Kind: "page_text"})
			md.WriteString(pt)
			md.WriteString("\n\n")
		}

		for _, table := range p.Tables {
			tmd := strings.TrimSpace(tableToMarkdown(doc.Text, table))
			if tmd == "" {
				continue
			}
			items = append(items, LayoutItem{Text: tmd, PageNumber: pageNum, Kind: "table"})
			md.WriteString(tmd)
			md.WriteString("\n\n")
		}

		for _, ff := range p.FormFields {
			if ff == nil {
				continue
			}
			k := ""
			v := ""
			if ff.FieldName != nil && ff.FieldName.TextAnchor != nil {
				k = strings.TrimSpace(textFromAnchor(doc.Text, ff.FieldName.TextAnchor))
			}
			if ff.FieldValue != nil && ff.FieldValue.TextAnchor != nil {
				v = strings.TrimSpace(textFromAnchor(doc.Text, ff.FieldValue.TextAnchor))
			}
			if k == "" && v == "" {
				continue
			}
			line := strings.TrimSpace(fmt.Sprintf("%s: %s", k, v))
			items = append(items, LayoutItem{Text: line, PageNumber: pageNum, Kind: "form_field"})
			md.WriteString(line)
			md.WriteString("\n")
		}
	}

	out.Markdown = strings.TrimSpace(md.String())

	// Some processors populate doc.Text without structured page
	// paragraphs. Callers still need usable text.
	if out.Markdown == "" && strings.TrimSpace(doc.Text) != "" {
		out.Markdown = strings.TrimSpace(doc.Text)
		items = append(items, LayoutItem{Text: out.Markdown, PageNumber: 1, Kind: "primary_text"})
	}
	out.Items = items

	if b, err := json.Marshal(doc); err == nil {
		out.DocumentJSON = b
	}
	return out
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func tableToMarkdown(full string, t *documentaipb.Document_Page_Table) string {
	if t == nil {
		return ""
	}

	rows := [][]string{}
	header := []string{}
	if len(t.HeaderRows) > 0 && t.HeaderRows[0] != nil {
		header = tableRowToCells(full, t.HeaderRows[0])
	}
	bodyRows := append([]*documentaipb.Document_Page_Table_TableRow{}, t.BodyRows...)

	if len(header) == 0 && len(bodyRows) > 0 && bodyRows[0] != nil {
		header = tableRowToCells(full, bodyRows[0])
		bodyRows = bodyRows[1:]
	}
	if len(header) == 0 {
		return ""
	}

	rows = append(rows, header)
	for _, r := range bodyRows {
		if r == nil {
			continue
		}
		rows = append(rows, tableRowToCells(full, r))
	}

	maxCols := 0
	for _, r := range rows {
		if len(r) > maxCols {
			maxCols = len(r)
		}
	}
	if maxCols == 0 {
		return ""
	}
	for i := range rows {
		for len(rows[i]) < maxCols {
			rows[i] = append(rows[i], "")
		}
	}

	var out strings.Builder
	out.WriteString("| ")
	out.WriteString(strings.Join(escapePipes(rows[0]), " | "))
	out.WriteString(" |\n| ")
	sep := make([]string, maxCols)
	for i := 0; i < maxCols; i++ {
		sep[i] = "---"
	}
	out.WriteString(strings.Join(sep, " | "))
	out.WriteString(" |\n")

	for i := 1; i < len(rows); i++ {
		out.WriteString("| ")
		out.WriteString(strings.Join(escapePipes(rows[i]), " | "))
		out.WriteString(" |\n")
	}
	return out.String()
}

func tableRowToCells(full string, r *documentaipb.Document_Page_Table_TableRow) []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Cells))
	for _, c := range r.Cells {
		if c == nil || c.Layout == nil || c.Layout.TextAnchor == nil {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(textFromAnchor(full, c.Layout.TextAnchor)))
	}
	return out
}

func escapePipes(row []string) []string {
	out := make([]string, len(row))
	for i, s := range row {
		out[i] = strings.ReplaceAll(s, "|", "\\|")
	}
	return out
}

func processorName(project, location, processorID, version string) string {
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if version != "" {
		return base + "/processorVersions/" + version
	}
	return base
}
