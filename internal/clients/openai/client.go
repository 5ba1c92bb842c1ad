package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kpforge/proposal-backend/internal/platform/ctxutil"
	"github.com/kpforge/proposal-backend/internal/platform/httpx"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// Client is the OpenAI-compatible completion client used by the pipeline.
// The backend may be OpenAI proper or any chat-completions-compatible
// serving endpoint (configured via LLM_BASE_URL).
type Client interface {
	// Structured output: injects the JSON schema into the system prompt,
	// requests json_object mode, and repairs/validates the raw output.
	// Failures carry a CompletionError code.
	CompleteJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error)

	// Plain text completion.
	GenerateText(ctx context.Context, system string, user string) (string, error)

	// Multimodal: transcribe a document image (OCR fallback path).
	TranscribeImage(ctx context.Context, image []byte, mimeType string) (string, error)

	// Embeddings for vector indexing/search.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	httpClient *http.Client

	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("LLM_MODEL"))
	if model == "" {
		model = "qwen-2.5-32b-instruct"
	}

	embed := strings.TrimSpace(os.Getenv("LLM_EMBED_MODEL"))
	if embed == "" {
		embed = "text-embedding-3-small"
	}

	timeoutSec := 1200
	if v := os.Getenv("LLM_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 3
	if v := os.Getenv("LLM_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("service", "LLMClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		embedModel: embed,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

type llmHTTPError struct {
	StatusCode int
	Body       string
}

func (e *llmHTTPError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func (e *llmHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), "POST", c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("llm decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if isContextLimitHTTP(err) {
			return completionErr(ErrCodeContextLimit, err)
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return completionErr(ErrCodeTransient, err)
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("LLM request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

// isContextLimitHTTP recognizes context-window failures. OpenAI reports code
// "context_length_exceeded"; other compatible servers only mention "context"
// in the message of a 400.
func isContextLimitHTTP(err error) bool {
	var he *llmHTTPError
	if !errors.As(err, &he) {
		return false
	}
	if he.StatusCode != 400 && he.StatusCode != 413 {
		return false
	}
	body := strings.ToLower(he.Body)
	return strings.Contains(body, "context_length_exceeded") || strings.Contains(body, "context")
}

// -------------------- Chat completions --------------------

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

func (c *client) chat(ctx context.Context, req chatCompletionRequest) (string, error) {
	var resp chatCompletionResponse
	if err := c.do(ctx, "/v1/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	choice := resp.Choices[0]
	if strings.TrimSpace(choice.Message.Refusal) != "" {
		return "", fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("llm returned empty content")
	}
	return content, nil
}

func (c *client) CompleteJSON(ctx context.Context, system string, user string, schemaName string, schema map[string]any) (map[string]any, error) {
	if strings.TrimSpace(schemaName) == "" {
		return nil, completionErr(ErrCodeValidation, errors.New("schemaName required"))
	}
	if schema == nil {
		return nil, completionErr(ErrCodeValidation, errors.New("schema required"))
	}

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, completionErr(ErrCodeValidation, fmt.Errorf("marshal schema %s: %w", schemaName, err))
	}

	instruction := fmt.Sprintf(
		"\n\nIMPORTANT: Output MUST be a single valid JSON object strictly matching this schema (%s):\n```json\n%s\n```\nReturn raw JSON only. Do NOT write any explanations.",
		schemaName, string(schemaJSON),
	)

	messages := []chatMessage{
		{Role: "system", Content: system + instruction},
		{Role: "user", Content: user},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		c.log.Info("Requesting structured completion",
			"schema", schemaName,
			"attempt", attempt+1,
			"max_retries", c.maxRetries+1,
		)

		content, err := c.chat(ctx, chatCompletionRequest{
			Model:          c.model,
			Messages:       messages,
			ResponseFormat: map[string]any{"type": "json_object"},
			Temperature:    0.1,
			MaxTokens:      8192,
		})
		if err != nil {
			var ce *CompletionError
			if errors.As(err, &ce) {
				return nil, ce
			}
			lastErr = err
			continue
		}

		obj, parseErr := repairJSONObject(content)
		if parseErr == nil {
			return obj, nil
		}
		lastErr = parseErr

		// One round of self-correction: feed the parse error back. The raw
		// response is not appended, to avoid context growth across retries.
		if attempt < c.maxRetries {
			c.log.Warn("Structured completion parse failed; feeding error back",
				"schema", schemaName,
				"error", parseErr.Error(),
			)
			feedback := parseErr.Error()
			if len(feedback) > 500 {
				feedback = feedback[:500]
			}
			messages = append(messages, chatMessage{
				Role:    "user",
				Content: fmt.Sprintf("The previous answer contained a JSON error: %s\n\nTry again. Return ONLY valid JSON without markdown fences.", feedback),
			})
		}
	}

	var ce *CompletionError
	if errors.As(lastErr, &ce) {
		return nil, ce
	}
	return nil, completionErr(ErrCodeValidation, fmt.Errorf("structured completion %s: %w", schemaName, lastErr))
}

func (c *client) GenerateText(ctx context.Context, system string, user string) (string, error) {
	return c.chat(ctx, chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.7,
	})
}

func (c *client) TranscribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("image bytes required")
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "image/jpeg"
	}
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	content := []map[string]any{
		{"type": "text", "text": "Transcribe ALL text from this document image exactly as it appears. Preserve the reading order and layout where possible."},
		{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
	}

	return c.chat(ctx, chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "user", Content: content},
		},
		Temperature: 0.0,
	})
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.embedModel, Input: clean}

	var resp embeddingsResponse
	if err := c.do(ctx, "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = vec
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, fmt.Errorf("llm embeddings missing index %d: requested=%d returned=%d model=%s", i, len(clean), len(resp.Data), c.embedModel)
		}
	}
	return out, nil
}

// -------------------- JSON repair --------------------

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// repairJSONObject turns lenient model output into a JSON object: strips
// markdown fences, retries a plain parse, and finally falls back to the
// outermost brace-delimited region.
func repairJSONObject(content string) (map[string]any, error) {
	cleaned := stripJSONFences(content)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		return obj, nil
	}

	match := jsonObjectRe.FindString(cleaned)
	if match == "" {
		return nil, fmt.Errorf("no JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(match), &obj); err != nil {
		return nil, fmt.Errorf("parse model JSON: %w", err)
	}
	return obj, nil
}

func stripJSONFences(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}
