package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haoyun/invoice-ocr/internal/common"
)

// Parser is the seam to the hosted AI text-parsing service. Implementations
// return field name -> extracted value (canonical names, unresolved fields
// omitted) plus a confidence in [0,1].
type Parser interface {
	ParseFields(ctx context.Context, text string, fields []Field) (map[string]string, float64, error)
}

// AIConfig configures the Anthropic-protocol client. The default endpoint is
// a GLM deployment speaking the Anthropic messages API.
type AIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// AIClient implements Parser over the Anthropic-style /v1/messages endpoint.
type AIClient struct {
	cfg    AIConfig
	http   *http.Client
	logger *slog.Logger
}

func NewAIClient(cfg AIConfig, logger *slog.Logger) *AIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://open.bigmodel.cn/api/anthropic"
	}
	if cfg.Model == "" {
		cfg.Model = "glm-4.6"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AIClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type aiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type aiRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	Temperature float64     `json:"temperature"`
	Messages    []aiMessage `json:"messages"`
}

type aiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// ParseFields sends the aggregated document text with an extraction
// instruction and the expected field schema, then validates and sanitizes the
// structured response before use.
func (c *AIClient) ParseFields(ctx context.Context, text string, fields []Field) (map[string]string, float64, error) {
	rid := uuid.New().String()
	start := time.Now()

	body, err := json.Marshal(aiRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0.1, // low temperature keeps field output stable
		Messages:    []aiMessage{{Role: "user", Content: buildPrompt(text, fields)}},
	})
	if err != nil {
		return nil, 0, fmt.Errorf("encode ai request: %w", err)
	}

	c.logger.Info("extract.ai.request",
		"req_id", rid,
		"model", c.cfg.Model,
		"text_len", len(text),
		"fields", len(fields),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("extract.ai.send_error", "req_id", rid, "error", err)
		return nil, 0, fmt.Errorf("ai call: %v: %w", err, common.ErrAIService)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("extract.ai.body_close_error", "req_id", rid, "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read ai response: %v: %w", err, common.ErrAIService)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("extract.ai.http_error",
			"req_id", rid, "status", resp.StatusCode, "bytes", len(raw))
		return nil, 0, fmt.Errorf("ai status %d: %w", resp.StatusCode, common.ErrAIService)
	}

	var ar aiResponse
	if err := json.Unmarshal(raw, &ar); err != nil {
		return nil, 0, fmt.Errorf("decode ai response: %v: %w", err, common.ErrAIService)
	}
	var sb strings.Builder
	for _, part := range ar.Content {
		if part.Type == "" || part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, 0, fmt.Errorf("empty ai response: %w", common.ErrAIService)
	}

	values, attempted, err := ParseAIResponse(sb.String(), fields)
	if err != nil {
		c.logger.Error("extract.ai.parse_error", "req_id", rid, "error", err)
		return nil, 0, err
	}
	conf := responseConfidence(values, attempted, fields)

	c.logger.Info("extract.ai.ok",
		"req_id", rid,
		"resolved", len(values),
		"confidence", conf,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return values, conf, nil
}

func buildPrompt(text string, fields []Field) string {
	var b strings.Builder
	b.WriteString("You are a document information extraction expert. The text below was produced by OCR ")
	b.WriteString("from an invoice and may contain recognition noise. Extract the requested fields, ")
	b.WriteString("correcting obvious OCR errors from context.\n\nFields to extract:\n")
	for _, f := range fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Description)
		switch f.Kind {
		case KindDate:
			b.WriteString(" (format YYYY-MM-DD)")
		case KindAmount:
			b.WriteString(" (digits only, two decimal places, no currency symbol or separators)")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nReturn ONLY a JSON object with exactly these keys. Use null for any field ")
	b.WriteString("you cannot determine. No prose, no markdown.\n\nOCR text:\n```\n")
	b.WriteString(text)
	b.WriteString("\n```\n")
	return b.String()
}
