// Package ocr talks to a umi-OCR compatible recognition service over HTTP.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/haoyun/invoice-ocr/internal/common"
	"github.com/haoyun/invoice-ocr/internal/render"
)

// codeOK is the service-level success code embedded in the response body.
const codeOK = 100

// Point is one corner of a text block's bounding quadrilateral.
type Point struct {
	X float64
	Y float64
}

// TextBlock is one recognized text fragment. Blocks keep the order the
// service returned them in; document reading order is not guaranteed.
type TextBlock struct {
	Text      string
	Box       [4]Point
	Score     float64
	PageIndex int
}

// ServiceError is a non-success code carried in the service's own response
// body. It indicates a malformed request, so it is never retried.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("ocr service rejected request: code=%d message=%q", e.Code, e.Message)
}

// Config for the OCR client.
type Config struct {
	BaseURL         string        // e.g. http://127.0.0.1:1224
	Timeout         time.Duration // per-call timeout; default 120s
	MaxRetries      uint64        // transient-failure retries; default 3
	DetLimitSideLen int           // detection size limit; default 1024
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:1224"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DetLimitSideLen <= 0 {
		cfg.DetLimitSideLen = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type ocrOptions struct {
	DetLimitSideLen int  `json:"det_limit_side_len"`
	Cls             bool `json:"cls"`
	Rec             bool `json:"rec"`
}

type ocrRequest struct {
	Base64  string     `json:"base64"`
	Options ocrOptions `json:"options"`
}

type ocrResponse struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type ocrItem struct {
	Box   [][2]float64 `json:"box"`
	Score float64      `json:"score"`
	Text  string       `json:"text"`
}

// Recognize submits one page and returns its text blocks. Transport and
// timeout failures are retried with bounded exponential backoff and surface
// as common.ErrOCRUnavailable; service-level rejections surface immediately
// as *ServiceError.
func (c *Client) Recognize(ctx context.Context, page render.Page) ([]TextBlock, error) {
	rid := uuid.New().String()
	start := time.Now()

	var buf bytes.Buffer
	if err := png.Encode(&buf, page.Image); err != nil {
		return nil, fmt.Errorf("encode page %d: %w", page.Index, err)
	}

	body, err := json.Marshal(ocrRequest{
		Base64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Options: ocrOptions{
			DetLimitSideLen: c.cfg.DetLimitSideLen,
			Cls:             true,
			Rec:             true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode ocr request: %w", err)
	}

	c.logger.Info("ocr.request",
		"req_id", rid,
		"page", page.Index,
		"payload_bytes", len(body),
	)

	var raw []byte
	op := func() error {
		var opErr error
		raw, opErr = c.post(ctx, c.endpoint("/api/ocr"), body)
		return opErr
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		c.logger.Error("ocr.request_failed",
			"req_id", rid,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("ocr call: %v: %w", err, common.ErrOCRUnavailable)
	}

	blocks, err := c.decode(raw, page.Index)
	if err != nil {
		c.logger.Error("ocr.response_rejected",
			"req_id", rid,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	c.logger.Info("ocr.ok",
		"req_id", rid,
		"page", page.Index,
		"blocks", len(blocks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return blocks, nil
}

// Ping probes the service without submitting work. An HTTP 405 on the OCR
// endpoint still means the service is up, it just refuses empty requests.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/"), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ocr ping: %v: %w", err, common.ErrOCRUnavailable)
	}
	defer c.drainClose(resp.Body)
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}
	return fmt.Errorf("ocr ping: status %d: %w", resp.StatusCode, common.ErrOCRUnavailable)
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer c.drainClose(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		// 5xx is worth another attempt, anything else is on us.
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("ocr http status %d", resp.StatusCode)
		}
		return nil, backoff.Permanent(fmt.Errorf("ocr http status %d", resp.StatusCode))
	}
	return raw, nil
}

// decode parses the service response into text blocks. Items without a text
// field are dropped rather than failing the page.
func (c *Client) decode(raw []byte, pageIndex int) ([]TextBlock, error) {
	var resp ocrResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	if resp.Code != codeOK {
		var msg string
		if err := json.Unmarshal(resp.Data, &msg); err != nil {
			msg = string(resp.Data)
		}
		return nil, &ServiceError{Code: resp.Code, Message: msg}
	}

	var items []ocrItem
	if err := json.Unmarshal(resp.Data, &items); err != nil {
		return nil, fmt.Errorf("decode ocr items: %w", err)
	}

	blocks := make([]TextBlock, 0, len(items))
	for _, it := range items {
		if strings.TrimSpace(it.Text) == "" {
			continue
		}
		b := TextBlock{
			Text:      it.Text,
			Score:     it.Score,
			PageIndex: pageIndex,
		}
		for i := 0; i < len(it.Box) && i < 4; i++ {
			b.Box[i] = Point{X: it.Box[i][0], Y: it.Box[i][1]}
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) drainClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	if err := body.Close(); err != nil {
		c.logger.Warn("ocr.response_body_close_error", "error", err)
	}
}
