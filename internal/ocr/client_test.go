package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haoyun/invoice-ocr/internal/common"
	"github.com/haoyun/invoice-ocr/internal/render"
)

func testPage() render.Page {
	return render.Page{
		Fingerprint: "fp",
		Index:       2,
		Image:       image.NewRGBA(image.Rect(0, 0, 8, 8)),
		Scale:       1.0,
	}
}

func okBody(t *testing.T, items []map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"code": 100, "data": items})
	require.NoError(t, err)
	return b
}

func TestClient_Recognize(t *testing.T) {
	var gotReq struct {
		Base64  string `json:"base64"`
		Options struct {
			DetLimitSideLen int  `json:"det_limit_side_len"`
			Cls             bool `json:"cls"`
			Rec             bool `json:"rec"`
		} `json:"options"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ocr", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write(okBody(t, []map[string]any{
			{
				"box":   []any{[]any{0.0, 0.0}, []any{100.0, 0.0}, []any{100.0, 20.0}, []any{0.0, 20.0}},
				"score": 0.98,
				"text":  "发票号码：12345678",
			},
			{
				"box":   []any{[]any{0.0, 30.0}, []any{50.0, 30.0}, []any{50.0, 40.0}, []any{0.0, 40.0}},
				"score": 0.4,
				"text":  "   ",
			},
		}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	blocks, err := c.Recognize(context.Background(), testPage())
	require.NoError(t, err)

	// The page image travels as base64 PNG with the detection options.
	raw, err := base64.StdEncoding.DecodeString(gotReq.Base64)
	require.NoError(t, err)
	require.Equal(t, "\x89PNG", string(raw[:4]))
	require.Equal(t, 1024, gotReq.Options.DetLimitSideLen)
	require.True(t, gotReq.Options.Cls)
	require.True(t, gotReq.Options.Rec)

	// Blank-text items are dropped, not errors.
	require.Len(t, blocks, 1)
	require.Equal(t, "发票号码：12345678", blocks[0].Text)
	require.InDelta(t, 0.98, blocks[0].Score, 1e-9)
	require.Equal(t, 2, blocks[0].PageIndex)
	require.Equal(t, Point{X: 100, Y: 20}, blocks[0].Box[2])
}

func TestClient_ServiceRejection_NotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"code":102,"data":"no text found in image"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.Recognize(context.Background(), testPage())
	require.Error(t, err)

	var se *ServiceError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 102, se.Code)
	require.Equal(t, "no text found in image", se.Message)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "restarting", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(okBody(t, []map[string]any{
			{"box": []any{}, "score": 1.0, "text": "ok"},
		}))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxRetries: 3}, nil)
	blocks, err := c.Recognize(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, MaxRetries: 3}, nil)
	_, err := c.Recognize(context.Background(), testPage())
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrOCRUnavailable)
	require.Equal(t, int32(1), calls.Load())
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient(Config{
		BaseURL:    "http://127.0.0.1:1",
		Timeout:    500 * time.Millisecond,
		MaxRetries: 1,
	}, nil)
	_, err := c.Recognize(context.Background(), testPage())
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrOCRUnavailable)
}

func TestClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// umi-OCR answers GET / with 405; that still proves liveness.
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, c.Ping(context.Background()))
}

func TestClient_PingDown(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: 500 * time.Millisecond}, nil)
	err := c.Ping(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, common.ErrOCRUnavailable)
}
