package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haoyun/invoice-ocr/internal/cache"
	"github.com/haoyun/invoice-ocr/internal/common"
	"github.com/haoyun/invoice-ocr/internal/document"
	"github.com/haoyun/invoice-ocr/internal/extract"
	"github.com/haoyun/invoice-ocr/internal/ocr"
	"github.com/haoyun/invoice-ocr/internal/render"
)

type fakeRenderer struct {
	calls atomic.Int32
}

func (f *fakeRenderer) Render(doc *document.Document, scale float64) ([]render.Page, error) {
	f.calls.Add(1)
	return []render.Page{{Fingerprint: doc.Fingerprint, Index: 0, Scale: scale}}, nil
}

type fakeRecognizer struct {
	calls   atomic.Int32
	started chan struct{} // non-nil: signals each call before gating
	gate    chan struct{} // non-nil: blocks each call until released
	err     error
}

func (f *fakeRecognizer) Recognize(_ context.Context, page render.Page) ([]ocr.TextBlock, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return []ocr.TextBlock{{Text: "发票号码：12345678", PageIndex: page.Index}}, nil
}

type fakeExtractor struct {
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(_ context.Context, fingerprint string, blocks []ocr.TextBlock) extract.InvoiceRecord {
	f.calls.Add(1)
	status := extract.StatusOK
	if len(blocks) == 0 {
		status = extract.StatusFailed
	}
	return extract.InvoiceRecord{
		Fingerprint:   fingerprint,
		InvoiceNumber: "12345678",
		Status:        status,
		Method:        extract.MethodHeuristic,
	}
}

func newTestOrchestrator(t *testing.T, rec Recognizer, cfg Config) (*Orchestrator, *fakeRenderer, *fakeExtractor) {
	t.Helper()
	c, err := cache.New(64, nil, nil)
	require.NoError(t, err)
	rend := &fakeRenderer{}
	ex := &fakeExtractor{}
	return NewOrchestrator(rend, rec, ex, c, cfg, nil), rend, ex
}

func writeDocs(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := 0; i < n; i++ {
		paths[i] = filepath.Join(dir, fmt.Sprintf("doc-%02d.png", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(fmt.Sprintf("image-bytes-%02d", i)), 0o644))
	}
	return paths
}

func collect(t *testing.T, ch <-chan Result) []Result {
	t.Helper()
	var out []Result
	deadline := time.After(10 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, res)
		case <-deadline:
			t.Fatal("result channel did not close in time")
		}
	}
}

func TestProcess_AllDocuments(t *testing.T) {
	o, rend, ex := newTestOrchestrator(t, &fakeRecognizer{}, Config{Workers: 3})
	paths := writeDocs(t, 5)

	results := collect(t, o.Process(context.Background(), paths))

	require.Len(t, results, 5)
	for _, res := range results {
		require.NoError(t, res.Err)
		require.NotNil(t, res.Record)
		require.Equal(t, extract.StatusOK, res.Record.Status)
		require.NotEmpty(t, res.Fingerprint)
	}
	require.Equal(t, int32(5), rend.calls.Load())
	require.Equal(t, int32(5), ex.calls.Load())
}

func TestProcess_UnreadableDocumentIsolated(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeRecognizer{}, Config{Workers: 2})
	paths := writeDocs(t, 3)
	paths = append(paths, filepath.Join(t.TempDir(), "missing.png"))

	results := collect(t, o.Process(context.Background(), paths))

	require.Len(t, results, 4)
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
			require.ErrorIs(t, res.Err, common.ErrUnreadableDocument)
		}
	}
	require.Equal(t, 1, failed)
}

func TestProcess_DuplicateContentComputedOnce(t *testing.T) {
	rec := &fakeRecognizer{}
	o, rend, _ := newTestOrchestrator(t, rec, Config{Workers: 4})

	dir := t.TempDir()
	paths := make([]string, 4)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("copy-%d.png", i))
		require.NoError(t, os.WriteFile(paths[i], []byte("identical-bytes"), 0o644))
	}

	results := collect(t, o.Process(context.Background(), paths))

	require.Len(t, results, 4)
	fp := results[0].Fingerprint
	var cachedCount int
	for _, res := range results {
		require.NoError(t, res.Err)
		require.Equal(t, fp, res.Fingerprint)
		require.Equal(t, "12345678", res.Record.InvoiceNumber)
		if res.Cached {
			cachedCount++
		}
	}
	// One render/OCR pass regardless of how many paths carry the bytes. At
	// least three of the four results came from the cache or a shared flight;
	// whether the computing caller itself reports shared depends on timing.
	require.Equal(t, int32(1), rend.calls.Load())
	require.Equal(t, int32(1), rec.calls.Load())
	require.GreaterOrEqual(t, cachedCount, 3)
}

func TestProcess_CancelStopsNewWorkOnly(t *testing.T) {
	rec := &fakeRecognizer{
		started: make(chan struct{}),
		gate:    make(chan struct{}),
	}
	o, _, _ := newTestOrchestrator(t, rec, Config{Workers: 2})
	paths := writeDocs(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	results := o.Process(ctx, paths)

	// Wait until both workers hold a document, then cancel the batch.
	<-rec.started
	<-rec.started
	cancel()
	close(rec.gate)

	got := collect(t, results)

	// The two in-flight documents finish and deliver; nothing new starts.
	require.Len(t, got, 2)
	for _, res := range got {
		require.NoError(t, res.Err)
		require.Equal(t, extract.StatusOK, res.Record.Status)
	}
}

func TestProcess_OCRFailureSurfacesPerDocument(t *testing.T) {
	rec := &fakeRecognizer{err: fmt.Errorf("scan failed: %w", common.ErrOCRUnavailable)}
	o, _, _ := newTestOrchestrator(t, rec, Config{Workers: 2})
	paths := writeDocs(t, 2)

	results := collect(t, o.Process(context.Background(), paths))

	require.Len(t, results, 2)
	for _, res := range results {
		require.Error(t, res.Err)
		require.ErrorIs(t, res.Err, common.ErrOCRUnavailable)
		require.Nil(t, res.Record)
	}
}

func TestProcess_EmptyBatch(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &fakeRecognizer{}, Config{Workers: 2})
	results := collect(t, o.Process(context.Background(), nil))
	require.Empty(t, results)
}

type panickyRenderer struct{}

func (panickyRenderer) Render(*document.Document, float64) ([]render.Page, error) {
	panic("renderer bug")
}

func TestProcess_PanicContained(t *testing.T) {
	c, err := cache.New(64, nil, nil)
	require.NoError(t, err)
	o := NewOrchestrator(panickyRenderer{}, &fakeRecognizer{}, &fakeExtractor{}, c, Config{Workers: 2}, nil)
	paths := writeDocs(t, 2)

	results := collect(t, o.Process(context.Background(), paths))

	require.Len(t, results, 2)
	for _, res := range results {
		require.Error(t, res.Err)
		require.Contains(t, res.Err.Error(), "panicked")
	}
}
