// Package render turns documents into ordered sequences of raster pages.
//
// PDF documents are rasterized page by page with go-fitz; image documents
// decode to exactly one page. The scale parameter trades speed for OCR
// accuracy: previews use 1.0-2.0, OCR-quality rendering at least 3.0.
package render

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder

	"github.com/haoyun/invoice-ocr/internal/common"
	"github.com/haoyun/invoice-ocr/internal/document"
)

// baseDPI is the PDF point resolution; scale multiplies it.
const baseDPI = 72.0

// Page is one rasterized page of a document. Pages are ephemeral: they are
// produced on demand and released once OCR has consumed them.
type Page struct {
	Fingerprint string
	Index       int
	Image       image.Image
	Scale       float64
}

type Renderer struct {
	logger *slog.Logger
}

func NewRenderer(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger}
}

// Render produces the document's pages at the requested scale, in stable
// document order. Corrupt, encrypted, or undecodable input yields
// common.ErrUnreadableDocument; the caller reports it per document.
func (r *Renderer) Render(doc *document.Document, scale float64) ([]Page, error) {
	if scale <= 0 {
		scale = 1.0
	}
	switch doc.Kind {
	case document.KindPDF:
		return r.renderPDF(doc, scale)
	case document.KindImage:
		page, err := r.renderImage(doc, scale)
		if err != nil {
			return nil, err
		}
		return []Page{page}, nil
	default:
		return nil, fmt.Errorf("document kind %q: %w", doc.Kind, common.ErrUnreadableDocument)
	}
}

func (r *Renderer) renderPDF(doc *document.Document, scale float64) ([]Page, error) {
	pdf, err := fitz.NewFromMemory(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %v: %w", err, common.ErrUnreadableDocument)
	}
	defer func() {
		if cerr := pdf.Close(); cerr != nil {
			r.logger.Warn("render.pdf.close_error", "error", cerr)
		}
	}()

	n := pdf.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("pdf has no pages: %w", common.ErrUnreadableDocument)
	}

	pages := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		img, err := pdf.ImageDPI(i, baseDPI*scale)
		if err != nil {
			return nil, fmt.Errorf("render pdf page %d: %v: %w", i, err, common.ErrUnreadableDocument)
		}
		pages = append(pages, Page{
			Fingerprint: doc.Fingerprint,
			Index:       i,
			Image:       img,
			Scale:       scale,
		})
	}

	r.logger.Debug("render.pdf.ok", "fingerprint", doc.Fingerprint, "pages", n, "scale", scale)
	return pages, nil
}

func (r *Renderer) renderImage(doc *document.Document, scale float64) (Page, error) {
	img, format, err := image.Decode(bytes.NewReader(doc.Data))
	if err != nil {
		return Page{}, fmt.Errorf("decode image: %v: %w", err, common.ErrUnreadableDocument)
	}

	if math.Abs(scale-1.0) > 1e-9 {
		b := img.Bounds()
		w := int(math.Round(float64(b.Dx()) * scale))
		h := int(math.Round(float64(b.Dy()) * scale))
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	r.logger.Debug("render.image.ok", "fingerprint", doc.Fingerprint, "format", format, "scale", scale)
	return Page{
		Fingerprint: doc.Fingerprint,
		Index:       0,
		Image:       img,
		Scale:       scale,
	}, nil
}
