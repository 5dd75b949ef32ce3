package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haoyun/invoice-ocr/internal/common"
)

// Kind is the declared document kind.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

var imageExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".gif": {},
}

// Document is one user-submitted file. Immutable once created; identity is
// the content fingerprint, never the path.
type Document struct {
	Path        string
	Kind        Kind
	Fingerprint string
	Data        []byte
}

var pdfMagic = []byte("%PDF")

// FromPath reads a file and builds its Document. The fingerprint is the
// SHA-256 of the raw bytes, so an edited file at the same path gets a new
// identity.
func FromPath(path string) (*Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path %q: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", abs, common.ErrUnreadableDocument)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file %q: %w", abs, common.ErrUnreadableDocument)
	}

	kind, err := sniffKind(abs, data)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	return &Document{
		Path:        abs,
		Kind:        kind,
		Fingerprint: hex.EncodeToString(sum[:]),
		Data:        data,
	}, nil
}

// sniffKind prefers magic bytes over the extension: scanners frequently save
// PDFs with image extensions and vice versa.
func sniffKind(path string, data []byte) (Kind, error) {
	if bytes.HasPrefix(data, pdfMagic) {
		return KindPDF, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		// Extension says PDF but the header disagrees; image decoding will
		// sniff the real format.
		return KindImage, nil
	}
	if _, ok := imageExts[ext]; ok {
		return KindImage, nil
	}
	return "", fmt.Errorf("unsupported file type %q: %w", ext, common.ErrUnreadableDocument)
}

// IsSupported reports whether the path looks like a processable document.
// Used by directory walks to skip sidecar files without reading them.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		return true
	}
	_, ok := imageExts[ext]
	return ok
}
