package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/3than777/Elocutionist-sub004/apperr"
	"github.com/3than777/Elocutionist-sub004/models"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Extractor turns the raw bytes of an upload into plain text.
type Extractor interface {
	Extract(ctx context.Context, category models.ArtifactCategory, mimeType string, raw []byte) (string, error)
}

// ContentExtractor reads PDFs and plain text locally and sends images and
// office documents to the vision model. Scanned PDFs without a text layer
// also go to the vision model.
type ContentExtractor struct {
	vision VisionClient
}

func NewContentExtractor(vision VisionClient) *ContentExtractor {
	return &ContentExtractor{vision: vision}
}

func (e *ContentExtractor) Extract(ctx context.Context, category models.ArtifactCategory, mimeType string, raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", apperr.Validation(apperr.CodeEmptyText, "the uploaded file is empty")
	}

	switch category {
	case models.CategoryText:
		return decodePlainText(raw)
	case models.CategoryPDF:
		text, err := extractPDFText(raw)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(text) == "" && e.vision != nil {
			slog.Info("PDF has no text layer, falling back to vision", "size", len(raw))
			return e.vision.ExtractDocumentText(ctx, raw, "application/pdf")
		}
		return text, nil
	case models.CategoryImage, models.CategoryDocument:
		if e.vision == nil {
			return "", apperr.Permanent(apperr.CodeUnsupported, fmt.Errorf("no vision model configured for %s", mimeType))
		}
		return e.vision.ExtractDocumentText(ctx, raw, mimeType)
	default:
		return "", apperr.Validation(apperr.CodeUnsupported, fmt.Sprintf("unsupported file category %q", category))
	}
}

// extractPDFText concatenates the plain text of every page. Pages that fail
// to decode are skipped. The pdf reader panics on some malformed files, so
// a panic is reported as rejected content.
func extractPDFText(raw []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("PDF reader panicked", "size", len(raw), "panic", r)
			text, err = "", apperr.Permanent(apperr.CodeContentRejected, fmt.Errorf("malformed PDF: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", apperr.Permanent(apperr.CodeContentRejected, fmt.Errorf("failed to open PDF: %w", err))
	}

	var textBuilder strings.Builder
	totalPage := r.NumPage()

	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("Failed to read PDF page", "page", pageIndex, "error", err)
			continue
		}

		textBuilder.WriteString(pageText)
		textBuilder.WriteString("\n\n")
	}

	return textBuilder.String(), nil
}

// decodePlainText accepts UTF-8, UTF-16 with a byte order mark, and falls
// back to Windows-1252 for legacy files.
func decodePlainText(raw []byte) (string, error) {
	if bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) || bytes.HasPrefix(raw, []byte{0xFE, 0xFF}) {
		out, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), raw)
		if err != nil {
			return "", apperr.Validation(apperr.CodeInvalidInput, "the text file could not be decoded")
		}
		return string(out), nil
	}

	if utf8.Valid(raw) {
		return strings.TrimPrefix(string(raw), "\ufeff"), nil
	}

	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), raw)
	if err != nil {
		return "", apperr.Validation(apperr.CodeInvalidInput, "the text file could not be decoded")
	}
	return string(out), nil
}
