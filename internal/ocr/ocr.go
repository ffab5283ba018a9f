// Package ocr turns invoice documents into plain text.
package ocr

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/invoice-cli/internal/config"
)

// Extractor extracts text content from a document.
type Extractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// ErrUnsupported is returned by extractors that cannot read a file type.
var ErrUnsupported = eris.New("ocr: unsupported document type")

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "native":
		return NewNativePDF(), nil
	case "tesseract":
		return NewTesseract(cfg.TesseractPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	case "auto":
		chain := []Extractor{
			NewNativePDF(),
			NewPdfToText(cfg.PdfToTextPath),
			NewTesseract(cfg.TesseractPath),
		}
		if cfg.MistralKey != "" {
			chain = append(chain, NewMistralOCR(cfg.MistralKey, cfg.MistralModel))
		}
		return NewFallback(chain...), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Fallback tries each extractor in order and returns the first non-empty text.
type Fallback struct {
	chain []Extractor
}

// NewFallback creates a Fallback over the given extractors.
func NewFallback(chain ...Extractor) *Fallback {
	return &Fallback{chain: chain}
}

// ExtractText returns the first non-blank result. When every extractor
// fails, the last error is returned.
func (f *Fallback) ExtractText(ctx context.Context, path string) (string, error) {
	var lastErr error
	for _, ext := range f.chain {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrap(err, "ocr: fallback")
		}
		text, err := ext.ExtractText(ctx, path)
		if err != nil {
			if !eris.Is(err, ErrUnsupported) {
				zap.L().Debug("ocr: extractor failed, trying next",
					zap.String("path", path),
					zap.String("extractor", extractorName(ext)),
					zap.Error(err),
				)
				lastErr = err
			}
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", nil
}

func extractorName(ext Extractor) string {
	switch ext.(type) {
	case *PdfToText:
		return "pdftotext"
	case *NativePDF:
		return "native"
	case *Tesseract:
		return "tesseract"
	case *MistralOCR:
		return "mistral"
	default:
		return "custom"
	}
}

// IsPDF reports whether path has a .pdf extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	_, ok := imageTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

func mimeType(path string) string {
	if IsPDF(path) {
		return "application/pdf"
	}
	if m, ok := imageTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return m
	}
	return "application/octet-stream"
}
