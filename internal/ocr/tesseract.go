package ocr

import (
	"context"

	"github.com/rotisserie/eris"
)

// Tesseract extracts text from scanned images with the tesseract CLI.
type Tesseract struct {
	binPath string
	lang    string
}

// NewTesseract creates a Tesseract extractor. If binPath is empty, "tesseract" is used.
func NewTesseract(binPath string) *Tesseract {
	if binPath == "" {
		binPath = "tesseract"
	}
	return &Tesseract{binPath: binPath, lang: "eng"}
}

// ExtractText runs tesseract on an image and returns the recognized text.
func (t *Tesseract) ExtractText(ctx context.Context, path string) (string, error) {
	if !IsImage(path) {
		return "", eris.Wrapf(ErrUnsupported, "tesseract: %s", path)
	}
	return runTool(ctx, t.binPath, "tesseract", path, path, "stdout", "-l", t.lang)
}
