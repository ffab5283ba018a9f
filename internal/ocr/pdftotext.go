package ocr

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText runs pdftotext -layout on the given PDF and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, path string) (string, error) {
	if !IsPDF(path) {
		return "", eris.Wrapf(ErrUnsupported, "pdftotext: %s", path)
	}
	return runTool(ctx, p.binPath, "pdftotext", path, "-layout", path, "-")
}

// runTool executes a text extraction binary and returns its stdout.
func runTool(ctx context.Context, bin, name, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: %s failed for %s: %s", name, path, stderr.String())
	}
	return stdout.String(), nil
}
