package ocr

import (
	"bytes"
	"context"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// NativePDF reads the text layer of a PDF in-process. Scanned PDFs without
// a text layer yield empty text.
type NativePDF struct{}

// NewNativePDF creates a NativePDF extractor.
func NewNativePDF() *NativePDF {
	return &NativePDF{}
}

// ExtractText returns the text of every page, one line per text row.
func (n *NativePDF) ExtractText(ctx context.Context, path string) (text string, err error) {
	if !IsPDF(path) {
		return "", eris.Wrapf(ErrUnsupported, "native: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read PDF %s", path)
	}

	// The pdf reader panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", eris.Errorf("ocr: malformed PDF %s: %v", path, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrapf(err, "ocr: open PDF %s", path)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", eris.Wrap(err, "ocr: native")
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return "", eris.Wrapf(err, "ocr: read page %d of %s", i, path)
		}
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, w := range row.Content {
				words = append(words, w.S)
			}
			sb.WriteString(strings.Join(words, " "))
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}
