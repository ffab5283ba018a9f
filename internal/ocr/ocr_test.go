package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/invoice-cli/internal/config"
	"github.com/sells-group/invoice-cli/internal/resilience"
)

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.OCRConfig
		wantType Extractor
		wantErr  string
	}{
		{name: "local", cfg: config.OCRConfig{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"}, wantType: &PdfToText{}},
		{name: "default", cfg: config.OCRConfig{}, wantType: &PdfToText{}},
		{name: "native", cfg: config.OCRConfig{Provider: "native"}, wantType: &NativePDF{}},
		{name: "tesseract", cfg: config.OCRConfig{Provider: "tesseract"}, wantType: &Tesseract{}},
		{name: "mistral", cfg: config.OCRConfig{Provider: "mistral", MistralKey: "k"}, wantType: &MistralOCR{}},
		{name: "auto", cfg: config.OCRConfig{Provider: "auto"}, wantType: &Fallback{}},
		{name: "mistral missing key", cfg: config.OCRConfig{Provider: "mistral"}, wantErr: "mistral provider requires mistral_api_key"},
		{name: "unknown", cfg: config.OCRConfig{Provider: "unknown"}, wantErr: `unknown provider "unknown"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := NewExtractor(tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, ext)
		})
	}
}

func TestNewExtractor_AutoIncludesMistralWithKey(t *testing.T) {
	ext, err := NewExtractor(config.OCRConfig{Provider: "auto", MistralKey: "k"})
	require.NoError(t, err)
	fb := ext.(*Fallback)
	require.Len(t, fb.chain, 4)
	assert.IsType(t, &MistralOCR{}, fb.chain[3])
}

type stubExtractor struct {
	text  string
	err   error
	calls int
}

func (s *stubExtractor) ExtractText(context.Context, string) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestFallback(t *testing.T) {
	t.Run("first non-empty wins", func(t *testing.T) {
		a := &stubExtractor{text: "   "}
		b := &stubExtractor{text: "Invoice INV-1"}
		c := &stubExtractor{text: "never"}
		text, err := NewFallback(a, b, c).ExtractText(context.Background(), "x.pdf")
		require.NoError(t, err)
		assert.Equal(t, "Invoice INV-1", text)
		assert.Zero(t, c.calls)
	})

	t.Run("errors skipped", func(t *testing.T) {
		a := &stubExtractor{err: eris.New("binary missing")}
		b := &stubExtractor{text: "ok"}
		text, err := NewFallback(a, b).ExtractText(context.Background(), "x.pdf")
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
	})

	t.Run("all fail returns last error", func(t *testing.T) {
		a := &stubExtractor{err: eris.New("first")}
		b := &stubExtractor{err: eris.New("second")}
		_, err := NewFallback(a, b).ExtractText(context.Background(), "x.pdf")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "second")
	})

	t.Run("unsupported is not an error", func(t *testing.T) {
		a := &stubExtractor{err: eris.Wrap(ErrUnsupported, "nope")}
		text, err := NewFallback(a).ExtractText(context.Background(), "x.docx")
		require.NoError(t, err)
		assert.Empty(t, text)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a := &stubExtractor{text: "ok"}
		_, err := NewFallback(a).ExtractText(ctx, "x.pdf")
		require.Error(t, err)
		assert.Zero(t, a.calls)
	})
}

func TestFileTypes(t *testing.T) {
	assert.True(t, IsPDF("a/b/INV.PDF"))
	assert.False(t, IsPDF("scan.png"))
	assert.True(t, IsImage("scan.JPEG"))
	assert.True(t, IsImage("scan.tiff"))
	assert.False(t, IsImage("invoice.pdf"))
	assert.Equal(t, "image/png", mimeType("a.png"))
	assert.Equal(t, "application/pdf", mimeType("a.pdf"))
}

func TestPdfToText_BinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestPdfToText_ExtractText_BinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), "/tmp/test.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToText_ExtractText_Success(t *testing.T) {
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "pdftotext")
	script := "#!/bin/sh\necho 'INVOICE No: INV-42'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	p := NewPdfToText(fakeBin)
	text, err := p.ExtractText(context.Background(), "/tmp/dummy.pdf")
	require.NoError(t, err)
	assert.Contains(t, text, "INV-42")
}

func TestPdfToText_RejectsImages(t *testing.T) {
	_, err := NewPdfToText("").ExtractText(context.Background(), "scan.png")
	assert.True(t, eris.Is(err, ErrUnsupported))
}

func TestTesseract_ExtractText(t *testing.T) {
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "tesseract")
	script := "#!/bin/sh\n[ \"$2\" = stdout ] && echo \"scanned $1\"\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	tess := NewTesseract(fakeBin)
	text, err := tess.ExtractText(context.Background(), "receipt.png")
	require.NoError(t, err)
	assert.Contains(t, text, "scanned receipt.png")

	_, err = tess.ExtractText(context.Background(), "invoice.pdf")
	assert.True(t, eris.Is(err, ErrUnsupported))
}

func TestTesseract_DefaultBin(t *testing.T) {
	assert.Equal(t, "tesseract", NewTesseract("").binPath)
}

func TestNativePDF_Errors(t *testing.T) {
	n := NewNativePDF()

	_, err := n.ExtractText(context.Background(), "scan.jpg")
	assert.True(t, eris.Is(err, ErrUnsupported))

	_, err = n.ExtractText(context.Background(), "/nonexistent/invoice.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read PDF")

	bad := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(bad, []byte("not a pdf at all"), 0644))
	_, err = n.ExtractText(context.Background(), bad)
	require.Error(t, err)
}

func writeTempDoc(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 test"), 0644))
	return p
}

func newTestMistral(url string) *MistralOCR {
	return &MistralOCR{
		apiKey:   "test-key",
		model:    "test-model",
		endpoint: url,
		client:   &http.Client{},
	}
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)

	m = NewMistralOCR("key", "custom-model")
	assert.Equal(t, "custom-model", m.model)
}

func TestMistralOCR_ExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "document_url", req.Document.Type)
		assert.Contains(t, req.Document.DocumentURL, "data:application/pdf;base64,")

		resp := mistralOCRResponse{Pages: []mistralOCRPage{
			{Index: 0, Markdown: "Page one"},
			{Index: 1, Markdown: "Page two"},
		}}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp) //nolint:errcheck
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), writeTempDoc(t, "test.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "Page one\n\nPage two", text)
}

func TestMistralOCR_Image(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mistralOCRRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/jpeg;base64,")
		assert.Empty(t, req.Document.DocumentURL)
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{{Markdown: "scan"}}}) //nolint:errcheck
	}))
	defer srv.Close()

	text, err := newTestMistral(srv.URL).ExtractText(context.Background(), writeTempDoc(t, "scan.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "scan", text)
}

func TestMistralOCR_APIErrors(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := newTestMistral(srv.URL).ExtractText(context.Background(), writeTempDoc(t, "test.pdf"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "mistral API returned")
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestMistralOCR_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{invalid json`))
	}))
	defer srv.Close()

	_, err := newTestMistral(srv.URL).ExtractText(context.Background(), writeTempDoc(t, "test.pdf"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal mistral response")
}

func TestMistralOCR_FileNotFound(t *testing.T) {
	_, err := NewMistralOCR("key", "model").ExtractText(context.Background(), "/nonexistent/file.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read document")
}
