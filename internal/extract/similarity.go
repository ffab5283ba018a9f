package extract

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/ocr"
)

// ErrorSample is a previously problematic invoice. Either Text or Path
// (relative to the manifest) supplies its content.
type ErrorSample struct {
	ID     string `yaml:"id"`
	Reason string `yaml:"reason"`
	Text   string `yaml:"text"`
	Path   string `yaml:"path"`
}

type errorManifest struct {
	Samples []ErrorSample `yaml:"samples"`
}

type indexedSample struct {
	ErrorSample
	terms map[string]float64
	norm  float64
}

// ErrorIndex finds known problem invoices similar to a new document.
type ErrorIndex struct {
	samples   []indexedSample
	threshold float64
}

// NewErrorIndex indexes samples with text. Samples without text are skipped.
func NewErrorIndex(samples []ErrorSample, threshold float64) *ErrorIndex {
	ix := &ErrorIndex{threshold: threshold}
	for _, s := range samples {
		terms := termFrequencies(s.Text)
		if len(terms) == 0 {
			continue
		}
		ix.samples = append(ix.samples, indexedSample{ErrorSample: s, terms: terms, norm: vectorNorm(terms)})
	}
	return ix
}

// LoadErrorIndex reads a YAML manifest of known-error samples. Samples that
// reference a document are read through text.
func LoadErrorIndex(ctx context.Context, manifestPath string, text ocr.Extractor, threshold float64) (*ErrorIndex, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, eris.Wrapf(err, "extract: read known errors %s", manifestPath)
	}
	var m errorManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrapf(err, "extract: parse known errors %s", manifestPath)
	}

	dir := filepath.Dir(manifestPath)
	for i := range m.Samples {
		s := &m.Samples[i]
		if s.Text != "" || s.Path == "" || text == nil {
			continue
		}
		p := s.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		content, err := text.ExtractText(ctx, p)
		if err != nil {
			zap.L().Warn("extract: known error sample unreadable", zap.String("id", s.ID), zap.Error(err))
			continue
		}
		s.Text = content
	}

	ix := NewErrorIndex(m.Samples, threshold)
	zap.L().Info("extract: known error index loaded",
		zap.String("manifest", manifestPath),
		zap.Int("samples", ix.Len()),
	)
	return ix, nil
}

// Len returns the number of indexed samples.
func (ix *ErrorIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.samples)
}

// Match returns the most similar sample at or above the threshold, or nil.
func (ix *ErrorIndex) Match(text string) *model.SimilarError {
	if ix.Len() == 0 {
		return nil
	}
	terms := termFrequencies(text)
	norm := vectorNorm(terms)
	if norm == 0 {
		return nil
	}

	var best *indexedSample
	bestScore := 0.0
	for i := range ix.samples {
		s := &ix.samples[i]
		if score := cosine(terms, norm, s.terms, s.norm); score > bestScore {
			best, bestScore = s, score
		}
	}
	if best == nil || bestScore < ix.threshold {
		return nil
	}
	return &model.SimilarError{SampleID: best.ID, Similarity: bestScore, Reason: best.Reason}
}

func termFrequencies(text string) map[string]float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tf := make(map[string]float64, len(words))
	for _, w := range words {
		tf[w]++
	}
	return tf
}

func vectorNorm(v map[string]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func cosine(a map[string]float64, aNorm float64, b map[string]float64, bNorm float64) float64 {
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for term, x := range a {
		dot += x * b[term]
	}
	return dot / (aNorm * bNorm)
}
