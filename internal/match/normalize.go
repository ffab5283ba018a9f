package match

import (
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are dropped from the end of vendor names before comparison.
var legalSuffixes = map[string]bool{
	"LTD": true, "LIMITED": true, "PLC": true, "LLP": true, "LP": true,
	"INC": true, "INCORPORATED": true, "CORP": true, "CORPORATION": true,
	"CO": true, "COMPANY": true, "LLC": true, "GMBH": true, "AG": true,
	"SA": true, "SAS": true, "SARL": true, "BV": true, "NV": true,
	"PTY": true, "SPA": true, "SRL": true, "AB": true, "OY": true,
}

// NormalizeVendor folds a vendor name for comparison: accents stripped,
// upper-cased, punctuation removed, trailing legal suffixes dropped and
// whitespace collapsed. A name made only of suffixes keeps them.
func NormalizeVendor(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	folded = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToUpper(r)
		case r == '&':
			return r
		case unicode.IsSpace(r) || r == '-' || r == '/':
			return ' '
		}
		return -1
	}, folded)

	tokens := strings.Fields(folded)
	end := len(tokens)
	for end > 0 && legalSuffixes[tokens[end-1]] {
		end--
	}
	if end > 0 {
		tokens = tokens[:end]
	}
	return strings.Join(tokens, " ")
}

// VendorSimilarity scores two vendor names in [0,1], ignoring word order.
func VendorSimilarity(a, b string) float64 {
	na, nb := sortedTokens(NormalizeVendor(a)), sortedTokens(NormalizeVendor(b))
	if na == "" || nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, nil)
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
