package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/invoice-cli/internal/scorer"
)

const amountPattern = `[£$€]?\s*(-?\d+(?:,\d{3})*(?:\.\d{1,2})?)`

// fieldRule holds the patterns for one field, tried in order, and the
// confidence assigned when a pattern does or does not match.
type fieldRule struct {
	field    string
	patterns []*regexp.Regexp
	hit      float64
	miss     float64
	optional bool // scored only when matched
}

var regexRules = []fieldRule{
	{
		field:    scorer.FieldVendorName,
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:vendor|supplier|from)[ \t]*:[ \t]*([A-Za-z0-9 .,&'()-]+)`)},
		hit:      0.85,
		miss:     0.5,
	},
	{
		field:    scorer.FieldInvoiceNumber,
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\binvoice[ \t]*(?:#|no\.?|number)[ \t]*:?[ \t]*([A-Za-z0-9][A-Za-z0-9/-]*)`)},
		hit:      0.9,
		miss:     0.1,
	},
	{
		field:    scorer.FieldInvoiceDate,
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:date|issued)[ \t]*:[ \t]*(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`)},
		hit:      0.85,
		miss:     0.5,
	},
	{
		field: scorer.FieldTotalAmount,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\btotal(?:[ \t]+(?:amount|due))?[ \t]*:[ \t]*` + amountPattern),
			regexp.MustCompile(`(?i)\b(?:amount[ \t]+due|balance[ \t]+due|sum)[ \t]*:[ \t]*` + amountPattern),
			regexp.MustCompile(`(?im)^[ \t]*amount[ \t]*:[ \t]*` + amountPattern),
		},
		hit:  0.9,
		miss: 0.1,
	},
	{
		field:    scorer.FieldPONumber,
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:po|purchase[ \t]*order)[ \t]*(?:#|no\.?|number)?[ \t]*:[ \t]*([A-Za-z0-9-]+)`)},
		hit:      0.8,
		miss:     0.5,
	},
	{
		field:    scorer.FieldTaxAmount,
		patterns: []*regexp.Regexp{regexp.MustCompile(`(?i)\b(?:vat|tax)(?:[ \t]+amount)?(?:[ \t]*\(\d+(?:\.\d+)?%\))?[ \t]*:[ \t]*` + amountPattern)},
		hit:      0.8,
		optional: true,
	},
}

// regexFields extracts annotated field values from text. The deployment
// currency is always reported with full confidence.
func regexFields(text, currency string) map[string]any {
	fields := make(map[string]any, len(regexRules)+1)
	for _, rule := range regexRules {
		value, ok := firstMatch(rule.patterns, text)
		switch {
		case ok:
			if rule.field == scorer.FieldInvoiceDate {
				value = normalizeDate(value)
			}
			fields[rule.field] = scorer.Annotated(value, rule.hit)
		case !rule.optional:
			fields[rule.field] = scorer.Annotated("", rule.miss)
		}
	}
	fields[scorer.FieldCurrency] = scorer.Annotated(currency, 1.0)
	return fields
}

func firstMatch(patterns []*regexp.Regexp, text string) (string, bool) {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v, true
			}
		}
	}
	return "", false
}
