package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/invoice-cli/internal/model"
)

var amountNoise = regexp.MustCompile(`[^\d.\-]`)

// parseAmount parses a money string such as "£1,250.00" or "1250". cleaned
// reports whether symbols or separators had to be stripped.
func parseAmount(raw string) (amount decimal.Decimal, cleaned bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false, eris.New("extract: empty amount")
	}
	stripped := amountNoise.ReplaceAllString(s, "")
	amount, err = decimal.NewFromString(stripped)
	if err != nil {
		return decimal.Zero, false, eris.Wrapf(err, "extract: parse amount %q", raw)
	}
	return amount, stripped != s, nil
}

// nullAmount returns a valid NullDecimal when raw parses.
func nullAmount(raw string) decimal.NullDecimal {
	d, _, err := parseAmount(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// normalizeDate converts DD/MM/YYYY to ISO. Other inputs are returned
// trimmed and unchanged so unparsable dates stay visible downstream.
func normalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	for _, layout := range []string{"02/01/2006", "2/1/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(model.DateLayout)
		}
	}
	return s
}
