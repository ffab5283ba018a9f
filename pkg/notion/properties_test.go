package notion

import (
	"strings"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
)

func TestPropertyRoundTrip(t *testing.T) {
	title := Title("INV-2024-001")
	text := Text("low confidence")
	status := Status("Needs Review")
	props := notionapi.Properties{
		"Name":    &title,
		"Reasons": text,
		"Status":  &status,
		"Amount":  Number(1200.5),
	}

	assert.Equal(t, "INV-2024-001", PlainText(props, "Name"))
	assert.Equal(t, "low confidence", PlainText(props, "Reasons"))
	assert.Equal(t, "Needs Review", StatusName(props, "Status"))
	assert.Empty(t, PlainText(props, "Amount"))
	assert.Empty(t, PlainText(props, "Missing"))
	assert.Empty(t, StatusName(props, "Name"))
}

func TestPlainText_PrefersPlainText(t *testing.T) {
	props := notionapi.Properties{
		"Notes": &notionapi.RichTextProperty{RichText: []notionapi.RichText{
			{PlainText: "vendor "},
			{PlainText: "confirmed"},
		}},
		"Decision": &notionapi.SelectProperty{Select: notionapi.Option{Name: "Approved"}},
	}
	assert.Equal(t, "vendor confirmed", PlainText(props, "Notes"))
	assert.Equal(t, "Approved", StatusName(props, "Decision"))
}

func TestText_Truncates(t *testing.T) {
	p := Text(strings.Repeat("é", 2500))
	assert.Len(t, []rune(p.RichText[0].Text.Content), 2000)
}
