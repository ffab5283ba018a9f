package notion

import (
	"strings"

	"github.com/jomei/notionapi"
)

// PropStatus is the status property shared by queue databases.
const PropStatus = "Status"

// Title builds a title property.
func Title(s string) notionapi.TitleProperty {
	return notionapi.TitleProperty{
		Type:  notionapi.PropertyTypeTitle,
		Title: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

// Text builds a rich_text property. Notion caps a text block at 2000
// characters, so longer values are truncated.
func Text(s string) notionapi.RichTextProperty {
	if r := []rune(s); len(r) > 2000 {
		s = string(r[:2000])
	}
	return notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}}},
	}
}

// Number builds a number property.
func Number(f float64) notionapi.NumberProperty {
	return notionapi.NumberProperty{Type: notionapi.PropertyTypeNumber, Number: f}
}

// Status builds a status property.
func Status(name string) notionapi.StatusProperty {
	return notionapi.StatusProperty{Type: notionapi.PropertyTypeStatus, Status: notionapi.Status{Name: name}}
}

// PlainText returns the text of a title or rich_text property, or "".
func PlainText(props notionapi.Properties, name string) string {
	var parts []notionapi.RichText
	switch p := props[name].(type) {
	case *notionapi.TitleProperty:
		parts = p.Title
	case notionapi.TitleProperty:
		parts = p.Title
	case *notionapi.RichTextProperty:
		parts = p.RichText
	case notionapi.RichTextProperty:
		parts = p.RichText
	}
	var sb strings.Builder
	for _, rt := range parts {
		switch {
		case rt.PlainText != "":
			sb.WriteString(rt.PlainText)
		case rt.Text != nil:
			sb.WriteString(rt.Text.Content)
		}
	}
	return sb.String()
}

// StatusName returns the name of a status or select property, or "".
func StatusName(props notionapi.Properties, name string) string {
	switch p := props[name].(type) {
	case *notionapi.StatusProperty:
		return p.Status.Name
	case notionapi.StatusProperty:
		return p.Status.Name
	case *notionapi.SelectProperty:
		return p.Select.Name
	case notionapi.SelectProperty:
		return p.Select.Name
	}
	return ""
}
