package formatter

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

const (
	tagsMissingFormat = "%d tags missing."
	tagsAddedFormat   = "%d tags added."
)

// CountTags returns the number of markup tokens in text: start, end and
// self-closing tags, comments and doctypes.
func CountTags(text string) int {
	tokenizer := html.NewTokenizer(strings.NewReader(text))
	tagCount := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return tagCount
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken, html.CommentToken, html.DoctypeToken:
			tagCount++
		}
	}
}

// TagCountWarning compares the tag counts of the original and formatted text and
// describes the difference. It returns an empty string when both counts match.
func TagCountWarning(original string, formatted string) string {
	originalCount := CountTags(original)
	formattedCount := CountTags(formatted)
	switch {
	case originalCount > formattedCount:
		return fmt.Sprintf(tagsMissingFormat, originalCount-formattedCount)
	case originalCount < formattedCount:
		return fmt.Sprintf(tagsAddedFormat, formattedCount-originalCount)
	default:
		return ""
	}
}
